// Package kvtest opens isolated in-memory stores for tests.
package kvtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/gopherchat/internal/kv"
)

var seq atomic.Int64

// OpenDB returns a private in-memory sqlite database for t.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// New returns a kv.Store backed by OpenDB.
func New(t testing.TB) *kv.GormStore {
	t.Helper()
	s, err := kv.NewGormStore(OpenDB(t))
	if err != nil {
		t.Fatalf("kv store: %v", err)
	}
	return s
}
