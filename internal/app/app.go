// Package app assembles the components shared by the API server and the
// summary worker from a config.Config.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/catalog"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/db"
	"github.com/suPer8Hu/gopherchat/internal/instructions"
	"github.com/suPer8Hu/gopherchat/internal/kv"
	"github.com/suPer8Hu/gopherchat/internal/llm"
	"github.com/suPer8Hu/gopherchat/internal/settings"
	"github.com/suPer8Hu/gopherchat/internal/summarize"
)

type Core struct {
	KV           kv.Store
	Catalog      *catalog.Catalog
	Settings     *settings.Manager
	Instructions *instructions.Library
	Registry     *ai.Registry
	LLM          *llm.Client
	Summarizer   *summarize.Service

	closers []func() error
}

func (c *Core) Close() {
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			log.Printf("[App] close: %v", err)
		}
	}
}

// OpenKV connects the configured KV backend.
func OpenKV(ctx context.Context, cfg config.Config) (kv.Store, func() error, error) {
	switch strings.ToLower(cfg.KVBackend) {
	case "", "gorm":
		gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		s, err := kv.NewGormStore(gdb)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}
		return s, closeFn, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		log.Printf("[KV] redis connected addr=%s", cfg.RedisAddr)
		return kv.NewRedisStore(rdb, cfg.RedisPrefix), rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported KV_BACKEND=%q", cfg.KVBackend)
	}
}

// ProviderDefaults turns operator credentials into provider configs. Only
// providers with at least one value set get an entry.
func ProviderDefaults(cfg config.Config) map[string]ai.ProviderConfig {
	out := map[string]ai.ProviderConfig{}
	add := func(id, endpoint, key string) {
		if endpoint == "" && key == "" {
			return
		}
		out[id] = ai.ProviderConfig{Enabled: true, Endpoint: endpoint, APIKey: key}
	}
	add(ai.ProviderAzure, cfg.AzureEndpoint, cfg.AzureAPIKey)
	add(ai.ProviderOpenAI, cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
	add(ai.ProviderAnthropic, "", cfg.AnthropicAPIKey)
	add(ai.ProviderOllama, cfg.OllamaBaseURL, "")
	return out
}

// NewCore opens storage and loads catalog, settings and instructions.
func NewCore(ctx context.Context, cfg config.Config) (*Core, error) {
	store, closeKV, err := OpenKV(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := &Core{KV: store, closers: []func() error{closeKV}}

	c.Catalog, err = catalog.Load(ctx, store, cfg.ModelsFile, cfg.DefaultModelKey)
	if err != nil {
		c.Close()
		return nil, err
	}

	sealer, err := settings.NewSealer(cfg.SettingsSecret)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Settings = settings.NewManager(store, settings.Defaults{
		Language:      cfg.DefaultLanguage,
		Theme:         cfg.DefaultTheme,
		ModelKey:      c.Catalog.Default().Key,
		InstructionID: instructions.Builtin()[0].ID,
		Providers:     ProviderDefaults(cfg),
	}, sealer)
	if err := c.Settings.Load(ctx); err != nil {
		c.Close()
		return nil, err
	}

	c.Instructions = instructions.NewLibrary(store)
	if err := c.Instructions.Load(ctx); err != nil {
		c.Close()
		return nil, err
	}

	client := &http.Client{Timeout: time.Duration(cfg.ProviderTimeoutSec) * time.Second}
	c.Registry = ai.NewDefaultRegistry(client)
	c.LLM = llm.NewClient(c.Catalog, c.Registry, c.Settings)
	c.Summarizer = summarize.NewService(c.LLM, cfg.SummaryConcurrency)

	log.Printf("[App] ready kv=%s models=%d providers=%v", cfg.KVBackend, len(c.Catalog.All()), c.Registry.IDs())
	return c, nil
}
