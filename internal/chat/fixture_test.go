package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/catalog"
	"github.com/suPer8Hu/gopherchat/internal/instructions"
	"github.com/suPer8Hu/gopherchat/internal/kv"
	"github.com/suPer8Hu/gopherchat/internal/kv/kvtest"
	"github.com/suPer8Hu/gopherchat/internal/llm"
	"github.com/suPer8Hu/gopherchat/internal/settings"
	"github.com/suPer8Hu/gopherchat/internal/summarize"
)

// fakeProvider records every request. Title requests (deployment weak-1)
// get a fixed title; everything else gets "ok" unless respond is set.
type fakeProvider struct {
	ai.BaseProvider
	mu       sync.Mutex
	requests []ai.CompletionRequest
	respond  func(req ai.CompletionRequest) (*ai.Completion, error)
}

func (p *fakeProvider) ID() string { return "fake" }

func (p *fakeProvider) PrepareMessages(msgs []ai.Message, instruction string) ([]ai.Message, string) {
	return msgs, instruction
}

func (p *fakeProvider) FetchChatCompletion(ctx context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	p.mu.Lock()
	req.Messages = append([]ai.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.respond != nil {
		return p.respond(req)
	}
	return defaultReply(req)
}

func defaultReply(req ai.CompletionRequest) (*ai.Completion, error) {
	if req.Deployment == "weak-1" {
		return reply("\"Budget chat\""), nil
	}
	return reply("ok"), nil
}

func reply(content string) *ai.Completion {
	return &ai.Completion{
		Message: ai.Message{Role: ai.RoleAssistant, Content: content},
		Usage:   ai.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}
}

func (p *fakeProvider) requestsFor(deployment string) []ai.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ai.CompletionRequest
	for _, r := range p.requests {
		if r.Deployment == deployment {
			out = append(out, r)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func testModels() []catalog.Model {
	return []catalog.Model{
		{
			Key: "open", Label: "Open", Provider: "fake", Deployment: "open-1",
			ContextLength: 100000, MaxOutputTokens: 1000,
			SupportsSystemInstruction: true, ClassificationClearance: 1,
		},
		{Key: "weak", Provider: "fake", Deployment: "weak-1", ClassificationClearance: 1, Weak: true},
		{
			Key: "secure", Provider: "fake", Deployment: "secure-1",
			SupportsSystemInstruction: true, ClassificationClearance: 3,
		},
	}
}

type fixture struct {
	kv       kv.Store
	catalog  *catalog.Catalog
	settings *settings.Manager
	lib      *instructions.Library
	prov     *fakeProvider
	client   *llm.Client
	store    *Store
	svc      *Service
}

func newFixture(t *testing.T, extra ...catalog.Model) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{kv: kvtest.New(t), prov: &fakeProvider{}}
	f.catalog = catalog.New(testModels(), "open", extra)

	reg := ai.NewRegistry()
	reg.Register(f.prov)

	f.settings = settings.NewManager(f.kv, settings.Defaults{ModelKey: "open"}, nil)
	f.lib = instructions.NewLibrary(f.kv)
	f.client = llm.NewClient(f.catalog, reg, f.settings)

	f.store = NewStore(f.kv, f.catalog, f.lib, f.settings)
	f.store.now = (&fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}).Now
	if err := f.store.Init(ctx); err != nil {
		t.Fatalf("init store: %v", err)
	}
	f.svc = NewService(f.store, f.client, f.lib, f.settings, summarize.NewService(f.client, 2))
	return f
}

// reopen builds a fresh store over the same persisted state.
func (f *fixture) reopen(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	set := settings.NewManager(f.kv, settings.Defaults{ModelKey: "open"}, nil)
	if err := set.Load(ctx); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	lib := instructions.NewLibrary(f.kv)
	if err := lib.Load(ctx); err != nil {
		t.Fatalf("load instructions: %v", err)
	}
	st := NewStore(f.kv, f.catalog, lib, set)
	if err := st.Init(ctx); err != nil {
		t.Fatalf("init store: %v", err)
	}
	return st
}

func (f *fixture) current(t *testing.T) Chat {
	t.Helper()
	c, err := f.store.Chat(f.store.CurrentChatID())
	if err != nil {
		t.Fatalf("current chat: %v", err)
	}
	return c
}
