package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/kv"
	"github.com/suPer8Hu/gopherchat/internal/kv/kvtest"
	"github.com/suPer8Hu/gopherchat/internal/summarize"
)

type fakeSummarizer struct {
	errs  []error
	calls int
}

func (f *fakeSummarizer) Generate(ctx context.Context, docText, instructions, modelKey string) (*summarize.Result, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &summarize.Result{Body: "body of " + docText, Title: "T", ModelKey: modelKey}, nil
}

func TestCreateOrGetExisting_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(kvtest.New(t))

	a, created, err := repo.CreateOrGetExisting(ctx, &Job{ChatID: "c1", IdempotencyKey: "k1"})
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	b, created, err := repo.CreateOrGetExisting(ctx, &Job{ChatID: "c1", IdempotencyKey: "k1"})
	if err != nil || created {
		t.Fatalf("second create: created=%v err=%v", created, err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same job, got %s and %s", a.ID, b.ID)
	}
	if b.Status != StatusQueued {
		t.Fatalf("unexpected status %s", b.Status)
	}

	if _, err := repo.Get(ctx, "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRunner_Succeeds(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(kvtest.New(t))
	j := &Job{ChatID: "c1", Text: "doc", ModelKey: "m"}
	if err := repo.Create(ctx, j); err != nil {
		t.Fatal(err)
	}

	s := &fakeSummarizer{}
	r := NewRunner(repo, s, 3)
	if err := r.Handle(ctx, j.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := repo.Get(ctx, j.ID)
	if got.Status != StatusSucceeded || got.Body != "body of doc" || got.Title != "T" {
		t.Fatalf("unexpected job: %+v", got)
	}

	// redelivery of a finished job is a no-op
	if err := r.Handle(ctx, j.ID); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if s.calls != 1 {
		t.Fatalf("expected one summarize call, got %d", s.calls)
	}
}

func TestRunner_RetriesTransientThenFails(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(kvtest.New(t))
	j := &Job{Text: "doc", ModelKey: "m"}
	if err := repo.Create(ctx, j); err != nil {
		t.Fatal(err)
	}

	unavailable := &ai.HTTPError{Provider: "openai", StatusCode: 503, Status: "Service Unavailable"}
	s := &fakeSummarizer{errs: []error{unavailable, unavailable}}
	r := NewRunner(repo, s, 2)

	if err := r.Handle(ctx, j.ID); !errors.Is(err, ErrRetry) {
		t.Fatalf("expected ErrRetry, got %v", err)
	}
	if got, _ := repo.Get(ctx, j.ID); got.Status != StatusQueued {
		t.Fatalf("expected requeued job, got %s", got.Status)
	}

	if err := r.Handle(ctx, j.ID); err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	got, _ := repo.Get(ctx, j.ID)
	if got.Status != StatusFailed || got.Attempts != 2 || got.Error == "" {
		t.Fatalf("unexpected job: %+v", got)
	}
}

func TestRunner_FinalErrorsAreNotRetried(t *testing.T) {
	cases := map[string]error{
		"configuration": &ai.ConfigurationError{Provider: "openai", Reason: "api key is required"},
		"vendor":        &ai.VendorError{Provider: "ollama", Message: "model 'llama3' not found, try pulling it first"},
	}
	for name, cause := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := NewRepo(kvtest.New(t))
			j := &Job{Text: "doc", ModelKey: "m"}
			if err := repo.Create(ctx, j); err != nil {
				t.Fatal(err)
			}
			s := &fakeSummarizer{errs: []error{cause}}
			if err := NewRunner(repo, s, 3).Handle(ctx, j.ID); err != nil {
				t.Fatalf("handle: %v", err)
			}
			got, _ := repo.Get(ctx, j.ID)
			if got.Status != StatusFailed || got.Attempts != 1 || s.calls != 1 {
				t.Fatalf("expected one attempt then failed, got %+v calls=%d", got, s.calls)
			}
		})
	}
}

func TestRunner_TransportErrorIsRetried(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(kvtest.New(t))
	j := &Job{Text: "doc", ModelKey: "m"}
	if err := repo.Create(ctx, j); err != nil {
		t.Fatal(err)
	}
	s := &fakeSummarizer{errs: []error{&ai.TransportError{Provider: "ollama", Err: errors.New("connection refused")}}}
	if err := NewRunner(repo, s, 3).Handle(ctx, j.ID); !errors.Is(err, ErrRetry) {
		t.Fatalf("expected ErrRetry, got %v", err)
	}
}

func TestMarkRunning_ConcurrentStartsOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(kvtest.New(t))
	j := &Job{ChatID: "c1", Text: "doc", ModelKey: "m"}
	if err := repo.Create(ctx, j); err != nil {
		t.Fatal(err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.MarkRunning(ctx, j.ID)
			if err != nil {
				t.Errorf("mark running: %v", err)
				return
			}
			if ok {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if started != 1 {
		t.Fatalf("expected exactly one start, got %d", started)
	}
	got, _ := repo.Get(ctx, j.ID)
	if got.Attempts != 1 || got.Status != StatusRunning {
		t.Fatalf("unexpected job after race: status=%s attempts=%d", got.Status, got.Attempts)
	}
}

func TestMarkRunning_StaleReadInAnotherProcessDoesNotStart(t *testing.T) {
	ctx := context.Background()
	store := kvtest.New(t)
	first, second := NewRepo(store), NewRepo(store)
	j := &Job{ChatID: "c1", Text: "doc", ModelKey: "m"}
	if err := first.Create(ctx, j); err != nil {
		t.Fatal(err)
	}
	snapshot, err := first.Get(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok, err := first.MarkRunning(ctx, j.ID); err != nil || !ok {
		t.Fatalf("first worker: started=%v err=%v", ok, err)
	}
	// the second worker read the job before the first one saved it
	if err := kv.SetJSON(ctx, store, jobKeyPrefix+j.ID, snapshot); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := second.MarkRunning(ctx, j.ID); err != nil || ok {
		t.Fatalf("second worker must not start the same attempt: started=%v err=%v", ok, err)
	}

	// a retry is a new attempt and can be claimed
	snapshot.Attempts = 1
	if err := kv.SetJSON(ctx, store, jobKeyPrefix+j.ID, snapshot); err != nil {
		t.Fatal(err)
	}
	got, ok, err := second.MarkRunning(ctx, j.ID)
	if err != nil || !ok {
		t.Fatalf("retry: started=%v err=%v", ok, err)
	}
	if got.Attempts != 2 {
		t.Fatalf("expected attempt 2, got %d", got.Attempts)
	}
}
