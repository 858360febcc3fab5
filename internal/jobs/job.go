// Package jobs tracks asynchronous summary jobs. Records live in the KV
// store so the API process and the worker share them whatever backend is
// configured.
package jobs

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/kv"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// Publisher hands a queued job to the workers.
type Publisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Job struct {
	ID           string `json:"id"` // ULID
	ChatID       string `json:"chatId"`
	AttachmentID string `json:"attachmentId"`
	DocumentName string `json:"documentName"`
	// Text is a snapshot of the document taken when the job was queued.
	Text           string `json:"text,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
	ModelKey       string `json:"modelKey"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	Status Status `json:"status"`

	// Filled when succeeded
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	// SummaryID is set once the result has been stored on the document.
	SummaryID string `json:"summaryId,omitempty"`

	// Filled when failed
	Error string `json:"error,omitempty"`

	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (j *Job) Applied() bool { return j.SummaryID != "" }

const (
	jobKeyPrefix    = "summaryJob:"
	idempoKeyPrefix = "summaryJobKey:"
	claimKeyPrefix  = "summaryJobClaim:"
)

type Repo struct {
	store kv.Store
	now   func() time.Time

	// mu serializes read-modify-write updates made through this repo.
	mu sync.Mutex
}

func NewRepo(store kv.Store) *Repo {
	return &Repo{store: store, now: time.Now}
}

func (r *Repo) save(ctx context.Context, j *Job) error {
	j.UpdatedAt = r.now()
	return kv.SetJSON(ctx, r.store, jobKeyPrefix+j.ID, j)
}

// Create assigns an id and stores j as queued.
func (r *Repo) Create(ctx context.Context, j *Job) error {
	id, err := common.NewULID()
	if err != nil {
		return err
	}
	j.ID = id
	j.Status = StatusQueued
	j.CreatedAt = r.now()
	return r.save(ctx, j)
}

// CreateOrGetExisting is Create deduplicated by j.IdempotencyKey: when the
// key was seen before it returns that job and created=false.
func (r *Repo) CreateOrGetExisting(ctx context.Context, j *Job) (*Job, bool, error) {
	if j.IdempotencyKey == "" {
		if err := r.Create(ctx, j); err != nil {
			return nil, false, err
		}
		return j, true, nil
	}

	existingID, ok, err := kv.GetString(ctx, r.store, idempoKeyPrefix+j.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if ok {
		existing, err := r.Get(ctx, existingID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrJobNotFound) {
			return nil, false, err
		}
	}

	if err := r.Create(ctx, j); err != nil {
		return nil, false, err
	}
	if err := kv.SetJSON(ctx, r.store, idempoKeyPrefix+j.IdempotencyKey, j.ID); err != nil {
		return nil, false, err
	}
	return j, true, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Job, error) {
	var j Job
	ok, err := kv.GetJSON(ctx, r.store, jobKeyPrefix+id, &j)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobNotFound
	}
	return &j, nil
}

func (r *Repo) update(ctx context.Context, id string, fn func(j *Job) bool) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !fn(j) {
		return j, nil
	}
	return j, r.save(ctx, j)
}

// MarkRunning moves a queued job to running and counts the attempt. Jobs
// in any other state are returned unchanged with started=false. When the
// store is a kv.Claimer each attempt is claimed there first, so of several
// workers holding the same delivery only one starts it.
func (r *Repo) MarkRunning(ctx context.Context, id string) (j *Job, started bool, err error) {
	var claimErr error
	j, err = r.update(ctx, id, func(j *Job) bool {
		if j.Status != StatusQueued {
			return false
		}
		ok, err := r.claim(ctx, id, j.Attempts+1)
		if err != nil || !ok {
			claimErr = err
			return false
		}
		j.Status = StatusRunning
		j.Attempts++
		started = true
		return true
	})
	if err != nil && started {
		// the attempt was claimed but never recorded; free it for redelivery
		_ = r.store.Delete(ctx, claimKey(id, j.Attempts))
		return j, false, err
	}
	if err == nil {
		err = claimErr
	}
	return j, started, err
}

func claimKey(id string, attempt int) string {
	return claimKeyPrefix + id + ":" + strconv.Itoa(attempt)
}

func (r *Repo) claim(ctx context.Context, id string, attempt int) (bool, error) {
	c, ok := r.store.(kv.Claimer)
	if !ok {
		return true, nil
	}
	return c.SetNX(ctx, claimKey(id, attempt), []byte(strconv.Quote(r.now().UTC().Format(time.RFC3339))))
}

// Requeue puts a running job back to queued for a retry.
func (r *Repo) Requeue(ctx context.Context, id, errMsg string) error {
	_, err := r.update(ctx, id, func(j *Job) bool {
		j.Status = StatusQueued
		j.Error = errMsg
		return true
	})
	return err
}

func (r *Repo) MarkSucceeded(ctx context.Context, id, title, body string) error {
	_, err := r.update(ctx, id, func(j *Job) bool {
		j.Status = StatusSucceeded
		j.Title = title
		j.Body = body
		j.Error = ""
		return true
	})
	return err
}

func (r *Repo) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.update(ctx, id, func(j *Job) bool {
		j.Status = StatusFailed
		j.Error = errMsg
		return true
	})
	return err
}

// MarkApplied records the summary the result was stored as and drops the
// document snapshot.
func (r *Repo) MarkApplied(ctx context.Context, id, summaryID string) error {
	_, err := r.update(ctx, id, func(j *Job) bool {
		j.SummaryID = summaryID
		j.Text = ""
		return true
	})
	return err
}
