package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/catalog"
	"github.com/suPer8Hu/gopherchat/internal/summarize"
)

// Summarizer is the part of summarize.Service a runner needs.
type Summarizer interface {
	Generate(ctx context.Context, docText, instructions, modelKey string) (*summarize.Result, error)
}

// Runner executes summary jobs on behalf of the worker.
type Runner struct {
	repo        *Repo
	summarizer  Summarizer
	maxAttempts int
}

func NewRunner(repo *Repo, s Summarizer, maxAttempts int) *Runner {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Runner{repo: repo, summarizer: s, maxAttempts: maxAttempts}
}

// ErrRetry wraps a failure the worker should redeliver through the retry
// queue. The job has already been put back to queued.
var ErrRetry = errors.New("retry")

// Handle runs one job. Jobs that are not queued are skipped, so a
// redelivered message never summarizes twice.
func (r *Runner) Handle(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	j, started, err := r.repo.MarkRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !started {
		log.Printf("[Worker] job=%s status=%s, skipping", jobID, j.Status)
		return nil
	}

	res, err := r.summarizer.Generate(ctx, j.Text, j.Instructions, j.ModelKey)
	genCost := time.Since(jobStart)
	if err != nil {
		if retryable(err) && j.Attempts < r.maxAttempts {
			log.Printf("[Worker] job=%s attempt=%d gen=%s transient err=%v", jobID, j.Attempts, genCost, err)
			if rqErr := r.repo.Requeue(ctx, jobID, err.Error()); rqErr != nil {
				return rqErr
			}
			return errors.Join(ErrRetry, err)
		}
		log.Printf("[Worker] job=%s attempt=%d gen=%s failed err=%v", jobID, j.Attempts, genCost, err)
		return r.repo.MarkFailed(ctx, jobID, err.Error())
	}

	if err := r.repo.MarkSucceeded(ctx, jobID, res.Title, res.Body); err != nil {
		return err
	}
	if total := time.Since(jobStart); total > 2*time.Second {
		log.Printf("[Worker] job_timing job=%s gen=%s total=%s", jobID, genCost, total)
	}
	return nil
}

// retryable reports vendor-side failures worth another attempt: transport
// errors, 429 and 5xx. Configuration, response-shape and vendor-reported
// errors are final.
func retryable(err error) bool {
	var cfgErr *ai.ConfigurationError
	var respErr *ai.ResponseError
	var unsupported *ai.UnsupportedProviderError
	var vendorErr *ai.VendorError
	if errors.As(err, &cfgErr) || errors.As(err, &respErr) || errors.As(err, &unsupported) ||
		errors.As(err, &vendorErr) || errors.Is(err, catalog.ErrModelNotFound) {
		return false
	}
	var httpErr *ai.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}
