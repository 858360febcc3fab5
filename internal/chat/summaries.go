package chat

import (
	"context"
	"errors"
	"log"

	"github.com/suPer8Hu/gopherchat/internal/catalog"
	"github.com/suPer8Hu/gopherchat/internal/jobs"
	"github.com/suPer8Hu/gopherchat/internal/summarize"
)

// SummaryOutcome reports one document of a summarize request. Err is set
// instead of Summary when that document failed.
type SummaryOutcome struct {
	AttachmentID string   `json:"attachmentId"`
	Name         string   `json:"name,omitempty"`
	Summary      *Summary `json:"summary,omitempty"`
	Err          error    `json:"-"`
	Error        string   `json:"error,omitempty"`
}

// summaryModel is modelKey, or the chat's model when modelKey is empty.
func (s *Service) summaryModel(c *Chat, modelKey string) (catalog.Model, error) {
	if modelKey == "" {
		return s.llm.Catalog().Resolve(c.SelectedModelKey), nil
	}
	return s.llm.Catalog().Get(modelKey)
}

// SummarizeAttachments summarizes the given documents concurrently and
// stores every success on its document. Documents above the model's
// clearance are refused individually; the batch as a whole only fails
// when the chat or model cannot be resolved.
func (s *Service) SummarizeAttachments(ctx context.Context, chatID string, attachmentIDs []string, instructions, modelKey string) ([]SummaryOutcome, error) {
	c, err := s.store.Chat(chatID)
	if err != nil {
		return nil, err
	}
	model, err := s.summaryModel(&c, modelKey)
	if err != nil {
		return nil, err
	}

	outcomes := make([]SummaryOutcome, len(attachmentIDs))
	reqs := make([]summarize.Request, 0, len(attachmentIDs))
	reqIdx := make([]int, 0, len(attachmentIDs))
	for i, id := range attachmentIDs {
		outcomes[i].AttachmentID = id
		a, err := findAttachment(&c, id)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		outcomes[i].Name = a.Name
		if a.Level() > model.Clearance() {
			outcomes[i].Err = &ClearanceError{Required: a.Level(), ModelKey: model.Key, Clearance: model.Clearance()}
			continue
		}
		reqs = append(reqs, summarize.Request{
			ID:           id,
			Text:         normalizeLineEndings(a.Content),
			Instructions: instructions,
			ModelKey:     model.Key,
		})
		reqIdx = append(reqIdx, i)
	}

	for k, res := range s.summarizer.GenerateMany(ctx, reqs) {
		o := &outcomes[reqIdx[k]]
		if res.Err != nil {
			o.Err = res.Err
			continue
		}
		sum, err := s.store.AddSummary(ctx, chatID, o.AttachmentID, Summary{
			Name:         res.Result.Title,
			Content:      res.Result.Body,
			Instructions: instructions,
			ModelKey:     res.Result.ModelKey,
		})
		if err != nil {
			o.Err = err
			continue
		}
		o.Summary = &sum
	}

	for i := range outcomes {
		if outcomes[i].Err != nil {
			outcomes[i].Error = outcomes[i].Err.Error()
		}
	}
	return outcomes, nil
}

// QueueSummary snapshots the document into a job record and hands it to
// the workers. A repeated idempotencyKey returns the original job.
func (s *Service) QueueSummary(ctx context.Context, chatID, attachmentID, instructions, modelKey, idempotencyKey string) (*jobs.Job, error) {
	if s.jobs == nil || s.publisher == nil {
		return nil, ErrJobsDisabled
	}
	c, err := s.store.Chat(chatID)
	if err != nil {
		return nil, err
	}
	a, err := findAttachment(&c, attachmentID)
	if err != nil {
		return nil, err
	}
	model, err := s.summaryModel(&c, modelKey)
	if err != nil {
		return nil, err
	}
	if a.Level() > model.Clearance() {
		return nil, &ClearanceError{Required: a.Level(), ModelKey: model.Key, Clearance: model.Clearance()}
	}

	j, created, err := s.jobs.CreateOrGetExisting(ctx, &jobs.Job{
		ChatID:         chatID,
		AttachmentID:   attachmentID,
		DocumentName:   a.Name,
		Text:           normalizeLineEndings(a.Content),
		Instructions:   instructions,
		ModelKey:       model.Key,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	// enqueue only when a new job was created
	if created {
		if err := s.publisher.PublishJob(ctx, j.ID); err != nil {
			log.Printf("[QueueSummary] publish job=%s failed: %v", j.ID, err)
			_ = s.jobs.MarkFailed(ctx, j.ID, "enqueue failed")
			return nil, err
		}
	}
	return j, nil
}

// SummaryJob reports a job. The first read of a succeeded job stores its
// result on the document; later reads see it as applied.
func (s *Service) SummaryJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	if s.jobs == nil {
		return nil, ErrJobsDisabled
	}
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil || j.Status != jobs.StatusSucceeded || j.Applied() {
		return j, err
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	// re-read under the lock so the result is applied once
	if j, err = s.jobs.Get(ctx, jobID); err != nil || j.Applied() {
		return j, err
	}
	sum, err := s.store.AddSummary(ctx, j.ChatID, j.AttachmentID, Summary{
		Name:         j.Title,
		Content:      j.Body,
		Instructions: j.Instructions,
		ModelKey:     j.ModelKey,
	})
	if err != nil {
		if errors.Is(err, ErrChatNotFound) || errors.Is(err, ErrAttachmentNotFound) {
			log.Printf("[SummaryJob] job=%s target gone: %v", jobID, err)
			return j, nil
		}
		return nil, err
	}
	if err := s.jobs.MarkApplied(ctx, jobID, sum.ID); err != nil {
		return nil, err
	}
	j.SummaryID = sum.ID
	j.Text = ""
	return j, nil
}
