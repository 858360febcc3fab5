package chat

import (
	"errors"
	"sync"

	"github.com/suPer8Hu/gopherchat/internal/instructions"
	"github.com/suPer8Hu/gopherchat/internal/jobs"
	"github.com/suPer8Hu/gopherchat/internal/llm"
	"github.com/suPer8Hu/gopherchat/internal/summarize"
)

var (
	ErrSendInProgress = errors.New("a message is already being sent in this chat")
	ErrJobsDisabled   = errors.New("asynchronous summaries are not configured")
)

// Settings is what the pipeline reads from the configuration manager.
type Settings interface {
	SelectedInstructionID() string
	TitleModelKey() string
}

type Service struct {
	store        *Store
	llm          *llm.Client
	instructions *instructions.Library
	settings     Settings
	summarizer   *summarize.Service

	jobs      *jobs.Repo
	publisher jobs.Publisher
	applyMu   sync.Mutex

	mu       sync.Mutex
	inflight map[string]struct{}
	titles   sync.WaitGroup
}

func NewService(store *Store, client *llm.Client, lib *instructions.Library, settings Settings, summarizer *summarize.Service) *Service {
	return &Service{
		store:        store,
		llm:          client,
		instructions: lib,
		settings:     settings,
		summarizer:   summarizer,
		inflight:     make(map[string]struct{}),
	}
}

// WithJobs enables queued summaries.
func (s *Service) WithJobs(repo *jobs.Repo, pub jobs.Publisher) *Service {
	s.jobs = repo
	s.publisher = pub
	return s
}

func (s *Service) Store() *Store { return s.store }

// acquire marks chatID as sending; false when a send is already running.
func (s *Service) acquire(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[chatID]; busy {
		return false
	}
	s.inflight[chatID] = struct{}{}
	return true
}

func (s *Service) release(chatID string) {
	s.mu.Lock()
	delete(s.inflight, chatID)
	s.mu.Unlock()
}

// Wait blocks until every started title generation has finished.
func (s *Service) Wait() {
	s.titles.Wait()
}
