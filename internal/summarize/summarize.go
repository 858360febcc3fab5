// Package summarize produces condensed versions of documents, one request
// per document, reusing the provider adapters.
package summarize

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/llm"
)

const fallbackTitleRunes = 50

// Summary markers in order of preference. Matching ignores case.
var titleMarkers = []string{"summary title:", "title:"}

type Service struct {
	llm         *llm.Client
	concurrency int
}

func NewService(client *llm.Client, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{llm: client, concurrency: concurrency}
}

type Result struct {
	Body     string
	Title    string
	ModelKey string
	Usage    ai.Usage
}

func buildPrompt(docText, instructions string) string {
	var b strings.Builder
	b.WriteString("Summarize the document below.\n")
	if s := strings.TrimSpace(instructions); s != "" {
		b.WriteString("Follow these instructions: ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString("After the summary, add one final line of the form \"Summary title: <a short title>\".\n\n")
	b.WriteString("Document:\n")
	b.WriteString(docText)
	return b.String()
}

// Generate summarizes one document with the model named by modelKey.
func (s *Service) Generate(ctx context.Context, docText, instructions, modelKey string) (*Result, error) {
	t, err := s.llm.Target(modelKey)
	if err != nil {
		return nil, err
	}
	msgs := []ai.Message{{Role: ai.RoleUser, Content: buildPrompt(docText, instructions)}}
	c, err := s.llm.Complete(ctx, t, msgs, "")
	if err != nil {
		return nil, fmt.Errorf("summarize with %s: %w", modelKey, err)
	}
	body, title := ParseSummary(c.Message.Content)
	return &Result{Body: body, Title: title, ModelKey: t.Model.Key, Usage: c.Usage}, nil
}

// ParseSummary splits a model reply into body and title. Without a marker
// the whole reply is the body and the title is its ellipsized prefix.
func ParseSummary(raw string) (body, title string) {
	raw = strings.TrimSpace(raw)
	for _, marker := range titleMarkers {
		i := lastIndexFold(raw, marker)
		if i < 0 {
			continue
		}
		body = strings.TrimSpace(raw[:i])
		title = cleanTitle(raw[i+len(marker):])
		if body == "" {
			body = title
		}
		if title == "" {
			title = fallbackTitle(body)
		}
		return body, title
	}
	return raw, fallbackTitle(raw)
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(strings.TrimSpace(s), "\"'*")
}

func fallbackTitle(body string) string {
	if utf8.RuneCountInString(body) <= fallbackTitleRunes {
		return body
	}
	r := []rune(body)
	return strings.TrimSpace(string(r[:fallbackTitleRunes])) + "…"
}

// lastIndexFold is strings.LastIndex with ASCII case folding on the
// marker; the marker must be ASCII. A match has to start a word, so
// "title:" is not found inside "Subtitle:".
func lastIndexFold(s, marker string) int {
	n := len(marker)
	for i := len(s) - n; i >= 0; i-- {
		if strings.EqualFold(s[i:i+n], marker) && wordStart(s, i) {
			return i
		}
	}
	return -1
}

func wordStart(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// Request is one document of a batch. ID is the caller's correlation key.
type Request struct {
	ID           string
	Text         string
	Instructions string
	ModelKey     string
}

type Outcome struct {
	ID     string
	Result *Result
	Err    error
}

// GenerateMany runs the requests concurrently. A failing request never
// cancels the others; every outcome carries its own error.
func (s *Service) GenerateMany(ctx context.Context, reqs []Request) []Outcome {
	out := make([]Outcome, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.Generate(ctx, req.Text, req.Instructions, req.ModelKey)
			if err != nil {
				log.Printf("[Summarize] request=%s model=%s failed: %v", req.ID, req.ModelKey, err)
			}
			out[i] = Outcome{ID: req.ID, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
