package summarize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/catalog"
	"github.com/suPer8Hu/gopherchat/internal/llm"
)

type enabled struct{}

func (enabled) ProviderConfig(string) ai.ProviderConfig { return ai.ProviderConfig{Enabled: true} }

// scriptedProvider fails for any document containing "FAIL".
type scriptedProvider struct {
	ai.BaseProvider
	mu    sync.Mutex
	calls int
}

func (p *scriptedProvider) ID() string { return "scripted" }

func (p *scriptedProvider) FetchChatCompletion(ctx context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	prompt := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(prompt, "FAIL") {
		return nil, &ai.HTTPError{Provider: "scripted", StatusCode: 500, Status: "Internal Server Error", Body: "boom"}
	}
	return &ai.Completion{Message: ai.Message{Role: ai.RoleAssistant, Content: "Short version. Summary title: Doc"}}, nil
}

func newService(t *testing.T, p ai.Provider) *Service {
	t.Helper()
	reg := ai.NewRegistry()
	reg.Register(p)
	cat := catalog.New([]catalog.Model{{Key: "m", Provider: p.ID(), Deployment: "d"}}, "m")
	return NewService(llm.NewClient(cat, reg, enabled{}), 2)
}

func TestParseSummary(t *testing.T) {
	cases := []struct {
		name, raw, body, title string
	}{
		{"summary title marker", "This is the summary. Summary title: Budget Overview", "This is the summary.", "Budget Overview"},
		{"title marker", "Body text.\nTitle: Plan", "Body text.", "Plan"},
		{"case insensitive", "Body.\nSUMMARY TITLE: \"Quarterly\"", "Body.", "Quarterly"},
		{"no marker short", "Just a body", "Just a body", "Just a body"},
		{"marker inside a word", "Subtitle: notes\nThe body.\nTitle: Plan", "Subtitle: notes\nThe body.", "Plan"},
		{"only inside a word", "Entitle: rules apply", "Entitle: rules apply", "Entitle: rules apply"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, title := ParseSummary(tc.raw)
			require.Equal(t, tc.body, body)
			require.Equal(t, tc.title, title)
		})
	}
}

func TestParseSummary_FallbackTitleIsEllipsized(t *testing.T) {
	raw := strings.Repeat("abcdefghij", 8)
	body, title := ParseSummary(raw)
	require.Equal(t, raw, body)
	require.Equal(t, raw[:50]+"…", title)
}

func TestGenerate(t *testing.T) {
	s := newService(t, &scriptedProvider{})
	res, err := s.Generate(context.Background(), "a long document", "focus on numbers", "m")
	require.NoError(t, err)
	require.Equal(t, "Short version.", res.Body)
	require.Equal(t, "Doc", res.Title)
	require.Equal(t, "m", res.ModelKey)
}

func TestGenerateMany_FailureIsIsolated(t *testing.T) {
	p := &scriptedProvider{}
	s := newService(t, p)

	outcomes := s.GenerateMany(context.Background(), []Request{
		{ID: "a", Text: "fine", ModelKey: "m"},
		{ID: "b", Text: "FAIL please", ModelKey: "m"},
		{ID: "c", Text: "also fine", ModelKey: "m"},
		{ID: "d", Text: "unknown model", ModelKey: "nope"},
	})

	require.Len(t, outcomes, 4)
	require.NoError(t, outcomes[0].Err)
	require.NoError(t, outcomes[2].Err)
	require.Equal(t, "Doc", outcomes[2].Result.Title)

	var httpErr *ai.HTTPError
	require.True(t, errors.As(outcomes[1].Err, &httpErr))
	require.Nil(t, outcomes[1].Result)
	require.ErrorIs(t, outcomes[3].Err, catalog.ErrModelNotFound)
	require.Equal(t, 3, p.calls)
}
