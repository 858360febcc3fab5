package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/app"
	"github.com/suPer8Hu/gopherchat/internal/catalog"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/instructions"
	"github.com/suPer8Hu/gopherchat/internal/jobs"
	"github.com/suPer8Hu/gopherchat/internal/kv/kvtest"
	"github.com/suPer8Hu/gopherchat/internal/llm"
	"github.com/suPer8Hu/gopherchat/internal/settings"
	"github.com/suPer8Hu/gopherchat/internal/summarize"
)

type echoProvider struct {
	ai.BaseProvider
	mu    sync.Mutex
	calls int
	fail  error
}

func (p *echoProvider) ID() string { return "echo" }

func (p *echoProvider) FetchChatCompletion(ctx context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail != nil {
		return nil, p.fail
	}
	last := req.Messages[len(req.Messages)-1].Content
	return &ai.Completion{
		Message: ai.Message{Role: ai.RoleAssistant, Content: "echo: " + last},
		Usage:   ai.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

type memPublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *memPublisher) PublishJob(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, jobID)
	return nil
}

type testServer struct {
	r    *gin.Engine
	core *app.Core
	svc  *chat.Service
	prov *echoProvider
	pub  *memPublisher
	jobs *jobs.Repo
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store := kvtest.New(t)
	cat := catalog.New([]catalog.Model{
		{Key: "open", Label: "Open", Provider: "echo", Deployment: "open-1", ContextLength: 16000, MaxOutputTokens: 500, ClassificationClearance: 1},
		{Key: "secure", Label: "Secure", Provider: "echo", Deployment: "secure-1", ContextLength: 16000, MaxOutputTokens: 500, ClassificationClearance: 3},
	}, "open")
	prov := &echoProvider{}
	reg := ai.NewRegistry()
	reg.Register(prov)

	set := settings.NewManager(store, settings.Defaults{ModelKey: "open"}, nil)
	lib := instructions.NewLibrary(store)
	client := llm.NewClient(cat, reg, set)
	core := &app.Core{
		KV:           store,
		Catalog:      cat,
		Settings:     set,
		Instructions: lib,
		Registry:     reg,
		LLM:          client,
		Summarizer:   summarize.NewService(client, 2),
	}

	chats := chat.NewStore(store, cat, lib, set)
	require.NoError(t, chats.Init(ctx))
	repo := jobs.NewRepo(store)
	pub := &memPublisher{}
	svc := chat.NewService(chats, client, lib, set, core.Summarizer).WithJobs(repo, pub)
	t.Cleanup(svc.Wait)

	return &testServer{r: NewRouter(cfg, core, svc), core: core, svc: svc, prov: prov, pub: pub, jobs: repo}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, header ...string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestPingAndNoRoute(t *testing.T) {
	s := newTestServer(t, config.Config{})

	code, env := s.do(t, http.MethodGet, "/ping", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 0, env.Code)

	code, env = s.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, 40400, env.Code)

	code, env = s.do(t, http.MethodPut, "/state", nil)
	require.Equal(t, http.StatusMethodNotAllowed, code)
	require.Equal(t, 40500, env.Code)
}

func TestSendMessageFlow(t *testing.T) {
	s := newTestServer(t, config.Config{})

	_, env := s.do(t, http.MethodGet, "/state", nil)
	st := decode[chat.State](t, env.Data)
	require.Len(t, st.Chats, 1)
	id := st.CurrentChatID

	code, env := s.do(t, http.MethodPost, "/chats/"+id+"/messages", gin.H{"text": "hello"})
	require.Equal(t, http.StatusOK, code, env.Message)
	out := decode[struct{ Reply chat.Message }](t, env.Data)
	require.Equal(t, "echo: hello", out.Reply.Content)
	require.Equal(t, "open", out.Reply.Model)

	s.svc.Wait()
	_, env = s.do(t, http.MethodGet, "/chats/"+id, nil)
	c := decode[chat.Chat](t, env.Data)
	require.Len(t, c.Messages, 2)
	require.False(t, c.IsNewChat)
	require.NotEqual(t, chat.PlaceholderName, c.Name)
}

func TestSendMessage_ProviderFailureIs502(t *testing.T) {
	cases := []struct {
		name string
		err  error
		msg  string
	}{
		{"http status", &ai.HTTPError{Provider: "echo", StatusCode: 500, Status: "Internal Server Error"}, "500"},
		{"vendor error", &ai.VendorError{Provider: "echo", Message: "model not loaded"}, "model not loaded"},
		{"transport", &ai.TransportError{Provider: "echo", Err: errors.New("connection refused")}, "connection refused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, config.Config{})
			s.prov.fail = tc.err

			_, env := s.do(t, http.MethodGet, "/state", nil)
			chatID := decode[chat.State](t, env.Data).CurrentChatID

			code, env := s.do(t, http.MethodPost, "/chats/"+chatID+"/messages", gin.H{"text": "hi"})
			require.Equal(t, http.StatusBadGateway, code)
			require.Equal(t, 50201, env.Code)
			require.Contains(t, env.Message, tc.msg)

			// the user message stays
			_, env = s.do(t, http.MethodGet, "/chats/"+chatID, nil)
			require.Len(t, decode[chat.Chat](t, env.Data).Messages, 1)
		})
	}
}

func TestClearanceGateOverHTTP(t *testing.T) {
	s := newTestServer(t, config.Config{})
	_, env := s.do(t, http.MethodGet, "/state", nil)
	id := decode[chat.State](t, env.Data).CurrentChatID

	code, env := s.do(t, http.MethodPost, "/chats/"+id+"/attachments", gin.H{
		"name": "plan.txt", "content": "secret plan", "classificationLevel": 3,
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	att := decode[struct {
		Attachment chat.Attachment
		Clearance  chat.ClearanceState
	}](t, env.Data)
	require.Equal(t, 3, att.Clearance.Required)
	require.Equal(t, "secure", att.Clearance.SelectedModelKey)
	require.Equal(t, []string{"open"}, att.Clearance.Blocked)

	code, env = s.do(t, http.MethodPatch, "/chats/"+id, gin.H{"modelKey": "open"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, 40902, env.Code)
	data := decode[map[string]any](t, env.Data)
	require.EqualValues(t, 3, data["required"])

	code, _ = s.do(t, http.MethodPost, "/chats/"+id+"/attachments", gin.H{"name": "x", "content": "y", "classificationLevel": 9})
	require.Equal(t, http.StatusBadRequest, code)

	// removing the document reopens every model
	code, env = s.do(t, http.MethodDelete, "/chats/"+id+"/attachments/"+att.Attachment.ID, nil)
	require.Equal(t, http.StatusOK, code)
	cl := decode[struct{ Clearance chat.ClearanceState }](t, env.Data).Clearance
	require.Equal(t, 1, cl.Required)
	require.Empty(t, cl.Blocked)
}

func TestDeleteLastChat(t *testing.T) {
	s := newTestServer(t, config.Config{})
	_, env := s.do(t, http.MethodGet, "/state", nil)
	id := decode[chat.State](t, env.Data).CurrentChatID

	code, env := s.do(t, http.MethodDelete, "/chats/"+id, nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, 40901, env.Code)

	code, env = s.do(t, http.MethodDelete, "/chats/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, 40401, env.Code)
}

func TestSummaryJobOverHTTP(t *testing.T) {
	s := newTestServer(t, config.Config{})
	ctx := context.Background()
	_, env := s.do(t, http.MethodGet, "/state", nil)
	id := decode[chat.State](t, env.Data).CurrentChatID

	_, env = s.do(t, http.MethodPost, "/chats/"+id+"/attachments", gin.H{"name": "notes.md", "content": "quarterly numbers"})
	attID := decode[struct{ Attachment chat.Attachment }](t, env.Data).Attachment.ID

	body := gin.H{"attachmentId": attID}
	code, env := s.do(t, http.MethodPost, "/chats/"+id+"/summary-jobs", body, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, code, env.Message)
	job := decode[map[string]any](t, env.Data)
	jobID := job["jobId"].(string)
	require.Equal(t, "queued", job["status"])
	require.NotContains(t, job, "text")

	// same key, same job, one publish
	_, env = s.do(t, http.MethodPost, "/chats/"+id+"/summary-jobs", body, "Idempotency-Key", "k1")
	require.Equal(t, jobID, decode[map[string]any](t, env.Data)["jobId"])
	require.Equal(t, []string{jobID}, s.pub.ids)

	require.NoError(t, jobs.NewRunner(s.jobs, s.core.Summarizer, 3).Handle(ctx, jobID))

	_, env = s.do(t, http.MethodGet, "/summary-jobs/"+jobID, nil)
	job = decode[map[string]any](t, env.Data)
	require.Equal(t, "succeeded", job["status"])
	require.NotEmpty(t, job["summaryId"])

	_, env = s.do(t, http.MethodGet, "/chats/"+id+"/attachments/"+attID, nil)
	a := decode[chat.Attachment](t, env.Data)
	require.Len(t, a.Summaries, 1)

	// a second read does not store the summary again
	s.do(t, http.MethodGet, "/summary-jobs/"+jobID, nil)
	_, env = s.do(t, http.MethodGet, "/chats/"+id+"/attachments/"+attID, nil)
	require.Len(t, decode[chat.Attachment](t, env.Data).Summaries, 1)

	code, env = s.do(t, http.MethodGet, "/summary-jobs/missing", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, 40406, env.Code)
}

func TestSettingsAndInstructions(t *testing.T) {
	s := newTestServer(t, config.Config{})

	code, env := s.do(t, http.MethodPatch, "/settings", gin.H{"language": "de", "theme": "dark"})
	require.Equal(t, http.StatusOK, code)
	snap := decode[settings.Snapshot](t, env.Data)
	require.Equal(t, "de", snap.Language)
	require.Equal(t, "dark", snap.Theme)

	code, _ = s.do(t, http.MethodPatch, "/settings", gin.H{"titleDeployment": "missing"})
	require.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, http.MethodPut, "/settings/providers/echo", gin.H{"apiKey": "sk-secret"})
	require.Equal(t, http.StatusOK, code)
	require.NotContains(t, string(env.Data), "sk-secret")
	require.True(t, decode[settings.ProviderStatus](t, env.Data).HasAPIKey)

	code, _ = s.do(t, http.MethodPut, "/settings/providers/nobody", gin.H{"apiKey": "x"})
	require.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, http.MethodPost, "/instructions", gin.H{"label": "Pirate", "content": "Talk like a pirate."})
	require.Equal(t, http.StatusOK, code)
	in := decode[instructions.Instruction](t, env.Data)
	require.True(t, in.Custom)

	code, _ = s.do(t, http.MethodPost, "/instructions", gin.H{"label": "", "content": "x"})
	require.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodDelete, "/instructions/default", nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, 40301, env.Code)

	code, _ = s.do(t, http.MethodDelete, "/instructions/"+in.ID, nil)
	require.Equal(t, http.StatusOK, code)
}

func TestAuthGroup(t *testing.T) {
	s := newTestServer(t, config.Config{JWTSecret: "k"})

	code, _ := s.do(t, http.MethodGet, "/ping", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodGet, "/state", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	code, _ = s.do(t, http.MethodGet, "/state", nil, "Authorization", "Bearer "+tok)
	require.Equal(t, http.StatusOK, code)
}
