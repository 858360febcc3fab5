package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	ProviderOllama       = "ollama"
	defaultOllamaBaseURL = "http://localhost:11434"
)

type OllamaProvider struct {
	BaseProvider
	Client *http.Client
}

func NewOllamaProvider(client *http.Client) *OllamaProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaProvider{Client: client}
}

func (p *OllamaProvider) ID() string { return ProviderOllama }

// ValidateConfig accepts an empty endpoint; requests then go to the local
// default address.
func (p *OllamaProvider) ValidateConfig(cfg ProviderConfig) error { return nil }

func (p *OllamaProvider) PrepareMessages(msgs []Message, instruction string) ([]Message, string) {
	return prependSystem(msgs, instruction), ""
}

type ollamaChatReq struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResp struct {
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Error           json.RawMessage `json:"error,omitempty"`
	PromptEvalCount int             `json:"prompt_eval_count"`
	EvalCount       int             `json:"eval_count"`
}

// vendorError reads Ollama's error field, which is either a plain string
// or an object with a message.
func (r *ollamaChatResp) vendorError() string {
	if len(r.Error) == 0 || string(r.Error) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(r.Error, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(r.Error, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(r.Error)
}

func ollamaOptions(o Options) map[string]any {
	out := map[string]any{}
	if o.Temperature != nil {
		out["temperature"] = *o.Temperature
	}
	if o.TopP != nil {
		out["top_p"] = *o.TopP
	}
	if o.FrequencyPenalty != nil {
		out["frequency_penalty"] = *o.FrequencyPenalty
	}
	if o.PresencePenalty != nil {
		out["presence_penalty"] = *o.PresencePenalty
	}
	if o.MaxTokens != nil {
		out["num_predict"] = *o.MaxTokens
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (p *OllamaProvider) FetchChatCompletion(ctx context.Context, req CompletionRequest) (*Completion, error) {
	base := strings.TrimRight(strings.TrimSpace(req.Config.Endpoint), "/")
	if base == "" {
		base = defaultOllamaBaseURL
	}

	raw, err := postJSON(ctx, p.Client, ProviderOllama, fmt.Sprintf("%s/api/chat", base), nil,
		ollamaChatReq{
			Model:    req.Deployment,
			Messages: req.Messages,
			Stream:   false,
			Options:  ollamaOptions(req.Options),
		},
	)
	if err != nil {
		return nil, err
	}

	var decoded ollamaChatResp
	if err := decodeJSON(ProviderOllama, raw, &decoded); err != nil {
		return nil, err
	}
	if msg := decoded.vendorError(); msg != "" {
		return nil, &VendorError{Provider: ProviderOllama, Message: msg}
	}
	if decoded.Message == nil {
		return nil, &ResponseError{Provider: ProviderOllama, Reason: "missing message"}
	}
	return &Completion{
		Message: Message{Role: RoleAssistant, Content: strings.TrimSpace(decoded.Message.Content)},
		Usage:   normalizeUsage(decoded.PromptEvalCount, decoded.EvalCount, 0),
	}, nil
}
