package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	ProviderOpenAI       = "openai"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

type OpenAIProvider struct {
	BaseProvider
	Client *http.Client
}

func NewOpenAIProvider(client *http.Client) *OpenAIProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIProvider{Client: client}
}

func (p *OpenAIProvider) ID() string { return ProviderOpenAI }

func (p *OpenAIProvider) ValidateConfig(cfg ProviderConfig) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &ConfigurationError{Provider: ProviderOpenAI, Reason: "api key is required"}
	}
	return nil
}

func (p *OpenAIProvider) PrepareMessages(msgs []Message, instruction string) ([]Message, string) {
	return prependSystem(msgs, instruction), ""
}

// openAIChatReq is shared with the Azure adapter; Azure leaves Model empty
// because the deployment is addressed by URL.
type openAIChatReq struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
	Options
}

type openAIChatResp struct {
	Choices []struct {
		Message *struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (r *openAIChatResp) completion(provider string) (*Completion, error) {
	if len(r.Choices) == 0 || r.Choices[0].Message == nil || r.Choices[0].Message.Content == nil {
		return nil, &ResponseError{Provider: provider, Reason: "missing choices[0].message.content"}
	}
	out := &Completion{Message: Message{Role: RoleAssistant, Content: *r.Choices[0].Message.Content}}
	if r.Usage != nil {
		out.Usage = normalizeUsage(r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Usage.TotalTokens)
	}
	return out, nil
}

func (p *OpenAIProvider) FetchChatCompletion(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := strings.TrimSpace(req.Deployment)
	if model == "" {
		return nil, &ConfigurationError{Provider: ProviderOpenAI, Reason: "model is required"}
	}
	base := strings.TrimSpace(req.Config.Endpoint)
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(base, "/"))

	raw, err := postJSON(ctx, p.Client, ProviderOpenAI, url,
		map[string]string{"Authorization": "Bearer " + req.Config.APIKey},
		openAIChatReq{Model: model, Messages: req.Messages, Options: req.Options},
	)
	if err != nil {
		return nil, err
	}

	var decoded openAIChatResp
	if err := decodeJSON(ProviderOpenAI, raw, &decoded); err != nil {
		return nil, err
	}
	return decoded.completion(ProviderOpenAI)
}
