package ai

import (
	"context"
	"net/http"
	"strings"
)

const (
	ProviderAnthropic       = "anthropic"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultAnthropicMax     = 4096
)

type AnthropicProvider struct {
	BaseProvider
	Client *http.Client
}

func NewAnthropicProvider(client *http.Client) *AnthropicProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &AnthropicProvider{Client: client}
}

func (p *AnthropicProvider) ID() string { return ProviderAnthropic }

func (p *AnthropicProvider) ValidateConfig(cfg ProviderConfig) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &ConfigurationError{Provider: ProviderAnthropic, Reason: "api key is required"}
	}
	return nil
}

// PrepareMessages never inlines the instruction: it is returned as the
// out-of-band system value and any system entries are dropped.
func (p *AnthropicProvider) PrepareMessages(msgs []Message, instruction string) ([]Message, string) {
	return stripSystem(msgs), instruction
}

func stripSystem(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

// usesMessagesAPI reports whether model belongs to the Claude messages
// family. Claude 1, Claude 2 and Claude Instant only speak /v1/complete.
func usesMessagesAPI(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if !strings.HasPrefix(m, "claude-") {
		return false
	}
	for _, legacy := range []string{"claude-1", "claude-2", "claude-instant"} {
		if strings.HasPrefix(m, legacy) {
			return false
		}
	}
	return true
}

type anthropicMessagesReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type anthropicMessagesResp struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicCompleteReq struct {
	Prompt            string   `json:"prompt"`
	Model             string   `json:"model"`
	MaxTokensToSample int      `json:"max_tokens_to_sample"`
	Temperature       *float64 `json:"temperature,omitempty"`
}

type anthropicCompleteResp struct {
	Completion *string `json:"completion"`
}

func (p *AnthropicProvider) FetchChatCompletion(ctx context.Context, req CompletionRequest) (*Completion, error) {
	base := strings.TrimRight(strings.TrimSpace(req.Config.Endpoint), "/")
	if base == "" {
		base = defaultAnthropicBaseURL
	}
	headers := map[string]string{
		"x-api-key":         req.Config.APIKey,
		"anthropic-version": anthropicVersion,
	}
	maxTokens := defaultAnthropicMax
	if req.Options.MaxTokens != nil && *req.Options.MaxTokens > 0 {
		maxTokens = *req.Options.MaxTokens
	}

	if !usesMessagesAPI(req.Deployment) {
		return p.complete(ctx, base, headers, req, maxTokens)
	}

	body := anthropicMessagesReq{
		Model:       req.Deployment,
		Messages:    stripSystem(req.Messages),
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Options.Temperature,
	}
	raw, err := postJSON(ctx, p.Client, ProviderAnthropic, base+"/v1/messages", headers, body)
	if err != nil {
		return nil, err
	}

	var decoded anthropicMessagesResp
	if err := decodeJSON(ProviderAnthropic, raw, &decoded); err != nil {
		return nil, err
	}
	if decoded.Content == nil {
		return nil, &ResponseError{Provider: ProviderAnthropic, Reason: "missing content"}
	}
	var b strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "" || block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	out := &Completion{Message: Message{Role: RoleAssistant, Content: strings.TrimSpace(b.String())}}
	if decoded.Usage != nil {
		out.Usage = normalizeUsage(decoded.Usage.InputTokens, decoded.Usage.OutputTokens, 0)
	}
	return out, nil
}

func (p *AnthropicProvider) complete(ctx context.Context, base string, headers map[string]string, req CompletionRequest, maxTokens int) (*Completion, error) {
	body := anthropicCompleteReq{
		Prompt:            legacyPrompt(req.System, req.Messages),
		Model:             req.Deployment,
		MaxTokensToSample: maxTokens,
		Temperature:       req.Options.Temperature,
	}
	raw, err := postJSON(ctx, p.Client, ProviderAnthropic, base+"/v1/complete", headers, body)
	if err != nil {
		return nil, err
	}

	var decoded anthropicCompleteResp
	if err := decodeJSON(ProviderAnthropic, raw, &decoded); err != nil {
		return nil, err
	}
	if decoded.Completion == nil {
		return nil, &ResponseError{Provider: ProviderAnthropic, Reason: "missing completion"}
	}
	return &Completion{Message: Message{Role: RoleAssistant, Content: strings.TrimSpace(*decoded.Completion)}}, nil
}

// legacyPrompt renders the Human/Assistant transcript the completion
// endpoint expects. The system text leads the transcript.
func legacyPrompt(system string, msgs []Message) string {
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			b.WriteString("\n\nHuman: ")
		case RoleAssistant:
			b.WriteString("\n\nAssistant: ")
		default:
			continue
		}
		b.WriteString(m.Content)
	}
	b.WriteString("\n\nAssistant:")
	return b.String()
}
