// Package ai normalizes vendor chat-completion APIs behind one Provider
// capability. Adapters are selected at runtime by provider id through a
// Registry lookup table.
package ai

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the per-model sampling parameters. Nil fields are omitted
// from vendor requests.
type Options struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ProviderConfig holds the credentials of one provider. FromDefaults marks
// operator-supplied values, UserProvided marks values entered by the user.
type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	Endpoint     string `json:"endpoint,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	FromDefaults bool   `json:"fromDefaults,omitempty"`
	UserProvided bool   `json:"userProvided,omitempty"`
}

type CompletionRequest struct {
	Messages []Message
	// Deployment is the vendor model id (or Azure deployment name).
	Deployment string
	Options    Options
	// System carries the instruction for vendors that take it out-of-band.
	System string
	Config ProviderConfig
}

type Completion struct {
	Message Message
	Usage   Usage
}

// Provider is implemented once per vendor. FetchChatCompletion performs a
// single POST and never retries.
type Provider interface {
	ID() string
	ValidateConfig(cfg ProviderConfig) error
	PrepareMessages(msgs []Message, instruction string) (out []Message, system string)
	FetchChatCompletion(ctx context.Context, req CompletionRequest) (*Completion, error)
}

var ErrNotImplemented = errors.New("not implemented")

// BaseProvider supplies the defaults every adapter embeds and overrides.
type BaseProvider struct{}

func (BaseProvider) ValidateConfig(cfg ProviderConfig) error { return nil }

func (BaseProvider) PrepareMessages(msgs []Message, instruction string) ([]Message, string) {
	return msgs, ""
}

func (BaseProvider) FetchChatCompletion(ctx context.Context, req CompletionRequest) (*Completion, error) {
	return nil, ErrNotImplemented
}

// prependSystem is the inline strategy used by the OpenAI-compatible vendors.
func prependSystem(msgs []Message, instruction string) []Message {
	if instruction == "" {
		return msgs
	}
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, Message{Role: RoleSystem, Content: instruction})
	return append(out, msgs...)
}

func normalizeUsage(prompt, completion, total int) Usage {
	if total == 0 {
		total = prompt + completion
	}
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}
