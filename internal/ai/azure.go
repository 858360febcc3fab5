package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	ProviderAzure   = "azure"
	azureAPIVersion = "2024-12-01-preview"
)

type AzureProvider struct {
	BaseProvider
	Client *http.Client
}

func NewAzureProvider(client *http.Client) *AzureProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &AzureProvider{Client: client}
}

func (p *AzureProvider) ID() string { return ProviderAzure }

func (p *AzureProvider) ValidateConfig(cfg ProviderConfig) error {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return &ConfigurationError{Provider: ProviderAzure, Reason: "endpoint is required"}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &ConfigurationError{Provider: ProviderAzure, Reason: "api key is required"}
	}
	return nil
}

func (p *AzureProvider) PrepareMessages(msgs []Message, instruction string) ([]Message, string) {
	return prependSystem(msgs, instruction), ""
}

func (p *AzureProvider) FetchChatCompletion(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := p.ValidateConfig(req.Config); err != nil {
		return nil, err
	}
	deployment := strings.TrimSpace(req.Deployment)
	if deployment == "" {
		return nil, &ConfigurationError{Provider: ProviderAzure, Reason: "deployment is required"}
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(req.Config.Endpoint, "/"), url.PathEscape(deployment), azureAPIVersion)

	raw, err := postJSON(ctx, p.Client, ProviderAzure, endpoint,
		map[string]string{"api-key": req.Config.APIKey},
		openAIChatReq{Messages: req.Messages, Options: req.Options},
	)
	if err != nil {
		return nil, err
	}

	var decoded openAIChatResp
	if err := decodeJSON(ProviderAzure, raw, &decoded); err != nil {
		return nil, err
	}
	return decoded.completion(ProviderAzure)
}
