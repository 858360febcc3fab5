// Package llm binds a catalog model to its provider adapter and effective
// credentials, and performs one completion against it.
package llm

import (
	"context"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/catalog"
)

// ConfigSource supplies the effective provider configuration.
type ConfigSource interface {
	ProviderConfig(id string) ai.ProviderConfig
}

type Client struct {
	catalog  *catalog.Catalog
	registry *ai.Registry
	configs  ConfigSource
}

func NewClient(cat *catalog.Catalog, registry *ai.Registry, configs ConfigSource) *Client {
	return &Client{catalog: cat, registry: registry, configs: configs}
}

func (c *Client) Catalog() *catalog.Catalog { return c.catalog }

// Target is a model ready to be called: adapter found, config validated.
type Target struct {
	Model    catalog.Model
	Provider ai.Provider
	Config   ai.ProviderConfig
}

// Target resolves key without touching the network. It fails with
// catalog.ErrModelNotFound, *ai.UnsupportedProviderError or
// *ai.ConfigurationError.
func (c *Client) Target(key string) (Target, error) {
	m, err := c.catalog.Get(key)
	if err != nil {
		return Target{}, err
	}
	p, err := c.registry.Get(m.Provider)
	if err != nil {
		return Target{}, err
	}
	cfg := c.configs.ProviderConfig(m.Provider)
	if !cfg.Enabled {
		return Target{}, &ai.ConfigurationError{Provider: p.ID(), Reason: "provider is disabled"}
	}
	if err := p.ValidateConfig(cfg); err != nil {
		return Target{}, err
	}
	return Target{Model: m, Provider: p, Config: cfg}, nil
}

// Complete folds instruction in when the model accepts one and performs
// the request.
func (c *Client) Complete(ctx context.Context, t Target, msgs []ai.Message, instruction string) (*ai.Completion, error) {
	req := ai.CompletionRequest{
		Messages:   msgs,
		Deployment: t.Model.Deployment,
		Options:    t.Model.Options(),
		Config:     t.Config,
	}
	if instruction != "" && t.Model.SupportsSystemInstruction {
		req.Messages, req.System = t.Provider.PrepareMessages(msgs, instruction)
	}
	return t.Provider.FetchChatCompletion(ctx, req)
}
