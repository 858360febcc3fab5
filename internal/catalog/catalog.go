// Package catalog is the model registry: built-in model definitions merged
// with operator (TOML file) and user (stored customModels) overrides.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/kv"
)

// DefaultClearance applies to any model or document without an explicit
// classification value.
const DefaultClearance = 1

var ErrModelNotFound = errors.New("model not found")

type Model struct {
	Key                       string   `json:"key" toml:"key"`
	Label                     string   `json:"label" toml:"label"`
	Provider                  string   `json:"provider" toml:"provider"`
	Deployment                string   `json:"deployment" toml:"deployment"`
	ContextLength             int      `json:"contextLength" toml:"context_length"`
	MaxOutputTokens           int      `json:"maxOutputTokens" toml:"max_output_tokens"`
	Temperature               *float64 `json:"temperature,omitempty" toml:"temperature,omitempty"`
	TopP                      *float64 `json:"topP,omitempty" toml:"top_p,omitempty"`
	FrequencyPenalty          *float64 `json:"frequencyPenalty,omitempty" toml:"frequency_penalty,omitempty"`
	PresencePenalty           *float64 `json:"presencePenalty,omitempty" toml:"presence_penalty,omitempty"`
	SupportsSystemInstruction bool     `json:"supportsSystemInstruction" toml:"supports_system_instruction"`
	ClassificationClearance   int      `json:"classificationClearance,omitempty" toml:"classification_clearance,omitempty"`
	Weak                      bool     `json:"weak,omitempty" toml:"weak,omitempty"`
}

// Clearance never reports an unset value.
func (m Model) Clearance() int {
	if m.ClassificationClearance < DefaultClearance {
		return DefaultClearance
	}
	return m.ClassificationClearance
}

func (m Model) Options() ai.Options {
	o := ai.Options{
		Temperature:      m.Temperature,
		TopP:             m.TopP,
		FrequencyPenalty: m.FrequencyPenalty,
		PresencePenalty:  m.PresencePenalty,
	}
	if m.MaxOutputTokens > 0 {
		n := m.MaxOutputTokens
		o.MaxTokens = &n
	}
	return o
}

func (m Model) validate() error {
	if strings.TrimSpace(m.Key) == "" {
		return errors.New("model key is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return fmt.Errorf("model %q: provider is required", m.Key)
	}
	if strings.TrimSpace(m.Deployment) == "" {
		return fmt.Errorf("model %q: deployment is required", m.Key)
	}
	return nil
}

// Catalog is immutable once built.
type Catalog struct {
	models     []Model
	index      map[string]int
	defaultKey string
}

// New merges overrides onto base in order. An override whose key already
// exists replaces that definition in place; new keys are appended.
func New(base []Model, defaultKey string, overrides ...[]Model) *Catalog {
	c := &Catalog{index: make(map[string]int)}
	add := func(m Model) {
		if err := m.validate(); err != nil {
			log.Printf("[Catalog] skipping model: %v", err)
			return
		}
		if m.Label == "" {
			m.Label = m.Key
		}
		if i, ok := c.index[m.Key]; ok {
			c.models[i] = m
			return
		}
		c.index[m.Key] = len(c.models)
		c.models = append(c.models, m)
	}
	for _, m := range base {
		add(m)
	}
	for _, set := range overrides {
		for _, m := range set {
			add(m)
		}
	}
	if _, ok := c.index[defaultKey]; ok {
		c.defaultKey = defaultKey
	} else if len(c.models) > 0 {
		c.defaultKey = c.models[0].Key
	}
	return c
}

// All returns the models in catalog order.
func (c *Catalog) All() []Model {
	return append([]Model(nil), c.models...)
}

func (c *Catalog) Get(key string) (Model, error) {
	i, ok := c.index[key]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrModelNotFound, key)
	}
	return c.models[i], nil
}

func (c *Catalog) Has(key string) bool {
	_, ok := c.index[key]
	return ok
}

func (c *Catalog) Default() Model {
	m, _ := c.Get(c.defaultKey)
	return m
}

// Resolve looks key up and falls back to the default model on a miss.
func (c *Catalog) Resolve(key string) Model {
	if m, err := c.Get(key); err == nil {
		return m
	}
	return c.Default()
}

// Weak returns the first model flagged as cheap, for auxiliary tasks.
func (c *Catalog) Weak() (Model, bool) {
	for _, m := range c.models {
		if m.Weak {
			return m, true
		}
	}
	return Model{}, false
}

type tomlFile struct {
	Models []Model `toml:"models"`
}

// LoadFile reads [[models]] tables from a TOML file. A missing path is not
// an error.
func LoadFile(path string) ([]Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var f tomlFile
	if err := toml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f.Models, nil
}

// LoadStored reads the user's customModels value.
func LoadStored(ctx context.Context, store kv.Store) ([]Model, error) {
	var models []Model
	if _, err := kv.GetJSON(ctx, store, kv.KeyCustomModels, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// Load builds the session catalog: built-ins, then the TOML file, then the
// stored custom models.
func Load(ctx context.Context, store kv.Store, path, defaultKey string) (*Catalog, error) {
	fromFile, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	stored, err := LoadStored(ctx, store)
	if err != nil {
		return nil, err
	}
	c := New(Builtin(), defaultKey, fromFile, stored)
	log.Printf("[Catalog] loaded models=%d file=%d custom=%d default=%s",
		len(c.models), len(fromFile), len(stored), c.defaultKey)
	return c, nil
}
