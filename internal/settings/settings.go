// Package settings is the configuration manager: it resolves the effective
// runtime configuration by layering stored user values over operator and
// compiled-in defaults, and persists every change.
package settings

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/kv"
)

type Defaults struct {
	Language      string
	Theme         string
	ModelKey      string
	InstructionID string
	// Providers holds operator-supplied credentials keyed by provider id.
	Providers map[string]ai.ProviderConfig
}

// storedProvider is the persisted shape of a user-entered provider config.
type storedProvider struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
}

// ProviderUpdate patches a provider config; nil fields are left unchanged.
type ProviderUpdate struct {
	Enabled  *bool   `json:"enabled"`
	Endpoint *string `json:"endpoint"`
	APIKey   *string `json:"apiKey"`
}

// ProviderStatus is the client-facing view of a provider config. It never
// carries the key itself.
type ProviderStatus struct {
	Enabled      bool   `json:"enabled"`
	Endpoint     string `json:"endpoint,omitempty"`
	HasAPIKey    bool   `json:"hasApiKey"`
	FromDefaults bool   `json:"fromDefaults"`
	UserProvided bool   `json:"userProvided"`
}

type Snapshot struct {
	Language              string                    `json:"language"`
	Theme                 string                    `json:"theme"`
	Provider              string                    `json:"provider"`
	SelectedModelKey      string                    `json:"selectedModelKey"`
	SelectedInstructionID string                    `json:"selectedInstructionId"`
	TitleModelKey         string                    `json:"titleDeployment,omitempty"`
	Providers             map[string]ProviderStatus `json:"providers"`
	TutorialState         json.RawMessage           `json:"tutorialState,omitempty"`
}

type Manager struct {
	mu       sync.RWMutex
	store    kv.Store
	sealer   *Sealer
	defaults Defaults

	language      string
	theme         string
	provider      string
	modelKey      string
	instructionID string
	titleModelKey string
	stored        map[string]storedProvider
	tutorial      json.RawMessage
}

func NewManager(store kv.Store, defaults Defaults, sealer *Sealer) *Manager {
	if defaults.Language == "" {
		defaults.Language = "en"
	}
	if defaults.Theme == "" {
		defaults.Theme = "light"
	}
	return &Manager{
		store:    store,
		sealer:   sealer,
		defaults: defaults,
		stored:   make(map[string]storedProvider),
	}
}

// Load reads every stored override. Missing or malformed values stay unset.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	strs := []struct {
		key string
		dst *string
	}{
		{kv.KeyLanguage, &m.language},
		{kv.KeyTheme, &m.theme},
		{kv.KeyProvider, &m.provider},
		{kv.KeySelectedModelKey, &m.modelKey},
		{kv.KeySelectedInstructionID, &m.instructionID},
		{kv.KeyTitleDeployment, &m.titleModelKey},
	}
	for _, s := range strs {
		v, _, err := kv.GetString(ctx, m.store, s.key)
		if err != nil {
			return err
		}
		*s.dst = v
	}

	stored := map[string]storedProvider{}
	if _, err := kv.GetJSON(ctx, m.store, kv.KeyProviderConfigs, &stored); err != nil {
		return err
	}
	m.stored = make(map[string]storedProvider, len(stored))
	for id, p := range stored {
		m.stored[normalizeID(id)] = p
	}

	var tutorial json.RawMessage
	if _, err := kv.GetJSON(ctx, m.store, kv.KeyTutorialState, &tutorial); err != nil {
		return err
	}
	m.tutorial = tutorial
	return nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func (m *Manager) Language() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return or(m.language, m.defaults.Language)
}

func (m *Manager) Theme() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return or(m.theme, m.defaults.Theme)
}

// SelectedModelKey is the last model the user worked with.
func (m *Manager) SelectedModelKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return or(m.modelKey, m.defaults.ModelKey)
}

func (m *Manager) SelectedInstructionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return or(m.instructionID, m.defaults.InstructionID)
}

// TitleModelKey is the model explicitly chosen for title generation, if any.
func (m *Manager) TitleModelKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.titleModelKey
}

// ProviderConfig returns the effective config for id: operator defaults
// overlaid by non-empty user values.
func (m *Manager) ProviderConfig(id string) ai.ProviderConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providerConfigLocked(normalizeID(id))
}

func (m *Manager) providerConfigLocked(id string) ai.ProviderConfig {
	out := ai.ProviderConfig{Enabled: true}
	if def, ok := m.defaults.Providers[id]; ok {
		out = def
		out.FromDefaults = true
	}
	user, ok := m.stored[id]
	if !ok {
		return out
	}
	if user.Enabled != nil {
		out.Enabled = *user.Enabled
		out.UserProvided = true
	}
	if user.Endpoint != "" {
		out.Endpoint = user.Endpoint
		out.UserProvided = true
	}
	if user.APIKey != "" {
		key, err := m.sealer.Open(user.APIKey)
		if err != nil {
			log.Printf("[Settings] stored api key for %s cannot be opened, ignoring", id)
		} else {
			out.APIKey = key
			out.UserProvided = true
		}
	}
	return out
}

func (m *Manager) SetProviderConfig(ctx context.Context, id string, upd ProviderUpdate) (ProviderStatus, error) {
	id = normalizeID(id)
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.stored[id]
	if upd.Enabled != nil {
		v := *upd.Enabled
		p.Enabled = &v
	}
	if upd.Endpoint != nil {
		p.Endpoint = strings.TrimSpace(*upd.Endpoint)
	}
	if upd.APIKey != nil {
		sealed, err := m.sealer.Seal(strings.TrimSpace(*upd.APIKey))
		if err != nil {
			return ProviderStatus{}, err
		}
		p.APIKey = sealed
	}

	next := make(map[string]storedProvider, len(m.stored)+1)
	for k, v := range m.stored {
		next[k] = v
	}
	next[id] = p
	if err := kv.SetJSON(ctx, m.store, kv.KeyProviderConfigs, next); err != nil {
		return ProviderStatus{}, err
	}
	m.stored = next
	return statusOf(m.providerConfigLocked(id)), nil
}

func statusOf(c ai.ProviderConfig) ProviderStatus {
	return ProviderStatus{
		Enabled:      c.Enabled,
		Endpoint:     c.Endpoint,
		HasAPIKey:    c.APIKey != "",
		FromDefaults: c.FromDefaults,
		UserProvided: c.UserProvided,
	}
}

func (m *Manager) setString(ctx context.Context, key, value string, dst *string) error {
	if err := kv.SetJSON(ctx, m.store, key, value); err != nil {
		return err
	}
	*dst = value
	return nil
}

// SetSelectedModel remembers the model and the provider it belongs to.
func (m *Manager) SetSelectedModel(ctx context.Context, modelKey, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setString(ctx, kv.KeySelectedModelKey, modelKey, &m.modelKey); err != nil {
		return err
	}
	return m.setString(ctx, kv.KeyProvider, normalizeID(providerID), &m.provider)
}

func (m *Manager) SetSelectedInstruction(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setString(ctx, kv.KeySelectedInstructionID, id, &m.instructionID)
}

func (m *Manager) SetLanguage(ctx context.Context, lang string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setString(ctx, kv.KeyLanguage, strings.TrimSpace(lang), &m.language)
}

func (m *Manager) SetTheme(ctx context.Context, theme string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setString(ctx, kv.KeyTheme, strings.TrimSpace(theme), &m.theme)
}

// SetTitleModel pins the model used for title generation; "" clears it.
func (m *Manager) SetTitleModel(ctx context.Context, modelKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setString(ctx, kv.KeyTitleDeployment, modelKey, &m.titleModelKey)
}

func (m *Manager) TutorialState() json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(json.RawMessage(nil), m.tutorial...)
}

func (m *Manager) SetTutorialState(ctx context.Context, state json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(ctx, kv.KeyTutorialState, state); err != nil {
		return err
	}
	m.tutorial = append(json.RawMessage(nil), state...)
	return nil
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := map[string]struct{}{}
	for id := range m.defaults.Providers {
		ids[id] = struct{}{}
	}
	for id := range m.stored {
		ids[id] = struct{}{}
	}
	keys := make([]string, 0, len(ids))
	for id := range ids {
		keys = append(keys, id)
	}
	sort.Strings(keys)

	providers := make(map[string]ProviderStatus, len(keys))
	for _, id := range keys {
		providers[id] = statusOf(m.providerConfigLocked(id))
	}

	return Snapshot{
		Language:              or(m.language, m.defaults.Language),
		Theme:                 or(m.theme, m.defaults.Theme),
		Provider:              m.provider,
		SelectedModelKey:      or(m.modelKey, m.defaults.ModelKey),
		SelectedInstructionID: or(m.instructionID, m.defaults.InstructionID),
		TitleModelKey:         m.titleModelKey,
		Providers:             providers,
		TutorialState:         append(json.RawMessage(nil), m.tutorial...),
	}
}
