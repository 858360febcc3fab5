// Package instructions holds the system-prompt templates a chat can select:
// a fixed built-in set plus user-created custom ones.
package instructions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/suPer8Hu/gopherchat/internal/kv"
)

var (
	ErrInstructionNotFound = errors.New("instruction not found")
	ErrBuiltinReadOnly     = errors.New("built-in instructions cannot be changed")
	ErrInvalidInstruction  = errors.New("invalid instruction")
)

type Instruction struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Content string `json:"content"`
	Custom  bool   `json:"custom,omitempty"`
}

// Builtin returns the compiled-in instructions. The first entry is the
// fallback default.
func Builtin() []Instruction {
	return []Instruction{
		{
			ID:      "default",
			Label:   "Default assistant",
			Content: "You are a helpful assistant. Answer accurately and say so when you are unsure.",
		},
		{
			ID:      "concise",
			Label:   "Concise",
			Content: "You are a helpful assistant. Keep answers short and to the point; prefer lists over prose.",
		},
		{
			ID:    "document-analyst",
			Label: "Document analyst",
			Content: "You analyse the documents the user attaches. Base every answer on the provided documents, " +
				"quote the relevant passages, and state clearly when the documents do not contain the answer.",
		},
	}
}

type Library struct {
	mu      sync.RWMutex
	store   kv.Store
	builtin []Instruction
	custom  []Instruction
}

func NewLibrary(store kv.Store) *Library {
	return &Library{store: store, builtin: Builtin()}
}

// Load reads the persisted custom instructions.
func (l *Library) Load(ctx context.Context) error {
	var custom []Instruction
	if _, err := kv.GetJSON(ctx, l.store, kv.KeyCustomInstructions, &custom); err != nil {
		return err
	}
	for i := range custom {
		custom[i].Custom = true
	}
	l.mu.Lock()
	l.custom = custom
	l.mu.Unlock()
	return nil
}

func (l *Library) All() []Instruction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Instruction, 0, len(l.builtin)+len(l.custom))
	out = append(out, l.builtin...)
	return append(out, l.custom...)
}

func (l *Library) Get(id string) (Instruction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, in := range l.builtin {
		if in.ID == id {
			return in, nil
		}
	}
	for _, in := range l.custom {
		if in.ID == id {
			return in, nil
		}
	}
	return Instruction{}, fmt.Errorf("%w: %q", ErrInstructionNotFound, id)
}

// Resolve picks the chat's own selection, else the configured default,
// else the first built-in.
func (l *Library) Resolve(chatSelection, configDefault string) Instruction {
	for _, id := range []string{chatSelection, configDefault} {
		if id == "" {
			continue
		}
		if in, err := l.Get(id); err == nil {
			return in
		}
	}
	return l.builtin[0]
}

func (l *Library) isBuiltin(id string) bool {
	for _, in := range l.builtin {
		if in.ID == id {
			return true
		}
	}
	return false
}

func (l *Library) persist(ctx context.Context, custom []Instruction) error {
	if err := kv.SetJSON(ctx, l.store, kv.KeyCustomInstructions, custom); err != nil {
		return err
	}
	l.custom = custom
	return nil
}

func validate(label, content string) error {
	if strings.TrimSpace(label) == "" {
		return fmt.Errorf("%w: label is required", ErrInvalidInstruction)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidInstruction)
	}
	return nil
}

func (l *Library) Add(ctx context.Context, label, content string) (Instruction, error) {
	if err := validate(label, content); err != nil {
		return Instruction{}, err
	}
	in := Instruction{
		ID:      uuid.NewString(),
		Label:   strings.TrimSpace(label),
		Content: strings.TrimSpace(content),
		Custom:  true,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	next := append(append([]Instruction(nil), l.custom...), in)
	if err := l.persist(ctx, next); err != nil {
		return Instruction{}, err
	}
	return in, nil
}

func (l *Library) Update(ctx context.Context, id, label, content string) (Instruction, error) {
	if err := validate(label, content); err != nil {
		return Instruction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isBuiltin(id) {
		return Instruction{}, ErrBuiltinReadOnly
	}
	next := append([]Instruction(nil), l.custom...)
	for i := range next {
		if next[i].ID != id {
			continue
		}
		next[i].Label = strings.TrimSpace(label)
		next[i].Content = strings.TrimSpace(content)
		if err := l.persist(ctx, next); err != nil {
			return Instruction{}, err
		}
		return next[i], nil
	}
	return Instruction{}, fmt.Errorf("%w: %q", ErrInstructionNotFound, id)
}

func (l *Library) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isBuiltin(id) {
		return ErrBuiltinReadOnly
	}
	next := make([]Instruction, 0, len(l.custom))
	found := false
	for _, in := range l.custom {
		if in.ID == id {
			found = true
			continue
		}
		next = append(next, in)
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrInstructionNotFound, id)
	}
	return l.persist(ctx, next)
}
