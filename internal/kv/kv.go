// Package kv is the durable key/value store every other component persists
// through. Values are opaque JSON documents addressed by a key name.
package kv

import (
	"context"
	"encoding/json"
	"log"
)

// Persisted key names.
const (
	KeyChats                 = "chats"
	KeyCurrentChatID         = "currentChatId"
	KeyLanguage              = "language"
	KeyProvider              = "provider"
	KeyProviderConfigs       = "providerConfigs"
	KeySelectedModelKey      = "selectedModelKey"
	KeySelectedInstructionID = "selectedInstructionId"
	KeyTitleDeployment       = "titleDeployment"
	KeyCustomInstructions    = "customInstructions"
	KeyCustomModels          = "customModels"
	KeyTheme                 = "theme"
	KeyTutorialState         = "tutorialState"
)

type Store interface {
	// Get returns ok=false when the key has never been written.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Claimer is implemented by stores that can write a key only when it is
// absent, atomically across every process sharing the backend.
type Claimer interface {
	SetNX(ctx context.Context, key string, value []byte) (claimed bool, err error)
}

// GetJSON decodes the value stored under key into v. A missing key and a
// value that does not decode both report ok=false; only backend failures
// are returned as errors.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Printf("[KV] ignoring malformed value key=%s err=%v", key, err)
		return false, nil
	}
	return true, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, b)
}

// GetString reads a plain JSON string value.
func GetString(ctx context.Context, s Store, key string) (string, bool, error) {
	var out string
	ok, err := GetJSON(ctx, s, key, &out)
	return out, ok, err
}
