package chat

import (
	"context"

	"github.com/suPer8Hu/gopherchat/internal/kv"
)

// repo reads and writes the chat list and active-chat pointer.
type repo struct {
	store kv.Store
}

func newRepo(store kv.Store) *repo {
	return &repo{store: store}
}

// load returns the persisted chats. Missing or malformed values yield an
// empty list.
func (r *repo) load(ctx context.Context) ([]*Chat, string, error) {
	var chats []*Chat
	if _, err := kv.GetJSON(ctx, r.store, kv.KeyChats, &chats); err != nil {
		return nil, "", err
	}
	currentID, _, err := kv.GetString(ctx, r.store, kv.KeyCurrentChatID)
	if err != nil {
		return nil, "", err
	}
	kept := chats[:0]
	for _, c := range chats {
		if c != nil && c.ID != "" {
			kept = append(kept, c)
		}
	}
	return kept, currentID, nil
}

func (r *repo) saveChats(ctx context.Context, chats []*Chat) error {
	out := make([]Chat, 0, len(chats))
	for _, c := range chats {
		out = append(out, c.persisted())
	}
	return kv.SetJSON(ctx, r.store, kv.KeyChats, out)
}

func (r *repo) saveCurrent(ctx context.Context, id string) error {
	return kv.SetJSON(ctx, r.store, kv.KeyCurrentChatID, id)
}

func (r *repo) save(ctx context.Context, chats []*Chat, currentID string) error {
	if err := r.saveChats(ctx, chats); err != nil {
		return err
	}
	return r.saveCurrent(ctx, currentID)
}
