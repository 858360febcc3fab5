package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/llm"
)

const maxTitleRunes = 80

const titlePrompt = "Write a short title of at most six words for a conversation that starts with the message below. " +
	"Reply with the title only.\n\nMessage:\n%s"

// startTitle names the chat in the background. The chat leaves the "new"
// state whether or not a title was produced.
func (s *Service) startTitle(ctx context.Context, chatID, firstMessage, chatModelKey string) {
	s.titles.Add(1)
	go func() {
		defer s.titles.Done()
		title, err := s.generateTitle(ctx, firstMessage, chatModelKey)
		if err != nil {
			log.Printf("[Title] chat=%s falling back to placeholder: %v", chatID, err)
		}
		if err := s.store.finishTitle(ctx, chatID, title); err != nil {
			log.Printf("[Title] chat=%s store title: %v", chatID, err)
		}
	}()
}

// titleTarget prefers the configured title model, then the weak model,
// then the chat's model, then the default.
func (s *Service) titleTarget(chatModelKey string) (llm.Target, error) {
	cat := s.llm.Catalog()
	candidates := []string{s.settings.TitleModelKey()}
	if weak, ok := cat.Weak(); ok {
		candidates = append(candidates, weak.Key)
	}
	candidates = append(candidates, chatModelKey, cat.Default().Key)

	var lastErr error
	for _, key := range candidates {
		if key == "" {
			continue
		}
		t, err := s.llm.Target(key)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return llm.Target{}, lastErr
}

func (s *Service) generateTitle(ctx context.Context, firstMessage, chatModelKey string) (string, error) {
	t, err := s.titleTarget(chatModelKey)
	if err != nil {
		return "", err
	}
	msgs := []ai.Message{{Role: ai.RoleUser, Content: fmt.Sprintf(titlePrompt, firstMessage)}}
	c, err := s.llm.Complete(ctx, t, msgs, "")
	if err != nil {
		return "", err
	}
	return cleanTitle(c.Message.Content), nil
}

func cleanTitle(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "Title:")
	s = strings.Trim(strings.TrimSpace(s), "\"'“”*#")
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	if utf8.RuneCountInString(s) > maxTitleRunes {
		s = string([]rune(s)[:maxTitleRunes])
	}
	return strings.TrimSpace(s)
}
