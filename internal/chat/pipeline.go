package chat

import (
	"context"
	"log"
	"strings"

	"github.com/suPer8Hu/gopherchat/internal/ai"
)

const attachmentDelimiter = "\n\n---\n\n"

// SendMessage runs one exchange on the chat (the active chat when chatID
// is empty). Empty input is a no-op and returns nil, nil.
//
// Configuration and clearance failures return before anything is stored.
// Once they pass, the user message is persisted unconditionally; a provider
// failure afterwards only removes the loading placeholder.
func (s *Service) SendMessage(ctx context.Context, chatID, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if chatID == "" {
		chatID = s.store.CurrentChatID()
	}
	if !s.acquire(chatID) {
		return nil, ErrSendInProgress
	}
	defer s.release(chatID)

	c, err := s.store.Chat(chatID)
	if err != nil {
		return nil, err
	}

	// resolve model, adapter and credentials
	model := s.llm.Catalog().Resolve(c.SelectedModelKey)
	target, err := s.llm.Target(model.Key)
	if err != nil {
		log.Printf("[SendMessage] chat=%s model=%s not usable: %v", chatID, model.Key, err)
		return nil, err
	}
	if required := RequiredClearance(&c); model.Clearance() < required {
		return nil, &ClearanceError{Required: required, ModelKey: model.Key, Clearance: model.Clearance()}
	}

	// store user message (strong consistency); the gate is re-checked on
	// the locked chat
	c, err = s.store.beginSend(ctx, chatID, text, model)
	if err != nil {
		return nil, err
	}

	convo := buildConversation(c.Messages)
	var instruction, instructionLabel string
	if model.SupportsSystemInstruction {
		in := s.instructions.Resolve(c.SelectedInstructionID, s.settings.SelectedInstructionID())
		instruction, instructionLabel = in.Content, in.Label
	}
	convo = truncateHistory(convo, instruction, model)

	s.store.addPlaceholder(chatID)

	// an accepted exchange always runs to success or failure
	callCtx := context.WithoutCancel(ctx)
	completion, err := s.llm.Complete(callCtx, target, convo, instruction)
	if err != nil {
		s.store.dropPlaceholder(chatID)
		log.Printf("[SendMessage] chat=%s model=%s provider call failed: %v", chatID, model.Key, err)
		return nil, err
	}

	usage := completion.Usage
	reply := Message{
		Role:             ai.RoleAssistant,
		Content:          completion.Message.Content,
		Model:            model.Key,
		InstructionLabel: instructionLabel,
		Usage:            &usage,
		CreatedAt:        s.store.now(),
	}
	first, err := s.store.completeSend(callCtx, chatID, reply)
	if err != nil {
		return nil, err
	}
	if first {
		s.startTitle(callCtx, chatID, text, model.Key)
	}
	return &reply, nil
}

// buildConversation converts stored messages into the provider sequence,
// inlining attached documents into the user turns that carry them.
func buildConversation(msgs []Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Pending {
			continue
		}
		content := m.Content
		if m.Role == ai.RoleUser && len(m.AttachedFiles) > 0 {
			content = mergeAttachments(m.AttachedFiles, m.Content)
		}
		out = append(out, ai.Message{Role: m.Role, Content: content})
	}
	return out
}

// mergeAttachments prefixes text with every non-ignored document, each
// headed by its file name. A document with selected summaries contributes
// those instead of its full text.
func mergeAttachments(files []Attachment, text string) string {
	parts := make([]string, 0, len(files)+1)
	for i := range files {
		a := &files[i]
		if a.Ignored {
			continue
		}
		parts = append(parts, "File: "+a.Name+"\n"+documentText(a))
	}
	if len(parts) == 0 {
		return text
	}
	parts = append(parts, text)
	return strings.Join(parts, attachmentDelimiter)
}

func documentText(a *Attachment) string {
	if a.UseFullDocument {
		return normalizeLineEndings(a.Content)
	}
	selected := a.selectedSummaries()
	if len(selected) == 0 {
		return normalizeLineEndings(a.Content)
	}
	var b strings.Builder
	for i, sum := range selected {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Summary (" + sum.Name + "):\n")
		b.WriteString(normalizeLineEndings(sum.Content))
	}
	return b.String()
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
