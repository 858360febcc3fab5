package chat

import (
	"unicode/utf8"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/catalog"
)

const charsPerToken = 4

// EstimateTokens approximates the token count of s at four characters per
// token. It is the only token accounting used for attachments, summaries
// and history truncation.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// perMessageOverhead covers role markers and separators.
const perMessageOverhead = 4

func estimateMessages(msgs []ai.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content) + perMessageOverhead
	}
	return total
}

// truncateHistory drops the oldest messages until the conversation plus
// instruction fits the model's input budget. The newest message is always
// kept, even when it alone exceeds the budget.
func truncateHistory(msgs []ai.Message, instruction string, m catalog.Model) []ai.Message {
	if m.ContextLength <= 0 || len(msgs) == 0 {
		return msgs
	}
	budget := m.ContextLength - m.MaxOutputTokens - EstimateTokens(instruction)
	start := 0
	for start < len(msgs)-1 && estimateMessages(msgs[start:]) > budget {
		start++
	}
	// a truncated history should still open with a user turn
	for start > 0 && start < len(msgs)-1 && msgs[start].Role != ai.RoleUser {
		start++
	}
	return msgs[start:]
}
