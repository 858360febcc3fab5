package chat

import (
	"time"

	"github.com/suPer8Hu/gopherchat/internal/ai"
)

// PlaceholderName is the display name of a chat until a title is generated.
const PlaceholderName = "New chat"

type Chat struct {
	ID                    string    `json:"id"` // ULID
	Name                  string    `json:"name"`
	SelectedModelKey      string    `json:"selectedModelKey"`
	SelectedInstructionID string    `json:"selectedInstructionId"`
	LastUpdated           time.Time `json:"lastUpdated"`
	IsNewChat             bool      `json:"isNewChat"`
	Messages              []Message `json:"conversation"`
	// PendingFiles are attached but not yet sent; the next user message
	// takes ownership of them.
	PendingFiles []Attachment `json:"pendingFiles,omitempty"`
}

func (c *Chat) empty() bool { return c.IsNewChat && len(c.Messages) == 0 }

type Message struct {
	Role                string       `json:"role"`
	Content             string       `json:"content"`
	AttachedFiles       []Attachment `json:"attachedFiles,omitempty"`
	Model               string       `json:"model,omitempty"`
	InstructionLabel    string       `json:"instructionLabel,omitempty"`
	Usage               *ai.Usage    `json:"usage,omitempty"`
	IgnoredFilesSummary string       `json:"ignoredFilesSummary,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`

	// Pending marks the loading placeholder. It is never serialized.
	Pending bool `json:"-"`
}

type Attachment struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Content             string    `json:"content"`
	ClassificationLevel int       `json:"classificationLevel"`
	TokenCount          int       `json:"tokenCount"`
	Ignored             bool      `json:"ignored,omitempty"`
	Summaries           []Summary `json:"summaries,omitempty"`
	SelectedSummaryIDs  []string  `json:"selectedSummaryIds,omitempty"`
	UseFullDocument     bool      `json:"useFullDocument"`
}

// syncMode derives UseFullDocument so at most one of ignored, full text
// and selected summaries holds at a time.
func (a *Attachment) syncMode() {
	a.UseFullDocument = !a.Ignored && len(a.SelectedSummaryIDs) == 0
}

// Level never reports an unset classification.
func (a *Attachment) Level() int {
	if a.ClassificationLevel < MinLevel {
		return MinLevel
	}
	return a.ClassificationLevel
}

func (a *Attachment) summary(id string) (*Summary, bool) {
	for i := range a.Summaries {
		if a.Summaries[i].ID == id {
			return &a.Summaries[i], true
		}
	}
	return nil, false
}

// selectedSummaries returns the selected summaries in selection order.
func (a *Attachment) selectedSummaries() []Summary {
	out := make([]Summary, 0, len(a.SelectedSummaryIDs))
	for _, id := range a.SelectedSummaryIDs {
		if s, ok := a.summary(id); ok {
			out = append(out, *s)
		}
	}
	return out
}

type Summary struct {
	ID           string    `json:"id"` // uuid
	Name         string    `json:"name"`
	Content      string    `json:"content"`
	Instructions string    `json:"instructions,omitempty"`
	ModelKey     string    `json:"model"`
	TokenCount   int       `json:"tokenCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ChatInfo is one row of the chat list.
type ChatInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LastUpdated  time.Time `json:"lastUpdated"`
	IsNewChat    bool      `json:"isNewChat"`
	MessageCount int       `json:"messageCount"`
}

type State struct {
	Chats         []ChatInfo     `json:"chats"`
	CurrentChatID string         `json:"currentChatId"`
	Current       Chat           `json:"currentChat"`
	Clearance     ClearanceState `json:"clearance"`
	// Sending is true while a reply for the current chat is outstanding.
	Sending bool `json:"sending"`
}

func cloneAttachments(in []Attachment) []Attachment {
	if in == nil {
		return nil
	}
	out := make([]Attachment, len(in))
	for i, a := range in {
		a.Summaries = append([]Summary(nil), a.Summaries...)
		a.SelectedSummaryIDs = append([]string(nil), a.SelectedSummaryIDs...)
		out[i] = a
	}
	return out
}

func (c *Chat) clone() Chat {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		if m.Usage != nil {
			u := *m.Usage
			m.Usage = &u
		}
		m.AttachedFiles = cloneAttachments(m.AttachedFiles)
		out.Messages[i] = m
	}
	out.PendingFiles = cloneAttachments(c.PendingFiles)
	return out
}

// persisted drops the loading placeholder so it never reaches storage.
func (c *Chat) persisted() Chat {
	out := c.clone()
	kept := out.Messages[:0]
	for _, m := range out.Messages {
		if !m.Pending {
			kept = append(kept, m)
		}
	}
	out.Messages = kept
	return out
}
