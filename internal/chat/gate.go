package chat

import (
	"fmt"

	"github.com/suPer8Hu/gopherchat/internal/catalog"
)

// Classification levels run from MinLevel (open) to MaxLevel.
const (
	MinLevel = 1
	MaxLevel = 5
)

// ClearanceError blocks a send or model choice when the model is not
// cleared for the chat's documents.
type ClearanceError struct {
	Required  int
	ModelKey  string
	Clearance int
}

func (e *ClearanceError) Error() string {
	if e.ModelKey == "" {
		return fmt.Sprintf("no model is cleared for classification level %d", e.Required)
	}
	return fmt.Sprintf("model %s (clearance %d) is not cleared for classification level %d",
		e.ModelKey, e.Clearance, e.Required)
}

type ClearanceState struct {
	Required         int      `json:"required"`
	SendingEnabled   bool     `json:"sendingEnabled"`
	SelectedModelKey string   `json:"selectedModelKey"`
	Reassigned       bool     `json:"reassigned,omitempty"`
	Usable           []string `json:"usable"`
	Blocked          []string `json:"blocked"`
	Warning          string   `json:"warning,omitempty"`
}

// RequiredClearance is the highest level among the chat's non-ignored
// documents, sent or pending, or MinLevel when there are none.
func RequiredClearance(c *Chat) int {
	required := MinLevel
	visit := func(files []Attachment) {
		for i := range files {
			if files[i].Ignored {
				continue
			}
			if lvl := files[i].Level(); lvl > required {
				required = lvl
			}
		}
	}
	for i := range c.Messages {
		visit(c.Messages[i].AttachedFiles)
	}
	visit(c.PendingFiles)
	return required
}

// FilterModels partitions models by whether their clearance covers
// required. Catalog order is preserved.
func FilterModels(models []catalog.Model, required int) (usable, blocked []catalog.Model) {
	for _, m := range models {
		if m.Clearance() >= required {
			usable = append(usable, m)
		} else {
			blocked = append(blocked, m)
		}
	}
	return usable, blocked
}

// evaluateClearance decides the gate state for c without mutating it.
// next is the model the chat must use, "" when none qualifies.
func evaluateClearance(c *Chat, cat *catalog.Catalog) (st ClearanceState, next string) {
	required := RequiredClearance(c)
	usable, blocked := FilterModels(cat.All(), required)
	st = ClearanceState{Required: required, Usable: keys(usable), Blocked: keys(blocked)}

	current := cat.Resolve(c.SelectedModelKey)
	switch {
	case current.Key != "" && current.Clearance() >= required:
		next = current.Key
	case len(usable) > 0:
		next = usable[0].Key
		st.Reassigned = true
	default:
		st.Warning = (&ClearanceError{Required: required}).Error()
	}
	st.SendingEnabled = next != ""
	st.SelectedModelKey = next
	if next == "" {
		st.SelectedModelKey = current.Key
	}
	return st, next
}

func keys(models []catalog.Model) []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		out = append(out, m.Key)
	}
	return out
}
