package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/catalog"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/instructions"
	"github.com/suPer8Hu/gopherchat/internal/kv"
)

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrLastChat           = errors.New("the only chat cannot be deleted")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrSummaryNotFound    = errors.New("summary not found")
	ErrInvalidLevel       = errors.New("classification level must be between 1 and 5")
	ErrModelChanged       = errors.New("the chat's model changed while the message was being sent")
)

// Selection is the remembered model and instruction choice of the
// configuration manager.
type Selection interface {
	SelectedModelKey() string
	SelectedInstructionID() string
	SetSelectedModel(ctx context.Context, modelKey, providerID string) error
	SetSelectedInstruction(ctx context.Context, id string) error
}

// Store owns the chat list and the active-chat pointer. Every mutation is
// persisted before it returns.
type Store struct {
	mu           sync.Mutex
	repo         *repo
	catalog      *catalog.Catalog
	instructions *instructions.Library
	selection    Selection

	chats     []*Chat
	currentID string
	now       func() time.Time
}

func NewStore(store kv.Store, cat *catalog.Catalog, lib *instructions.Library, sel Selection) *Store {
	return &Store{
		repo:         newRepo(store),
		catalog:      cat,
		instructions: lib,
		selection:    sel,
		now:          time.Now,
	}
}

// Init loads the persisted chats and picks the active one: an existing
// empty chat, else the previously active chat, else the first chat. A chat
// is created only when none can be found.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, currentID, err := s.repo.load(ctx)
	if err != nil {
		return err
	}
	for _, c := range chats {
		if strings.TrimSpace(c.Name) == "" {
			c.Name = PlaceholderName
		}
		if !s.catalog.Has(c.SelectedModelKey) {
			c.SelectedModelKey = s.catalog.Resolve(c.SelectedModelKey).Key
		}
		if _, err := s.instructions.Get(c.SelectedInstructionID); err != nil {
			c.SelectedInstructionID = s.instructions.Resolve("", s.selection.SelectedInstructionID()).ID
		}
	}
	s.chats = chats

	active := s.mostRecentEmptyLocked()
	if active == nil {
		active = s.findLocked(currentID)
	}
	if active == nil && len(s.chats) > 0 {
		active = s.chats[0]
	}
	if active == nil {
		if active, err = s.newChatLocked(); err != nil {
			return err
		}
		s.chats = append(s.chats, active)
	}
	s.currentID = active.ID

	if err := s.repo.save(ctx, s.chats, s.currentID); err != nil {
		return err
	}
	_, err = s.recomputeLocked(ctx, active)
	return err
}

func (s *Store) findLocked(id string) *Chat {
	if id == "" {
		return nil
	}
	for _, c := range s.chats {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Store) getLocked(id string) (*Chat, error) {
	if c := s.findLocked(id); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrChatNotFound, id)
}

func (s *Store) mostRecentEmptyLocked() *Chat {
	var best *Chat
	for _, c := range s.chats {
		if c.empty() && (best == nil || c.LastUpdated.After(best.LastUpdated)) {
			best = c
		}
	}
	return best
}

func (s *Store) newChatLocked() (*Chat, error) {
	id, err := common.NewULIDAt(s.now())
	if err != nil {
		return nil, err
	}
	return &Chat{
		ID:                    id,
		Name:                  PlaceholderName,
		SelectedModelKey:      s.catalog.Resolve(s.selection.SelectedModelKey()).Key,
		SelectedInstructionID: s.instructions.Resolve("", s.selection.SelectedInstructionID()).ID,
		LastUpdated:           s.now(),
		IsNewChat:             true,
		Messages:              []Message{},
	}, nil
}

// CreateNewChat reuses the most recent empty chat when there is one,
// bumping its lastUpdated, instead of adding another blank chat.
func (s *Store) CreateNewChat(ctx context.Context) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.mostRecentEmptyLocked()
	if c != nil {
		c.LastUpdated = s.now()
	} else {
		var err error
		if c, err = s.newChatLocked(); err != nil {
			return Chat{}, err
		}
		s.chats = append(s.chats, c)
	}
	s.currentID = c.ID
	if err := s.repo.save(ctx, s.chats, s.currentID); err != nil {
		return Chat{}, err
	}
	return c.persisted(), nil
}

// LoadChat makes id the active chat and re-runs the clearance gate.
func (s *Store) LoadChat(ctx context.Context, id string) (Chat, ClearanceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(id)
	if err != nil {
		return Chat{}, ClearanceState{}, err
	}
	st, err := s.activateLocked(ctx, c)
	if err != nil {
		return Chat{}, ClearanceState{}, err
	}
	return c.persisted(), st, nil
}

func (s *Store) activateLocked(ctx context.Context, c *Chat) (ClearanceState, error) {
	s.currentID = c.ID
	if err := s.repo.saveCurrent(ctx, c.ID); err != nil {
		return ClearanceState{}, err
	}
	st, err := s.recomputeLocked(ctx, c)
	if err != nil {
		return st, err
	}
	if err := s.rememberLocked(ctx, c); err != nil {
		return st, err
	}
	return st, nil
}

// rememberLocked stores c's model and instruction as the last-used ones.
func (s *Store) rememberLocked(ctx context.Context, c *Chat) error {
	m := s.catalog.Resolve(c.SelectedModelKey)
	if err := s.selection.SetSelectedModel(ctx, m.Key, m.Provider); err != nil {
		return err
	}
	return s.selection.SetSelectedInstruction(ctx, c.SelectedInstructionID)
}

// DeleteChat refuses with ErrLastChat when id is the only chat. Deleting
// the active chat activates the first remaining one in display order.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, c := range s.chats {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrChatNotFound, id)
	}
	if len(s.chats) == 1 {
		return ErrLastChat
	}

	s.chats = append(s.chats[:idx], s.chats[idx+1:]...)
	if err := s.repo.saveChats(ctx, s.chats); err != nil {
		return err
	}
	if s.currentID != id {
		return nil
	}
	_, err := s.activateLocked(ctx, displayOrder(s.chats)[0])
	return err
}

func (s *Store) UpdateChatTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(id)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = PlaceholderName
	}
	c.Name = title
	return s.repo.saveChats(ctx, s.chats)
}

// displayOrder puts empty new chats first, then the rest by lastUpdated,
// newest first.
func displayOrder(chats []*Chat) []*Chat {
	out := append([]*Chat(nil), chats...)
	sort.SliceStable(out, func(i, j int) bool {
		ei, ej := out[i].empty(), out[j].empty()
		if ei != ej {
			return ei
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out
}

// State recomputes the display ordering on every call.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := displayOrder(s.chats)
	st := State{
		Chats:         make([]ChatInfo, 0, len(ordered)),
		CurrentChatID: s.currentID,
	}
	for _, c := range ordered {
		st.Chats = append(st.Chats, ChatInfo{
			ID:           c.ID,
			Name:         c.Name,
			LastUpdated:  c.LastUpdated,
			IsNewChat:    c.IsNewChat,
			MessageCount: len(c.persisted().Messages),
		})
	}
	if c := s.findLocked(s.currentID); c != nil {
		st.Current = c.persisted()
		st.Clearance, _ = evaluateClearance(c, s.catalog)
		st.Sending = hasPlaceholder(c)
	}
	return st
}

func (s *Store) CurrentChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Chat returns a copy of the chat without any loading placeholder.
func (s *Store) Chat(id string) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.getLocked(id)
	if err != nil {
		return Chat{}, err
	}
	return c.persisted(), nil
}

// RecomputeClearance re-runs the gate for the chat, reassigning a blocked
// model selection to the first usable model.
func (s *Store) RecomputeClearance(ctx context.Context, id string) (ClearanceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.getLocked(id)
	if err != nil {
		return ClearanceState{}, err
	}
	return s.recomputeLocked(ctx, c)
}

func (s *Store) recomputeLocked(ctx context.Context, c *Chat) (ClearanceState, error) {
	st, next := evaluateClearance(c, s.catalog)
	if next == "" || next == c.SelectedModelKey {
		return st, nil
	}
	log.Printf("[Clearance] chat=%s level=%d model %s -> %s", c.ID, st.Required, c.SelectedModelKey, next)
	c.SelectedModelKey = next
	if err := s.repo.saveChats(ctx, s.chats); err != nil {
		return st, err
	}
	if c.ID == s.currentID {
		m := s.catalog.Resolve(next)
		if err := s.selection.SetSelectedModel(ctx, m.Key, m.Provider); err != nil {
			return st, err
		}
	}
	return st, nil
}

// SetChatModel changes the chat's model. A model below the chat's
// required clearance is refused with *ClearanceError.
func (s *Store) SetChatModel(ctx context.Context, id, modelKey string) (ClearanceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(id)
	if err != nil {
		return ClearanceState{}, err
	}
	m, err := s.catalog.Get(modelKey)
	if err != nil {
		return ClearanceState{}, err
	}
	if required := RequiredClearance(c); m.Clearance() < required {
		return ClearanceState{}, &ClearanceError{Required: required, ModelKey: m.Key, Clearance: m.Clearance()}
	}
	c.SelectedModelKey = m.Key
	if err := s.repo.saveChats(ctx, s.chats); err != nil {
		return ClearanceState{}, err
	}
	if c.ID == s.currentID {
		if err := s.selection.SetSelectedModel(ctx, m.Key, m.Provider); err != nil {
			return ClearanceState{}, err
		}
	}
	st, _ := evaluateClearance(c, s.catalog)
	return st, nil
}

func (s *Store) SetChatInstruction(ctx context.Context, id, instructionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(id)
	if err != nil {
		return err
	}
	in, err := s.instructions.Get(instructionID)
	if err != nil {
		return err
	}
	c.SelectedInstructionID = in.ID
	if err := s.repo.saveChats(ctx, s.chats); err != nil {
		return err
	}
	if c.ID == s.currentID {
		return s.selection.SetSelectedInstruction(ctx, in.ID)
	}
	return nil
}

// findAttachment looks in the pending files first, then in sent messages.
func findAttachment(c *Chat, attachmentID string) (*Attachment, error) {
	for i := range c.PendingFiles {
		if c.PendingFiles[i].ID == attachmentID {
			return &c.PendingFiles[i], nil
		}
	}
	for i := range c.Messages {
		files := c.Messages[i].AttachedFiles
		for j := range files {
			if files[j].ID == attachmentID {
				return &files[j], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrAttachmentNotFound, attachmentID)
}

// Attachment returns a copy of one document of the chat.
func (s *Store) Attachment(chatID, attachmentID string) (Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.getLocked(chatID)
	if err != nil {
		return Attachment{}, err
	}
	a, err := findAttachment(c, attachmentID)
	if err != nil {
		return Attachment{}, err
	}
	return cloneAttachments([]Attachment{*a})[0], nil
}

// AttachDocument adds a pending document and re-runs the clearance gate.
func (s *Store) AttachDocument(ctx context.Context, chatID, name, content string, level int) (Attachment, ClearanceState, error) {
	if level < MinLevel || level > MaxLevel {
		return Attachment{}, ClearanceState{}, fmt.Errorf("%w: got %d", ErrInvalidLevel, level)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "document"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(chatID)
	if err != nil {
		return Attachment{}, ClearanceState{}, err
	}
	a := Attachment{
		ID:                  uuid.NewString(),
		Name:                name,
		Content:             content,
		ClassificationLevel: level,
		TokenCount:          EstimateTokens(content),
		UseFullDocument:     true,
	}
	c.PendingFiles = append(c.PendingFiles, a)
	if err := s.repo.saveChats(ctx, s.chats); err != nil {
		return Attachment{}, ClearanceState{}, err
	}
	st, err := s.recomputeLocked(ctx, c)
	return a, st, err
}

// RemovePendingDocument drops a document that has not been sent yet.
func (s *Store) RemovePendingDocument(ctx context.Context, chatID, attachmentID string) (ClearanceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(chatID)
	if err != nil {
		return ClearanceState{}, err
	}
	for i := range c.PendingFiles {
		if c.PendingFiles[i].ID != attachmentID {
			continue
		}
		c.PendingFiles = append(c.PendingFiles[:i], c.PendingFiles[i+1:]...)
		if err := s.repo.saveChats(ctx, s.chats); err != nil {
			return ClearanceState{}, err
		}
		return s.recomputeLocked(ctx, c)
	}
	return ClearanceState{}, fmt.Errorf("%w: %q", ErrAttachmentNotFound, attachmentID)
}

// SetIgnored excludes or re-includes a document. Its summaries and
// summary selection are kept for when it is included again; full-text mode
// is off while it is ignored.
func (s *Store) SetIgnored(ctx context.Context, chatID, attachmentID string, ignored bool) (Attachment, ClearanceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, a, err := s.attachmentLocked(chatID, attachmentID)
	if err != nil {
		return Attachment{}, ClearanceState{}, err
	}
	a.Ignored = ignored
	a.syncMode()
	out := cloneAttachments([]Attachment{*a})[0]
	if err := s.repo.saveChats(ctx, s.chats); err != nil {
		return Attachment{}, ClearanceState{}, err
	}
	st, err := s.recomputeLocked(ctx, c)
	return out, st, err
}

func (s *Store) attachmentLocked(chatID, attachmentID string) (*Chat, *Attachment, error) {
	c, err := s.getLocked(chatID)
	if err != nil {
		return nil, nil, err
	}
	a, err := findAttachment(c, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	return c, a, nil
}

// SelectSummary toggles one summary in or out of the document's selection.
// Selecting any summary turns full-document mode off; deselecting the
// last one turns it back on.
func (s *Store) SelectSummary(ctx context.Context, chatID, attachmentID, summaryID string, selected bool) (Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, a, err := s.attachmentLocked(chatID, attachmentID)
	if err != nil {
		return Attachment{}, err
	}
	if _, ok := a.summary(summaryID); !ok {
		return Attachment{}, fmt.Errorf("%w: %q", ErrSummaryNotFound, summaryID)
	}

	ids := make([]string, 0, len(a.SelectedSummaryIDs)+1)
	for _, id := range a.SelectedSummaryIDs {
		if id != summaryID {
			ids = append(ids, id)
		}
	}
	if selected {
		ids = append(ids, summaryID)
	}
	a.SelectedSummaryIDs = ids
	a.syncMode()

	out := cloneAttachments([]Attachment{*a})[0]
	return out, s.repo.saveChats(ctx, s.chats)
}

// UseFullDocument clears the summary selection so the full text is sent.
func (s *Store) UseFullDocument(ctx context.Context, chatID, attachmentID string) (Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, a, err := s.attachmentLocked(chatID, attachmentID)
	if err != nil {
		return Attachment{}, err
	}
	a.SelectedSummaryIDs = nil
	a.syncMode()
	out := cloneAttachments([]Attachment{*a})[0]
	return out, s.repo.saveChats(ctx, s.chats)
}

// AddSummary stores a generated summary on the document. It is not
// selected automatically.
func (s *Store) AddSummary(ctx context.Context, chatID, attachmentID string, sum Summary) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, a, err := s.attachmentLocked(chatID, attachmentID)
	if err != nil {
		return Summary{}, err
	}
	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = s.now()
	}
	sum.TokenCount = EstimateTokens(sum.Content)
	a.Summaries = append(a.Summaries, sum)
	return sum, s.repo.saveChats(ctx, s.chats)
}

// beginSend appends the user message, handing it the pending documents,
// and persists it before any provider call is made. The gate is checked
// again here, under the lock, against the documents that will actually be
// sent: one attached after the caller resolved model is refused, and so is
// a model the chat no longer has selected.
func (s *Store) beginSend(ctx context.Context, chatID, text string, model catalog.Model) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(chatID)
	if err != nil {
		return Chat{}, err
	}
	if required := RequiredClearance(c); model.Clearance() < required {
		return Chat{}, &ClearanceError{Required: required, ModelKey: model.Key, Clearance: model.Clearance()}
	}
	if current := s.catalog.Resolve(c.SelectedModelKey); current.Key != model.Key {
		return Chat{}, fmt.Errorf("%w: %s is now %s", ErrModelChanged, model.Key, current.Key)
	}
	msg := Message{
		Role:          ai.RoleUser,
		Content:       text,
		AttachedFiles: c.PendingFiles,
		CreatedAt:     s.now(),
	}
	msg.IgnoredFilesSummary = ignoredFilesSummary(msg.AttachedFiles)
	c.PendingFiles = nil
	c.Messages = append(c.Messages, msg)
	if err := s.repo.saveChats(ctx, s.chats); err != nil {
		return Chat{}, err
	}
	return c.persisted(), nil
}

func ignoredFilesSummary(files []Attachment) string {
	var names []string
	for _, f := range files {
		if f.Ignored {
			names = append(names, f.Name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "Ignored files: " + strings.Join(names, ", ")
}

// addPlaceholder shows the loading message. It lives only in memory.
func (s *Store) addPlaceholder(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.findLocked(chatID); c != nil {
		c.Messages = append(c.Messages, Message{Role: ai.RoleAssistant, Pending: true, CreatedAt: s.now()})
	}
}

func hasPlaceholder(c *Chat) bool {
	for i := range c.Messages {
		if c.Messages[i].Pending {
			return true
		}
	}
	return false
}

func (s *Store) dropPlaceholder(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.findLocked(chatID); c != nil {
		*c = c.persisted()
	}
}

// completeSend replaces the placeholder with the assistant reply and
// reports whether this was the chat's first exchange.
func (s *Store) completeSend(ctx context.Context, chatID string, reply Message) (firstExchange bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(chatID)
	if err != nil {
		return false, err
	}
	replaced := false
	for i := range c.Messages {
		if c.Messages[i].Pending {
			c.Messages[i] = reply
			replaced = true
			break
		}
	}
	if !replaced {
		c.Messages = append(c.Messages, reply)
	}
	c.LastUpdated = s.now()
	return c.IsNewChat, s.repo.saveChats(ctx, s.chats)
}

// finishTitle records the outcome of a title attempt. An empty title keeps
// the current name.
func (s *Store) finishTitle(ctx context.Context, chatID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(chatID)
	if err != nil {
		return err
	}
	if title != "" {
		c.Name = title
	}
	c.IsNewChat = false
	return s.repo.saveChats(ctx, s.chats)
}
