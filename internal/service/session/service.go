// Package session owns the conversation aggregate: the ordered message
// list with alternate-generation branches, and the memory-summary
// ledger that replaces compacted ranges. All mutation of a chat funnels
// through this service, serialized per chat.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mizulab/hearth/backend/internal/model/chat"
	"github.com/mizulab/hearth/backend/internal/store"
)

var (
	// ErrChatNotFound mirrors the store sentinel for callers that only
	// import this package.
	ErrChatNotFound = store.ErrChatNotFound
	// ErrMessageNotFound indicates a stale or desynced message id.
	ErrMessageNotFound = errors.New("message not found")
	// ErrBranchOutOfRange indicates a branch index beyond the branch list.
	ErrBranchOutOfRange = errors.New("branch index out of range")
)

// Service encapsulates conversation state management over the document
// store. A per-chat mutex serializes user-initiated edits against
// generation and compaction writes.
type Service struct {
	store store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wraps the given store.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockFor(chatID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	return l
}

// Mutate loads the chat, applies fn, and saves the result as one
// logical transaction under the chat's lock. If fn returns an error the
// aggregate is left untouched. Compaction and generation writes that
// must change messages and memories together go through here.
func (s *Service) Mutate(ctx context.Context, chatID string, fn func(*chat.Chat) error) error {
	l := s.lockFor(chatID)
	l.Lock()
	defer l.Unlock()

	c, err := s.store.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()
	return s.store.Save(ctx, c)
}

// CreateChat provisions a conversation bound to a character.
func (s *Service) CreateChat(ctx context.Context, characterID string, mode chat.Mode) (*chat.Chat, error) {
	if mode == "" {
		mode = chat.ModeDirect
	}
	now := time.Now().UTC()
	c := &chat.Chat{
		ID:          uuid.NewString(),
		CharacterID: characterID,
		Mode:        mode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetChat returns a copy of the aggregate.
func (s *Service) GetChat(ctx context.Context, chatID string) (*chat.Chat, error) {
	return s.store.Get(ctx, chatID)
}

// ListChats returns all chats, most recently updated first.
func (s *Service) ListChats(ctx context.Context) ([]chat.Chat, error) {
	return s.store.List(ctx)
}

// DeleteChat removes a conversation outright.
func (s *Service) DeleteChat(ctx context.Context, chatID string) error {
	l := s.lockFor(chatID)
	l.Lock()
	defer l.Unlock()
	return s.store.Delete(ctx, chatID)
}

// AppendMessage adds a message at the tail with no branches.
func (s *Service) AppendMessage(ctx context.Context, chatID, senderID, content string) (chat.Message, error) {
	var appended chat.Message
	err := s.Mutate(ctx, chatID, func(c *chat.Chat) error {
		appended = NewMessage(chatID, senderID, content)
		c.Messages = append(c.Messages, appended)
		return nil
	})
	return appended, err
}

// AppendErrorMessage adds a character-side error bubble so a failed
// turn stays visible in the transcript.
func (s *Service) AppendErrorMessage(ctx context.Context, chatID, senderID, content string) (chat.Message, error) {
	var appended chat.Message
	err := s.Mutate(ctx, chatID, func(c *chat.Chat) error {
		appended = NewMessage(chatID, senderID, content)
		appended.Error = true
		c.Messages = append(c.Messages, appended)
		return nil
	})
	return appended, err
}

// NewMessage builds a message value with a fresh id and timestamp.
func NewMessage(chatID, senderID, content string) chat.Message {
	return chat.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// AddBranch appends an alternate generation to the message and returns
// the index that selects it. The active branch is left unchanged; the
// caller decides whether to switch.
func (s *Service) AddBranch(ctx context.Context, chatID, messageID, content string) (int, error) {
	var index int
	err := s.Mutate(ctx, chatID, func(c *chat.Chat) error {
		i := c.MessageIndex(messageID)
		if i < 0 {
			return ErrMessageNotFound
		}
		c.Messages[i].Branches = append(c.Messages[i].Branches, NewBranch(content))
		index = len(c.Messages[i].Branches)
		return nil
	})
	return index, err
}

// NewBranch builds a branch value with a fresh id and timestamp.
func NewBranch(content string) chat.Branch {
	return chat.Branch{
		ID:        uuid.NewString(),
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// SetBranchIndex switches the active branch of a message. When the
// message is a user turn and the next message is the paired character
// reply, the reply follows to min(index, len(reply.Branches)) so the
// two sides of the turn stay in step.
func (s *Service) SetBranchIndex(ctx context.Context, chatID, messageID string, index int) error {
	return s.Mutate(ctx, chatID, func(c *chat.Chat) error {
		return setBranchIndex(c, messageID, index)
	})
}

func setBranchIndex(c *chat.Chat, messageID string, index int) error {
	i := c.MessageIndex(messageID)
	if i < 0 {
		return ErrMessageNotFound
	}
	msg := &c.Messages[i]
	if index < 0 || index > len(msg.Branches) {
		return ErrBranchOutOfRange
	}
	msg.CurrentBranchIndex = index

	if msg.IsUser() && i+1 < len(c.Messages) && !c.Messages[i+1].IsUser() {
		reply := &c.Messages[i+1]
		paired := index
		if paired > len(reply.Branches) {
			paired = len(reply.Branches)
		}
		reply.CurrentBranchIndex = paired
	}
	return nil
}

// SelectBranch is SetBranchIndex with gap filling: when the target
// index lies beyond the existing branches, filler branches duplicating
// the currently active content are synthesized first so indices stay
// dense. Filler duplicates mask nothing the caller hasn't already seen,
// but they do inflate the branch list.
func (s *Service) SelectBranch(ctx context.Context, chatID, messageID string, index int) error {
	return s.Mutate(ctx, chatID, func(c *chat.Chat) error {
		i := c.MessageIndex(messageID)
		if i < 0 {
			return ErrMessageNotFound
		}
		if index < 0 {
			return ErrBranchOutOfRange
		}
		msg := &c.Messages[i]
		for len(msg.Branches) < index {
			msg.Branches = append(msg.Branches, NewBranch(msg.ActiveContent()))
		}
		return setBranchIndex(c, messageID, index)
	})
}

// UpdatePatch names the fields UpdateMessage may change. Nil fields are
// left untouched.
type UpdatePatch struct {
	Content           *string
	TranslatedContent *string
}

// UpdateMessage patches the active slot of a message in place. No
// branch is created; workflows that must preserve the original (user
// edits, regeneration) go through AddBranch instead.
func (s *Service) UpdateMessage(ctx context.Context, chatID, messageID string, patch UpdatePatch) error {
	return s.Mutate(ctx, chatID, func(c *chat.Chat) error {
		i := c.MessageIndex(messageID)
		if i < 0 {
			return ErrMessageNotFound
		}
		msg := &c.Messages[i]
		if msg.CurrentBranchIndex > 0 && msg.CurrentBranchIndex <= len(msg.Branches) {
			b := &msg.Branches[msg.CurrentBranchIndex-1]
			if patch.Content != nil {
				b.Content = *patch.Content
			}
			if patch.TranslatedContent != nil {
				b.TranslatedContent = *patch.TranslatedContent
			}
			return nil
		}
		if patch.Content != nil {
			msg.Content = *patch.Content
		}
		if patch.TranslatedContent != nil {
			msg.TranslatedContent = *patch.TranslatedContent
		}
		return nil
	})
}

// RemoveMessages deletes messages by id. Only compaction calls this;
// the coordinator guarantees no generation is anchored to a removed
// message by running compaction strictly after the turn settles.
func (s *Service) RemoveMessages(ctx context.Context, chatID string, ids []string) error {
	return s.Mutate(ctx, chatID, func(c *chat.Chat) error {
		RemoveMessages(c, ids)
		return nil
	})
}

// RemoveMessages filters the aggregate's message list in place.
func RemoveMessages(c *chat.Chat, ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := c.Messages[:0]
	for _, m := range c.Messages {
		if _, gone := drop[m.ID]; !gone {
			kept = append(kept, m)
		}
	}
	c.Messages = kept
}

// AddMemory appends a summary to the ledger.
func (s *Service) AddMemory(ctx context.Context, chatID string, summary chat.MemorySummary) error {
	return s.Mutate(ctx, chatID, func(c *chat.Chat) error {
		c.Memories = append(c.Memories, summary)
		return nil
	})
}

// RemoveMemories deletes summaries by id.
func (s *Service) RemoveMemories(ctx context.Context, chatID string, ids []string) error {
	return s.Mutate(ctx, chatID, func(c *chat.Chat) error {
		RemoveMemories(c, ids)
		return nil
	})
}

// RemoveMemories filters the aggregate's ledger in place.
func RemoveMemories(c *chat.Chat, ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := c.Memories[:0]
	for _, m := range c.Memories {
		if _, gone := drop[m.ID]; !gone {
			kept = append(kept, m)
		}
	}
	c.Memories = kept
}

// OldestMemory returns the summary with the earliest CreatedAt, ties
// broken by StartTime. Nil when the ledger is empty.
func OldestMemory(c *chat.Chat) *chat.MemorySummary {
	var oldest *chat.MemorySummary
	for i := range c.Memories {
		m := &c.Memories[i]
		if oldest == nil {
			oldest = m
			continue
		}
		if m.CreatedAt.Before(oldest.CreatedAt) ||
			(m.CreatedAt.Equal(oldest.CreatedAt) && m.StartTime.Before(oldest.StartTime)) {
			oldest = m
		}
	}
	return oldest
}
