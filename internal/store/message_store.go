package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sonet/internal/domain"
)

// MessageLog is the append-only per-chat message store. Appends serialise
// on a per-chat mutex, which makes created_at monotonic within a chat on a
// single node; reads iterate over a snapshot.
type MessageLog struct {
	mu    sync.RWMutex
	chats map[domain.ChatID]*chatLog
	now   func() time.Time
}

type chatLog struct {
	mu       sync.RWMutex
	ordered  []domain.MessageID
	messages map[domain.MessageID]*domain.Message
	lastAt   time.Time
}

// NewMessageLog returns an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{chats: make(map[domain.ChatID]*chatLog), now: time.Now}
}

func (s *MessageLog) chat(id domain.ChatID, create bool) *chatLog {
	s.mu.RLock()
	cl := s.chats[id]
	s.mu.RUnlock()
	if cl != nil || !create {
		return cl
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl = s.chats[id]; cl == nil {
		cl = &chatLog{messages: make(map[domain.MessageID]*domain.Message)}
		s.chats[id] = cl
	}
	return cl
}

// Append stores msg, assigning a fresh id and timestamps when unset.
func (s *MessageLog) Append(ctx context.Context, chatID domain.ChatID, msg domain.Message) (domain.Message, error) {
	if chatID == "" {
		return domain.Message{}, fmt.Errorf("%w: empty chat id", domain.ErrInvalidArgument)
	}
	cl := s.chat(chatID, true)

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if msg.ID == "" {
		msg.ID = domain.MessageID(uuid.NewString())
	}
	if _, dup := cl.messages[msg.ID]; dup {
		return domain.Message{}, fmt.Errorf("%w: duplicate message id %s", domain.ErrInvalidArgument, msg.ID)
	}
	now := s.now()
	// Keep created_at monotonic within the chat even if the clock steps back.
	if now.Before(cl.lastAt) {
		now = cl.lastAt
	}
	cl.lastAt = now
	msg.ChatID = chatID
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Status == "" {
		msg.Status = domain.StatusPending
	}

	stored := msg
	cl.messages[msg.ID] = &stored
	cl.ordered = append(cl.ordered, msg.ID)
	return msg, nil
}

// Get returns one message by id.
func (s *MessageLog) Get(ctx context.Context, chatID domain.ChatID, id domain.MessageID) (domain.Message, error) {
	cl := s.chat(chatID, false)
	if cl == nil {
		return domain.Message{}, fmt.Errorf("chat %s: %w", chatID, domain.ErrChatNotFound)
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	m, ok := cl.messages[id]
	if !ok {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return *m, nil
}

// Page returns messages newest-first starting after cursor (exclusive).
// With the same cursor the returned subset is always a prefix of one
// consistent ordering.
func (s *MessageLog) Page(ctx context.Context, chatID domain.ChatID, cursor domain.MessageID, limit int) (domain.MessagePage, error) {
	cl := s.chat(chatID, false)
	if cl == nil {
		return domain.MessagePage{}, fmt.Errorf("chat %s: %w", chatID, domain.ErrChatNotFound)
	}
	if limit <= 0 {
		limit = 50
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	start := len(cl.ordered) // exclusive upper bound, walking backwards
	if cursor != "" {
		found := false
		for i := len(cl.ordered) - 1; i >= 0; i-- {
			if cl.ordered[i] == cursor {
				start = i
				found = true
				break
			}
		}
		if !found {
			return domain.MessagePage{}, fmt.Errorf("cursor %s: %w", cursor, domain.ErrNotFound)
		}
	}

	page := domain.MessagePage{}
	for i := start - 1; i >= 0 && len(page.Messages) < limit; i-- {
		page.Messages = append(page.Messages, *cl.messages[cl.ordered[i]])
	}
	if n := len(page.Messages); n == limit && start-n > 0 {
		page.NextCursor = page.Messages[n-1].ID.String()
	}
	return page, nil
}

// Update applies mutate under the chat lock. Status changes must follow the
// DAG pending→sent→delivered→read, pending→failed, any→deleted.
func (s *MessageLog) Update(ctx context.Context, chatID domain.ChatID, id domain.MessageID, mutate func(*domain.Message) error) (domain.Message, error) {
	cl := s.chat(chatID, false)
	if cl == nil {
		return domain.Message{}, fmt.Errorf("chat %s: %w", chatID, domain.ErrChatNotFound)
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()

	m, ok := cl.messages[id]
	if !ok {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}

	next := *m
	if err := mutate(&next); err != nil {
		return domain.Message{}, err
	}
	if next.Status != m.Status && !m.Status.CanTransition(next.Status) {
		return domain.Message{}, fmt.Errorf(
			"%w: status %s -> %s", domain.ErrInvalidArgument, m.Status, next.Status)
	}
	next.ID = m.ID
	next.ChatID = m.ChatID
	next.CreatedAt = m.CreatedAt
	next.UpdatedAt = s.now()
	*m = next
	return next, nil
}

// Delete soft-deletes: content and attachments cleared, envelope retained.
func (s *MessageLog) Delete(ctx context.Context, chatID domain.ChatID, id domain.MessageID, requester domain.UserID) (domain.Message, error) {
	return s.Update(ctx, chatID, id, func(m *domain.Message) error {
		if requester != "" && m.SenderID != requester {
			return fmt.Errorf("%w: %s is not the sender", domain.ErrPermissionDenied, requester)
		}
		m.Content = ""
		m.Attachments = nil
		m.Encryption = nil
		m.Status = domain.StatusDeleted
		return nil
	})
}

var _ domain.MessageStore = (*MessageLog)(nil)
