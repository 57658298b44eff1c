package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"sonet/internal/domain"
)

const chatsFile = "chats.json"

// chatsOnDisk is the versioned persisted record.
type chatsOnDisk struct {
	Version int                            `json:"version"` // 1
	Chats   map[domain.ChatID]domain.Chat  `json:"chats"`
	Dedup   map[string]domain.ChatID       `json:"dedup"`
}

// ChatFileStore keeps chats in memory and snapshots them to a versioned
// JSON file on every write.
type ChatFileStore struct {
	mu    sync.RWMutex
	dir   string
	chats map[domain.ChatID]domain.Chat
	dedup map[string]domain.ChatID
}

// NewChatFileStore loads any existing snapshot from dir.
func NewChatFileStore(dir string) (*ChatFileStore, error) {
	s := &ChatFileStore{
		dir:   dir,
		chats: make(map[domain.ChatID]domain.Chat),
		dedup: make(map[string]domain.ChatID),
	}
	var disk chatsOnDisk
	if err := readJSON(s.path(), &disk); err != nil {
		return nil, fmt.Errorf("load chats: %w", err)
	}
	if disk.Version > 1 {
		return nil, fmt.Errorf("unsupported chats version %d", disk.Version)
	}
	if disk.Chats != nil {
		s.chats = disk.Chats
	}
	if disk.Dedup != nil {
		s.dedup = disk.Dedup
	}
	return s, nil
}

func (s *ChatFileStore) path() string { return filepath.Join(s.dir, chatsFile) }

// flush must be called with the write lock held.
func (s *ChatFileStore) flush() error {
	return writeJSON(s.path(), chatsOnDisk{Version: 1, Chats: s.chats, Dedup: s.dedup}, 0o600)
}

// Create stores chat unless an identical (kind, participants) chat exists;
// the bool reports whether a new chat was created.
func (s *ChatFileStore) Create(ctx context.Context, chat domain.Chat) (domain.Chat, bool, error) {
	if len(chat.ParticipantIDs) == 0 {
		return domain.Chat{}, false, fmt.Errorf("%w: no participants", domain.ErrInvalidArgument)
	}
	key := domain.DedupKey(chat.Kind, chat.ParticipantIDs)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.dedup[key]; ok {
		return s.chats[existing], false, nil
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	chat.UpdatedAt = chat.CreatedAt
	s.chats[chat.ID] = chat
	s.dedup[key] = chat.ID
	if err := s.flush(); err != nil {
		delete(s.chats, chat.ID)
		delete(s.dedup, key)
		return domain.Chat{}, false, err
	}
	return chat, true, nil
}

// Get returns a chat by id.
func (s *ChatFileStore) Get(ctx context.Context, id domain.ChatID) (domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return domain.Chat{}, fmt.Errorf("chat %s: %w", id, domain.ErrChatNotFound)
	}
	return c, nil
}

// ListForUser returns every chat uid participates in.
func (s *ChatFileStore) ListForUser(ctx context.Context, uid domain.UserID) ([]domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Chat
	for _, c := range s.chats {
		if c.HasParticipant(uid) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Update applies mutate and re-indexes the dedup key if membership changed.
func (s *ChatFileStore) Update(ctx context.Context, id domain.ChatID, mutate func(*domain.Chat) error) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return domain.Chat{}, fmt.Errorf("chat %s: %w", id, domain.ErrChatNotFound)
	}
	oldKey := domain.DedupKey(c.Kind, c.ParticipantIDs)

	next := c
	next.ParticipantIDs = append([]domain.UserID(nil), c.ParticipantIDs...)
	if err := mutate(&next); err != nil {
		return domain.Chat{}, err
	}
	next.ID = c.ID
	next.CreatedAt = c.CreatedAt
	next.UpdatedAt = time.Now()

	newKey := domain.DedupKey(next.Kind, next.ParticipantIDs)
	s.chats[id] = next
	if newKey != oldKey {
		delete(s.dedup, oldKey)
		s.dedup[newKey] = id
	}
	if err := s.flush(); err != nil {
		return domain.Chat{}, err
	}
	return next, nil
}

var _ domain.ChatStore = (*ChatFileStore)(nil)
