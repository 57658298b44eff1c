package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sonet/internal/domain"
	"sonet/internal/util/memzero"
)

// SessionKeys is the in-memory session-key store. Expired or exhausted keys
// stop encrypting new messages but remain loadable for decryption until
// explicitly evicted.
type SessionKeys struct {
	mu     sync.RWMutex
	byID   map[domain.SessionID]*domain.SessionKey
	byChat map[domain.ChatID]map[domain.UserID][]domain.SessionID
	now    func() time.Time
}

// NewSessionKeys returns an empty store.
func NewSessionKeys() *SessionKeys {
	return &SessionKeys{
		byID:   make(map[domain.SessionID]*domain.SessionKey),
		byChat: make(map[domain.ChatID]map[domain.UserID][]domain.SessionID),
		now:    time.Now,
	}
}

// Put stores key, indexing it under its (chat, user).
func (s *SessionKeys) Put(ctx context.Context, key domain.SessionKey) error {
	if key.SessionID == "" || key.ChatID == "" || key.UserID == "" {
		return fmt.Errorf("%w: incomplete session key", domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := key
	stored.Key = append([]byte(nil), key.Key...)
	if _, exists := s.byID[key.SessionID]; exists {
		// Replace in place; the chat index already references this id.
		s.byID[key.SessionID] = &stored
		return nil
	}
	s.byID[key.SessionID] = &stored
	users := s.byChat[key.ChatID]
	if users == nil {
		users = make(map[domain.UserID][]domain.SessionID)
		s.byChat[key.ChatID] = users
	}
	users[key.UserID] = append(users[key.UserID], key.SessionID)
	return nil
}

// Get returns a key by id, whether or not it is still usable for
// encryption.
func (s *SessionKeys) Get(ctx context.Context, id domain.SessionID) (domain.SessionKey, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byID[id]
	if !ok {
		return domain.SessionKey{}, false, nil
	}
	return *k, true, nil
}

// Active returns the newest key for (chat, user) still usable for
// encryption.
func (s *SessionKeys) Active(ctx context.Context, chatID domain.ChatID, uid domain.UserID) (domain.SessionKey, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byChat[chatID][uid]
	now := s.now()
	for i := len(ids) - 1; i >= 0; i-- {
		if k := s.byID[ids[i]]; k != nil && k.UsableAt(now) {
			return *k, true, nil
		}
	}
	return domain.SessionKey{}, false, nil
}

// IncrementUse bumps the key's message counter.
func (s *SessionKeys) IncrementUse(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	k.MessageCount++
	return nil
}

// Evict removes the key and wipes its material.
func (s *SessionKeys) Evict(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.byID[id]
	if !ok {
		return nil
	}
	memzero.Zero(k.Key)
	delete(s.byID, id)
	ids := s.byChat[k.ChatID][k.UserID]
	for i, sid := range ids {
		if sid == id {
			s.byChat[k.ChatID][k.UserID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

var _ domain.SessionKeyStore = (*SessionKeys)(nil)
