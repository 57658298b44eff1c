package interfaces

import (
	"context"

	"sonet/internal/domain/types"
)

// MessageStore is the append-only per-chat message log.
type MessageStore interface {
	// Append stores msg, assigning id and timestamps when unset, and
	// returns the stored copy.
	Append(ctx context.Context, chatID types.ChatID, msg types.Message) (types.Message, error)
	// Get returns a single message.
	Get(ctx context.Context, chatID types.ChatID, id types.MessageID) (types.Message, error)
	// Page returns messages newest-first from cursor (exclusive).
	Page(ctx context.Context, chatID types.ChatID, cursor types.MessageID, limit int) (types.MessagePage, error)
	// Update applies mutate under the chat lock, enforcing the status DAG.
	Update(ctx context.Context, chatID types.ChatID, id types.MessageID, mutate func(*types.Message) error) (types.Message, error)
	// Delete soft-deletes: content cleared, envelope retained.
	Delete(ctx context.Context, chatID types.ChatID, id types.MessageID, requester types.UserID) (types.Message, error)
}

// ChatStore owns conversation identities and the creation dedup index.
type ChatStore interface {
	// Create stores chat unless its dedup key already exists; the bool
	// reports whether a new chat was created.
	Create(ctx context.Context, chat types.Chat) (types.Chat, bool, error)
	Get(ctx context.Context, id types.ChatID) (types.Chat, error)
	ListForUser(ctx context.Context, uid types.UserID) ([]types.Chat, error)
	Update(ctx context.Context, id types.ChatID, mutate func(*types.Chat) error) (types.Chat, error)
}

// SessionKeyStore holds symmetric session keys. The keys service is the
// sole writer.
type SessionKeyStore interface {
	Put(ctx context.Context, key types.SessionKey) error
	Get(ctx context.Context, id types.SessionID) (types.SessionKey, bool, error)
	// Active returns the newest key for (chat, user) still usable for
	// encryption.
	Active(ctx context.Context, chatID types.ChatID, uid types.UserID) (types.SessionKey, bool, error)
	IncrementUse(ctx context.Context, id types.SessionID) error
	Evict(ctx context.Context, id types.SessionID) error
}

// RatchetStore persists per-(chat, user) Double Ratchet state.
type RatchetStore interface {
	Load(ctx context.Context, chatID types.ChatID, uid types.UserID) (types.Conversation, bool, error)
	Save(ctx context.Context, conv types.Conversation) error
	Delete(ctx context.Context, chatID types.ChatID, uid types.UserID) error
}

// GroupStore persists per-group MLS state.
type GroupStore interface {
	Load(ctx context.Context, groupID types.ChatID) (types.GroupState, bool, error)
	Save(ctx context.Context, st types.GroupState) error
	Delete(ctx context.Context, groupID types.ChatID) error
}

// IdentityStore persists long-term user identities, private halves
// encrypted at rest.
type IdentityStore interface {
	Save(ctx context.Context, id types.Identity) error
	Load(ctx context.Context, uid types.UserID) (types.Identity, bool, error)
	LoadPublic(ctx context.Context, uid types.UserID) (types.PublicIdentity, bool, error)
}
