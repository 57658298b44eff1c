package interfaces

import (
	"context"
	"time"

	"sonet/internal/domain/types"
)

// AuthFunc is the identity-service predicate the hub delegates
// authentication to.
type AuthFunc func(ctx context.Context, uid types.UserID, sessionToken string) bool

// Notifier is the push sink for recipients with no live connection.
type Notifier interface {
	Notify(ctx context.Context, uid types.UserID, summary string) error
}

// Publisher fans events out to subscribed connections.
type Publisher interface {
	Publish(ctx context.Context, ev types.Event)
}

// ChatResolver is the chat lookup the hub uses to gate subscriptions.
type ChatResolver interface {
	Get(ctx context.Context, id types.ChatID) (types.Chat, error)
}

// Indexer maintains the searchable view over indexable messages.
type Indexer interface {
	Index(ctx context.Context, doc types.IndexDoc) error
	Update(ctx context.Context, id types.MessageID, content string) error
	Remove(ctx context.Context, id types.MessageID) error
	Search(ctx context.Context, q types.SearchQuery) ([]types.SearchResult, error)
	Suggest(ctx context.Context, prefix string, limit int) []string
}

// Embedder produces fixed-dimension vectors for semantic ranking.
type Embedder interface {
	Embed(text string) []float32
	Dim() int
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time
