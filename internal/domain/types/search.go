package types

import "time"

// SearchScope restricts where a query looks.
type SearchScope string

const (
	ScopeAll     SearchScope = "all"
	ScopeChat    SearchScope = "chat"
	ScopeThreads SearchScope = "threads"
)

// SearchFilters narrow a query beyond its terms.
type SearchFilters struct {
	Scope          SearchScope   `json:"scope,omitempty"`
	ChatID         ChatID        `json:"chat_id,omitempty"`
	IncludeUsers   []UserID      `json:"include_users,omitempty"`
	ExcludeUsers   []UserID      `json:"exclude_users,omitempty"`
	From           time.Time     `json:"from,omitempty"`
	To             time.Time     `json:"to,omitempty"`
	Types          []MessageType `json:"types,omitempty"`
	Hashtags       []string      `json:"hashtags,omitempty"`
	Mentions       []string      `json:"mentions,omitempty"`
	HasAttachments bool          `json:"has_attachments,omitempty"`
	Starred        bool          `json:"starred,omitempty"`
	Pinned         bool          `json:"pinned,omitempty"`
}

// SearchQuery is a full query against the index.
type SearchQuery struct {
	Query      string        `json:"query"`
	Filters    SearchFilters `json:"filters"`
	MaxResults int           `json:"max_results,omitempty"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	MessageID MessageID `json:"message_id"`
	ChatID    ChatID    `json:"chat_id"`
	UserID    UserID    `json:"user_id"`
	Snippet   string    `json:"snippet,omitempty"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}
