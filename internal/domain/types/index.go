package types

import "time"

// IndexDoc is what the indexer receives for one message. For end-to-end
// chats only metadata and, where configured, server-readable content is
// indexable.
type IndexDoc struct {
	MessageID      MessageID   `json:"message_id"`
	ChatID         ChatID      `json:"chat_id"`
	UserID         UserID      `json:"user_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	ThreadID       string      `json:"thread_id,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Engagement     float64     `json:"engagement,omitempty"`
	Important      bool        `json:"important,omitempty"`
	Starred        bool        `json:"starred,omitempty"`
	Pinned         bool        `json:"pinned,omitempty"`
	HasAttachments bool        `json:"has_attachments,omitempty"`
}
