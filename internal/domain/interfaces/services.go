package interfaces

import (
	"context"

	"sonet/internal/domain/types"
)

// Messaging is the outward-facing orchestrator over crypto, store, index
// and hub.
type Messaging interface {
	SendMessage(ctx context.Context, req types.SendMessageRequest) (types.Message, error)
	GetMessages(ctx context.Context, requester types.UserID, chatID types.ChatID, cursor types.MessageID, limit int) (types.MessagePage, error)
	CreateChat(ctx context.Context, req types.CreateChatRequest) (types.Chat, error)
	GetChats(ctx context.Context, requester types.UserID) ([]types.Chat, error)
	SetTyping(ctx context.Context, chatID types.ChatID, uid types.UserID, typing bool) error

	EditMessage(ctx context.Context, chatID types.ChatID, id types.MessageID, editor types.UserID, content string) (types.Message, error)
	DeleteMessage(ctx context.Context, chatID types.ChatID, id types.MessageID, requester types.UserID) error
	AddReaction(ctx context.Context, chatID types.ChatID, id types.MessageID, uid types.UserID, emoji string) error
	RemoveReaction(ctx context.Context, chatID types.ChatID, id types.MessageID, uid types.UserID, emoji string) error
	MarkRead(ctx context.Context, chatID types.ChatID, id types.MessageID, uid types.UserID, device types.DeviceID) error
	AddParticipant(ctx context.Context, chatID types.ChatID, actor, uid types.UserID) error
	RemoveParticipant(ctx context.Context, chatID types.ChatID, actor, uid types.UserID) error
	SearchMessages(ctx context.Context, requester types.UserID, q types.SearchQuery) ([]types.SearchResult, error)

	Capabilities() types.ServerCapabilities
}

// Keys registers identities and owns session-key issuance and rotation.
type Keys interface {
	RegisterIdentity(ctx context.Context, uid types.UserID) (types.PublicIdentity, error)
	PublicIdentity(ctx context.Context, uid types.UserID) (types.PublicIdentity, bool, error)
	IdentityFingerprint(ctx context.Context, uid types.UserID) (types.Fingerprint, error)
	// SignFor signs msg with uid's Ed25519 identity key.
	SignFor(ctx context.Context, uid types.UserID, msg []byte) ([]byte, error)
	// DirectRoot derives the shared root key for a direct chat from the
	// two participants' identity keys.
	DirectRoot(ctx context.Context, chatID types.ChatID, a, b types.UserID) ([]byte, error)
	// IdentityKeypair exposes uid's X25519 identity keypair to the ratchet
	// engine for responder bootstrap.
	IdentityKeypair(ctx context.Context, uid types.UserID) (types.X25519Private, types.X25519Public, error)
	IssueSessionKey(ctx context.Context, chatID types.ChatID, uid types.UserID, algorithm string) (types.SessionKey, error)
	ActiveSessionKey(ctx context.Context, chatID types.ChatID, uid types.UserID) (types.SessionKey, error)
	// UseSessionKey returns the active key (minting one when needed) and
	// counts one encryption against it.
	UseSessionKey(ctx context.Context, chatID types.ChatID, uid types.UserID) (types.SessionKey, error)
	RotateSessionKey(ctx context.Context, chatID types.ChatID, uid types.UserID) (types.SessionKey, error)
}
