package domain

import (
	interfaces "sonet/internal/domain/interfaces"
	types "sonet/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID       = types.UserID
	ChatID       = types.ChatID
	MessageID    = types.MessageID
	SessionID    = types.SessionID
	ConnectionID = types.ConnectionID
	DeviceID     = types.DeviceID
	Fingerprint  = types.Fingerprint

	X25519Public   = types.X25519Public
	X25519Private  = types.X25519Private
	Ed25519Public  = types.Ed25519Public
	Ed25519Private = types.Ed25519Private
	Identity       = types.Identity
	PublicIdentity = types.PublicIdentity

	ChatKind        = types.ChatKind
	Chat            = types.Chat
	GroupSizeStatus = types.GroupSizeStatus

	MessageType     = types.MessageType
	MessageStatus   = types.MessageStatus
	MessagePriority = types.MessagePriority
	Message         = types.Message
	MessagePage     = types.MessagePage
	Attachment      = types.Attachment
	Reaction        = types.Reaction
	ReadReceipt     = types.ReadReceipt
	EditRecord      = types.EditRecord
	ForwardInfo     = types.ForwardInfo

	EncryptionLevel      = types.EncryptionLevel
	EncryptionDescriptor = types.EncryptionDescriptor
	EncryptedEnvelope    = types.EncryptedEnvelope
	SessionKey           = types.SessionKey

	RatchetHeader = types.RatchetHeader
	RatchetState  = types.RatchetState
	Conversation  = types.Conversation

	CipherSuite = types.CipherSuite
	KeyPackage  = types.KeyPackage
	LeafNode    = types.LeafNode
	GroupState  = types.GroupState
	CommitOp    = types.CommitOp
	Commit      = types.Commit
	Welcome     = types.Welcome

	EventType   = types.EventType
	Event       = types.Event
	AuthRequest = types.AuthRequest

	TypingActivity  = types.TypingActivity
	TypingIndicator = types.TypingIndicator
	ChatTypingState = types.ChatTypingState

	ConnectionStatus   = types.ConnectionStatus
	OnlineStatus       = types.OnlineStatus
	ConnectionInfo     = types.ConnectionInfo
	ServerCapabilities = types.ServerCapabilities

	SearchScope   = types.SearchScope
	SearchFilters = types.SearchFilters
	SearchQuery   = types.SearchQuery
	SearchResult  = types.SearchResult
	IndexDoc      = types.IndexDoc

	SendMessageRequest = types.SendMessageRequest
	CreateChatRequest  = types.CreateChatRequest
	Status             = types.Status
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	MessageStore    = interfaces.MessageStore
	ChatStore       = interfaces.ChatStore
	SessionKeyStore = interfaces.SessionKeyStore
	RatchetStore    = interfaces.RatchetStore
	GroupStore      = interfaces.GroupStore
	IdentityStore   = interfaces.IdentityStore

	Messaging = interfaces.Messaging
	Keys      = interfaces.Keys

	AuthFunc     = interfaces.AuthFunc
	Notifier     = interfaces.Notifier
	Publisher    = interfaces.Publisher
	ChatResolver = interfaces.ChatResolver
	Indexer      = interfaces.Indexer
	Embedder     = interfaces.Embedder
	Clock        = interfaces.Clock
)
