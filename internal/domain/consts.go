package domain

import "sonet/internal/domain/types"

// Value re-exports so callers need only import domain.
const (
	ChatDirect = types.ChatDirect
	ChatGroup  = types.ChatGroup

	MaxGroupMembers     = types.MaxGroupMembers
	GroupWarnThreshold  = types.GroupWarnThreshold
	MinChatParticipants = types.MinChatParticipants

	GroupSizeOptimal = types.GroupSizeOptimal
	GroupSizeGood    = types.GroupSizeGood
	GroupSizeWarning = types.GroupSizeWarning
	GroupSizeAtLimit = types.GroupSizeAtLimit

	MessageText      = types.MessageText
	MessageImage     = types.MessageImage
	MessageVideo     = types.MessageVideo
	MessageAudio     = types.MessageAudio
	MessageFile      = types.MessageFile
	MessageLocation  = types.MessageLocation
	MessageVoiceNote = types.MessageVoiceNote
	MessageSticker   = types.MessageSticker
	MessageSystem    = types.MessageSystem

	StatusPending   = types.StatusPending
	StatusSent      = types.StatusSent
	StatusDelivered = types.StatusDelivered
	StatusRead      = types.StatusRead
	StatusFailed    = types.StatusFailed
	StatusDeleted   = types.StatusDeleted

	PriorityLow      = types.PriorityLow
	PriorityNormal   = types.PriorityNormal
	PriorityHigh     = types.PriorityHigh
	PriorityUrgent   = types.PriorityUrgent
	PriorityCritical = types.PriorityCritical

	LevelNone          = types.LevelNone
	LevelServerSide    = types.LevelServerSide
	LevelEndToEnd      = types.LevelEndToEnd
	LevelMilitaryGrade = types.LevelMilitaryGrade

	SuiteX25519ChaCha = types.SuiteX25519ChaCha
	SuiteX25519AES    = types.SuiteX25519AES

	CommitAdd    = types.CommitAdd
	CommitRemove = types.CommitRemove
	CommitUpdate = types.CommitUpdate

	EventNewMessage             = types.EventNewMessage
	EventMessageEdited          = types.EventMessageEdited
	EventMessageDeleted         = types.EventMessageDeleted
	EventMessageRead            = types.EventMessageRead
	EventMessageDelivered       = types.EventMessageDelivered
	EventTypingStarted          = types.EventTypingStarted
	EventTypingStopped          = types.EventTypingStopped
	EventUserJoinedChat         = types.EventUserJoinedChat
	EventUserLeftChat           = types.EventUserLeftChat
	EventChatCreated            = types.EventChatCreated
	EventChatUpdated            = types.EventChatUpdated
	EventChatDeleted            = types.EventChatDeleted
	EventParticipantAdded       = types.EventParticipantAdded
	EventParticipantRemoved     = types.EventParticipantRemoved
	EventParticipantRoleChanged = types.EventParticipantRoleChanged
	EventOnlineStatusChanged    = types.EventOnlineStatusChanged
	EventCallInitiated          = types.EventCallInitiated
	EventCallEnded              = types.EventCallEnded
	EventSystemNotification     = types.EventSystemNotification
	EventAuth                   = types.EventAuth
	EventAuthOK                 = types.EventAuthOK
	EventError                  = types.EventError
	EventPing                   = types.EventPing
	EventPong                   = types.EventPong
	EventSubscribe              = types.EventSubscribe
	EventUnsubscribe            = types.EventUnsubscribe
	EventReadReceipt            = types.EventReadReceipt
	EventTyping                 = types.EventTyping

	ActivityTyping         = types.ActivityTyping
	ActivityRecordingAudio = types.ActivityRecordingAudio
	ActivityRecordingVideo = types.ActivityRecordingVideo
	ActivityUploadingFile  = types.ActivityUploadingFile
	ActivityThinking       = types.ActivityThinking
	ActivityEditing        = types.ActivityEditing

	ConnConnecting    = types.ConnConnecting
	ConnConnected     = types.ConnConnected
	ConnAuthenticated = types.ConnAuthenticated
	ConnDisconnecting = types.ConnDisconnecting
	ConnDisconnected  = types.ConnDisconnected
	ConnFailed        = types.ConnFailed
	ConnBanned        = types.ConnBanned

	Online    = types.Online
	Away      = types.Away
	Busy      = types.Busy
	Invisible = types.Invisible
	Offline   = types.Offline

	ScopeAll     = types.ScopeAll
	ScopeChat    = types.ScopeChat
	ScopeThreads = types.ScopeThreads
)

// SizeStatusFor re-exports the group size classification.
func SizeStatusFor(n int) GroupSizeStatus { return types.SizeStatusFor(n) }

// DedupKey re-exports the chat idempotence key builder.
func DedupKey(kind ChatKind, participants []UserID) string {
	return types.DedupKey(kind, participants)
}
