package types

// UserID identifies a platform user.
type UserID string

// String returns the string form of the user id.
func (id UserID) String() string { return string(id) }

// ChatID identifies a conversation.
type ChatID string

// String returns the string form of the chat id.
func (id ChatID) String() string { return string(id) }

// MessageID identifies a message inside a chat.
type MessageID string

// String returns the string form of the message id.
func (id MessageID) String() string { return string(id) }

// SessionID identifies a session key.
type SessionID string

// String returns the string form of the session id.
func (id SessionID) String() string { return string(id) }

// ConnectionID identifies a live websocket connection.
type ConnectionID string

// String returns the string form of the connection id.
func (id ConnectionID) String() string { return string(id) }

// DeviceID identifies one device of a user.
type DeviceID string

// String returns the string form of the device id.
func (id DeviceID) String() string { return string(id) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
