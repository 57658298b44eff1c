package types

import "time"

// EncryptionLevel classifies how a message payload is protected.
type EncryptionLevel string

const (
	LevelNone          EncryptionLevel = "none"
	LevelServerSide    EncryptionLevel = "server_side"
	LevelEndToEnd      EncryptionLevel = "end_to_end"
	LevelMilitaryGrade EncryptionLevel = "military_grade"
)

// EndToEnd reports whether the level implies the server cannot read content.
func (l EncryptionLevel) EndToEnd() bool {
	return l == LevelEndToEnd || l == LevelMilitaryGrade
}

// EncryptionDescriptor documents the cryptography applied to one message.
// End-to-end levels require a non-empty key id, nonce and signature.
type EncryptionDescriptor struct {
	Level                 EncryptionLevel `json:"level"`
	Algorithm             string          `json:"algorithm"`
	KeyID                 string          `json:"key_id,omitempty"`
	Nonce                 []byte          `json:"nonce,omitempty"`
	Signature             []byte          `json:"signature,omitempty"`
	SessionKeyFingerprint Fingerprint     `json:"session_key_fingerprint,omitempty"`
	SenderFingerprint     Fingerprint     `json:"sender_fingerprint,omitempty"`
	RecipientFingerprint  Fingerprint     `json:"recipient_fingerprint,omitempty"`
	PerfectForwardSecrecy bool            `json:"perfect_forward_secrecy"`
}

// Valid checks the descriptor's internal invariants.
func (d *EncryptionDescriptor) Valid() bool {
	if d == nil {
		return false
	}
	if !d.Level.EndToEnd() {
		return true
	}
	return d.KeyID != "" && len(d.Nonce) > 0 && len(d.Signature) > 0
}

// EncryptedEnvelope is the on-wire per-message ciphertext.
type EncryptedEnvelope struct {
	Algorithm  string        `json:"algorithm"`
	SessionID  SessionID     `json:"session_id"`
	Nonce      string        `json:"nonce"`      // base64
	Ciphertext string        `json:"ciphertext"` // base64
	Tag        string        `json:"tag"`        // base64
	AAD        string        `json:"aad,omitempty"`
	Header     *RatchetHeader `json:"header,omitempty"` // direct chats
	Epoch      uint64        `json:"epoch,omitempty"`   // group chats
	SenderLeaf uint32        `json:"sender_leaf,omitempty"`
	Counter    uint32        `json:"counter,omitempty"`
}

// SessionKey is symmetric key material owned by a single (chat, user) tuple.
// Expired or exhausted keys must not encrypt new messages but stay available
// for decryption until evicted.
type SessionKey struct {
	SessionID    SessionID `json:"session_id"`
	ChatID       ChatID    `json:"chat_id"`
	UserID       UserID    `json:"user_id"`
	Algorithm    string    `json:"algorithm"`
	Key          []byte    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	MessageCount int       `json:"message_count"`
	MaxMessages  int       `json:"max_messages"`
}

// UsableAt reports whether the key may still encrypt at the given instant.
func (k *SessionKey) UsableAt(now time.Time) bool {
	if !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt) {
		return false
	}
	return k.MaxMessages <= 0 || k.MessageCount < k.MaxMessages
}
