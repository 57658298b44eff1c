package types

import "crypto/subtle"

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// Equal compares two public keys in constant time.
func (p X25519Public) Equal(o X25519Public) bool {
	return subtle.ConstantTimeCompare(p[:], o[:]) == 1
}

// IsZero reports whether the key is all zeros.
func (p X25519Public) IsZero() bool {
	var zero X25519Public
	return subtle.ConstantTimeCompare(p[:], zero[:]) == 1
}

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is an Ed25519 signing private key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// Identity holds a user's long-term X25519 and Ed25519 keys.
type Identity struct {
	UserID UserID         `json:"user_id"`
	XPub   X25519Public   `json:"xpub"`
	XPriv  X25519Private  `json:"xpriv"`
	EdPub  Ed25519Public  `json:"edpub"`
	EdPriv Ed25519Private `json:"edpriv"`
}

// PublicIdentity is the shareable half of an Identity.
type PublicIdentity struct {
	UserID UserID        `json:"user_id"`
	XPub   X25519Public  `json:"xpub"`
	EdPub  Ed25519Public `json:"edpub"`
}

// Public strips the private halves.
func (id Identity) Public() PublicIdentity {
	return PublicIdentity{UserID: id.UserID, XPub: id.XPub, EdPub: id.EdPub}
}
