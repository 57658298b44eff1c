package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"sonet/internal/domain"
	"sonet/internal/util/memzero"
)

// Supported AEAD algorithm names as they appear on the wire.
const (
	AlgAES256GCM        = "AES-256-GCM"
	AlgChaCha20Poly1305 = "ChaCha20-Poly1305"
	AlgHybridX25519     = "X25519+ChaCha20-Poly1305"
)

// NonceSize is the 96-bit nonce every supported suite uses.
const NonceSize = 12

// TagSize is the 128-bit authentication tag every supported suite produces.
const TagSize = 16

// Algorithms lists the supported suite names.
func Algorithms() []string {
	return []string{AlgAES256GCM, AlgChaCha20Poly1305, AlgHybridX25519}
}

// newAEAD builds the cipher for a symmetric suite.
func newAEAD(alg string, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AlgAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes: %w", err)
		}
		return cipher.NewGCM(block)
	case AlgChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", domain.ErrInvalidArgument, alg)
	}
}

// Seal encrypts plaintext and returns ciphertext and tag separately.
// The nonce must be unique under the key; callers that cannot guarantee a
// counter must use RandomNonce.
func Seal(alg string, key, nonce, aad, plaintext []byte) (ct, tag []byte, err error) {
	aead, err := newAEAD(alg, key)
	if err != nil {
		return nil, nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, nil, fmt.Errorf("%w: nonce size %d", domain.ErrInvalidArgument, len(nonce))
	}
	sealed := aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - aead.Overhead()
	return sealed[:split], sealed[split:], nil
}

// Open decrypts and authenticates. Any failure returns domain.ErrAuthFail
// with no indication of which field failed.
func Open(alg string, key, nonce, aad, ct, tag []byte) ([]byte, error) {
	aead, err := newAEAD(alg, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, domain.ErrAuthFail
	}
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	pt, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, domain.ErrAuthFail
	}
	return pt, nil
}

// SealHybrid encrypts to an X25519 public key: a fresh ephemeral keypair is
// combined with the recipient key and the shared secret keys
// ChaCha20-Poly1305. The ephemeral public key is returned for the envelope.
func SealHybrid(recipient domain.X25519Public, nonce, aad, plaintext []byte) (eph domain.X25519Public, ct, tag []byte, err error) {
	ephPriv, ephPub, err := GenerateX25519()
	if err != nil {
		return eph, nil, nil, err
	}
	shared, err := DH(ephPriv, recipient)
	if err != nil {
		return eph, nil, nil, err
	}
	key, err := DeriveKey(shared[:], "hybrid", ephPub.Slice(), chacha20poly1305.KeySize)
	memzero.Zero(shared[:])
	if err != nil {
		return eph, nil, nil, err
	}
	ct, tag, err = Seal(AlgChaCha20Poly1305, key, nonce, aad, plaintext)
	memzero.Zero(key)
	memzero.Zero(ephPriv[:])
	return ephPub, ct, tag, err
}

// OpenHybrid reverses SealHybrid with the recipient's private key.
func OpenHybrid(priv domain.X25519Private, eph domain.X25519Public, nonce, aad, ct, tag []byte) ([]byte, error) {
	shared, err := DH(priv, eph)
	if err != nil {
		return nil, domain.ErrAuthFail
	}
	key, err := DeriveKey(shared[:], "hybrid", eph.Slice(), chacha20poly1305.KeySize)
	memzero.Zero(shared[:])
	if err != nil {
		return nil, domain.ErrAuthFail
	}
	pt, err := Open(AlgChaCha20Poly1305, key, nonce, aad, ct, tag)
	memzero.Zero(key)
	return pt, err
}
