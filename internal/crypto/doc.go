// Package crypto exposes the primitives the messaging core rests on.
//
// Contents
//
//   - CSPRNG bytes (RandomBytes)
//   - HKDF extract/expand per RFC 5869 and the labelled DeriveKey scheme
//   - AEAD seal/open over AES-256-GCM, ChaCha20-Poly1305 and the
//     X25519+ChaCha20-Poly1305 hybrid
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519,
//     ClampX25519PrivateKey, DH)
//   - Ed25519 signing and verification (GenerateEd25519, SignEd25519,
//     VerifyEd25519)
//   - Short public-key fingerprints and base64 helpers
//   - At-rest secret encryption (Argon2id KEK + ChaCha20-Poly1305)
//
// # Notes
//
// Key material uses the fixed-size array types defined in internal/domain to
// avoid accidental reallocations. Every integrity failure surfaces as the
// neutral domain.ErrAuthFail without indicating which check failed. Callers
// should treat returned secrets as sensitive and rely on memzero when
// practical to reduce lifetime in memory.
package crypto
