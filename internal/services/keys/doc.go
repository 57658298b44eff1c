// Package keys owns long-term identities and symmetric session keys.
//
// It registers per-user X25519/Ed25519 identities (private halves encrypted
// at rest), derives direct-chat root keys from the two participants'
// identity keys, and is the sole writer of session-key state: issuance,
// use counting and rotation.
package keys
