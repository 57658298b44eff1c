// Package store provides the messaging core's storage layer.
//
// The per-chat message log is an in-memory append-only structure: it holds
// delivery state, not a system of record. Session keys are likewise held in
// memory only. Chats, Double Ratchet state, MLS group state and identities
// persist as versioned JSON files written via temp-file-then-rename; records
// containing key material are encrypted at rest with an Argon2id-derived key.
//
// All stores are concurrency-safe via internal locking. Files live under a
// single configured data directory.
package store
