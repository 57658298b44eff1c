// Package mls implements group key agreement in the shape of RFC 9420: a
// left-balanced binary ratchet tree of leaf nodes, per-epoch secrets and
// running transcript hashes. Every tree mutation advances the epoch and
// re-derives the epoch secret, so departed members cannot read future
// messages.
//
// The state kept here is deliberately minimal — tree, epoch secrets,
// transcript hashes. Message protection uses a per-epoch sender secret with
// deterministic per-(leaf, counter) nonces.
//
// Concurrency: GroupState is NOT safe for concurrent use. Callers must
// serialise access per group.
package mls
