// Package messaging is the outward-facing orchestrator of the core: it
// validates requests, drives the ratchet engines to produce and open
// ciphertext, appends to the message store, feeds the indexer and publishes
// events to the realtime hub.
//
// Per-chat crypto state is guarded by one mutex per chat, never held across
// I/O to the hub or indexer.
package messaging
