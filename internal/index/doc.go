// Package index maintains the real-time searchable view over messages the
// server may read: an inverted index with positional postings, tf-idf plus
// recency/engagement ranking, optional semantic vectors, and bounded query
// and suggestion caches.
//
// Writes are batched: adds queue until the batch interval elapses or the
// batch size cap is reached, then commit under one exclusive lock. Removes
// and updates apply synchronously so a deleted message can never surface in
// a later query. Reads run under a shared lock.
package index
