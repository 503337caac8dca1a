// Package claimcheck implements the claim check pattern's backing
// store: a key-value mapping from generated tickets to externalized
// payloads. Route steps swap a heavy body for a small ticket on the
// way in and restore it on the way out; the store in between is either
// in-memory (MemoryStore) or SQLite-backed (SQLiteStore) for payloads
// worth keeping off the heap.
//
// Entries are insert-only: a ticket resolves to the same payload for
// every retrieval. Neither store evicts; unbounded growth over the
// process lifetime is a documented limitation.
package claimcheck
