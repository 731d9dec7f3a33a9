// Package store implements the collection layer: logical records under
// structured keys, mapped onto physical engine key/value pairs through
// pkg/keycoder, with secondary index maintenance and batch compaction.
//
// A Store owns one engine.Engine and the numeric identifiers assigned to
// collections, indexes and encoders; a Collection owns CRUD and batching
// for one logical record type; an Index provides a query surface over a
// collection's secondary keys. All three are safe for concurrent use by
// multiple goroutines, each within its own Store.Txn scope.
package store
