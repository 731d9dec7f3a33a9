// Package engine provides the pluggable storage backend abstraction: an
// Engine opens Txns, a Txn is a snapshot-isolated (read) or exclusive
// (write) view over a byte-ordered key space, and an Iterator walks a
// range of that space. Concrete backends (memkv, leveldbkv, sqlkv and its
// dialect-specific wrappers) register themselves by URL scheme, mirroring
// how each pkg/sorted/* backend in the wider ecosystem registers itself
// with sorted.RegisterKeyValue.
package engine

import "errors"

// ErrNotFound is returned by Txn.Get and Txn.Pop when the key is absent.
var ErrNotFound = errors.New("engine: key not found")

// Engine is a storage backend capable of producing transactions over an
// ordered byte-string key space.
type Engine interface {
	// Begin starts a new transaction. Read transactions (write == false)
	// observe a stable snapshot; write transactions are serialised with
	// respect to one another, either by the backend's native locking or by
	// an internal mutex.
	Begin(write bool) (Txn, error)

	// Close releases any resources (connections, file handles) held by the
	// engine. No further transactions may be started afterwards.
	Close() error
}

// Txn is a single transaction against an Engine.
type Txn interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Put stores value under key unconditionally.
	Put(key, value []byte) error

	// Replace stores value under key, returning the previous value if one
	// existed, or nil if the key was absent.
	Replace(key, value []byte) ([]byte, error)

	// Delete removes key. It is not an error for key to be absent.
	Delete(key []byte) error

	// Pop removes key, returning its former value, or ErrNotFound if it was
	// absent.
	Pop(key []byte) ([]byte, error)

	// Iter returns an Iterator over this transaction's view. In forward
	// mode (reverse == false) the first result is the least key >= start;
	// in reverse mode it is the greatest key <= start.
	Iter(start []byte, reverse bool) Iterator

	// Abort discards all modifications made by the transaction.
	Abort() error

	// Commit makes the transaction's modifications durable and visible to
	// subsequently started transactions.
	Commit() error
}

// Iterator walks a sequence of key/value pairs in one direction.
type Iterator interface {
	// Next advances the iterator. It must be called once before the first
	// Key/Value access.
	Next() bool

	// Key returns the current pair's key. Only valid after Next returns
	// true.
	Key() []byte

	// Value returns the current pair's value. Only valid after Next
	// returns true.
	Value() []byte

	// Close releases resources held by the iterator and returns any error
	// accumulated during iteration.
	Close() error
}

// Error wraps a backend-native error, identifying which Engine scheme
// produced it, mirroring acid.engines.EngineError.
type Error struct {
	Scheme string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return "engine(" + e.Scheme + "): " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
