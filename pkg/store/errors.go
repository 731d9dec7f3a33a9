package store

import (
	"errors"
	"fmt"
)

// ErrAbort is the in-band sentinel a Store.Txn callback returns to abort
// the transaction without the error propagating to the caller of Txn,
// mirroring acid.abort()'s AbortError.
var ErrAbort = errors.New("store: abort")

// ErrNoTxn is returned by any Collection/Index/Store operation invoked
// with a context that has no transaction bound to it (i.e. invoked outside
// a Store.Txn scope).
var ErrNoTxn = errors.New("store: no active transaction")

// ErrNotFound is returned by RenameCollection when the source collection
// does not exist. Collection.Get returns its caller-supplied default and
// Index.Get reports found == false instead.
var ErrNotFound = errors.New("store: record not found")

// ErrNameInUse is returned by RenameCollection when the destination name
// already names a collection.
var ErrNameInUse = errors.New("store: name already in use")

// ErrConstraint reports a request the store refuses because it would break
// an invariant or names something that does not exist: Collection.SetBlind
// returns it for a collection with indexes, and Store.Compressor for an
// unknown compressor name (spec's ConstraintError).
var ErrConstraint = errors.New("store: constraint violated")

// ErrUnimplemented is returned by Collection.Batch when MaxKeyLen is set;
// the option is declared by the original spec but never implemented by
// either historical implementation it was distilled from.
var ErrUnimplemented = errors.New("store: unimplemented option")

// ConfigError reports a mismatch between the options passed to
// AddCollection and the configuration already persisted for that name. It
// is also returned by GetEncoder for an id with no registered encoder.
type ConfigError struct {
	Kind string // "collection", "index", "encoder"
	Name string
	Attr string
	Got  any
	Want any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("store: %s %q: %s mismatch: got %v, stored %v", e.Kind, e.Name, e.Attr, e.Got, e.Want)
}

// StaleIndexError describes an index entry whose referenced record could
// not be found. Index.Items does not construct it: it skips such entries
// and reports them through a StaleIndexFunc (or log.Printf when none is
// given).
type StaleIndexError struct {
	Index  string
	Tuple  any
	Record any
}

func (e *StaleIndexError) Error() string {
	return fmt.Sprintf("store: stale index entry: index %q tuple %v -> missing record %v", e.Index, e.Tuple, e.Record)
}
