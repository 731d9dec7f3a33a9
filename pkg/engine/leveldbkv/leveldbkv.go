// Package leveldbkv implements engine.Engine on top of a single mutable
// goleveldb database file on disk, grounded on perkeep.org/pkg/sorted's
// leveldb backend (same storage library, same single-file-on-disk shape)
// but redesigned around goleveldb's native Transaction/Snapshot types
// instead of that backend's BeginBatch/CommitBatch mutation group.
package leveldbkv

import (
	"net/url"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/dw/acidkv/pkg/engine"
)

func init() {
	engine.Register("leveldb", open)
}

func open(u *url.URL, params map[string]string) (engine.Engine, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		path = u.Host
	}
	opts := &opt.Options{}
	if _, wipe := params["wipe"]; wipe {
		os.RemoveAll(path)
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, &engine.Error{Scheme: "leveldb", Op: "open", Err: err}
	}
	return &Engine{db: db, path: path}, nil
}

// Engine is an engine.Engine backed by a goleveldb database file.
type Engine struct {
	db   *leveldb.DB
	path string
}

// Open returns an Engine backed by the goleveldb database file at path,
// creating it if absent.
func Open(path string) (*Engine, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db, path: path}, nil
}

func (e *Engine) Begin(write bool) (engine.Txn, error) {
	if write {
		tr, err := e.db.OpenTransaction()
		if err != nil {
			return nil, &engine.Error{Scheme: "leveldb", Op: "begin", Err: err}
		}
		return &writeTxn{tr: tr}, nil
	}
	snap, err := e.db.GetSnapshot()
	if err != nil {
		return nil, &engine.Error{Scheme: "leveldb", Op: "begin", Err: err}
	}
	return &readTxn{snap: snap}, nil
}

func (e *Engine) Close() error { return e.db.Close() }

// readTxn is a read-only view over a point-in-time goleveldb snapshot.
type readTxn struct {
	snap *leveldb.Snapshot
}

func (t *readTxn) Get(key []byte) ([]byte, error) {
	v, err := t.snap.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, engine.ErrNotFound
	}
	return v, err
}

func (t *readTxn) Put(key, value []byte) error               { return errReadOnly }
func (t *readTxn) Replace(key, value []byte) ([]byte, error) { return nil, errReadOnly }
func (t *readTxn) Delete(key []byte) error                   { return errReadOnly }
func (t *readTxn) Pop(key []byte) ([]byte, error)            { return nil, errReadOnly }

func (t *readTxn) Iter(start []byte, reverse bool) engine.Iterator {
	it := t.snap.NewIterator(nil, nil)
	return newIter(it, start, reverse)
}

func (t *readTxn) Abort() error  { t.snap.Release(); return nil }
func (t *readTxn) Commit() error { t.snap.Release(); return nil }

// writeTxn wraps a goleveldb Transaction, which already provides the
// exclusive, all-or-nothing semantics engine.Txn needs for write mode.
type writeTxn struct {
	tr *leveldb.Transaction
}

func (t *writeTxn) Get(key []byte) ([]byte, error) {
	v, err := t.tr.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, engine.ErrNotFound
	}
	return v, err
}

func (t *writeTxn) Put(key, value []byte) error { return t.tr.Put(key, value, nil) }

func (t *writeTxn) Replace(key, value []byte) ([]byte, error) {
	old, err := t.Get(key)
	if err != nil && err != engine.ErrNotFound {
		return nil, err
	}
	if err := t.tr.Put(key, value, nil); err != nil {
		return nil, err
	}
	return old, nil
}

func (t *writeTxn) Delete(key []byte) error { return t.tr.Delete(key, nil) }

func (t *writeTxn) Pop(key []byte) ([]byte, error) {
	old, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	if err := t.tr.Delete(key, nil); err != nil {
		return nil, err
	}
	return old, nil
}

func (t *writeTxn) Iter(start []byte, reverse bool) engine.Iterator {
	it := t.tr.NewIterator(nil, nil)
	return newIter(it, start, reverse)
}

func (t *writeTxn) Abort() error  { t.tr.Discard(); return nil }
func (t *writeTxn) Commit() error { return t.tr.Commit() }

var errReadOnly = &engine.Error{Scheme: "leveldb", Op: "write", Err: errReadOnlyTxn{}}

type errReadOnlyTxn struct{}

func (errReadOnlyTxn) Error() string { return "leveldbkv: write attempted on a read-only transaction" }

type iter struct {
	it      iterator.Iterator
	reverse bool
	started bool
}

func newIter(it iterator.Iterator, start []byte, reverse bool) *iter {
	if !reverse {
		it.Seek(start)
		return &iter{it: it, reverse: false, started: true}
	}
	if start == nil {
		it.Last()
	} else if it.Seek(start) {
		// Seek landed on the least key >= start; if it overshot start
		// (no exact match), back up to the greatest key <= start.
		if string(it.Key()) != string(start) {
			it.Prev()
		}
	} else {
		it.Last()
	}
	return &iter{it: it, reverse: true, started: true}
}

func (i *iter) Next() bool {
	if i.started {
		i.started = false
		return i.it.Valid()
	}
	if i.reverse {
		return i.it.Prev()
	}
	return i.it.Next()
}

func (i *iter) Key() []byte   { return i.it.Key() }
func (i *iter) Value() []byte { return i.it.Value() }
func (i *iter) Close() error  { i.it.Release(); return i.it.Error() }
