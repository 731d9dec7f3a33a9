// Package memkv implements an in-process engine.Engine backed by a plain
// sorted slice, for tests and development. It is the Go analogue of
// pkg/sorted's in-memory ListEngine/skiplist backends: adequate for
// correctness, not for production throughput.
package memkv

import (
	"bytes"
	"errors"
	"net/url"
	"sort"
	"sync"

	"github.com/dw/acidkv/pkg/engine"
)

func init() {
	engine.Register("mem", func(_ *url.URL, _ map[string]string) (engine.Engine, error) {
		return New(), nil
	})
}

// ErrReadOnly is returned by mutating Txn methods on a transaction opened
// with write == false.
var ErrReadOnly = errors.New("memkv: read-only transaction")

type record struct {
	key, value []byte
}

// Engine is an in-memory, single-process engine.Engine.
type Engine struct {
	mu   sync.Mutex
	wmu  sync.Mutex
	data []record
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) Begin(write bool) (engine.Txn, error) {
	if write {
		e.wmu.Lock()
	}
	e.mu.Lock()
	snap := make([]record, len(e.data))
	copy(snap, e.data)
	e.mu.Unlock()
	return &txn{eng: e, write: write, data: snap}, nil
}

func (e *Engine) Close() error { return nil }

type txn struct {
	eng   *Engine
	write bool
	data  []record
}

func (t *txn) find(key []byte) (int, bool) {
	i := sort.Search(len(t.data), func(i int) bool {
		return bytes.Compare(t.data[i].key, key) >= 0
	})
	return i, i < len(t.data) && bytes.Equal(t.data[i].key, key)
}

func (t *txn) Get(key []byte) ([]byte, error) {
	i, ok := t.find(key)
	if !ok {
		return nil, engine.ErrNotFound
	}
	return append([]byte{}, t.data[i].value...), nil
}

func (t *txn) Put(key, value []byte) error {
	if !t.write {
		return ErrReadOnly
	}
	key, value = append([]byte{}, key...), append([]byte{}, value...)
	i, ok := t.find(key)
	if ok {
		t.data[i].value = value
		return nil
	}
	// Build a new slice rather than shifting in place, so iterators opened
	// earlier in this transaction keep walking the array they started on.
	data := make([]record, 0, len(t.data)+1)
	data = append(data, t.data[:i]...)
	data = append(data, record{key: key, value: value})
	t.data = append(data, t.data[i:]...)
	return nil
}

func (t *txn) Replace(key, value []byte) ([]byte, error) {
	if !t.write {
		return nil, ErrReadOnly
	}
	i, ok := t.find(key)
	var old []byte
	if ok {
		old = append([]byte{}, t.data[i].value...)
	}
	if err := t.Put(key, value); err != nil {
		return nil, err
	}
	return old, nil
}

func (t *txn) Delete(key []byte) error {
	if !t.write {
		return ErrReadOnly
	}
	i, ok := t.find(key)
	if !ok {
		return nil
	}
	t.data = append(t.data[:i:i], t.data[i+1:]...)
	return nil
}

func (t *txn) Pop(key []byte) ([]byte, error) {
	if !t.write {
		return nil, ErrReadOnly
	}
	i, ok := t.find(key)
	if !ok {
		return nil, engine.ErrNotFound
	}
	v := t.data[i].value
	t.data = append(t.data[:i:i], t.data[i+1:]...)
	return v, nil
}

func (t *txn) Iter(start []byte, reverse bool) engine.Iterator {
	i, exact := t.find(start)
	if !reverse {
		return &iter{data: t.data, pos: i - 1, reverse: false}
	}
	if !exact {
		i--
	}
	return &iter{data: t.data, pos: i + 1, reverse: true}
}

func (t *txn) Abort() error {
	if t.write {
		t.eng.wmu.Unlock()
	}
	return nil
}

func (t *txn) Commit() error {
	t.eng.mu.Lock()
	if t.write {
		t.eng.data = t.data
	}
	t.eng.mu.Unlock()
	if t.write {
		t.eng.wmu.Unlock()
	}
	return nil
}

type iter struct {
	data    []record
	pos     int
	reverse bool
}

func (it *iter) Next() bool {
	if it.reverse {
		it.pos--
		return it.pos >= 0
	}
	it.pos++
	return it.pos < len(it.data)
}

func (it *iter) Key() []byte   { return it.data[it.pos].key }
func (it *iter) Value() []byte { return it.data[it.pos].value }
func (it *iter) Close() error  { return nil }
