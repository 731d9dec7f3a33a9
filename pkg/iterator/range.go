// Package iterator implements bidirectional, bounded traversal of a
// contiguous key range under a fixed collection/index prefix, and decoding
// of the compressed multi-record physical value format used to amortise
// per-key overhead (see pkg/store's batching).
package iterator

import (
	"bytes"

	"github.com/dw/acidkv/pkg/engine"
	"github.com/dw/acidkv/pkg/keycoder"
)

type bound struct {
	key    []byte
	closed bool
	set    bool
}

// loHolds reports whether k (a prefix-stripped key) satisfies the lower
// bound: k >= lo.key if closed, k > lo.key if open. An unset bound always
// holds.
func (b bound) loHolds(k []byte) bool {
	if !b.set {
		return true
	}
	c := bytes.Compare(b.key, k)
	if b.closed {
		return c <= 0
	}
	return c < 0
}

// hiHolds reports whether k satisfies the upper bound: k <= hi.key if
// closed, k < hi.key if open. An unset bound always holds.
func (b bound) hiHolds(k []byte) bool {
	if !b.set {
		return true
	}
	c := bytes.Compare(k, b.key)
	if b.closed {
		return c <= 0
	}
	return c < 0
}

// RangeIterator describes a bounded scan over one collection or index
// prefix. It holds no engine state itself; Forward and Reverse each open a
// fresh Cursor against a Txn.
type RangeIterator struct {
	prefix []byte
	lo, hi bound
	max    int
	hasMax bool
}

// New returns a RangeIterator scoped to the given physical key prefix
// (e.g. a collection or index's id prefix), with no bounds set.
func New(prefix []byte) *RangeIterator {
	return &RangeIterator{prefix: prefix}
}

// SetLo sets the lower bound to key (a packed, prefix-stripped key).
func (r *RangeIterator) SetLo(key []byte, closed bool) {
	r.lo = bound{key: key, closed: closed, set: true}
}

// SetHi sets the upper bound to key.
func (r *RangeIterator) SetHi(key []byte, closed bool) {
	r.hi = bound{key: key, closed: closed, set: true}
}

// SetPrefix restricts iteration to keys whose packed encoding itself starts
// with key: lower bound closed at key, upper bound open at
// keycoder.NextGreater(key) (omitted if key is all 0xff bytes).
func (r *RangeIterator) SetPrefix(key []byte) {
	r.SetLo(key, true)
	if pbound := keycoder.NextGreater(key); pbound != nil {
		r.SetHi(pbound, false)
	} else {
		r.hi = bound{}
	}
}

// SetExact restricts iteration to the single key, if present.
func (r *RangeIterator) SetExact(key []byte) {
	r.SetLo(key, true)
	r.SetHi(key, true)
}

// SetMax caps the number of logical elements yielded.
func (r *RangeIterator) SetMax(n int) {
	r.max = n
	r.hasMax = true
}

// Cursor is a single-pass, reused-buffer view over one traversal. Key and
// Value are only valid between a Next call returning true and the
// following call to Next; callers that retain results must copy them.
type Cursor struct {
	it      engine.Iterator
	prefix  []byte
	within  func([]byte) bool
	reverse bool

	remain int
	hasMax bool

	key   []byte
	value []byte

	first bool
	ready bool
	done  bool
	err   error
}

func (c *Cursor) fetch() bool {
	if !c.it.Next() {
		c.ready = false
		return false
	}
	k := c.it.Key()
	if !bytes.HasPrefix(k, c.prefix) {
		c.ready = false
		return false
	}
	c.key = k[len(c.prefix):]
	c.value = c.it.Value()
	c.ready = true
	return true
}

// Next advances the cursor and reports whether a valid element is now
// available via Key/Value.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	if c.first {
		c.first = false
	} else if !c.fetch() {
		c.done = true
		return false
	}
	if !c.ready {
		c.done = true
		return false
	}
	if c.hasMax {
		if c.remain <= 0 {
			c.done = true
			return false
		}
		c.remain--
	}
	if !c.within(c.key) {
		c.done = true
		return false
	}
	return true
}

// Key returns the current element's packed key, with the RangeIterator's
// prefix stripped.
func (c *Cursor) Key() []byte { return c.key }

// Value returns the current element's raw physical value.
func (c *Cursor) Value() []byte { return c.value }

// Err always returns nil: a Cursor records no error of its own, and errors
// from the underlying engine iterator are returned by Close.
func (c *Cursor) Err() error { return c.err }

// Close releases the underlying engine iterator.
func (c *Cursor) Close() error { return c.it.Close() }

// Forward opens a Cursor yielding elements in ascending key order.
func (r *RangeIterator) Forward(txn engine.Txn) *Cursor {
	start := r.prefix
	if r.lo.set {
		start = append(append([]byte{}, r.prefix...), r.lo.key...)
	}
	c := &Cursor{
		it:     txn.Iter(start, false),
		prefix: r.prefix,
		within: r.hi.hiHolds,
		remain: r.max,
		hasMax: r.hasMax,
		first:  true,
	}
	if c.fetch() && r.lo.set && !r.lo.loHolds(c.key) {
		c.fetch()
	}
	return c
}

// Reverse opens a Cursor yielding elements in descending key order.
func (r *RangeIterator) Reverse(txn engine.Txn) *Cursor {
	var start []byte
	if r.hi.set {
		start = append(append([]byte{}, r.prefix...), r.hi.key...)
	} else if pb := keycoder.NextGreater(r.prefix); pb != nil {
		start = pb
	} else {
		start = r.prefix
	}
	c := &Cursor{
		it:      txn.Iter(start, true),
		prefix:  r.prefix,
		within:  r.lo.loHolds,
		remain:  r.max,
		hasMax:  r.hasMax,
		first:   true,
		reverse: true,
	}
	// The seek may have landed one past the end of our range; the first
	// result is then outside the collection prefix entirely and is
	// discarded, after which a second fetch is required to reach the
	// actual first element.
	if !c.fetch() {
		c.fetch()
	}
	if c.ready && r.hi.set && !r.hi.hiHolds(c.key) {
		c.fetch()
	}
	return c
}
