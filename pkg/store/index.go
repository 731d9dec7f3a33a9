package store

import (
	"context"
	"fmt"
	"log"

	"github.com/dw/acidkv/pkg/iterator"
	"github.com/dw/acidkv/pkg/keycoder"
)

// Index is a secondary key space over one Collection: an engine key
// `index.prefix ++ pack([tuple, recordKey])` with an empty value, one per
// (tuple, record) pair yielded by its IndexFunc (spec.md §3 "Index").
//
// Index entries are never compressed or batched — there is exactly one
// physical key per logical entry, and Collection.Batch never touches an
// index's key range — so queries use pkg/iterator's plain RangeIterator
// (spec.md §4.C) rather than the BatchIterator spec.md §4.G literally
// names; see DESIGN.md for why that substitution is exact for this
// key space.
type Index struct {
	store  *Store
	coll   *Collection
	name   string
	id     uint64
	prefix []byte
	fn     IndexFunc
}

// Name returns the index's name, scoped to its owning collection.
func (idx *Index) Name() string { return idx.name }

// ID returns the index's numeric id.
func (idx *Index) ID() uint64 { return idx.id }

func (idx *Index) entryKey(tuple, recordKey keycoder.Tuple) ([]byte, error) {
	packed, err := keycoder.Pack([]keycoder.Tuple{tuple, recordKey}, nil)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, idx.prefix...), packed...), nil
}

// IndexCursor walks (tuple, recordKey) pairs in an index's key space.
type IndexCursor struct {
	inner *iterator.Cursor
}

// Next advances the cursor.
func (c *IndexCursor) Next() bool { return c.inner.Next() }

// Tuple decodes the current entry's index tuple and owning record key.
func (c *IndexCursor) Tuple() (tuple, recordKey keycoder.Tuple, err error) {
	tups, err := keycoder.Unpack(c.inner.Key(), nil)
	if err != nil {
		return nil, nil, err
	}
	if len(tups) != 2 {
		return nil, nil, fmt.Errorf("store: index entry key decoded to %d tuples, want 2", len(tups))
	}
	return tups[0], tups[1], nil
}

// Err returns the underlying iterator.Cursor's Err, which is always nil;
// engine iterator errors are returned by Close.
func (c *IndexCursor) Err() error { return c.inner.Err() }

// Close releases the cursor's underlying engine iterator.
func (c *IndexCursor) Close() error { return c.inner.Close() }

func buildRangeIterator(prefix []byte, q *queryConfig) (*iterator.RangeIterator, error) {
	ri := iterator.New(prefix)
	switch {
	case q.hasExact:
		packed, err := packTuple(q.exact)
		if err != nil {
			return nil, err
		}
		ri.SetExact(packed)
	default:
		if q.hasPrefix {
			packed, err := packTuple(q.prefix)
			if err != nil {
				return nil, err
			}
			ri.SetPrefix(packed)
		}
		if q.hasLo {
			packed, err := packTuple(q.lo)
			if err != nil {
				return nil, err
			}
			ri.SetLo(packed, q.loClosed)
		}
		if q.hasHi {
			packed, err := packTuple(q.hi)
			if err != nil {
				return nil, err
			}
			ri.SetHi(packed, q.hiClosed)
		}
	}
	if q.hasMax {
		ri.SetMax(q.max)
	}
	return ri, nil
}

// Pairs returns a cursor over (tuple, recordKey) entries matching opts.
func (idx *Index) Pairs(ctx context.Context, opts ...QueryOption) (*IndexCursor, error) {
	txn, err := txnFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	q := newQuery(opts)
	ri, err := buildRangeIterator(idx.prefix, q)
	if err != nil {
		return nil, err
	}
	var cur *iterator.Cursor
	if q.reverse {
		cur = ri.Reverse(txn)
	} else {
		cur = ri.Forward(txn)
	}
	return &IndexCursor{inner: cur}, nil
}

// Tups returns only the index tuple of every matching entry.
func (idx *Index) Tups(ctx context.Context, opts ...QueryOption) ([]keycoder.Tuple, error) {
	cur, err := idx.Pairs(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var out []keycoder.Tuple
	for cur.Next() {
		t, _, err := cur.Tuple()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, cur.Err()
}

// Keys returns only the owning record key of every matching entry.
func (idx *Index) Keys(ctx context.Context, opts ...QueryOption) ([]keycoder.Tuple, error) {
	cur, err := idx.Pairs(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var out []keycoder.Tuple
	for cur.Next() {
		_, rk, err := cur.Tuple()
		if err != nil {
			return nil, err
		}
		out = append(out, rk)
	}
	return out, cur.Err()
}

// staleMarker is an identity-comparable sentinel default value used by
// Items to distinguish "record genuinely absent" from any record value a
// caller might legitimately store (including nil).
var staleMarker = &struct{}{}

// StaleIndexFunc is invoked by Items when an index entry's record cannot
// be found by the owning collection; it never aborts iteration (spec.md
// §7 "Stale index entries... non-fatal warning").
type StaleIndexFunc func(idx *Index, tuple, recordKey keycoder.Tuple)

// Items yields (recordKey, value) pairs by looking up each matching
// entry's record in the owning collection. A stale entry (no such record)
// is skipped after invoking onStale, if non-nil.
func (idx *Index) Items(ctx context.Context, onStale StaleIndexFunc, opts ...QueryOption) ([]keycoder.Tuple, []any, error) {
	cur, err := idx.Pairs(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer cur.Close()

	var keys []keycoder.Tuple
	var vals []any
	for cur.Next() {
		tuple, recordKey, err := cur.Tuple()
		if err != nil {
			return nil, nil, err
		}
		val, err := idx.coll.Get(ctx, recordKey, staleMarker)
		if err != nil {
			return nil, nil, err
		}
		if val == any(staleMarker) {
			if onStale != nil {
				onStale(idx, tuple, recordKey)
			} else {
				log.Printf("store: stale index entry: %s.%s tuple=%v record=%v", idx.coll.name, idx.name, tuple, recordKey)
			}
			continue
		}
		keys = append(keys, recordKey)
		vals = append(vals, val)
	}
	return keys, vals, cur.Err()
}

// Values is Items without the record keys.
func (idx *Index) Values(ctx context.Context, onStale StaleIndexFunc, opts ...QueryOption) ([]any, error) {
	_, vals, err := idx.Items(ctx, onStale, opts...)
	return vals, err
}

// Find returns the first matching entry's record key and value.
func (idx *Index) Find(ctx context.Context, onStale StaleIndexFunc, opts ...QueryOption) (keycoder.Tuple, any, bool, error) {
	keys, vals, err := idx.Items(ctx, onStale, append(opts, WithMax(1))...)
	if err != nil || len(keys) == 0 {
		return nil, nil, false, err
	}
	return keys[0], vals[0], true, nil
}

// Has reports whether any entry matches opts.
func (idx *Index) Has(ctx context.Context, opts ...QueryOption) (bool, error) {
	cur, err := idx.Pairs(ctx, append(opts, WithMax(1))...)
	if err != nil {
		return false, err
	}
	defer cur.Close()
	found := cur.Next()
	return found, cur.Err()
}

// Count returns the number of entries matching opts, materialising
// nothing beyond the key comparisons themselves.
func (idx *Index) Count(ctx context.Context, opts ...QueryOption) (int, error) {
	cur, err := idx.Pairs(ctx, opts...)
	if err != nil {
		return 0, err
	}
	defer cur.Close()
	n := 0
	for cur.Next() {
		n++
	}
	return n, cur.Err()
}

// Get is the common case of Find: given an exact index tuple, return the
// first matching record's key and value.
func (idx *Index) Get(ctx context.Context, tuple keycoder.Tuple, onStale StaleIndexFunc) (keycoder.Tuple, any, bool, error) {
	return idx.Find(ctx, onStale, WithPrefix(tuple))
}
