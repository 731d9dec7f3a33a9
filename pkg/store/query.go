package store

import (
	"github.com/dw/acidkv/pkg/iterator"
	"github.com/dw/acidkv/pkg/keycoder"
)

// QueryOption configures a Collection.Items or Index query, mirroring the
// shared (args | (lo, hi), prefix, reverse, max, include) surface of
// spec.md §4.G.
type QueryOption func(*queryConfig)

type queryConfig struct {
	lo, hi         keycoder.Tuple
	hasLo, hasHi   bool
	loClosed       bool
	hiClosed       bool
	prefix         keycoder.Tuple
	hasPrefix      bool
	exact          keycoder.Tuple
	hasExact       bool
	max, maxPhys   int
	hasMax         bool
	hasMaxPhys     bool
	reverse        bool
}

func newQuery(opts []QueryOption) *queryConfig {
	q := &queryConfig{}
	for _, o := range opts {
		o(q)
	}
	return q
}

// WithLo sets the query's lower bound.
func WithLo(t keycoder.Tuple, closed bool) QueryOption {
	return func(q *queryConfig) { q.lo, q.loClosed, q.hasLo = t, closed, true }
}

// WithHi sets the query's upper bound. closed=false makes the range
// half-open on hi, matching spec.md §4.G's default.
func WithHi(t keycoder.Tuple, closed bool) QueryOption {
	return func(q *queryConfig) { q.hi, q.hiClosed, q.hasHi = t, closed, true }
}

// WithPrefix restricts the query to tuples whose packed form starts with
// t's packed form.
func WithPrefix(t keycoder.Tuple) QueryOption {
	return func(q *queryConfig) { q.prefix, q.hasPrefix = t, true }
}

// WithExact restricts the query to the single tuple t (lo == hi == t, both
// closed) — the shortcut form for an exact-match query.
func WithExact(t keycoder.Tuple) QueryOption {
	return func(q *queryConfig) { q.exact, q.hasExact = t, true }
}

// WithMax caps the number of logical elements yielded.
func WithMax(n int) QueryOption {
	return func(q *queryConfig) { q.max, q.hasMax = n, true }
}

// WithMaxPhys caps the number of physical records visited.
func WithMaxPhys(n int) QueryOption {
	return func(q *queryConfig) { q.maxPhys, q.hasMaxPhys = n, true }
}

// WithReverse walks the query in descending key order.
func WithReverse() QueryOption {
	return func(q *queryConfig) { q.reverse = true }
}

func packTuple(t keycoder.Tuple) ([]byte, error) {
	return keycoder.Pack([]keycoder.Tuple{t}, nil)
}

func buildBatchIterator(prefix []byte, q *queryConfig) (*iterator.BatchIterator, error) {
	bi := iterator.NewBatch(prefix)
	switch {
	case q.hasExact:
		packed, err := packTuple(q.exact)
		if err != nil {
			return nil, err
		}
		bi.SetExact(packed)
	default:
		if q.hasPrefix {
			packed, err := packTuple(q.prefix)
			if err != nil {
				return nil, err
			}
			bi.SetPrefix(packed)
		}
		if q.hasLo {
			packed, err := packTuple(q.lo)
			if err != nil {
				return nil, err
			}
			bi.SetLo(packed, q.loClosed)
		}
		if q.hasHi {
			packed, err := packTuple(q.hi)
			if err != nil {
				return nil, err
			}
			bi.SetHi(packed, q.hiClosed)
		}
	}
	if q.hasMax {
		bi.SetMax(q.max)
	}
	if q.hasMaxPhys {
		bi.SetMaxPhys(q.maxPhys)
	}
	return bi, nil
}
