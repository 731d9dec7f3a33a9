package store

import (
	"github.com/dw/acidkv/pkg/iterator"
	"github.com/dw/acidkv/pkg/keycoder"
)

// Cursor is a record-level view over a Collection.Items query, decoding
// each physical hit through the collection's encoder on demand.
type Cursor struct {
	inner *iterator.BatchCursor
	coll  *Collection
}

// Next advances the cursor. It must be called before the first Key/Value.
func (c *Cursor) Next() bool { return c.inner.Next() }

// Key decodes the current element's logical key.
func (c *Cursor) Key() (keycoder.Tuple, error) {
	tups, err := keycoder.Unpack(c.inner.Key(), nil)
	if err != nil {
		return nil, err
	}
	return tups[0], nil
}

// Value decodes the current element's record through the collection's
// encoder.
func (c *Cursor) Value() (any, error) {
	return c.coll.decode(c.inner.Value())
}

// Err returns the first error encountered during iteration.
func (c *Cursor) Err() error { return c.inner.Err() }

// Close releases the cursor's underlying engine iterator.
func (c *Cursor) Close() error { return c.inner.Close() }
