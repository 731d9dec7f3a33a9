package iterator

import (
	"bytes"

	"github.com/dw/acidkv/pkg/engine"
	"github.com/dw/acidkv/pkg/keycoder"
)

// Decompressor resolves a compressor id byte (as embedded in a physical
// value's header) to the function that reverses it. pkg/store's compressor
// registry satisfies this.
type Decompressor interface {
	Decompress(id byte, data []byte) ([]byte, error)
}

// BatchIterator has the same bound surface as RangeIterator, but treats a
// physical record whose key unpacks to more than one tuple as a compressed
// batch of logical records (see pkg/store's batching), transparently
// exploding it member by member.
type BatchIterator struct {
	RangeIterator
	maxPhys    int
	hasMaxPhys bool
}

// NewBatch returns a BatchIterator scoped to prefix, with no bounds set.
func NewBatch(prefix []byte) *BatchIterator {
	return &BatchIterator{RangeIterator: *New(prefix)}
}

// SetMaxPhys caps the number of physical engine records visited, as
// opposed to SetMax which caps logical elements yielded. Used to bound the
// work done by an incremental compaction pass.
func (b *BatchIterator) SetMaxPhys(n int) {
	b.maxPhys = n
	b.hasMaxPhys = true
}

// BatchCursor is the Decompressor-aware analogue of Cursor, additionally
// exposing BatchItems for the current physical record.
type BatchCursor struct {
	it      engine.Iterator
	prefix  []byte
	decomp  Decompressor
	within  func([]byte) bool
	reverse bool

	remain int
	hasMax bool

	maxPhys    int
	hasMaxPhys bool

	keys    []keycoder.Tuple
	concat  []byte
	offsets []int
	index   int

	key   []byte
	value []byte

	first bool
	ready bool
	done  bool
	err   error
}

// physFetch loads the next physical record (key list + decompressed
// concatenation, or a single record) into the cursor, per spec.md's state
// machine: fetch, decide shape, explode.
func (c *BatchCursor) physFetch() bool {
	if c.hasMaxPhys {
		if c.maxPhys <= 0 {
			return false
		}
		c.maxPhys--
	}
	if !c.it.Next() {
		return false
	}
	physKey := c.it.Key()
	if !bytes.HasPrefix(physKey, c.prefix) {
		return false
	}
	tups, err := keycoder.Unpack(physKey, c.prefix)
	if err != nil {
		c.err = err
		return false
	}
	c.keys = tups

	raw := c.it.Value()
	if len(raw) == 0 {
		c.err = errShortPhysValue
		return false
	}
	if len(tups) == 1 {
		data, err := c.decomp.Decompress(raw[0], raw[1:])
		if err != nil {
			c.err = err
			return false
		}
		c.concat = data
		c.offsets = []int{0, len(data)}
		c.index = 1
		return true
	}

	offsets, dstart, err := keycoder.DecodeOffsets(raw)
	if err != nil {
		c.err = err
		return false
	}
	if dstart >= len(raw) {
		c.err = errShortPhysValue
		return false
	}
	data, err := c.decomp.Decompress(raw[dstart], raw[dstart+1:])
	if err != nil {
		c.err = err
		return false
	}
	c.offsets = offsets
	c.concat = data
	c.index = len(tups)
	return true
}

// step emits the next member of the current batch, fetching a new
// physical record first if the current one is exhausted.
func (c *BatchCursor) step() bool {
	if c.index == 0 {
		if !c.physFetch() {
			return false
		}
	}
	c.index--
	var idx int
	if c.reverse {
		idx = c.index
	} else {
		idx = (len(c.keys) - c.index) - 1
	}
	start, stop := c.offsets[idx], c.offsets[idx+1]
	// keys[0] is the highest logical key in the batch (k1); member idx
	// (0-based from the low end) corresponds to keys[len-1-idx].
	keyTup := c.keys[len(c.keys)-1-idx]
	packed, err := keycoder.Pack([]keycoder.Tuple{keyTup}, nil)
	if err != nil {
		c.err = err
		return false
	}
	c.key = packed
	c.value = c.concat[start:stop]
	return true
}

// Next advances the cursor. See Cursor.Next.
func (c *BatchCursor) Next() bool {
	if c.done {
		return false
	}
	var ok bool
	if c.first {
		c.first = false
		ok = c.ready
	} else {
		ok = c.step()
	}
	if !ok || c.err != nil {
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

func (c *BatchCursor) Key() []byte   { return c.key }
func (c *BatchCursor) Value() []byte { return c.value }
func (c *BatchCursor) Err() error    { return c.err }
func (c *BatchCursor) Close() error  { return c.it.Close() }

// BatchItems yields (key, value) for every member of the physical record
// the cursor is currently positioned within, without advancing the outer
// cursor. Used to implement the batch-split protocol.
func (c *BatchCursor) BatchItems() ([]keycoder.Tuple, [][]byte) {
	n := len(c.keys)
	vals := make([][]byte, n)
	for idx := 0; idx < n; idx++ {
		start, stop := c.offsets[idx], c.offsets[idx+1]
		vals[n-1-idx] = c.concat[start:stop]
	}
	keys := make([]keycoder.Tuple, n)
	copy(keys, c.keys)
	return keys, vals
}

// Forward opens a BatchCursor yielding members in ascending key order.
func (b *BatchIterator) Forward(txn engine.Txn, decomp Decompressor) *BatchCursor {
	start := b.prefix
	if b.lo.set {
		start = append(append([]byte{}, b.prefix...), b.lo.key...)
	}
	c := &BatchCursor{
		it:         txn.Iter(start, false),
		prefix:     b.prefix,
		decomp:     decomp,
		within:     b.hi.hiHolds,
		remain:     b.max,
		hasMax:     b.hasMax,
		maxPhys:    b.maxPhys,
		hasMaxPhys: b.hasMaxPhys,
		first:      true,
	}
	ok := c.step()
	for ok && b.lo.set && !b.lo.loHolds(c.key) {
		ok = c.step()
	}
	c.ready = ok
	return c
}

// Reverse opens a BatchCursor yielding members in descending key order.
func (b *BatchIterator) Reverse(txn engine.Txn, decomp Decompressor) *BatchCursor {
	var start []byte
	if b.hi.set {
		start = append(append([]byte{}, b.prefix...), b.hi.key...)
	} else if pb := keycoder.NextGreater(b.prefix); pb != nil {
		start = pb
	} else {
		start = b.prefix
	}
	c := &BatchCursor{
		it:         txn.Iter(start, true),
		prefix:     b.prefix,
		decomp:     decomp,
		within:     b.lo.loHolds,
		remain:     b.max,
		hasMax:     b.hasMax,
		maxPhys:    b.maxPhys,
		hasMaxPhys: b.hasMaxPhys,
		first:      true,
		reverse:    true,
	}
	ok := c.step()
	if !ok {
		ok = c.step()
	}
	if ok && b.hi.set && !b.hi.hiHolds(c.key) {
		ok = c.step()
	}
	c.ready = ok
	return c
}
