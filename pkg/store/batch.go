package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dw/acidkv/pkg/engine"
	"github.com/dw/acidkv/pkg/keycoder"
)

// BatchOption configures a Collection.Batch compaction pass.
type BatchOption func(*batchConfig)

type batchConfig struct {
	lo, hi       keycoder.Tuple
	hasLo, hasHi bool
	maxRecs      int
	maxBytes     int
	maxKeyLen    int
	preserve     bool
	packer       string
	maxPhys      int
	hasMaxPhys   bool
	grouper      func(record any) any
}

// WithBatchRange restricts compaction to [lo, hi], both closed bounds.
func WithBatchRange(lo, hi keycoder.Tuple) BatchOption {
	return func(c *batchConfig) { c.lo, c.hi, c.hasLo, c.hasHi = lo, hi, true, true }
}

// WithMaxRecs caps the number of members per batch.
func WithMaxRecs(n int) BatchOption { return func(c *batchConfig) { c.maxRecs = n } }

// WithMaxBytes caps the encoded size of a batch's physical value.
func WithMaxBytes(n int) BatchOption { return func(c *batchConfig) { c.maxBytes = n } }

// WithMaxKeyLen is declared by the original spec but never implemented by
// either historical source this module was distilled from; setting it
// makes Batch fail with ErrUnimplemented (spec.md §9, open question (a)).
func WithMaxKeyLen(n int) BatchOption { return func(c *batchConfig) { c.maxKeyLen = n } }

// WithoutPreserve lets Batch re-absorb already-batched physical records
// into new batches, instead of leaving them untouched (the default).
func WithoutPreserve() BatchOption { return func(c *batchConfig) { c.preserve = false } }

// WithBatchPacker selects the compressor used for newly written batches.
func WithBatchPacker(name string) BatchOption { return func(c *batchConfig) { c.packer = name } }

// WithBatchMaxPhys caps the number of physical records visited in one
// call, letting compaction make incremental progress across several
// transactions.
func WithBatchMaxPhys(n int) BatchOption {
	return func(c *batchConfig) { c.maxPhys, c.hasMaxPhys = n, true }
}

// WithGrouper flushes the current batch whenever its value changes between
// consecutive records, so that no batch spans more than one group.
func WithGrouper(fn func(record any) any) BatchOption {
	return func(c *batchConfig) { c.grouper = fn }
}

type batchItem struct {
	key keycoder.Tuple
	val []byte
}

// Batch compacts the records in [lo, hi] into one or more batch physical
// records, bounded by MaxRecs or MaxBytes (spec.md §4.F.4); when both are
// set, only MaxBytes is enforced. It returns
// the number of source records consumed, the number of batches written,
// and the key to resume from for a subsequent incremental call.
func (c *Collection) Batch(ctx context.Context, opts ...BatchOption) (found, made int, lastKey keycoder.Tuple, err error) {
	cfg := batchConfig{preserve: true, packer: "PLAIN"}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxKeyLen != 0 {
		return 0, 0, nil, ErrUnimplemented
	}
	if cfg.maxRecs == 0 && cfg.maxBytes == 0 {
		return 0, 0, nil, fmt.Errorf("store: batch: at least one of MaxRecs or MaxBytes must be set")
	}

	txn, err := txnFromCtx(ctx)
	if err != nil {
		return 0, 0, nil, err
	}
	packer, packerID, err := c.store.Compressor(cfg.packer)
	if err != nil {
		return 0, 0, nil, err
	}

	start := c.prefix
	if cfg.hasLo {
		packed, perr := packTuple(cfg.lo)
		if perr != nil {
			return 0, 0, nil, perr
		}
		start = append(append([]byte{}, c.prefix...), packed...)
	}
	var hiPacked []byte
	if cfg.hasHi {
		hiPacked, err = packTuple(cfg.hi)
		if err != nil {
			return 0, 0, nil, err
		}
	}

	it := txn.Iter(start, false)
	defer it.Close()

	var items []batchItem
	var groupVal any
	haveGroup := false

	flush := func() error {
		if len(items) == 0 {
			return nil
		}
		if err := c.writeBatch(txn, items, packer, packerID); err != nil {
			return err
		}
		made++
		items = items[:0]
		haveGroup = false
		return nil
	}

	phys := 0
	consider := func(key keycoder.Tuple, val []byte) error {
		found++
		lastKey = key

		if cfg.grouper != nil {
			gv := cfg.grouper(mustDecode(c, val))
			if haveGroup && !groupEqual(groupVal, gv) {
				if err := flush(); err != nil {
					return err
				}
			}
			groupVal = gv
			haveGroup = true
		}

		if cfg.maxBytes > 0 && len(items) == 0 && batchEncodedSize(packerID, packer, []batchItem{{key, val}}) > cfg.maxBytes {
			// The source physical record is already gone (consider is only
			// called after its deletion); re-persist it as its own singleton
			// rather than dropping it.
			return c.writeBatch(txn, []batchItem{{key: key, val: val}}, packer, packerID)
		}

		items = append(items, batchItem{key: key, val: val})

		if cfg.maxBytes > 0 {
			if batchEncodedSize(packerID, packer, items) > cfg.maxBytes {
				last := items[len(items)-1]
				items = items[:len(items)-1]
				if err := flush(); err != nil {
					return err
				}
				items = append(items, last)
				// flush cleared haveGroup; last still belongs to groupVal.
				haveGroup = cfg.grouper != nil
			}
			return nil
		}

		if cfg.maxRecs > 0 && len(items) >= cfg.maxRecs {
			return flush()
		}
		return nil
	}

loop:
	for it.Next() {
		if cfg.hasMaxPhys {
			if phys >= cfg.maxPhys {
				break
			}
			phys++
		}
		physKey := it.Key()
		if !bytes.HasPrefix(physKey, c.prefix) {
			break
		}
		if hiPacked != nil && bytes.Compare(physKey[len(c.prefix):], hiPacked) > 0 {
			break loop
		}

		tups, err := keycoder.Unpack(physKey, c.prefix)
		if err != nil {
			return found, made, lastKey, err
		}
		raw := it.Value()
		if len(raw) == 0 {
			return found, made, lastKey, fmt.Errorf("store: batch: empty physical value")
		}

		if len(tups) > 1 {
			if cfg.preserve {
				if err := flush(); err != nil {
					return found, made, lastKey, err
				}
				lastKey = tups[0]
				continue
			}
			offsets, dstart, err := keycoder.DecodeOffsets(raw)
			if err != nil {
				return found, made, lastKey, err
			}
			data, err := c.store.Decompress(raw[dstart], raw[dstart+1:])
			if err != nil {
				return found, made, lastKey, err
			}
			if err := txn.Delete(physKey); err != nil {
				return found, made, lastKey, err
			}
			// tups is [k1 highest .. km lowest]; offsets/data are in
			// ascending (ki lowest-first) order, so member i of tups
			// corresponds to slice len(tups)-1-i of the concatenation.
			n := len(tups)
			for i := n - 1; i >= 0; i-- {
				lo, hi := offsets[n-1-i], offsets[n-i]
				if err := consider(tups[i], append([]byte{}, data[lo:hi]...)); err != nil {
					return found, made, lastKey, err
				}
			}
			continue
		}

		payload, err := c.store.Decompress(raw[0], raw[1:])
		if err != nil {
			return found, made, lastKey, err
		}
		if err := txn.Delete(physKey); err != nil {
			return found, made, lastKey, err
		}
		if err := consider(tups[0], payload); err != nil {
			return found, made, lastKey, err
		}
	}
	if err := flush(); err != nil {
		return found, made, lastKey, err
	}
	return found, made, lastKey, nil
}

func mustDecode(c *Collection, payload []byte) any {
	v, err := c.decode(payload)
	if err != nil {
		return nil
	}
	return v
}

func groupEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// batchEncodedSize computes the physical value size a flush of items
// would produce, used to enforce MaxBytes. It compresses the full
// concatenation on every call.
func batchEncodedSize(packerID byte, packer Compressor, items []batchItem) int {
	var concat []byte
	lens := make([]int, len(items))
	for i, it := range items {
		lens[i] = len(it.val)
		concat = append(concat, it.val...)
	}
	compressed := packer.Compress(concat)
	if len(items) == 1 {
		return 1 + len(compressed)
	}
	header := keycoder.EncodeOffsets(nil, lens)
	return len(header) + 1 + len(compressed)
}

// writeBatch writes items (accumulated in ascending key order) as a
// single physical record: a singleton if len(items) == 1, otherwise the
// varint-length-table batch format of spec.md §6.3.
func (c *Collection) writeBatch(txn engine.Txn, items []batchItem, packer Compressor, packerID byte) error {
	if len(items) == 1 {
		physKey, err := c.physKey(items[0].key)
		if err != nil {
			return err
		}
		value := append([]byte{packerID}, packer.Compress(items[0].val)...)
		return txn.Put(physKey, value)
	}

	descKeys := make([]keycoder.Tuple, len(items))
	lens := make([]int, len(items))
	var concat []byte
	for i, it := range items {
		descKeys[len(items)-1-i] = it.key
		lens[i] = len(it.val)
		concat = append(concat, it.val...)
	}
	physKey := append(append([]byte{}, c.prefix...), mustPackTuples(descKeys)...)
	value := keycoder.EncodeOffsets(nil, lens)
	value = append(value, packerID)
	value = append(value, packer.Compress(concat)...)
	return txn.Put(physKey, value)
}
