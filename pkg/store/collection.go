package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dw/acidkv/pkg/engine"
	"github.com/dw/acidkv/pkg/iterator"
	"github.com/dw/acidkv/pkg/keycoder"
)

// KeyFunc maps a record to its logical key. The default, installed when
// CollectionOptions.KeyFunc is nil, assigns (count(counterName),) per
// record — "blind" because the counter never repeats a value (spec.md
// §4.F.1).
type KeyFunc func(ctx context.Context, record any) (keycoder.Tuple, error)

// IndexFunc computes the zero or more index tuples a record contributes
// to one Index (spec.md §3 "Index").
type IndexFunc func(record any) ([]keycoder.Tuple, error)

// Collection is a named, CRUD-able set of logical records sharing one
// value encoder and key function, plus zero or more secondary Indexes
// (spec.md §3 "Collection", §4.F).
type Collection struct {
	store   *Store
	name    string
	id      uint64
	prefix  []byte
	encoder Encoder
	keyFunc KeyFunc
	blind   bool

	counterName string
	indexes     map[string]*Index
}

func (s *Store) defaultKeyFunc(counterName string) KeyFunc {
	return func(ctx context.Context, _ any) (keycoder.Tuple, error) {
		n, err := s.Count(ctx, counterName, 1, 1)
		if err != nil {
			return nil, err
		}
		return keycoder.Tuple{n}, nil
	}
}

func (c *Collection) checkOptions(opts CollectionOptions) error {
	if opts.Blind != c.blind {
		return &ConfigError{Kind: "collection", Name: c.name, Attr: "blind", Got: opts.Blind, Want: c.blind}
	}
	return nil
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// ID returns the collection's numeric id.
func (c *Collection) ID() uint64 { return c.id }

// SetBlind toggles the collection's blind-write flag. Setting it to true
// on a collection with existing indexes is refused with ErrConstraint: the
// historical implementations this is distilled from allow it (leaving a
// code comment warning it "will lead to inconsistent indices"); this
// module makes that an explicit, recoverable error instead (spec.md §9,
// open question (b)).
func (c *Collection) SetBlind(ctx context.Context, blind bool) error {
	if blind && len(c.indexes) > 0 {
		return fmt.Errorf("%w: collection %q has %d indexes; rebuild them before enabling blind writes",
			ErrConstraint, c.name, len(c.indexes))
	}
	txn, err := txnFromCtx(ctx)
	if err != nil {
		return err
	}
	if err := c.store.metaPut(txn, keycoder.Tuple{kindTable, c.name, "blind", blind}); err != nil {
		return err
	}
	c.blind = blind
	return nil
}

func (c *Collection) decode(payload []byte) (any, error) {
	return c.encoder.Unpack(payload)
}

func (c *Collection) physKey(key keycoder.Tuple) ([]byte, error) {
	packed, err := keycoder.Pack([]keycoder.Tuple{key}, nil)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, c.prefix...), packed...), nil
}

// AddIndex registers (or returns the already-registered) secondary index
// computing fn over this collection's records.
func (c *Collection) AddIndex(ctx context.Context, name string, fn IndexFunc) (*Index, error) {
	if idx, ok := c.indexes[name]; ok {
		return idx, nil
	}
	txn, err := txnFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	fullName := c.name + "." + name
	row, found, err := c.store.metaGet(txn, kindIndex, fullName, "id")
	if err != nil {
		return nil, err
	}
	var id uint64
	if found {
		v, ok := row[3].(int64)
		if !ok {
			return nil, fmt.Errorf("store: index %q: stored id is %T, want int64", fullName, row[3])
		}
		id = uint64(v)
	} else {
		id, err = c.store.nextID(txn, "collection:id")
		if err != nil {
			return nil, err
		}
		if err := c.store.metaPut(txn, keycoder.Tuple{kindIndex, fullName, "id", int64(id)}); err != nil {
			return nil, err
		}
	}
	idx := &Index{
		store:  c.store,
		coll:   c,
		name:   name,
		id:     id,
		prefix: append(append([]byte{}, c.store.prefix...), keycoder.PackInt(id, nil)...),
		fn:     fn,
	}
	c.indexes[name] = idx
	return idx, nil
}

// Index returns the named index if already registered in this process.
func (c *Collection) Index(name string) (*Index, bool) {
	idx, ok := c.indexes[name]
	return idx, ok
}

// PutOption configures a single Put call.
type PutOption func(*putConfig)

type putConfig struct {
	key      keycoder.Tuple
	hasKey   bool
	packer   string
	blind    bool
}

// WithKey overrides the collection's key function for this call.
func WithKey(key keycoder.Tuple) PutOption {
	return func(c *putConfig) { c.key, c.hasKey = key, true }
}

// WithPacker selects the named built-in compressor for this physical
// write ("PLAIN", the default, "ZLIB", "LZ4", "S2" or "ZSTD").
func WithPacker(name string) PutOption {
	return func(c *putConfig) { c.packer = name }
}

// WithBlind skips index maintenance for this call, as though the
// collection's own blind flag were set.
func WithBlind() PutOption {
	return func(c *putConfig) { c.blind = true }
}

// Put writes record under its key (computed by the collection's KeyFunc
// unless overridden with WithKey), maintaining every registered index
// unless the call or the collection is blind (spec.md §4.F.1, §4.F.5).
func (c *Collection) Put(ctx context.Context, record any, opts ...PutOption) error {
	cfg := putConfig{packer: "PLAIN"}
	for _, o := range opts {
		o(&cfg)
	}
	txn, err := txnFromCtx(ctx)
	if err != nil {
		return err
	}

	key := cfg.key
	if !cfg.hasKey {
		key, err = c.keyFunc(ctx, record)
		if err != nil {
			return err
		}
	}

	blind := cfg.blind || c.blind
	hasIdx := len(c.indexes) > 0

	if hasIdx && !blind {
		prevPayload, found, err := c.splitBatch(txn, key)
		if err != nil {
			return err
		}
		if found {
			prevRecord, err := c.decode(prevPayload)
			if err != nil {
				return err
			}
			if err := c.removeIndexEntries(txn, prevRecord, key); err != nil {
				return err
			}
		}
	} else if _, _, err := c.splitBatch(txn, key); err != nil {
		return err
	}

	packer, packerID, err := c.store.Compressor(cfg.packer)
	if err != nil {
		return err
	}
	encoded, err := c.encoder.Pack(record)
	if err != nil {
		return err
	}
	value := append([]byte{packerID}, packer.Compress(encoded)...)

	if hasIdx && !blind {
		if err := c.writeIndexEntries(txn, record, key); err != nil {
			return err
		}
	}

	physKey, err := c.physKey(key)
	if err != nil {
		return err
	}
	return txn.Put(physKey, value)
}

func (c *Collection) writeIndexEntries(txn engine.Txn, record any, key keycoder.Tuple) error {
	for _, idx := range c.indexes {
		tups, err := idx.fn(record)
		if err != nil {
			return err
		}
		for _, t := range tups {
			ek, err := idx.entryKey(t, key)
			if err != nil {
				return err
			}
			if err := txn.Put(ek, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Collection) removeIndexEntries(txn engine.Txn, record any, key keycoder.Tuple) error {
	for _, idx := range c.indexes {
		tups, err := idx.fn(record)
		if err != nil {
			return err
		}
		for _, t := range tups {
			ek, err := idx.entryKey(t, key)
			if err != nil {
				return err
			}
			if err := txn.Delete(ek); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete removes the record at key, retiring any index entries it
// contributed. It is not an error for key to already be absent.
func (c *Collection) Delete(ctx context.Context, key keycoder.Tuple) error {
	txn, err := txnFromCtx(ctx)
	if err != nil {
		return err
	}
	prevPayload, found, err := c.splitBatch(txn, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if len(c.indexes) > 0 {
		record, err := c.decode(prevPayload)
		if err != nil {
			return err
		}
		if err := c.removeIndexEntries(txn, record, key); err != nil {
			return err
		}
	}
	physKey, err := c.physKey(key)
	if err != nil {
		return err
	}
	return txn.Delete(physKey)
}

// splitBatch locates the physical record containing key. If that record
// is a batch (more than one logical member), it is deleted and every
// member other than key is re-emitted as its own PLAIN singleton physical
// record (spec.md §4.F.4 "Split"). It returns key's own decompressed
// payload and true if key was found at all (whether in a batch or
// already a singleton); the caller is responsible for writing or deleting
// key's own singleton afterwards.
func (c *Collection) splitBatch(txn engine.Txn, key keycoder.Tuple) ([]byte, bool, error) {
	packedKey, err := keycoder.Pack([]keycoder.Tuple{key}, nil)
	if err != nil {
		return nil, false, err
	}
	bi := iterator.NewBatch(c.prefix)
	bi.SetLo(packedKey, true)
	bi.SetMax(1)
	cur := bi.Forward(txn, c.store)
	defer cur.Close()

	if !cur.Next() {
		return nil, false, cur.Err()
	}
	if !bytes.Equal(cur.Key(), packedKey) {
		return nil, false, nil
	}

	keys, vals := cur.BatchItems()
	if len(keys) == 1 {
		return append([]byte{}, cur.Value()...), true, nil
	}

	physKey := append(append([]byte{}, c.prefix...), mustPackTuples(keys)...)
	if err := txn.Delete(physKey); err != nil {
		return nil, false, err
	}

	var prev []byte
	for i, k := range keys {
		if tupleEqual(k, key) {
			prev = append([]byte{}, vals[i]...)
			continue
		}
		singleKey, err := c.physKey(k)
		if err != nil {
			return nil, false, err
		}
		singleValue := append([]byte{compressorPlainID}, vals[i]...)
		if err := txn.Put(singleKey, singleValue); err != nil {
			return nil, false, err
		}
	}
	return prev, true, nil
}

func mustPackTuples(tups []keycoder.Tuple) []byte {
	b, _ := keycoder.Pack(tups, nil)
	return b
}

func tupleEqual(a, b keycoder.Tuple) bool {
	pa, errA := keycoder.Pack([]keycoder.Tuple{a}, nil)
	pb, errB := keycoder.Pack([]keycoder.Tuple{b}, nil)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(pa, pb)
}

// Get returns the decoded record at key, or dflt if absent.
func (c *Collection) Get(ctx context.Context, key keycoder.Tuple, dflt any) (any, error) {
	txn, err := txnFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	packedKey, err := keycoder.Pack([]keycoder.Tuple{key}, nil)
	if err != nil {
		return nil, err
	}
	bi := iterator.NewBatch(c.prefix)
	bi.SetExact(packedKey)
	cur := bi.Forward(txn, c.store)
	defer cur.Close()
	if !cur.Next() {
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return dflt, nil
	}
	return c.decode(cur.Value())
}

// Items returns a Cursor over the collection's records, configured by
// opts (see query.go). With no options it walks every record in ascending
// key order.
func (c *Collection) Items(ctx context.Context, opts ...QueryOption) (*Cursor, error) {
	txn, err := txnFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	q := newQuery(opts)
	bi, err := buildBatchIterator(c.prefix, q)
	if err != nil {
		return nil, err
	}
	var batchCur *iterator.BatchCursor
	if q.reverse {
		batchCur = bi.Reverse(txn, c.store)
	} else {
		batchCur = bi.Forward(txn, c.store)
	}
	return &Cursor{inner: batchCur, coll: c}, nil
}

// Find returns the first record matching opts, and whether one was found.
func (c *Collection) Find(ctx context.Context, opts ...QueryOption) (keycoder.Tuple, any, bool, error) {
	opts = append(opts, WithMax(1))
	cur, err := c.Items(ctx, opts...)
	if err != nil {
		return nil, nil, false, err
	}
	defer cur.Close()
	if !cur.Next() {
		return nil, nil, false, cur.Err()
	}
	key, err := cur.Key()
	if err != nil {
		return nil, nil, false, err
	}
	val, err := cur.Value()
	if err != nil {
		return nil, nil, false, err
	}
	return key, val, true, nil
}
