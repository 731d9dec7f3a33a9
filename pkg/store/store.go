package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dw/acidkv/pkg/engine"
	"github.com/dw/acidkv/pkg/keycoder"
)

// Store owns an engine.Engine, the numeric id allocators for collections,
// indexes and encoders, and the in-memory caches of that metadata (spec.md
// §3 "Store"). All authoritative state lives in the reserved meta
// collection, persisted through the same engine as every other record.
type Store struct {
	mu     sync.Mutex
	prefix []byte
	eng    engine.Engine

	encByID   map[byte]Encoder
	encByName map[string]byte

	compByID   map[byte]Compressor
	compByName map[string]byte

	collections map[string]*Collection
	meta        *Collection
}

// Open returns a Store using eng as its backing engine, with every engine
// key prefixed by prefix (the process-global namespace a single engine may
// be shared across several independent stores with, spec.md §3).
func Open(eng engine.Engine, prefix []byte) *Store {
	s := &Store{
		prefix:      append([]byte{}, prefix...),
		eng:         eng,
		encByID:     make(map[byte]Encoder),
		encByName:   make(map[string]byte),
		compByID:    make(map[byte]Compressor),
		compByName:  make(map[string]byte),
		collections: make(map[string]*Collection),
	}
	s.registerBuiltinEncoders()
	s.registerBuiltinCompressors()

	meta := &Collection{
		store:   s,
		name:    "meta",
		id:      metaCollectionID,
		prefix:  append(append([]byte{}, s.prefix...), keycoder.PackInt(metaCollectionID, nil)...),
		encoder: s.encByID[encoderKeyID],
		keyFunc: metaKeyFunc,
		indexes: make(map[string]*Index),
	}
	s.meta = meta
	s.collections["meta"] = meta
	return s
}

// Engine returns the engine this store was opened with.
func (s *Store) Engine() engine.Engine { return s.eng }

// Close releases the underlying engine.
func (s *Store) Close() error { return s.eng.Close() }

// CollectionOptions configures AddCollection. KeyFunc and Encoder default
// to the auto-increment blind key assignment and the PLAIN encoder,
// respectively, if left nil.
type CollectionOptions struct {
	KeyFunc     KeyFunc
	Encoder     Encoder
	Blind       bool
	CounterName string
}

// AddCollection returns the named Collection, creating it (and persisting
// its id) on first use. A second call with options that disagree with what
// was already persisted fails with a ConfigError, per spec.md §4.E.
func (s *Store) AddCollection(ctx context.Context, name string, opts CollectionOptions) (*Collection, error) {
	s.mu.Lock()
	if c, ok := s.collections[name]; ok {
		s.mu.Unlock()
		if err := c.checkOptions(opts); err != nil {
			return nil, err
		}
		return c, nil
	}
	s.mu.Unlock()

	txn, err := txnFromCtx(ctx)
	if err != nil {
		return nil, err
	}

	row, found, err := s.metaGet(txn, kindTable, name, "id")
	var id uint64
	if err != nil {
		return nil, err
	}
	if found {
		v, ok := row[3].(int64)
		if !ok {
			return nil, fmt.Errorf("store: collection %q: stored id is %T, want int64", name, row[3])
		}
		id = uint64(v)
		blindRow, blindFound, err := s.metaGet(txn, kindTable, name, "blind")
		if err != nil {
			return nil, err
		}
		if blindFound {
			wantBlind, _ := blindRow[3].(bool)
			if wantBlind != opts.Blind {
				return nil, &ConfigError{Kind: "collection", Name: name, Attr: "blind", Got: opts.Blind, Want: wantBlind}
			}
		}
	} else {
		id, err = s.nextID(txn, "collection:id")
		if err != nil {
			return nil, err
		}
		if err := s.metaPut(txn, keycoder.Tuple{kindTable, name, "id", int64(id)}); err != nil {
			return nil, err
		}
		if err := s.metaPut(txn, keycoder.Tuple{kindTable, name, "blind", opts.Blind}); err != nil {
			return nil, err
		}
	}

	enc := opts.Encoder
	if enc == nil {
		enc = s.encByID[encoderPlainID]
	}
	counterName := opts.CounterName
	if counterName == "" {
		counterName = "key:" + name
	}
	kf := opts.KeyFunc
	if kf == nil {
		kf = s.defaultKeyFunc(counterName)
	}

	c := &Collection{
		store:       s,
		name:        name,
		id:          id,
		prefix:      append(append([]byte{}, s.prefix...), keycoder.PackInt(id, nil)...),
		encoder:     enc,
		keyFunc:     kf,
		blind:       opts.Blind,
		counterName: counterName,
		indexes:     make(map[string]*Index),
	}

	s.mu.Lock()
	s.collections[name] = c
	s.mu.Unlock()
	return c, nil
}

// Collection returns the named collection if it has already been added in
// this process, without touching the engine.
func (s *Store) Collection(name string) (*Collection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	return c, ok
}

// RenameCollection renames an existing collection's metadata row,
// refusing if newName is already in use (spec.md §9 "Lifecycle": rename is
// the one explicit mutation the core performs on otherwise-immutable
// metadata rows).
func (s *Store) RenameCollection(ctx context.Context, oldName, newName string) error {
	txn, err := txnFromCtx(ctx)
	if err != nil {
		return err
	}
	if _, found, err := s.metaGet(txn, kindTable, newName, "id"); err != nil {
		return err
	} else if found {
		return fmt.Errorf("%w: collection %q", ErrNameInUse, newName)
	}

	row, found, err := s.metaGet(txn, kindTable, oldName, "id")
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("store: rename collection: %w: %q", ErrNotFound, oldName)
	}
	blindRow, _, err := s.metaGet(txn, kindTable, oldName, "blind")
	if err != nil {
		return err
	}
	if err := s.metaPut(txn, keycoder.Tuple{kindTable, newName, "id", row[3]}); err != nil {
		return err
	}
	if blindRow != nil {
		if err := s.metaPut(txn, keycoder.Tuple{kindTable, newName, "blind", blindRow[3]}); err != nil {
			return err
		}
	}
	for _, attr := range []string{"id", "blind"} {
		oldKey, err := keycoder.Pack([]keycoder.Tuple{{kindTable, oldName, attr}}, s.meta.prefix)
		if err != nil {
			return err
		}
		if err := txn.Delete(oldKey); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if c, ok := s.collections[oldName]; ok {
		c.name = newName
		s.collections[newName] = c
		delete(s.collections, oldName)
	}
	s.mu.Unlock()
	return nil
}
