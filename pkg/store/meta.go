package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dw/acidkv/pkg/engine"
	"github.com/dw/acidkv/pkg/keycoder"
)

// Meta row kinds (spec.md §6.4).
const (
	kindTable = int64(iota)
	kindIndex
	kindEncoder
	kindCounter
	kindStruct
)

// metaCollectionID is the reserved id of the self-hosted metadata
// collection; userIDStart is where collection/index/encoder ids allocated
// at runtime begin, leaving 1..9 reserved for the built-ins and the meta
// collection itself.
const (
	metaCollectionID = 9
	userIDStart      = 10
)

func metaKeyFunc(_ context.Context, record any) (keycoder.Tuple, error) {
	t, ok := record.(keycoder.Tuple)
	if !ok || len(t) < 3 {
		return nil, fmt.Errorf("store: meta record must be a Tuple of at least 3 elements, got %T", record)
	}
	return append(keycoder.Tuple{}, t[:3]...), nil
}

// metaGet reads the meta row for (kind, name, attr), returning the full
// stored row (key fields plus value) and whether it existed.
func (s *Store) metaGet(txn engine.Txn, kind int64, name, attr string) (keycoder.Tuple, bool, error) {
	key := keycoder.Tuple{kind, name, attr}
	packedKey, err := keycoder.Pack([]keycoder.Tuple{key}, nil)
	if err != nil {
		return nil, false, err
	}
	raw, err := txn.Get(append(append([]byte{}, s.meta.prefix...), packedKey...))
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: meta get: %w", err)
	}
	if len(raw) < 1 {
		return nil, false, fmt.Errorf("store: meta get: empty physical value")
	}
	payload, err := s.Decompress(raw[0], raw[1:])
	if err != nil {
		return nil, false, err
	}
	rec, err := s.meta.encoder.Unpack(payload)
	if err != nil {
		return nil, false, err
	}
	row, ok := rec.(keycoder.Tuple)
	if !ok {
		return nil, false, fmt.Errorf("store: meta get: decoded %T, want Tuple", rec)
	}
	return row, true, nil
}

// metaPut writes row (whose first three elements are its key) into the
// meta collection using the PLAIN compressor, exactly as any other
// singleton collection record would be stored.
func (s *Store) metaPut(txn engine.Txn, row keycoder.Tuple) error {
	key, err := metaKeyFunc(context.Background(), row)
	if err != nil {
		return err
	}
	packedKey, err := keycoder.Pack([]keycoder.Tuple{key}, nil)
	if err != nil {
		return err
	}
	payload, err := s.meta.encoder.Pack(row)
	if err != nil {
		return err
	}
	value := append([]byte{compressorPlainID}, payload...)
	return txn.Put(append(append([]byte{}, s.meta.prefix...), packedKey...), value)
}

// count is the transaction-scoped core of Store.Count, reused internally
// by the collection/index/encoder id allocators.
func (s *Store) count(txn engine.Txn, name string, n, init int64) (int64, error) {
	row, found, err := s.metaGet(txn, kindCounter, name, "")
	if err != nil {
		return 0, err
	}
	var old int64
	if found {
		v, ok := row[3].(int64)
		if !ok {
			return 0, fmt.Errorf("store: counter %q: stored value is %T, want int64", name, row[3])
		}
		old = v
	} else {
		old = init
	}
	if n != 0 {
		if err := s.metaPut(txn, keycoder.Tuple{kindCounter, name, "", old + n}); err != nil {
			return 0, err
		}
	}
	return old, nil
}

// Count atomically reads the named counter (creating it with init if it
// does not yet exist), adds n, writes the counter back, and returns the
// value it held before this call. n == 0 is a read-only fetch that never
// writes (spec.md §4.E, P8).
func (s *Store) Count(ctx context.Context, name string, n, init int64) (int64, error) {
	txn, err := txnFromCtx(ctx)
	if err != nil {
		return 0, err
	}
	return s.count(txn, name, n, init)
}

// nextID allocates the next value of an id counter starting at
// userIDStart, used for collections, indexes and user-registered encoders.
func (s *Store) nextID(txn engine.Txn, counterName string) (uint64, error) {
	old, err := s.count(txn, counterName, 1, userIDStart)
	if err != nil {
		return 0, err
	}
	return uint64(old), nil
}

// AddEncoder returns enc's numeric id byte, persisting a fresh allocation
// on first use of this name and reusing the stored id on every subsequent
// call (including across process restarts, for a never-before-seen
// in-memory Encoder value sharing a name with one already known to the
// store).
func (s *Store) AddEncoder(ctx context.Context, enc Encoder) (byte, error) {
	txn, err := txnFromCtx(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	if id, ok := s.encByName[enc.Name()]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	row, found, err := s.metaGet(txn, kindEncoder, enc.Name(), "")
	if err != nil {
		return 0, err
	}
	var id uint64
	if found {
		v, ok := row[3].(int64)
		if !ok {
			return 0, fmt.Errorf("store: encoder %q: stored id is %T, want int64", enc.Name(), row[3])
		}
		id = uint64(v)
	} else {
		id, err = s.nextID(txn, "encoder:id")
		if err != nil {
			return 0, err
		}
		if err := s.metaPut(txn, keycoder.Tuple{kindEncoder, enc.Name(), "", int64(id)}); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	s.encByID[byte(id)] = enc
	s.encByName[enc.Name()] = byte(id)
	s.mu.Unlock()
	return byte(id), nil
}

// GetEncoder reverse-looks-up the Encoder registered for id, failing with
// a ConfigError if id is unknown to this process (built-in, or previously
// AddEncoder'd this session).
func (s *Store) GetEncoder(id byte) (Encoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, ok := s.encByID[id]
	if !ok {
		return nil, &ConfigError{Kind: "encoder", Attr: "id", Got: id, Want: "registered encoder"}
	}
	return enc, nil
}
