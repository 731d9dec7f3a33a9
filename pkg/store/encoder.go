package store

import (
	"encoding/json"
	"fmt"

	"github.com/dw/acidkv/pkg/keycoder"
)

// Encoder packs a user-level record value to bytes and back. Built-ins
// cover the key tuple codec, JSON, and a byte-passthrough; registering a
// struct-packing serializer or any other user-supplied format is out of
// scope for this package (spec.md §1) and is done by implementing Encoder
// directly and calling Store.AddEncoder.
type Encoder interface {
	Name() string
	Pack(record any) ([]byte, error)
	Unpack(data []byte) (any, error)
}

// Reserved encoder ids, at the low end of the encoder id space; compressor
// ids (compress.go) are a separate space. User encoders registered via
// Store.AddEncoder start at 10.
const (
	encoderKeyID   = 1
	encoderJSONID  = 2
	encoderPlainID = 3
)

// keyEncoder packs a record that is itself a keycoder.Tuple, used
// internally for the reserved meta-collection (spec.md §6.4) where rows
// are plain (kind, name, attr, value) tuples.
type keyEncoder struct{}

func (keyEncoder) Name() string { return "KEY" }

func (keyEncoder) Pack(record any) ([]byte, error) {
	t, ok := record.(keycoder.Tuple)
	if !ok {
		return nil, fmt.Errorf("store: KEY encoder: record is %T, want keycoder.Tuple", record)
	}
	return keycoder.Pack([]keycoder.Tuple{t}, nil)
}

func (keyEncoder) Unpack(data []byte) (any, error) {
	tups, err := keycoder.Unpack(data, nil)
	if err != nil {
		return nil, err
	}
	if len(tups) != 1 {
		return nil, fmt.Errorf("store: KEY encoder: expected one tuple, got %d", len(tups))
	}
	return tups[0], nil
}

// jsonEncoder round-trips a record through encoding/json into a
// map[string]any (or whatever Unpack's caller type-asserts it into).
type jsonEncoder struct{}

func (jsonEncoder) Name() string { return "JSON" }

func (jsonEncoder) Pack(record any) ([]byte, error) {
	return json.Marshal(record)
}

func (jsonEncoder) Unpack(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// plainEncoder treats the record as an opaque []byte, performing no
// transformation. It is the default encoder for collections that don't
// specify one.
type plainEncoder struct{}

func (plainEncoder) Name() string { return "PLAIN" }

func (plainEncoder) Pack(record any) ([]byte, error) {
	b, ok := record.([]byte)
	if !ok {
		return nil, fmt.Errorf("store: PLAIN encoder: record is %T, want []byte", record)
	}
	return b, nil
}

func (plainEncoder) Unpack(data []byte) (any, error) {
	return append([]byte{}, data...), nil
}

// KeyEncoder returns the built-in encoder that packs a record which is
// itself a keycoder.Tuple; used internally for the meta collection but
// also suitable for any collection whose records are bare tuples.
func KeyEncoder() Encoder { return keyEncoder{} }

// JSONEncoder returns the built-in encoder that round-trips a record
// through encoding/json.
func JSONEncoder() Encoder { return jsonEncoder{} }

// PlainEncoder returns the built-in encoder that treats a record as an
// opaque []byte. It is the default for collections that don't specify one.
func PlainEncoder() Encoder { return plainEncoder{} }

func (s *Store) registerBuiltinEncoders() {
	s.addBuiltinEncoder(encoderKeyID, keyEncoder{})
	s.addBuiltinEncoder(encoderJSONID, jsonEncoder{})
	s.addBuiltinEncoder(encoderPlainID, plainEncoder{})
}

func (s *Store) addBuiltinEncoder(id byte, e Encoder) {
	s.encByID[id] = e
	s.encByName[e.Name()] = id
}
