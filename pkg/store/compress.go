package store

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor is a registered (compress, decompress) pair identified by a
// single id byte prefixed to every physical value (spec.md §3, §6.3).
// Put's packer argument selects one by name. Compressor ids form their own
// id space, separate from the Encoder ids in encoder.go, so the same byte
// value may name both a compressor and an encoder.
type Compressor interface {
	Name() string
	Compress(data []byte) []byte
	Decompress(data []byte) ([]byte, error)
}

// Reserved compressor ids. PLAIN is the identity compressor used for
// singleton records by default and for every member re-emitted by the
// batch-split protocol (spec.md §4.F.4).
const (
	compressorPlainID = 1
	compressorZlibID  = 2
	compressorLZ4ID   = 3
	compressorS2ID    = 4
	compressorZstdID  = 5
)

type plainCompressor struct{}

func (plainCompressor) Name() string                           { return "PLAIN" }
func (plainCompressor) Compress(data []byte) []byte            { return data }
func (plainCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

type zlibCompressor struct{}

func (zlibCompressor) Name() string { return "ZLIB" }

func (zlibCompressor) Compress(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func (zlibCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store: zlib decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("store: zlib decompress: %w", err)
	}
	return out, nil
}

// lz4Compressor wraps github.com/pierrec/lz4/v4, the frame codec used
// elsewhere in the retrieved pack for time-series block compression.
type lz4Compressor struct{}

func (lz4Compressor) Name() string { return "LZ4" }

func (lz4Compressor) Compress(data []byte) []byte {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func (lz4Compressor) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("store: lz4 decompress: %w", err)
	}
	return out, nil
}

// s2Compressor wraps github.com/klauspost/compress/s2, a fast
// Snappy-compatible codec well suited to large batch payloads.
type s2Compressor struct{}

func (s2Compressor) Name() string { return "S2" }

func (s2Compressor) Compress(data []byte) []byte {
	return s2.Encode(nil, data)
}

func (s2Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("store: s2 decompress: %w", err)
	}
	return out, nil
}

// zstdCompressor wraps github.com/klauspost/compress/zstd for callers that
// prioritise compression ratio over the other built-ins' speed.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor() *zstdCompressor {
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &zstdCompressor{enc: enc, dec: dec}
}

func (z *zstdCompressor) Name() string { return "ZSTD" }

func (z *zstdCompressor) Compress(data []byte) []byte {
	return z.enc.EncodeAll(data, nil)
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("store: zstd decompress: %w", err)
	}
	return out, nil
}

func (s *Store) registerBuiltinCompressors() {
	s.addBuiltinCompressor(compressorPlainID, plainCompressor{})
	s.addBuiltinCompressor(compressorZlibID, zlibCompressor{})
	s.addBuiltinCompressor(compressorLZ4ID, lz4Compressor{})
	s.addBuiltinCompressor(compressorS2ID, s2Compressor{})
	s.addBuiltinCompressor(compressorZstdID, newZstdCompressor())
}

func (s *Store) addBuiltinCompressor(id byte, c Compressor) {
	s.compByID[id] = c
	s.compByName[c.Name()] = id
}

// Compressor looks up a built-in compressor by name ("PLAIN", "ZLIB",
// "LZ4", "S2" or "ZSTD"). It never registers a new id; the built-in set is
// fixed at store-open time.
func (s *Store) Compressor(name string) (Compressor, byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.compByName[name]
	if !ok {
		return nil, 0, fmt.Errorf("store: %w: unknown compressor %q", ErrConstraint, name)
	}
	return s.compByID[id], id, nil
}

func (s *Store) compressorByID(id byte) (Compressor, error) {
	s.mu.Lock()
	c, ok := s.compByID[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown compressor id %d", id)
	}
	return c, nil
}

// Decompress implements iterator.Decompressor, letting a BatchIterator
// resolve the compressor id byte embedded in a physical value's header.
func (s *Store) Decompress(id byte, data []byte) ([]byte, error) {
	c, err := s.compressorByID(id)
	if err != nil {
		return nil, err
	}
	return c.Decompress(data)
}
