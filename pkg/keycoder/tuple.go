package keycoder

import (
	"fmt"
	"time"
)

// Tuple is an ordered list of primitive values. Supported element types are
// nil, int64, bool, []byte, string, [16]byte (treated as a UUID) and
// time.Time. Packing any other type returns ErrUnsupported.
type Tuple []any

// Pack encodes tups, a sequence of Tuples, appending to prefix. Successive
// tuples are separated by a kindSep byte so that Pack([]Tuple{a, b}, nil)
// sorts between Pack([]Tuple{a}, nil) and any tuple beginning with
// something greater than a's first element.
func Pack(tups []Tuple, prefix []byte) ([]byte, error) {
	dst := append([]byte{}, prefix...)
	for i, t := range tups {
		if i > 0 {
			dst = append(dst, kindSep)
		}
		var err error
		dst, err = packTuple(dst, t)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func packTuple(dst []byte, t Tuple) ([]byte, error) {
	for _, v := range t {
		var err error
		dst, err = packElem(dst, v)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func packElem(dst []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(dst, kindNull), nil
	case bool:
		dst = append(dst, kindBool)
		if x {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case int:
		return packInt(dst, int64(x)), nil
	case int64:
		return packInt(dst, x), nil
	case []byte:
		dst = append(dst, kindBlob)
		return writeBitstring(dst, x), nil
	case string:
		dst = append(dst, kindText)
		return writeBitstring(dst, []byte(x)), nil
	case [16]byte:
		dst = append(dst, kindUUID)
		return append(dst, x[:]...), nil
	case time.Time:
		return writeTime(dst, x), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
}

func packInt(dst []byte, v int64) []byte {
	if v < 0 {
		dst = append(dst, kindNegInteger)
		return WriteUint(dst, uint64(-v), 0xff)
	}
	dst = append(dst, kindInteger)
	return WriteUint(dst, uint64(v), 0)
}

// Unpack decodes the byte string produced by Pack, stripping prefix first.
// Unpack returns one Tuple per kindSep-delimited run of elements.
func Unpack(data, prefix []byte) ([]Tuple, error) {
	if len(prefix) > len(data) {
		return nil, fmt.Errorf("%w: data shorter than prefix", ErrCorrupt)
	}
	buf := data[len(prefix):]

	var tups []Tuple
	var cur Tuple
	pos := 0
	for pos < len(buf) {
		kind := buf[pos]
		if kind == kindSep {
			pos++
			tups = append(tups, cur)
			cur = nil
			continue
		}
		var (
			v   any
			err error
		)
		v, pos, err = unpackElem(buf, pos, kind)
		if err != nil {
			return nil, err
		}
		cur = append(cur, v)
	}
	tups = append(tups, cur)
	return tups, nil
}

func unpackElem(buf []byte, pos int, kind byte) (any, int, error) {
	pos++
	switch kind {
	case kindNull:
		return nil, pos, nil
	case kindBool:
		if pos >= len(buf) {
			return nil, pos, fmt.Errorf("%w: truncated bool", ErrCorrupt)
		}
		return buf[pos] != 0, pos + 1, nil
	case kindInteger:
		u, next, err := ReadUint(buf, pos, 0)
		if err != nil {
			return nil, pos, err
		}
		return int64(u), next, nil
	case kindNegInteger:
		u, next, err := ReadUint(buf, pos, 0xff)
		if err != nil {
			return nil, pos, err
		}
		return -int64(u), next, nil
	case kindBlob:
		b, next, err := readBitstring(buf, pos)
		if err != nil {
			return nil, pos, err
		}
		return b, next, nil
	case kindText:
		b, next, err := readBitstring(buf, pos)
		if err != nil {
			return nil, pos, err
		}
		return string(b), next, nil
	case kindUUID:
		if pos+16 > len(buf) {
			return nil, pos, fmt.Errorf("%w: truncated uuid", ErrCorrupt)
		}
		var u [16]byte
		copy(u[:], buf[pos:pos+16])
		return u, pos + 16, nil
	case kindTime:
		t, next, err := readTime(buf, pos, false)
		if err != nil {
			return nil, pos, err
		}
		return t, next, nil
	case kindNegTime:
		t, next, err := readTime(buf, pos, true)
		if err != nil {
			return nil, pos, err
		}
		return t, next, nil
	default:
		return nil, pos, fmt.Errorf("%w: unknown kind byte 0x%02x", ErrCorrupt, kind)
	}
}
