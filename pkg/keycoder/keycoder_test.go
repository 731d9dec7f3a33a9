package keycoder

import (
	"bytes"
	"sort"
	"testing"
	"time"
)

func packOne(t *testing.T, v any) []byte {
	t.Helper()
	b, err := Pack([]Tuple{{v}}, nil)
	if err != nil {
		t.Fatalf("Pack(%#v) error: %v", v, err)
	}
	return b
}

func TestIntRoundTrip(t *testing.T) {
	vals := []int64{0, 1, 240, 241, 2287, 2288, 67823, 67824, 1<<24 - 1, 1 << 24, 1<<32 - 1, 1 << 32, -1, -240, -241, -67823}
	for _, v := range vals {
		b := packOne(t, v)
		tups, err := Unpack(b, nil)
		if err != nil {
			t.Fatalf("Unpack(%d) error: %v", v, err)
		}
		got := tups[0][0].(int64)
		if got != v {
			t.Errorf("round trip %d => %d", v, got)
		}
	}
}

func TestIntOrdering(t *testing.T) {
	vals := []int64{-1 << 40, -67824, -67823, -2289, -2288, -241, -240, -1, 0, 1, 240, 241, 2287, 2288, 67823, 67824, 1 << 40}
	var packed [][]byte
	for _, v := range vals {
		packed = append(packed, packOne(t, v))
	}
	for i := 1; i < len(packed); i++ {
		if bytes.Compare(packed[i-1], packed[i]) >= 0 {
			t.Errorf("value %d (%x) does not sort before %d (%x)", vals[i-1], packed[i-1], vals[i], packed[i])
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	cases := []string{"", "\x00", "a", "hello, world", string([]byte{0xff, 0xff, 0xff}), string([]byte{0x00, 0x00})}
	for _, s := range cases {
		b := packOne(t, s)
		tups, err := Unpack(b, nil)
		if err != nil {
			t.Fatalf("Unpack(%q) error: %v", s, err)
		}
		if got := tups[0][0].(string); got != s {
			t.Errorf("round trip %q => %q", s, got)
		}
	}
}

func TestStringOrdering(t *testing.T) {
	strs := []string{"", "a", "aa", "ab", "b", "\xff", "\xff\xff"}
	var packed [][]byte
	for _, s := range strs {
		packed = append(packed, packOne(t, s))
	}
	sorted := append([][]byte{}, packed...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	for i := range packed {
		if !bytes.Equal(packed[i], sorted[i]) {
			t.Errorf("packed strings not already in sorted order at index %d: %q", i, strs[i])
		}
	}
}

func TestBlobRoundTrip(t *testing.T) {
	cases := [][]byte{nil, {}, {0x00}, {0xff, 0xff}, bytes.Repeat([]byte{0x55}, 100)}
	for _, c := range cases {
		b := packOne(t, c)
		tups, err := Unpack(b, nil)
		if err != nil {
			t.Fatalf("Unpack(%v) error: %v", c, err)
		}
		got := tups[0][0].([]byte)
		if !bytes.Equal(got, c) {
			t.Errorf("round trip %v => %v", c, got)
		}
	}
}

func TestBoolAndNullRoundTrip(t *testing.T) {
	for _, v := range []any{nil, true, false} {
		b := packOne(t, v)
		tups, err := Unpack(b, nil)
		if err != nil {
			t.Fatalf("Unpack(%v) error: %v", v, err)
		}
		if tups[0][0] != v {
			t.Errorf("round trip %v => %v", v, tups[0][0])
		}
	}
}

func TestBoolOrdering(t *testing.T) {
	f := packOne(t, false)
	tr := packOne(t, true)
	n := packOne(t, nil)
	if bytes.Compare(n, f) >= 0 {
		t.Errorf("nil does not sort before false")
	}
	if bytes.Compare(f, tr) >= 0 {
		t.Errorf("false does not sort before true")
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	var u [16]byte
	for i := range u {
		u[i] = byte(i * 17)
	}
	b := packOne(t, u)
	tups, err := Unpack(b, nil)
	if err != nil {
		t.Fatalf("Unpack error: %v", err)
	}
	if tups[0][0].([16]byte) != u {
		t.Errorf("round trip %v => %v", u, tups[0][0])
	}
}

func TestTimeRoundTrip(t *testing.T) {
	cases := []time.Time{
		time.Unix(0, 0).UTC(),
		time.Unix(1700000000, 123000000).UTC(),
		time.Unix(1700000000, 0).In(time.FixedZone("", 9*3600)),
		time.Unix(1700000000, 0).In(time.FixedZone("", -5*3600-1800)),
		time.Unix(-1000000000, 0).UTC(),
	}
	for _, c := range cases {
		b := packOne(t, c)
		tups, err := Unpack(b, nil)
		if err != nil {
			t.Fatalf("Unpack(%v) error: %v", c, err)
		}
		got := tups[0][0].(time.Time)
		if !got.Equal(c) {
			t.Errorf("round trip %v => %v", c, got)
		}
		_, wantOff := c.Zone()
		_, gotOff := got.Zone()
		if gotOff != wantOff {
			t.Errorf("round trip %v offset => %d, want %d", c, gotOff, wantOff)
		}
	}
}

func TestMultiTupleSeparator(t *testing.T) {
	b, err := Pack([]Tuple{{int64(1)}, {int64(2)}}, nil)
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	tups, err := Unpack(b, nil)
	if err != nil {
		t.Fatalf("Unpack error: %v", err)
	}
	if len(tups) != 2 || tups[0][0].(int64) != 1 || tups[1][0].(int64) != 2 {
		t.Fatalf("got %#v, want [[1] [2]]", tups)
	}

	// {1} alone must sort before {1, 2} alone must sort before {1}{2}
	// (the separator byte sorts above any other kind byte).
	onlyOne, _ := Pack([]Tuple{{int64(1)}}, nil)
	onePair, _ := Pack([]Tuple{{int64(1), int64(2)}}, nil)
	oneTwoTups, _ := Pack([]Tuple{{int64(1)}, {int64(2)}}, nil)
	if bytes.Compare(onlyOne, oneTwoTups) >= 0 {
		t.Errorf("{1} does not sort before {1}{2}")
	}
	if bytes.Compare(onlyOne, onePair) >= 0 {
		t.Errorf("{1} does not sort before {1, 2}")
	}
	if bytes.Compare(onePair, oneTwoTups) >= 0 {
		t.Errorf("{1, 2} does not sort before {1}{2}")
	}
}

func TestUnsupportedType(t *testing.T) {
	_, err := Pack([]Tuple{{3.14}}, nil)
	if err == nil {
		t.Fatal("expected error packing a float64")
	}
}

func TestPrefixRoundTrip(t *testing.T) {
	prefix := []byte{0x01, 0x02, 0x03}
	b, err := Pack([]Tuple{{int64(42)}}, prefix)
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	if !bytes.HasPrefix(b, prefix) {
		t.Fatalf("packed value %x does not start with prefix %x", b, prefix)
	}
	tups, err := Unpack(b, prefix)
	if err != nil {
		t.Fatalf("Unpack error: %v", err)
	}
	if tups[0][0].(int64) != 42 {
		t.Errorf("got %v, want 42", tups[0][0])
	}
}

func TestNextGreater(t *testing.T) {
	cases := []struct {
		in, want []byte
	}{
		{[]byte{0x01, 0x02}, []byte{0x01, 0x03}},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
		{[]byte{}, nil},
	}
	for _, c := range cases {
		got := NextGreater(c.in)
		if !bytes.Equal(got, c.want) {
			t.Errorf("NextGreater(%x) = %x, want %x", c.in, got, c.want)
		}
	}
}

func TestCorruptKey(t *testing.T) {
	if _, err := Unpack([]byte{0x7f}, nil); err == nil {
		t.Fatal("expected error unpacking an unknown kind byte")
	}
	if _, err := Unpack([]byte{kindInteger}, nil); err == nil {
		t.Fatal("expected error unpacking a truncated integer")
	}
}
