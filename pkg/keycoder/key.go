package keycoder

// Key is a packed, comparable representation of one or more Tuples, as
// produced by Pack. It carries no prefix of its own; Raw splices in
// whatever collection/index prefix the caller needs at the point of use,
// so the same Key can be reused against several physical key spaces.
type Key []byte

// NewKey packs tups into a Key with no prefix.
func NewKey(tups ...Tuple) (Key, error) {
	b, err := Pack(tups, nil)
	if err != nil {
		return nil, err
	}
	return Key(b), nil
}

// Raw returns prefix followed by the packed bytes of k, as a freshly
// allocated slice safe for the caller to retain or mutate.
func (k Key) Raw(prefix []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(k))
	out = append(out, prefix...)
	out = append(out, k...)
	return out
}

// Tuples decodes k back into its constituent Tuples.
func (k Key) Tuples() ([]Tuple, error) {
	return Unpack(k, nil)
}

// NextGreater returns the lexicographically least byte string that sorts
// strictly after every string with b as a prefix, by incrementing the last
// byte that is not already 0xff and truncating everything after it. It
// returns nil if b consists entirely of 0xff bytes (there is no such
// string, since unbounded-length greater strings are not representable).
func NextGreater(b []byte) []byte {
	out := append([]byte{}, b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
