// Package keycoder implements an order-preserving encoding for tuples of
// primitive values, modelled on SQLite4's key encoding. The packed bytes of
// two tuples compare, under memcmp, in the same order as the tuples
// themselves under the total order defined below.
//
// Supported element types are nil, int64, bool, []byte, string, [16]byte
// (UUID) and Time. Encoding a value of any other type returns
// ErrUnsupported.
package keycoder
