package engine

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync/atomic"
)

// TraceEngine wraps an Engine, writing one line per Engine/Txn call to w
// (two for Get: the request and its result; calls on the Iterator returned
// by Iter are not traced): a
// monotonically increasing transaction id, an operation identifier, and
// hex-encoded key/value fields, mirroring acid.engines.TraceEngine. It is
// intended for debugging and producing crash reports, not production use.
type TraceEngine struct {
	inner Engine
	w     io.Writer
	next  int64
}

// NewTraceEngine wraps inner, writing a trace line per call to w.
func NewTraceEngine(inner Engine, w io.Writer) *TraceEngine {
	return &TraceEngine{inner: inner, w: w, next: 1}
}

func (e *TraceEngine) logf(id int64, op string, key, value []byte) {
	fmt.Fprintf(e.w, "%d %s %s %s\n", id, op, hexOrEmpty(key), hexOrEmpty(value))
}

func hexOrEmpty(b []byte) string {
	if b == nil {
		return ""
	}
	return hex.EncodeToString(b)
}

func (e *TraceEngine) Begin(write bool) (Txn, error) {
	id := atomic.AddInt64(&e.next, 1) - 1
	flag := []byte("false")
	if write {
		flag = []byte("true")
	}
	e.logf(id, "begin", flag, nil)
	txn, err := e.inner.Begin(write)
	if err != nil {
		return nil, err
	}
	return &traceTxn{id: id, inner: txn, log: e.logf}, nil
}

func (e *TraceEngine) Close() error {
	e.logf(0, "close", nil, nil)
	return e.inner.Close()
}

type traceTxn struct {
	id    int64
	inner Txn
	log   func(id int64, op string, key, value []byte)
}

func (t *traceTxn) Get(key []byte) ([]byte, error) {
	t.log(t.id, "get", key, nil)
	v, err := t.inner.Get(key)
	t.log(t.id, "got", key, v)
	return v, err
}

func (t *traceTxn) Put(key, value []byte) error {
	t.log(t.id, "put", key, value)
	return t.inner.Put(key, value)
}

func (t *traceTxn) Replace(key, value []byte) ([]byte, error) {
	t.log(t.id, "put", key, value)
	return t.inner.Replace(key, value)
}

func (t *traceTxn) Delete(key []byte) error {
	t.log(t.id, "delete", key, nil)
	return t.inner.Delete(key)
}

func (t *traceTxn) Pop(key []byte) ([]byte, error) {
	t.log(t.id, "delete", key, nil)
	return t.inner.Pop(key)
}

func (t *traceTxn) Iter(start []byte, reverse bool) Iterator {
	flag := []byte("false")
	if reverse {
		flag = []byte("true")
	}
	t.log(t.id, "iter", start, flag)
	return t.inner.Iter(start, reverse)
}

func (t *traceTxn) Abort() error {
	t.log(t.id, "abort", nil, nil)
	return t.inner.Abort()
}

func (t *traceTxn) Commit() error {
	t.log(t.id, "commit", nil, nil)
	return t.inner.Commit()
}
