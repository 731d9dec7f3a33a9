package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dw/acidkv/pkg/engine/memkv"
	"github.com/dw/acidkv/pkg/keycoder"
)

type person struct {
	Name string
	Age  int64
}

type personEncoder struct{}

func (personEncoder) Name() string { return "person" }

func (personEncoder) Pack(r any) ([]byte, error) { return json.Marshal(r) }

func (personEncoder) Unpack(data []byte) (any, error) {
	var p person
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	return Open(memkv.New(), nil)
}

func mustTxn(t *testing.T, s *Store, write bool, fn func(ctx context.Context) error) {
	t.Helper()
	if err := s.Txn(context.Background(), write, fn); err != nil {
		t.Fatalf("txn: %v", err)
	}
}

// TestPutGetDelete covers the basic Absent -> Singleton -> Absent state
// transitions of spec.md §4.F.5.
func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	var coll *Collection
	mustTxn(t, s, true, func(ctx context.Context) error {
		var err error
		coll, err = s.AddCollection(ctx, "people", CollectionOptions{Encoder: personEncoder{}})
		return err
	})

	key := keycoder.Tuple{int64(1)}
	mustTxn(t, s, true, func(ctx context.Context) error {
		return coll.Put(ctx, person{Name: "Dana", Age: 29}, WithKey(key))
	})

	mustTxn(t, s, false, func(ctx context.Context) error {
		v, err := coll.Get(ctx, key, nil)
		if err != nil {
			return err
		}
		p, ok := v.(person)
		if !ok || p.Name != "Dana" || p.Age != 29 {
			t.Fatalf("Get = %#v", v)
		}
		return nil
	})

	mustTxn(t, s, true, func(ctx context.Context) error {
		return coll.Delete(ctx, key)
	})

	mustTxn(t, s, false, func(ctx context.Context) error {
		v, err := coll.Get(ctx, key, "missing")
		if err != nil {
			return err
		}
		if v != "missing" {
			t.Fatalf("Get after delete = %#v, want sentinel", v)
		}
		return nil
	})
}

// TestIndexMaintenance mirrors spec.md §8.3 scenario S3: replacing a
// record must retire its stale index entry and install the new one.
func TestIndexMaintenance(t *testing.T) {
	s := openTestStore(t)
	var coll *Collection
	var byAge *Index
	mustTxn(t, s, true, func(ctx context.Context) error {
		var err error
		coll, err = s.AddCollection(ctx, "people", CollectionOptions{Encoder: personEncoder{}})
		if err != nil {
			return err
		}
		byAge, err = coll.AddIndex(ctx, "age", func(r any) ([]keycoder.Tuple, error) {
			p := r.(person)
			return []keycoder.Tuple{{p.Age}}, nil
		})
		return err
	})

	k1 := keycoder.Tuple{int64(1)}
	k2 := keycoder.Tuple{int64(2)}
	mustTxn(t, s, true, func(ctx context.Context) error {
		if err := coll.Put(ctx, person{Name: "Dana", Age: 29}, WithKey(k1)); err != nil {
			return err
		}
		return coll.Put(ctx, person{Name: "Jo", Age: 40}, WithKey(k2))
	})

	mustTxn(t, s, false, func(ctx context.Context) error {
		tups, err := byAge.Tups(ctx)
		if err != nil {
			return err
		}
		if len(tups) != 2 || tups[0][0].(int64) != 29 || tups[1][0].(int64) != 40 {
			t.Fatalf("index tups = %v", tups)
		}
		return nil
	})

	mustTxn(t, s, true, func(ctx context.Context) error {
		return coll.Put(ctx, person{Name: "Dana", Age: 30}, WithKey(k1))
	})

	mustTxn(t, s, false, func(ctx context.Context) error {
		tups, err := byAge.Tups(ctx)
		if err != nil {
			return err
		}
		if len(tups) != 2 {
			t.Fatalf("expected 2 entries after replace, got %d: %v", len(tups), tups)
		}
		for _, tup := range tups {
			if tup[0].(int64) == 29 {
				t.Fatalf("stale index entry for age 29 still present: %v", tups)
			}
		}
		return nil
	})
}

// TestBatchThenSplit mirrors spec.md §8.3 scenario S4.
func TestBatchThenSplit(t *testing.T) {
	s := openTestStore(t)
	var coll *Collection
	mustTxn(t, s, true, func(ctx context.Context) error {
		var err error
		coll, err = s.AddCollection(ctx, "letters", CollectionOptions{Encoder: PlainEncoder()})
		return err
	})

	values := []string{"a", "b", "c", "d", "e"}
	mustTxn(t, s, true, func(ctx context.Context) error {
		for i, v := range values {
			key := keycoder.Tuple{int64(i + 1)}
			if err := coll.Put(ctx, []byte(v), WithKey(key)); err != nil {
				return err
			}
		}
		return nil
	})

	mustTxn(t, s, true, func(ctx context.Context) error {
		_, made, _, err := coll.Batch(ctx, WithMaxRecs(5))
		if err != nil {
			return err
		}
		if made != 1 {
			t.Fatalf("Batch made %d physical records, want 1", made)
		}
		return nil
	})

	mustTxn(t, s, false, func(ctx context.Context) error {
		v, err := coll.Get(ctx, keycoder.Tuple{int64(3)}, nil)
		if err != nil {
			return err
		}
		if string(v.([]byte)) != "c" {
			t.Fatalf("Get(3) after batch = %v", v)
		}
		return nil
	})

	mustTxn(t, s, true, func(ctx context.Context) error {
		return coll.Delete(ctx, keycoder.Tuple{int64(3)})
	})

	mustTxn(t, s, false, func(ctx context.Context) error {
		cur, err := coll.Items(ctx)
		if err != nil {
			return err
		}
		defer cur.Close()
		var got []string
		for cur.Next() {
			v, err := cur.Value()
			if err != nil {
				return err
			}
			got = append(got, string(v.([]byte)))
		}
		want := []string{"a", "b", "d", "e"}
		if len(got) != len(want) {
			t.Fatalf("Items after split = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Items after split = %v, want %v", got, want)
			}
		}
		return cur.Err()
	})
}

// TestCounterSemantics mirrors spec.md §8.3 scenario S6.
func TestCounterSemantics(t *testing.T) {
	s := openTestStore(t)
	check := func(n, init int64, want int64) {
		mustTxn(t, s, true, func(ctx context.Context) error {
			got, err := s.Count(ctx, "c", n, init)
			if err != nil {
				return err
			}
			if got != want {
				t.Fatalf("Count(n=%d,init=%d) = %d, want %d", n, init, got, want)
			}
			return nil
		})
	}
	check(1, 10, 10)
	check(1, 10, 11)
	check(1, 10, 12)
	check(0, 10, 13)
	check(1, 10, 13)
	check(0, 10, 14)
}

// TestReverseIterationBoundary mirrors spec.md §8.3 scenario S5: reverse
// iteration of one collection must never cross into another's key space.
func TestReverseIterationBoundary(t *testing.T) {
	s := openTestStore(t)
	var x, y *Collection
	mustTxn(t, s, true, func(ctx context.Context) error {
		var err error
		x, err = s.AddCollection(ctx, "x", CollectionOptions{Encoder: PlainEncoder()})
		if err != nil {
			return err
		}
		y, err = s.AddCollection(ctx, "y", CollectionOptions{Encoder: PlainEncoder()})
		return err
	})

	mustTxn(t, s, true, func(ctx context.Context) error {
		if err := x.Put(ctx, []byte("x1"), WithKey(keycoder.Tuple{int64(1)})); err != nil {
			return err
		}
		return y.Put(ctx, []byte("y1"), WithKey(keycoder.Tuple{int64(1)}))
	})

	mustTxn(t, s, false, func(ctx context.Context) error {
		cur, err := x.Items(ctx, WithReverse())
		if err != nil {
			return err
		}
		defer cur.Close()
		n := 0
		for cur.Next() {
			n++
			v, err := cur.Value()
			if err != nil {
				return err
			}
			if string(v.([]byte)) != "x1" {
				t.Fatalf("reverse iteration leaked into another collection: %v", v)
			}
		}
		if n != 1 {
			t.Fatalf("reverse iteration of x yielded %d elements, want 1", n)
		}
		return cur.Err()
	})
}
