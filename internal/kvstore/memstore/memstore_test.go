package memstore

import (
	"context"
	"testing"
)

type record struct {
	Name string `json:"name"`
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	b, err := s.Box(ctx, "widgets")
	if err != nil {
		t.Fatalf("Box: %v", err)
	}

	if err := b.Put(ctx, "a", record{Name: "alpha"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got record
	ok, err := b.Get(ctx, "a", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got.Name != "alpha" {
		t.Fatalf("Get returned %+v, ok=%v", got, ok)
	}

	if err := b.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = b.Get(ctx, "a", &got)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be gone after delete")
	}
}

func TestIterateAndCount(t *testing.T) {
	ctx := context.Background()
	s := New()
	b, _ := s.Box(ctx, "widgets")

	for _, name := range []string{"a", "b", "c"} {
		if err := b.Put(ctx, name, record{Name: name}); err != nil {
			t.Fatalf("Put %s: %v", name, err)
		}
	}

	n, err := b.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("Count = %d, want 3", n)
	}

	seen := make(map[string]bool)
	var r record
	if err := b.Iterate(ctx, &r, func(key string) (bool, error) {
		seen[key] = true
		return true, nil
	}); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("Iterate visited %d keys, want 3", len(seen))
	}
}

func TestIterateStopsEarly(t *testing.T) {
	ctx := context.Background()
	s := New()
	b, _ := s.Box(ctx, "widgets")
	for _, name := range []string{"a", "b", "c"} {
		_ = b.Put(ctx, name, record{Name: name})
	}

	calls := 0
	var r record
	_ = b.Iterate(ctx, &r, func(key string) (bool, error) {
		calls++
		return false, nil
	})
	if calls != 1 {
		t.Fatalf("Iterate called fn %d times, want 1 (early stop)", calls)
	}
}

func TestBoxesAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, _ := s.Box(ctx, "a")
	b, _ := s.Box(ctx, "b")

	_ = a.Put(ctx, "k", record{Name: "in-a"})

	var got record
	ok, _ := b.Get(ctx, "k", &got)
	if ok {
		t.Fatalf("expected box b to not see box a's key")
	}
}
