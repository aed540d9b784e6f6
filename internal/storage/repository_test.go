package storage

import (
	"context"
	"reflect"
	"testing"
	"time"
)

// TestRegisterAndNew verifies factory registration and lookup.
func TestRegisterAndNew(t *testing.T) {
	called := false
	Register("fake", func(ctx context.Context, cfg Config) (Repository, error) {
		called = true
		return nil, nil
	})

	if _, err := New(context.Background(), Config{Kind: "fake", DSN: "x"}); err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if !called {
		t.Fatalf("factory not invoked")
	}

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("New() with empty kind: err=nil")
	}
	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatalf("New() with unknown kind: err=nil")
	}
}

// TestRegisterPanics verifies the fail-fast paths.
func TestRegisterPanics(t *testing.T) {
	expectPanic := func(name string, fn func()) {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			fn()
		})
	}

	expectPanic("empty_kind", func() {
		Register("", func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil })
	})
	expectPanic("nil_factory", func() {
		Register("nilfactory", nil)
	})
	expectPanic("duplicate", func() {
		f := func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil }
		Register("dup", f)
		Register("dup", f)
	})
}

// TestScanValue verifies canonicalization of driver scan types.
func TestScanValue(t *testing.T) {
	if got := ScanValue(nil); got != nil {
		t.Fatalf("ScanValue(nil)=%v", got)
	}
	if got := ScanValue([]byte("text")); got != "text" {
		t.Fatalf("ScanValue([]byte)=%v", got)
	}

	loc := time.FixedZone("EAT", 3*60*60)
	in := time.Date(2024, 5, 1, 12, 0, 0, 0, loc)
	got, ok := ScanValue(in).(time.Time)
	if !ok || got.Location() != time.UTC || !got.Equal(in) {
		t.Fatalf("ScanValue(time)=%v", got)
	}

	if got := ScanValue(3.14); got != 3.14 {
		t.Fatalf("ScanValue(float)=%v", got)
	}
}

// TestSortedColumns verifies deterministic ordering from map input.
func TestSortedColumns(t *testing.T) {
	got := SortedColumns(map[string]any{"b": 1, "a": 2, "c": nil})
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("SortedColumns()=%v, want %v", got, want)
	}
}
