package kvstore

import (
	"context"
	"path/filepath"
	"testing"
)

// runStoreContract exercises the Store behaviors every backend must
// share.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	// Absent key
	if _, found, err := store.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("Get(missing) = found=%v err=%v, want absent", found, err)
	}

	// Set then Get
	if err := store.Set(ctx, "k1", `{"a":1}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, found, err := store.Get(ctx, "k1")
	if err != nil || !found || v != `{"a":1}` {
		t.Fatalf("Get(k1) = %q found=%v err=%v", v, found, err)
	}

	// Overwrite
	if err := store.Set(ctx, "k1", `{"a":2}`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _, _ := store.Get(ctx, "k1"); v != `{"a":2}` {
		t.Fatalf("expected overwritten value, got %q", v)
	}

	// Remove, including an absent key
	if err := store.Remove(ctx, "k1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := store.Remove(ctx, "k1"); err != nil {
		t.Fatalf("Remove absent key must not fail: %v", err)
	}
	if _, found, _ := store.Get(ctx, "k1"); found {
		t.Fatal("expected key gone after Remove")
	}

	// RemoveMany
	for _, k := range []string{"a", "b", "c"} {
		if err := store.Set(ctx, k, "v"); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.RemoveMany(ctx, []string{"a", "c", "ghost"}); err != nil {
		t.Fatalf("RemoveMany: %v", err)
	}
	if _, found, _ := store.Get(ctx, "a"); found {
		t.Fatal("expected a removed")
	}
	if _, found, _ := store.Get(ctx, "b"); !found {
		t.Fatal("expected b kept")
	}
}

func TestMemoryContract(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestBoltContract(t *testing.T) {
	store, err := NewBolt(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	}()
	runStoreContract(t, store)
}

func TestFileContract(t *testing.T) {
	store, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	runStoreContract(t, store)
}

func TestFileKeysWithSeparators(t *testing.T) {
	store, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// Namespaced keys carry colons; they must not escape the dir.
	if err := store.Set(ctx, "geocache:entry:123/abc", "v"); err != nil {
		t.Fatal(err)
	}
	v, found, err := store.Get(ctx, "geocache:entry:123/abc")
	if err != nil || !found || v != "v" {
		t.Fatalf("round trip failed: %q found=%v err=%v", v, found, err)
	}
}

func TestFilePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}

	second, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	v, found, err := second.Get(ctx, "k")
	if err != nil || !found || v != "v" {
		t.Fatalf("expected value to survive reopen, got %q found=%v err=%v", v, found, err)
	}
}
