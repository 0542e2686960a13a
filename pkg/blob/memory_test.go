package blob

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Put(ctx, "a/b.wav", []byte("one"), "audio/wav"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "a/b.wav", []byte("two"), "audio/wav"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, err := store.Get(ctx, "a/b.wav")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("data = %q, want last write", data)
	}

	path := filepath.Join(t.TempDir(), "out.wav")
	if err := store.GetFile(ctx, "a/b.wav", path); err != nil {
		t.Fatalf("get file: %v", err)
	}

	if err := store.Remove(ctx, "a/b.wav"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Get(ctx, "a/b.wav"); err == nil {
		t.Fatal("expected missing object error")
	}
	if store.Len() != 0 {
		t.Fatalf("len = %d, want 0", store.Len())
	}
}
