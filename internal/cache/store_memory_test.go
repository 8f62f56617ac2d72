package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"marketfeed/internal/domain/entity"
)

func memEntry(key string) Entry {
	return Entry{
		Key:      key,
		Value:    &entity.AnalysisResult{Summary: "summary for " + key},
		StoredAt: time.Now(),
		TTL:      time.Hour,
	}
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	store := NewMemoryStore()

	if _, ok := store.Get("missing"); ok {
		t.Error("expected miss on empty store")
	}

	store.Set(memEntry("analysis:a"))
	got, ok := store.Get("analysis:a")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got.Value.Summary != "summary for analysis:a" {
		t.Errorf("unexpected value: %q", got.Value.Summary)
	}

	// Replacing under the same key keeps Len stable.
	store.Set(memEntry("analysis:a"))
	if store.Len() != 1 {
		t.Errorf("expected Len=1 after replace, got %d", store.Len())
	}

	store.Delete("analysis:a")
	if _, ok := store.Get("analysis:a"); ok {
		t.Error("expected miss after Delete")
	}
	// Deleting an absent key is a no-op.
	store.Delete("analysis:a")
	if store.Len() != 0 {
		t.Errorf("expected empty store, got Len=%d", store.Len())
	}
}

func TestMemoryStore_ScanPrefix(t *testing.T) {
	store := NewMemoryStore()
	store.Set(memEntry("analysis:a"))
	store.Set(memEntry("analysis:b"))
	store.Set(memEntry("other:c"))

	entries := store.ScanPrefix("analysis:")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Key != "analysis:a" && e.Key != "analysis:b" {
			t.Errorf("unexpected key in scan: %q", e.Key)
		}
	}

	if got := store.ScanPrefix("nope:"); len(got) != 0 {
		t.Errorf("expected no entries for unmatched prefix, got %d", len(got))
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("analysis:%d:%d", n, j)
				store.Set(memEntry(key))
				store.Get(key)
				store.ScanPrefix("analysis:")
				store.Delete(key)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != 0 {
		t.Errorf("expected empty store after deletes, got Len=%d", store.Len())
	}
}

func TestEntryExpiredAt(t *testing.T) {
	now := time.Now()
	e := Entry{Key: "k", StoredAt: now, TTL: time.Minute}

	if e.expiredAt(now) {
		t.Error("expected fresh entry at StoredAt")
	}
	if e.expiredAt(now.Add(59 * time.Second)) {
		t.Error("expected fresh entry just before TTL")
	}
	if !e.expiredAt(now.Add(time.Minute)) {
		t.Error("expected expired entry exactly at TTL")
	}
	if !e.expiredAt(now.Add(2 * time.Minute)) {
		t.Error("expected expired entry past TTL")
	}
}
