package application

import (
	"reflect"
	"testing"
	"time"
)

func TestReportCacheStoresAndReturnsCopies(t *testing.T) {
	fixed := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	current := fixed
	cache := newReportCache(time.Minute, 4, func() time.Time { return current })

	original := ConflictReport{HasConflict: true, LocationConflicts: []ConflictEntry{{SessionID: "session-1"}}}
	cache.Store("key", cache.Generation(), original)

	// Mutating the original slice should not affect the cached copy.
	original.LocationConflicts[0].SessionID = "mutated"

	cached, ok := cache.Get("key")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if cached.LocationConflicts[0].SessionID != "session-1" {
		t.Fatalf("expected cached session id to remain unchanged, got %s", cached.LocationConflicts[0].SessionID)
	}

	cached.LocationConflicts[0].SessionID = "changed"
	cachedAgain, ok := cache.Get("key")
	if !ok {
		t.Fatalf("expected cache hit on second read")
	}
	if cachedAgain.LocationConflicts[0].SessionID != "session-1" {
		t.Fatalf("expected cache to return independent copy, got %s", cachedAgain.LocationConflicts[0].SessionID)
	}
}

func TestReportCacheExpiresEntries(t *testing.T) {
	current := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	cache := newReportCache(time.Second, 4, func() time.Time { return current })

	cache.Store("key", cache.Generation(), ConflictReport{})
	if _, ok := cache.Get("key"); !ok {
		t.Fatalf("expected cache hit before expiry")
	}

	current = current.Add(2 * time.Second)
	if _, ok := cache.Get("key"); ok {
		t.Fatalf("expected cache entry to expire")
	}
}

func TestReportCacheEvictsWhenFull(t *testing.T) {
	cache := newReportCache(time.Minute, 2, time.Now)
	cache.Store("a", 0, ConflictReport{})
	cache.Store("b", 0, ConflictReport{})
	cache.Store("c", 0, ConflictReport{})
	if got := cache.Len(); got != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", got)
	}
	if _, ok := cache.Get("c"); !ok {
		t.Fatalf("expected newest entry to be kept")
	}
}

func TestReportCacheInvalidate(t *testing.T) {
	cache := newReportCache(time.Minute, 4, time.Now)
	cache.Store("key", cache.Generation(), ConflictReport{})
	cache.Invalidate()
	if _, ok := cache.Get("key"); ok {
		t.Fatalf("expected cache to be empty after invalidation")
	}
}

func TestReportCacheIgnoresStaleGeneration(t *testing.T) {
	cache := newReportCache(time.Minute, 4, time.Now)
	generation := cache.Generation()
	cache.Invalidate()
	cache.Store("key", generation, ConflictReport{HasConflict: true})
	if _, ok := cache.Get("key"); ok {
		t.Fatalf("expected report computed before invalidation to be dropped")
	}
}

func TestReportCacheKeepsEmptyLists(t *testing.T) {
	current := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	cache := newReportCache(time.Minute, 4, func() time.Time { return current })

	empty := ConflictReport{LocationConflicts: []ConflictEntry{}, InstructorConflicts: []ConflictEntry{}}
	cache.Store("key", cache.Generation(), empty)

	cached, ok := cache.Get("key")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if cached.LocationConflicts == nil || cached.InstructorConflicts == nil {
		t.Fatalf("cached report lost its empty lists: %+v", cached)
	}
	if !reflect.DeepEqual(cached, empty) {
		t.Fatalf("cached report %+v differs from %+v", cached, empty)
	}
}
