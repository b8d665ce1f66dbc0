package search_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/reservation"
	"pkt.systems/roomd/internal/search"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/storage/memory"
	"pkt.systems/roomd/internal/storage/storagetest"
)

var base = storagetest.Base

type mapCache struct {
	mu   sync.Mutex
	data map[string][]storage.RoomAvailability
	ttls map[string]time.Duration
	gets int
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]storage.RoomAvailability{}, ttls: map[string]time.Duration{}}
}

func (c *mapCache) Get(ctx context.Context, key string) ([]storage.RoomAvailability, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	hits, ok := c.data[key]
	return hits, ok, nil
}

func (c *mapCache) Set(ctx context.Context, key string, hits []storage.RoomAvailability, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = hits
	c.ttls[key] = ttl
	return nil
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]storage.RoomAvailability, bool, error) {
	return nil, false, errors.New("cache down")
}

func (brokenCache) Set(context.Context, string, []storage.RoomAvailability, time.Duration) error {
	return errors.New("cache down")
}

func TestFindAvailableFiltersAndOrders(t *testing.T) {
	backend := memory.New()
	b := storagetest.SeedRoom(t, backend, "Beta", "Lisbon Centre", 2, 5)
	a := storagetest.SeedRoom(t, backend, "Alpha", "lisbon airport", 3, 5)
	storagetest.SeedRoom(t, backend, "Gamma", "Porto", 1, 5)
	storagetest.SeedRoom(t, backend, "Short", "Lisbon", 1, 2)

	svc, err := search.New(search.Config{Backend: backend})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	hits, err := svc.FindAvailable(context.Background(), base, base.AddDays(3), "LISBON")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Room.ID != a.ID || hits[1].Room.ID != b.ID {
		t.Fatalf("unexpected order %s, %s", hits[0].Room.Name, hits[1].Room.Name)
	}
	if hits[0].MinAvailable != 3 || hits[1].MinAvailable != 2 {
		t.Fatalf("unexpected min counts %d, %d", hits[0].MinAvailable, hits[1].MinAvailable)
	}
}

func TestFindAvailableExcludesExhaustedRooms(t *testing.T) {
	backend := memory.New()
	room := storagetest.SeedRoom(t, backend, "Loft", "Oslo", 1, 5)
	engine, err := reservation.New(reservation.Config{Backend: backend})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := engine.Reserve(context.Background(), "u", room.ID, base.AddDays(1), base.AddDays(2)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	svc, _ := search.New(search.Config{Backend: backend})
	hits, err := svc.FindAvailable(context.Background(), base, base.AddDays(3), "")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
	hits, _ = svc.FindAvailable(context.Background(), base.AddDays(2), base.AddDays(4), "")
	if len(hits) != 1 {
		t.Fatalf("expected room free after the booked night, got %d hits", len(hits))
	}
}

func TestFindAvailableDoesNotChangeCounts(t *testing.T) {
	backend := memory.New()
	room := storagetest.SeedRoom(t, backend, "Loft", "Oslo", 4, 5)
	svc, _ := search.New(search.Config{Backend: backend})
	before := storagetest.Counts(t, backend, room.ID, base, base.AddDays(5))
	for i := 0; i < 3; i++ {
		if _, err := svc.FindAvailable(context.Background(), base, base.AddDays(5), ""); err != nil {
			t.Fatalf("find: %v", err)
		}
	}
	after := storagetest.Counts(t, backend, room.ID, base, base.AddDays(5))
	for day, count := range before {
		if after[day] != count {
			t.Fatalf("day %s changed from %d to %d", day, count, after[day])
		}
	}
}

func TestFindAvailableRejectsInvalidRange(t *testing.T) {
	svc, _ := search.New(search.Config{Backend: memory.New()})
	for _, end := range []caldate.Date{base, base.AddDays(-1)} {
		if _, err := svc.FindAvailable(context.Background(), base, end, ""); !errors.Is(err, reservation.ErrInvalidRange) {
			t.Fatalf("end %s: expected invalid range, got %v", end, err)
		}
	}
}

func TestFindAvailableUsesCache(t *testing.T) {
	backend := memory.New()
	storagetest.SeedRoom(t, backend, "Loft", "Oslo", 1, 5)
	cache := newMapCache()
	svc, _ := search.New(search.Config{Backend: backend, Cache: cache, CacheTTL: time.Minute})

	first, err := svc.FindAvailable(context.Background(), base, base.AddDays(2), " Oslo ")
	if err != nil || len(first) != 1 {
		t.Fatalf("first find: hits=%d err=%v", len(first), err)
	}
	key := search.CacheKey(base, base.AddDays(2), "oslo")
	if cache.ttls[key] != time.Minute {
		t.Fatalf("expected cached entry under %q, got %v", key, cache.ttls)
	}
	cache.data[key] = nil
	second, err := svc.FindAvailable(context.Background(), base, base.AddDays(2), "OSLO")
	if err != nil {
		t.Fatalf("second find: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected cached (empty) result, got %d hits", len(second))
	}
}

func TestCacheFailureFallsBackToBackend(t *testing.T) {
	backend := memory.New()
	storagetest.SeedRoom(t, backend, "Loft", "Oslo", 1, 5)
	svc, _ := search.New(search.Config{Backend: backend, Cache: brokenCache{}, CacheTTL: time.Minute})
	hits, err := svc.FindAvailable(context.Background(), base, base.AddDays(2), "")
	if err != nil || len(hits) != 1 {
		t.Fatalf("expected backend result, hits=%d err=%v", len(hits), err)
	}
}

func TestZeroTTLDisablesCache(t *testing.T) {
	cache := newMapCache()
	svc, _ := search.New(search.Config{Backend: memory.New(), Cache: cache})
	if _, err := svc.FindAvailable(context.Background(), base, base.AddDays(1), ""); err != nil {
		t.Fatalf("find: %v", err)
	}
	if cache.gets != 0 {
		t.Fatalf("expected cache to be bypassed, got %d gets", cache.gets)
	}
}
