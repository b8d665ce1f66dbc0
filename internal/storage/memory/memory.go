package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/storage"
)

// Store implements storage.Backend in memory; intended for tests, local dev
// and single-instance deployments. Row holds are per (room, date) and per
// booking, so unrelated reservations never wait on each other.
type Store struct {
	mu       sync.RWMutex
	rooms    map[string]storage.Room
	days     map[string]map[caldate.Date]int
	bookings map[string]storage.Booking

	rowHolds     holdTable[dayKey]
	bookingHolds holdTable[string]
}

type dayKey struct {
	room string
	date caldate.Date
}

// New returns an empty store.
func New() *Store {
	return &Store{
		rooms:        make(map[string]storage.Room),
		days:         make(map[string]map[caldate.Date]int),
		bookings:     make(map[string]storage.Booking),
		rowHolds:     holdTable[dayKey]{holds: make(map[dayKey]*hold)},
		bookingHolds: holdTable[string]{holds: make(map[string]*hold)},
	}
}

// Begin opens a transaction. Writes are staged and become visible
// atomically at Commit.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newTx(s), nil
}

// CreateRoom inserts room and its initial counters in one step.
func (s *Store) CreateRoom(ctx context.Context, room storage.Room, horizonStart caldate.Date, days int) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("memory: create room: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return storage.ErrAlreadyExists
	}
	room.Amenities = append([]string(nil), room.Amenities...)
	s.rooms[room.ID] = room
	counters := make(map[caldate.Date]int, days)
	for i := 0; i < days; i++ {
		counters[horizonStart.AddDays(i)] = room.TotalInventory
	}
	s.days[room.ID] = counters
	return nil
}

// LoadRoom returns the room with id.
func (s *Store) LoadRoom(ctx context.Context, id string) (storage.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return storage.Room{}, storage.ErrNotFound
	}
	return cloneRoom(room), nil
}

// ListRooms returns every room ordered by name then id.
func (s *Store) ListRooms(ctx context.Context) ([]storage.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, cloneRoom(room))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// LoadDays returns committed counters in [start, end).
func (s *Store) LoadDays(ctx context.Context, roomID string, start, end caldate.Date) ([]storage.DayAvailability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rowsInRangeLocked(roomID, start, end), nil
}

// Provision inserts any missing counters in [start, end).
func (s *Store) Provision(ctx context.Context, roomID string, start, end caldate.Date) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	counters := s.days[roomID]
	if counters == nil {
		counters = make(map[caldate.Date]int)
		s.days[roomID] = counters
	}
	created := 0
	for _, d := range caldate.Span(start, end) {
		if _, ok := counters[d]; ok {
			continue
		}
		counters[d] = room.TotalInventory
		created++
	}
	return created, nil
}

// FindAvailable scans committed counters without taking row holds.
func (s *Store) FindAvailable(ctx context.Context, start, end caldate.Date, location string) ([]storage.RoomAvailability, error) {
	nights := start.DaysUntil(end)
	if nights <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []storage.RoomAvailability
	for id, room := range s.rooms {
		if !storage.MatchesLocation(room.Location, location) {
			continue
		}
		counters := s.days[id]
		if len(counters) < nights {
			continue
		}
		minAvail, covered := -1, true
		for i := 0; i < nights; i++ {
			count, ok := counters[start.AddDays(i)]
			if !ok || count <= 0 {
				covered = false
				break
			}
			if minAvail < 0 || count < minAvail {
				minAvail = count
			}
		}
		if covered {
			hits = append(hits, storage.RoomAvailability{Room: cloneRoom(room), MinAvailable: minAvail})
		}
	}
	storage.SortAvailability(hits)
	return hits, nil
}

// LoadBooking returns the committed booking with id.
func (s *Store) LoadBooking(ctx context.Context, id string) (storage.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return storage.Booking{}, storage.ErrNotFound
	}
	return b, nil
}

// ListBookings returns matching committed bookings newest first.
func (s *Store) ListBookings(ctx context.Context, filter storage.BookingFilter) ([]storage.BookingView, error) {
	s.mu.RLock()
	out := make([]storage.BookingView, 0)
	for _, b := range s.bookings {
		if !filter.Matches(b) {
			continue
		}
		room := s.rooms[b.RoomID]
		out = append(out, storage.BookingView{
			Booking:        b,
			RoomName:       room.Name,
			RoomLocation:   room.Location,
			RoomPriceCents: room.PriceCents,
		})
	}
	s.mu.RUnlock()
	storage.SortBookingsNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) rowsInRangeLocked(roomID string, start, end caldate.Date) []storage.DayAvailability {
	counters := s.days[roomID]
	out := make([]storage.DayAvailability, 0)
	for d, count := range counters {
		if d.Before(start) || !d.Before(end) {
			continue
		}
		out = append(out, storage.DayAvailability{RoomID: roomID, Date: d, Available: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// hold is a one-slot exclusive lock. refs counts the holder and every
// waiter; the entry is dropped from its table when refs reaches zero.
type hold struct {
	ch   chan struct{}
	refs int
}

type holdTable[K comparable] struct {
	mu    sync.Mutex
	holds map[K]*hold
}

// acquire blocks until key is held by the caller or ctx ends.
func (ht *holdTable[K]) acquire(ctx context.Context, key K) error {
	ht.mu.Lock()
	h, ok := ht.holds[key]
	if !ok {
		h = &hold{ch: make(chan struct{}, 1)}
		ht.holds[key] = h
	}
	h.refs++
	ht.mu.Unlock()

	select {
	case h.ch <- struct{}{}:
		return nil
	default:
	}
	select {
	case h.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		ht.unref(key, h)
		return ctx.Err()
	}
}

// release frees key, which the caller must hold.
func (ht *holdTable[K]) release(key K) {
	ht.mu.Lock()
	h := ht.holds[key]
	ht.mu.Unlock()
	if h == nil {
		return
	}
	<-h.ch
	ht.unref(key, h)
}

func (ht *holdTable[K]) unref(key K, h *hold) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	h.refs--
	if h.refs == 0 && ht.holds[key] == h {
		delete(ht.holds, key)
	}
}

func (ht *holdTable[K]) len() int {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	return len(ht.holds)
}

func cloneRoom(room storage.Room) storage.Room {
	room.Amenities = append([]string(nil), room.Amenities...)
	return room
}

func cancelledAt(b storage.Booking, at time.Time) storage.Booking {
	b.Status = storage.StatusCancelled
	b.CancelledAt = at
	return b
}
