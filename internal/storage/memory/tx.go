package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/storage"
)

type tx struct {
	store *Store

	mu            sync.Mutex
	done          bool
	heldRows      map[dayKey]struct{}
	heldBookings  map[string]struct{}
	deltas        map[dayKey]int
	inserts       []storage.Booking
	statusUpdates map[string]statusUpdate
}

type statusUpdate struct {
	status storage.BookingStatus
	at     time.Time
}

func newTx(s *Store) *tx {
	return &tx{
		store:         s,
		heldRows:      make(map[dayKey]struct{}),
		heldBookings:  make(map[string]struct{}),
		deltas:        make(map[dayKey]int),
		statusUpdates: make(map[string]statusUpdate),
	}
}

// LockRange acquires the per-row holds in ascending date order, then reads
// fresh counts so a waiter never acts on values observed before it blocked.
func (t *tx) LockRange(ctx context.Context, roomID string, start, end caldate.Date) ([]storage.DayAvailability, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, storage.ErrTxDone
	}
	t.store.mu.RLock()
	existing := t.store.rowsInRangeLocked(roomID, start, end)
	t.store.mu.RUnlock()

	for _, row := range existing {
		key := dayKey{room: roomID, date: row.Date}
		if _, held := t.heldRows[key]; held {
			continue
		}
		if err := t.store.rowHolds.acquire(ctx, key); err != nil {
			return nil, err
		}
		t.heldRows[key] = struct{}{}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	out := make([]storage.DayAvailability, 0, len(existing))
	for _, row := range existing {
		key := dayKey{room: roomID, date: row.Date}
		count, ok := t.store.days[roomID][row.Date]
		if !ok {
			continue
		}
		out = append(out, storage.DayAvailability{RoomID: roomID, Date: row.Date, Available: count + t.deltas[key]})
	}
	return out, nil
}

func (t *tx) DecrementRange(ctx context.Context, roomID string, start, end caldate.Date) error {
	return t.adjust(roomID, start, end, -1)
}

func (t *tx) CreditRange(ctx context.Context, roomID string, start, end caldate.Date) error {
	return t.adjust(roomID, start, end, +1)
}

func (t *tx) adjust(roomID string, start, end caldate.Date, step int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return storage.ErrTxDone
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	room, ok := t.store.rooms[roomID]
	if !ok {
		return storage.ErrNotFound
	}
	span := caldate.Span(start, end)
	next := make(map[dayKey]int, len(span))
	for _, d := range span {
		key := dayKey{room: roomID, date: d}
		if _, held := t.heldRows[key]; !held {
			return fmt.Errorf("memory: %s %s: %w", roomID, d, storage.ErrNotLocked)
		}
		committed, ok := t.store.days[roomID][d]
		if !ok {
			return fmt.Errorf("memory: %s %s: %w", roomID, d, storage.ErrNotFound)
		}
		delta := t.deltas[key] + step
		value := committed + delta
		if value < 0 {
			return fmt.Errorf("memory: %s %s: available count would drop below zero", roomID, d)
		}
		if value > room.TotalInventory {
			delta = room.TotalInventory - committed
		}
		next[key] = delta
	}
	for key, delta := range next {
		t.deltas[key] = delta
	}
	return nil
}

func (t *tx) InsertBooking(ctx context.Context, booking storage.Booking) error {
	if err := booking.Validate(); err != nil {
		return fmt.Errorf("memory: insert booking: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return storage.ErrTxDone
	}
	t.store.mu.RLock()
	_, exists := t.store.bookings[booking.ID]
	t.store.mu.RUnlock()
	if exists {
		return storage.ErrAlreadyExists
	}
	for _, pending := range t.inserts {
		if pending.ID == booking.ID {
			return storage.ErrAlreadyExists
		}
	}
	t.inserts = append(t.inserts, booking)
	return nil
}

func (t *tx) LockBooking(ctx context.Context, id string) (storage.Booking, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return storage.Booking{}, storage.ErrTxDone
	}
	for _, pending := range t.inserts {
		if pending.ID == id {
			return t.applyStatus(pending), nil
		}
	}
	if _, held := t.heldBookings[id]; !held {
		t.store.mu.RLock()
		_, exists := t.store.bookings[id]
		t.store.mu.RUnlock()
		if !exists {
			return storage.Booking{}, storage.ErrNotFound
		}
		if err := t.store.bookingHolds.acquire(ctx, id); err != nil {
			return storage.Booking{}, err
		}
		t.heldBookings[id] = struct{}{}
	}
	t.store.mu.RLock()
	b := t.store.bookings[id]
	t.store.mu.RUnlock()
	return t.applyStatus(b), nil
}

func (t *tx) applyStatus(b storage.Booking) storage.Booking {
	if upd, ok := t.statusUpdates[b.ID]; ok {
		b.Status = upd.status
		if upd.status == storage.StatusCancelled {
			b.CancelledAt = upd.at
		}
	}
	return b
}

func (t *tx) UpdateBookingStatus(ctx context.Context, id string, status storage.BookingStatus, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("memory: invalid booking status %q", status)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return storage.ErrTxDone
	}
	pending := false
	for _, b := range t.inserts {
		if b.ID == id {
			pending = true
			break
		}
	}
	if _, held := t.heldBookings[id]; !held && !pending {
		return fmt.Errorf("memory: booking %s: %w", id, storage.ErrNotLocked)
	}
	t.statusUpdates[id] = statusUpdate{status: status, at: at}
	return nil
}

func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return storage.ErrTxDone
	}
	s := t.store
	s.mu.Lock()
	for _, b := range t.inserts {
		if _, exists := s.bookings[b.ID]; exists {
			s.mu.Unlock()
			t.finishLocked()
			return storage.ErrAlreadyExists
		}
	}
	for key, delta := range t.deltas {
		s.days[key.room][key.date] += delta
	}
	for _, b := range t.inserts {
		s.bookings[b.ID] = b
	}
	for id, upd := range t.statusUpdates {
		b, ok := s.bookings[id]
		if !ok {
			continue
		}
		if upd.status == storage.StatusCancelled {
			s.bookings[id] = cancelledAt(b, upd.at)
			continue
		}
		b.Status = upd.status
		s.bookings[id] = b
	}
	s.mu.Unlock()
	t.finishLocked()
	return nil
}

func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.finishLocked()
	return nil
}

func (t *tx) finishLocked() {
	t.done = true
	for key := range t.heldRows {
		t.store.rowHolds.release(key)
		delete(t.heldRows, key)
	}
	for id := range t.heldBookings {
		t.store.bookingHolds.release(id)
		delete(t.heldBookings, id)
	}
	t.deltas = nil
	t.inserts = nil
	t.statusUpdates = nil
}
