// Package storagetest holds the behavioural suite every storage.Backend must
// pass. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/uuidv7"
)

// Factory returns an empty backend for one subtest. Cleanup is the
// factory's responsibility (t.Cleanup).
type Factory func(t *testing.T) storage.Backend

// Base is the first provisioned day used throughout the suite.
var Base = caldate.MustParse("2026-01-20")

// Run executes the suite against backends produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, storage.Backend)
	}{
		{"CreateRoomProvisionsHorizon", testCreateRoomProvisionsHorizon},
		{"CreateRoomDuplicate", testCreateRoomDuplicate},
		{"ProvisionIsIdempotent", testProvisionIsIdempotent},
		{"LockRangeReturnsOrderedRows", testLockRangeReturnsOrderedRows},
		{"DecrementCommitIsExclusiveEnd", testDecrementCommitIsExclusiveEnd},
		{"RollbackLeavesCountersUntouched", testRollbackLeavesCountersUntouched},
		{"UncommittedWritesInvisible", testUncommittedWritesInvisible},
		{"CreditCappedAtInventory", testCreditCappedAtInventory},
		{"OverlappingLockBlocksUntilCommit", testOverlappingLockBlocksUntilCommit},
		{"DisjointLocksDoNotBlock", testDisjointLocksDoNotBlock},
		{"LockWaitHonorsContext", testLockWaitHonorsContext},
		{"FinishedTxRejectsWork", testFinishedTxRejectsWork},
		{"FindAvailable", testFindAvailable},
		{"BookingLifecycle", testBookingLifecycle},
		{"ListBookingsFilterAndOrder", testListBookingsFilterAndOrder},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, factory(t))
		})
	}
}

// SeedRoom creates a room with inventory units provisioned for days nights
// starting at Base.
func SeedRoom(t *testing.T, backend storage.Backend, name, location string, inventory, days int) storage.Room {
	t.Helper()
	room := storage.Room{
		ID:             uuidv7.NewString(),
		Name:           name,
		Description:    name + " description",
		PriceCents:     9900,
		Location:       location,
		TotalInventory: inventory,
		Amenities:      []string{"wifi"},
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := backend.CreateRoom(context.Background(), room, Base, days); err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

// Counts returns the committed counters of room in [start, end) keyed by date.
func Counts(t *testing.T, backend storage.Backend, roomID string, start, end caldate.Date) map[string]int {
	t.Helper()
	rows, err := backend.LoadDays(context.Background(), roomID, start, end)
	if err != nil {
		t.Fatalf("load days: %v", err)
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Date.String()] = row.Available
	}
	return out
}

func begin(t *testing.T, backend storage.Backend) storage.Tx {
	t.Helper()
	tx, err := backend.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx
}

func testCreateRoomProvisionsHorizon(t *testing.T, backend storage.Backend) {
	room := SeedRoom(t, backend, "Harbor View", "Lisbon", 3, 30)
	loaded, err := backend.LoadRoom(context.Background(), room.ID)
	if err != nil {
		t.Fatalf("load room: %v", err)
	}
	if loaded.Name != room.Name || loaded.TotalInventory != 3 || loaded.PriceCents != 9900 {
		t.Fatalf("unexpected room %+v", loaded)
	}
	if len(loaded.Amenities) != 1 || loaded.Amenities[0] != "wifi" {
		t.Fatalf("unexpected amenities %v", loaded.Amenities)
	}
	counts := Counts(t, backend, room.ID, Base.AddDays(-5), Base.AddDays(40))
	if len(counts) != 30 {
		t.Fatalf("expected 30 provisioned days, got %d", len(counts))
	}
	if counts[Base.String()] != 3 || counts[Base.AddDays(29).String()] != 3 {
		t.Fatalf("expected counters initialised to inventory, got %v", counts)
	}
	if _, ok := counts[Base.AddDays(30).String()]; ok {
		t.Fatal("day 30 must not be provisioned")
	}
	if _, err := backend.LoadRoom(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testCreateRoomDuplicate(t *testing.T, backend storage.Backend) {
	room := SeedRoom(t, backend, "Loft", "Berlin", 1, 1)
	err := backend.CreateRoom(context.Background(), room, Base, 1)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	rooms, err := backend.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(rooms))
	}
}

func testProvisionIsIdempotent(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	room := SeedRoom(t, backend, "Cabin", "Oslo", 2, 5)
	tx := begin(t, backend)
	if _, err := tx.LockRange(ctx, room.ID, Base, Base.AddDays(1)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := tx.DecrementRange(ctx, room.ID, Base, Base.AddDays(1)); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	created, err := backend.Provision(ctx, room.ID, Base, Base.AddDays(10))
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if created != 5 {
		t.Fatalf("expected 5 new rows, got %d", created)
	}
	created, err = backend.Provision(ctx, room.ID, Base, Base.AddDays(10))
	if err != nil {
		t.Fatalf("provision again: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected idempotent provisioning, got %d", created)
	}
	counts := Counts(t, backend, room.ID, Base, Base.AddDays(10))
	if counts[Base.String()] != 1 {
		t.Fatalf("provisioning must not reset existing counters, got %d", counts[Base.String()])
	}
	if counts[Base.AddDays(9).String()] != 2 {
		t.Fatalf("expected new row at inventory, got %d", counts[Base.AddDays(9).String()])
	}
	if _, err := backend.Provision(ctx, "missing", Base, Base.AddDays(1)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for unknown room, got %v", err)
	}
}

func testLockRangeReturnsOrderedRows(t *testing.T, backend storage.Backend) {
	room := SeedRoom(t, backend, "Studio", "Rome", 1, 3)
	tx := begin(t, backend)
	rows, err := tx.LockRange(context.Background(), room.ID, Base.AddDays(1), Base.AddDays(5))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 provisioned rows in range, got %d", len(rows))
	}
	if !rows[0].Date.Equal(Base.AddDays(1)) || !rows[1].Date.Equal(Base.AddDays(2)) {
		t.Fatalf("unexpected row order %v %v", rows[0].Date, rows[1].Date)
	}
	none, err := tx.LockRange(context.Background(), "missing", Base, Base.AddDays(2))
	if err != nil {
		t.Fatalf("lock missing room: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no rows for unknown room, got %d", len(none))
	}
}

func testDecrementCommitIsExclusiveEnd(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	room := SeedRoom(t, backend, "Suite", "Paris", 2, 5)
	checkIn, checkOut := Base, Base.AddDays(2)
	tx := begin(t, backend)
	if _, err := tx.LockRange(ctx, room.ID, checkIn, checkOut); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := tx.DecrementRange(ctx, room.ID, checkIn, checkOut); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	counts := Counts(t, backend, room.ID, Base, Base.AddDays(5))
	if counts[Base.String()] != 1 || counts[Base.AddDays(1).String()] != 1 {
		t.Fatalf("expected nights decremented, got %v", counts)
	}
	if counts[Base.AddDays(2).String()] != 2 {
		t.Fatalf("check-out day must be untouched, got %v", counts)
	}
}

func testRollbackLeavesCountersUntouched(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	room := SeedRoom(t, backend, "Attic", "Prague", 1, 3)
	tx := begin(t, backend)
	if _, err := tx.LockRange(ctx, room.ID, Base, Base.AddDays(3)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := tx.DecrementRange(ctx, room.ID, Base, Base.AddDays(3)); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	booking := newBooking("user-1", room.ID, Base, Base.AddDays(3))
	if err := tx.InsertBooking(ctx, booking); err != nil {
		t.Fatalf("insert booking: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	for day, count := range Counts(t, backend, room.ID, Base, Base.AddDays(3)) {
		if count != 1 {
			t.Fatalf("expected %s untouched, got %d", day, count)
		}
	}
	if _, err := backend.LoadBooking(ctx, booking.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected rolled back booking to be absent, got %v", err)
	}
}

func testUncommittedWritesInvisible(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	room := SeedRoom(t, backend, "Garden", "Vienna", 1, 1)
	tx := begin(t, backend)
	if _, err := tx.LockRange(ctx, room.ID, Base, Base.AddDays(1)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := tx.DecrementRange(ctx, room.ID, Base, Base.AddDays(1)); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if got := Counts(t, backend, room.ID, Base, Base.AddDays(1))[Base.String()]; got != 1 {
		t.Fatalf("uncommitted decrement visible: %d", got)
	}
	hits, err := backend.FindAvailable(ctx, Base, Base.AddDays(1), "")
	if err != nil {
		t.Fatalf("find available: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("search must see committed state only, got %d hits", len(hits))
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := Counts(t, backend, room.ID, Base, Base.AddDays(1))[Base.String()]; got != 0 {
		t.Fatalf("expected committed decrement, got %d", got)
	}
}

func testCreditCappedAtInventory(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	room := SeedRoom(t, backend, "Chalet", "Zermatt", 2, 2)
	tx := begin(t, backend)
	if _, err := tx.LockRange(ctx, room.ID, Base, Base.AddDays(2)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := tx.DecrementRange(ctx, room.ID, Base, Base.AddDays(1)); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if err := tx.CreditRange(ctx, room.ID, Base, Base.AddDays(2)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := tx.CreditRange(ctx, room.ID, Base, Base.AddDays(2)); err != nil {
		t.Fatalf("credit again: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	counts := Counts(t, backend, room.ID, Base, Base.AddDays(2))
	if counts[Base.String()] != 2 || counts[Base.AddDays(1).String()] != 2 {
		t.Fatalf("credit must cap at total inventory, got %v", counts)
	}
}

func testOverlappingLockBlocksUntilCommit(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	room := SeedRoom(t, backend, "Penthouse", "Madrid", 1, 5)
	first := begin(t, backend)
	rows, err := first.LockRange(ctx, room.ID, Base, Base.AddDays(3))
	if err != nil || len(rows) != 3 {
		t.Fatalf("first lock: rows=%d err=%v", len(rows), err)
	}

	type result struct {
		rows []storage.DayAvailability
		err  error
	}
	acquired := make(chan result, 1)
	go func() {
		second, err := backend.Begin(ctx)
		if err != nil {
			acquired <- result{err: err}
			return
		}
		defer second.Rollback()
		rows, err := second.LockRange(ctx, room.ID, Base.AddDays(2), Base.AddDays(4))
		acquired <- result{rows: rows, err: err}
	}()

	select {
	case res := <-acquired:
		t.Fatalf("overlapping lock acquired while held: %+v", res)
	case <-time.After(150 * time.Millisecond):
	}
	if err := first.DecrementRange(ctx, room.ID, Base, Base.AddDays(3)); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if err := first.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	select {
	case res := <-acquired:
		if res.err != nil {
			t.Fatalf("second lock: %v", res.err)
		}
		if len(res.rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(res.rows))
		}
		if res.rows[0].Available != 0 {
			t.Fatalf("waiter must observe fresh count 0, got %d", res.rows[0].Available)
		}
		if res.rows[1].Available != 1 {
			t.Fatalf("expected untouched day to stay 1, got %d", res.rows[1].Available)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second lock never acquired after commit")
	}
}

func testDisjointLocksDoNotBlock(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	roomA := SeedRoom(t, backend, "A", "Lisbon", 1, 6)
	roomB := SeedRoom(t, backend, "B", "Lisbon", 1, 6)
	held := begin(t, backend)
	if _, err := held.LockRange(ctx, roomA.ID, Base, Base.AddDays(3)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	cases := []struct {
		room       string
		start, end caldate.Date
	}{
		{roomA.ID, Base.AddDays(3), Base.AddDays(6)},
		{roomB.ID, Base, Base.AddDays(3)},
	}
	for _, tc := range cases {
		done := make(chan error, 1)
		go func() {
			tx, err := backend.Begin(ctx)
			if err != nil {
				done <- err
				return
			}
			defer tx.Rollback()
			_, err = tx.LockRange(ctx, tc.room, tc.start, tc.end)
			done <- err
		}()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("disjoint lock: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("disjoint lock on %s %s..%s blocked", tc.room, tc.start, tc.end)
		}
	}
}

func testLockWaitHonorsContext(t *testing.T, backend storage.Backend) {
	room := SeedRoom(t, backend, "Bunk", "Dublin", 1, 1)
	held := begin(t, backend)
	if _, err := held.LockRange(context.Background(), room.ID, Base, Base.AddDays(1)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	waiter, err := backend.Begin(ctx)
	if err != nil {
		t.Fatalf("begin waiter: %v", err)
	}
	defer waiter.Rollback()
	_, err = waiter.LockRange(ctx, room.ID, Base, Base.AddDays(1))
	if err == nil {
		t.Fatal("expected lock wait to be cut short by context")
	}
	if ctx.Err() == nil {
		t.Fatalf("lock returned %v before context expired", err)
	}
}

func testFinishedTxRejectsWork(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	room := SeedRoom(t, backend, "Nook", "Riga", 1, 1)
	tx, err := backend.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback after commit must be a no-op, got %v", err)
	}
	if _, err := tx.LockRange(ctx, room.ID, Base, Base.AddDays(1)); !errors.Is(err, storage.ErrTxDone) {
		t.Fatalf("expected ErrTxDone, got %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, storage.ErrTxDone) {
		t.Fatalf("expected ErrTxDone on second commit, got %v", err)
	}
}

func testFindAvailable(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	full := SeedRoom(t, backend, "Bay Suite", "San Francisco", 3, 10)
	partial := SeedRoom(t, backend, "Short Horizon", "San Diego", 3, 2)
	soldOut := SeedRoom(t, backend, "Sold Out", "San Jose", 1, 10)
	other := SeedRoom(t, backend, "Canal House", "Amsterdam", 2, 10)

	tx := begin(t, backend)
	if _, err := tx.LockRange(ctx, full.ID, Base.AddDays(1), Base.AddDays(2)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := tx.DecrementRange(ctx, full.ID, Base.AddDays(1), Base.AddDays(2)); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if _, err := tx.LockRange(ctx, soldOut.ID, Base.AddDays(2), Base.AddDays(3)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := tx.DecrementRange(ctx, soldOut.ID, Base.AddDays(2), Base.AddDays(3)); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	before := Counts(t, backend, full.ID, Base, Base.AddDays(10))

	hits, err := backend.FindAvailable(ctx, Base, Base.AddDays(4), "")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got := make(map[string]int)
	for _, hit := range hits {
		got[hit.Room.ID] = hit.MinAvailable
	}
	if len(got) != 2 || got[full.ID] != 2 || got[other.ID] != 2 {
		t.Fatalf("unexpected hits %v (partial=%s soldOut=%s)", got, partial.ID, soldOut.ID)
	}
	if hits[0].Room.Name != "Bay Suite" || hits[1].Room.Name != "Canal House" {
		t.Fatalf("expected hits ordered by name, got %s, %s", hits[0].Room.Name, hits[1].Room.Name)
	}

	filtered, err := backend.FindAvailable(ctx, Base, Base.AddDays(2), "san ")
	if err != nil {
		t.Fatalf("find filtered: %v", err)
	}
	names := make([]string, 0, len(filtered))
	for _, hit := range filtered {
		names = append(names, hit.Room.Name)
	}
	if fmt.Sprint(names) != "[Bay Suite Short Horizon Sold Out]" {
		t.Fatalf("unexpected filtered hits %v", names)
	}

	empty, err := backend.FindAvailable(ctx, Base.AddDays(2), Base.AddDays(2), "")
	if err != nil {
		t.Fatalf("find empty range: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no hits for empty range, got %d", len(empty))
	}
	after := Counts(t, backend, full.ID, Base, Base.AddDays(10))
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Fatalf("search changed counters: before=%v after=%v", before, after)
	}
}

func testBookingLifecycle(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	room := SeedRoom(t, backend, "Tower", "London", 1, 3)
	booking := newBooking("user-1", room.ID, Base, Base.AddDays(2))

	tx := begin(t, backend)
	if err := tx.InsertBooking(ctx, booking); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	loaded, err := backend.LoadBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("load booking: %v", err)
	}
	if loaded.Status != storage.StatusConfirmed || !loaded.CheckIn.Equal(Base) || !loaded.CheckOut.Equal(Base.AddDays(2)) {
		t.Fatalf("unexpected booking %+v", loaded)
	}

	cancelAt := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	tx = begin(t, backend)
	locked, err := tx.LockBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("lock booking: %v", err)
	}
	if locked.UserID != "user-1" {
		t.Fatalf("unexpected owner %q", locked.UserID)
	}
	if err := tx.UpdateBookingStatus(ctx, booking.ID, storage.StatusCancelled, cancelAt); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	loaded, err = backend.LoadBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("reload booking: %v", err)
	}
	if loaded.Status != storage.StatusCancelled || !loaded.CancelledAt.Equal(cancelAt) {
		t.Fatalf("expected cancelled booking, got %+v", loaded)
	}

	tx = begin(t, backend)
	if _, err := tx.LockBooking(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testListBookingsFilterAndOrder(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	room := SeedRoom(t, backend, "Mews", "Edinburgh", 5, 5)
	created := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	var ids []string
	tx := begin(t, backend)
	for i, user := range []string{"alice", "bob", "alice"} {
		b := newBooking(user, room.ID, Base.AddDays(i), Base.AddDays(i+1))
		b.CreatedAt = created.Add(time.Duration(i) * time.Minute)
		if err := tx.InsertBooking(ctx, b); err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, b.ID)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	views, err := backend.ListBookings(ctx, storage.BookingFilter{UserID: "alice"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 || views[0].ID != ids[2] || views[1].ID != ids[0] {
		t.Fatalf("expected alice's bookings newest first, got %+v", views)
	}
	if views[0].RoomName != "Mews" || views[0].RoomLocation != "Edinburgh" || views[0].RoomPriceCents != 9900 {
		t.Fatalf("expected joined room fields, got %+v", views[0])
	}
	limited, err := backend.ListBookings(ctx, storage.BookingFilter{RoomID: room.ID, Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != ids[2] {
		t.Fatalf("expected newest booking only, got %+v", limited)
	}
	cancelled, err := backend.ListBookings(ctx, storage.BookingFilter{Status: storage.StatusCancelled})
	if err != nil {
		t.Fatalf("list cancelled: %v", err)
	}
	if len(cancelled) != 0 {
		t.Fatalf("expected no cancelled bookings, got %d", len(cancelled))
	}
}

func newBooking(user, roomID string, checkIn, checkOut caldate.Date) storage.Booking {
	return storage.Booking{
		ID:        uuidv7.NewString(),
		UserID:    user,
		RoomID:    roomID,
		CheckIn:   checkIn,
		CheckOut:  checkOut,
		Status:    storage.StatusConfirmed,
		CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

// RunConcurrently runs fn in
// n goroutines released at the same instant and waits for all of them.
func RunConcurrently(n int, fn func(i int)) {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
}
