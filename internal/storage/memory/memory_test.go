package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/storage/storagetest"
)

func TestMemoryBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return New()
	})
}

func TestConcurrentCheckAndDecrementNeverOversells(t *testing.T) {
	store := New()
	room := storagetest.SeedRoom(t, store, "Single", "Lisbon", 1, 1)
	day := storagetest.Base
	var wins, losses atomic.Int32
	storagetest.RunConcurrently(20, func(int) {
		ctx := context.Background()
		tx, err := store.Begin(ctx)
		if err != nil {
			t.Errorf("begin: %v", err)
			return
		}
		defer tx.Rollback()
		rows, err := tx.LockRange(ctx, room.ID, day, day.AddDays(1))
		if err != nil {
			t.Errorf("lock: %v", err)
			return
		}
		if len(rows) != 1 || rows[0].Available <= 0 {
			losses.Add(1)
			return
		}
		if err := tx.DecrementRange(ctx, room.ID, day, day.AddDays(1)); err != nil {
			t.Errorf("decrement: %v", err)
			return
		}
		if err := tx.Commit(); err != nil {
			t.Errorf("commit: %v", err)
			return
		}
		wins.Add(1)
	})
	if wins.Load() != 1 || losses.Load() != 19 {
		t.Fatalf("expected 1 win and 19 losses, got %d/%d", wins.Load(), losses.Load())
	}
	if got := storagetest.Counts(t, store, room.ID, day, day.AddDays(1))[day.String()]; got != 0 {
		t.Fatalf("expected count 0, got %d", got)
	}
}

func TestDecrementRequiresHold(t *testing.T) {
	store := New()
	room := storagetest.SeedRoom(t, store, "Loft", "Lisbon", 1, 2)
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	day := storagetest.Base
	if err := tx.DecrementRange(ctx, room.ID, day, day.AddDays(1)); err == nil {
		t.Fatal("expected decrement without hold to fail")
	}
	if _, err := tx.LockRange(ctx, room.ID, day, day.AddDays(1)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := tx.DecrementRange(ctx, room.ID, day, day.AddDays(1)); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if err := tx.DecrementRange(ctx, room.ID, day, day.AddDays(1)); err == nil {
		t.Fatal("expected decrement below zero to fail")
	}
	if _, err := tx.LockRange(ctx, room.ID, day, day.AddDays(1)); err != nil {
		t.Fatalf("relocking held rows must not self-deadlock: %v", err)
	}
}

func TestFinishedTransactionsDropTheirHolds(t *testing.T) {
	store := New()
	room := storagetest.SeedRoom(t, store, "Suite", "Porto", 2, 5)
	ctx := context.Background()
	day := storagetest.Base

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.LockRange(ctx, room.ID, day, day.AddDays(3)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := tx.DecrementRange(ctx, room.ID, day, day.AddDays(3)); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	booking := storage.Booking{
		ID:        "b-1",
		UserID:    "ivy",
		RoomID:    room.ID,
		CheckIn:   day,
		CheckOut:  day.AddDays(3),
		Status:    storage.StatusConfirmed,
		CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	if err := tx.InsertBooking(ctx, booking); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := store.rowHolds.len(); got != 3 {
		t.Fatalf("expected 3 row holds while locked, got %d", got)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := store.rowHolds.len(); got != 0 {
		t.Fatalf("expected row holds dropped after commit, got %d", got)
	}

	tx, err = store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.LockBooking(ctx, booking.ID); err != nil {
		t.Fatalf("lock booking: %v", err)
	}
	if got := store.bookingHolds.len(); got != 1 {
		t.Fatalf("expected 1 booking hold while locked, got %d", got)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got := store.bookingHolds.len(); got != 0 {
		t.Fatalf("expected booking hold dropped after rollback, got %d", got)
	}
}

func TestAbandonedWaiterDropsItsHold(t *testing.T) {
	store := New()
	room := storagetest.SeedRoom(t, store, "Studio", "Porto", 1, 2)
	ctx := context.Background()
	day := storagetest.Base

	holder, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := holder.LockRange(ctx, room.ID, day, day.AddDays(1)); err != nil {
		t.Fatalf("lock: %v", err)
	}

	waiter, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := waiter.LockRange(waitCtx, room.ID, day, day.AddDays(1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected waiter to time out, got %v", err)
	}
	_ = waiter.Rollback()
	if got := store.rowHolds.len(); got != 1 {
		t.Fatalf("expected only the holder's row hold, got %d", got)
	}

	if err := holder.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got := store.rowHolds.len(); got != 0 {
		t.Fatalf("expected no row holds once everyone left, got %d", got)
	}
}
