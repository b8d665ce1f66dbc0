package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/storage/memory"
	"pkt.systems/roomd/internal/storage/retry"
)

type fakeClock struct {
	sleeps []time.Duration
	now    time.Time
}

func (f *fakeClock) Now() time.Time {
	if f.now.IsZero() {
		f.now = time.Unix(0, 0)
	}
	return f.now
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.Now().Add(d)
	return ch
}

func (f *fakeClock) Sleep(d time.Duration) {
	f.sleeps = append(f.sleeps, d)
	f.now = f.Now().Add(d)
}

// flakyBackend fails the first len(errs) LoadRoom and FindAvailable calls.
type flakyBackend struct {
	storage.Backend
	errs  []error
	calls int
}

func (f *flakyBackend) next() error {
	f.calls++
	if idx := f.calls - 1; idx < len(f.errs) {
		return f.errs[idx]
	}
	return nil
}

func (f *flakyBackend) LoadRoom(ctx context.Context, id string) (storage.Room, error) {
	if err := f.next(); err != nil {
		return storage.Room{}, err
	}
	return f.Backend.LoadRoom(ctx, id)
}

func (f *flakyBackend) FindAvailable(ctx context.Context, start, end caldate.Date, location string) ([]storage.RoomAvailability, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return f.Backend.FindAvailable(ctx, start, end, location)
}

func seeded(t *testing.T) storage.Backend {
	t.Helper()
	store := memory.New()
	room := storage.Room{ID: "r1", Name: "Loft", Location: "Lisbon", PriceCents: 100, TotalInventory: 1}
	if err := store.CreateRoom(context.Background(), room, caldate.MustParse("2026-01-20"), 2); err != nil {
		t.Fatalf("create room: %v", err)
	}
	return store
}

func TestRetriesTransientErrorsWithBackoff(t *testing.T) {
	transient := storage.NewTransientError(errors.New("connection reset"))
	inner := &flakyBackend{Backend: seeded(t), errs: []error{transient, transient, transient}}
	clk := &fakeClock{}
	backend := retry.Wrap(inner, nil, clk, retry.Config{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    25 * time.Millisecond,
		Multiplier:  2,
	})
	room, err := backend.LoadRoom(context.Background(), "r1")
	if err != nil {
		t.Fatalf("load room: %v", err)
	}
	if room.Name != "Loft" {
		t.Fatalf("unexpected room %+v", room)
	}
	if inner.calls != 4 {
		t.Fatalf("expected 4 calls, got %d", inner.calls)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}
	if len(clk.sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), clk.sleeps)
	}
	for i := range want {
		if clk.sleeps[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], clk.sleeps[i])
		}
	}
}

func TestDoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyBackend{Backend: seeded(t), errs: []error{storage.ErrNotFound}}
	clk := &fakeClock{}
	backend := retry.Wrap(inner, nil, clk, retry.Config{MaxAttempts: 5})
	if _, err := backend.LoadRoom(context.Background(), "r1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if inner.calls != 1 || len(clk.sleeps) != 0 {
		t.Fatalf("expected a single attempt, got calls=%d sleeps=%v", inner.calls, clk.sleeps)
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	transient := storage.NewTransientError(errors.New("timeout"))
	inner := &flakyBackend{Backend: seeded(t), errs: []error{transient, transient, transient}}
	backend := retry.Wrap(inner, nil, &fakeClock{}, retry.Config{MaxAttempts: 2})
	day := caldate.MustParse("2026-01-20")
	if _, err := backend.FindAvailable(context.Background(), day, day.AddDays(1), ""); !storage.IsTransient(err) {
		t.Fatalf("expected transient error after exhausting attempts, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", inner.calls)
	}
}

func TestStopsOnCanceledContext(t *testing.T) {
	transient := storage.NewTransientError(errors.New("timeout"))
	inner := &flakyBackend{Backend: seeded(t), errs: []error{transient, transient}}
	backend := retry.Wrap(inner, nil, &fakeClock{}, retry.Config{MaxAttempts: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := backend.LoadRoom(ctx, "r1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestTransactionsPassThrough(t *testing.T) {
	backend := retry.Wrap(seeded(t), nil, &fakeClock{}, retry.Config{MaxAttempts: 3})
	tx, err := backend.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	day := caldate.MustParse("2026-01-20")
	rows, err := tx.LockRange(context.Background(), "r1", day, day.AddDays(2))
	if err != nil || len(rows) != 2 {
		t.Fatalf("lock range: rows=%d err=%v", len(rows), err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
}

// lostAckBackend stores the room on the first CreateRoom call but reports a
// transient failure, as when the commit succeeds and the reply is lost.
type lostAckBackend struct {
	storage.Backend
	creates int
}

func (l *lostAckBackend) CreateRoom(ctx context.Context, room storage.Room, horizonStart caldate.Date, days int) error {
	l.creates++
	err := l.Backend.CreateRoom(ctx, room, horizonStart, days)
	if l.creates == 1 && err == nil {
		return storage.NewTransientError(errors.New("connection reset after commit"))
	}
	return err
}

func TestCreateRoomAfterLostAckSucceeds(t *testing.T) {
	inner := &lostAckBackend{Backend: memory.New()}
	backend := retry.Wrap(inner, nil, &fakeClock{}, retry.Config{MaxAttempts: 3})
	room := storage.Room{
		ID:             "r2",
		Name:           "Attic",
		Location:       "Oslo",
		PriceCents:     4500,
		TotalInventory: 2,
		Amenities:      []string{"wifi"},
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := backend.CreateRoom(context.Background(), room, caldate.MustParse("2026-01-20"), 3); err != nil {
		t.Fatalf("expected create to succeed after lost ack, got %v", err)
	}
	if inner.creates != 2 {
		t.Fatalf("expected 2 create attempts, got %d", inner.creates)
	}
	stored, err := backend.LoadRoom(context.Background(), "r2")
	if err != nil || stored.Name != "Attic" {
		t.Fatalf("load room: %+v %v", stored, err)
	}
}

func TestCreateRoomConflictAfterRetryStillFails(t *testing.T) {
	store := memory.New()
	day := caldate.MustParse("2026-01-20")
	existing := storage.Room{ID: "r3", Name: "Cellar", Location: "Oslo", PriceCents: 100, TotalInventory: 1}
	if err := store.CreateRoom(context.Background(), existing, day, 1); err != nil {
		t.Fatalf("seed: %v", err)
	}
	transient := storage.NewTransientError(errors.New("timeout"))
	inner := &flakyCreateBackend{Backend: store, errs: []error{transient}}
	backend := retry.Wrap(inner, nil, &fakeClock{}, retry.Config{MaxAttempts: 3})

	other := existing
	other.Name = "Penthouse"
	if err := backend.CreateRoom(context.Background(), other, day, 1); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected already exists for a different room, got %v", err)
	}
	if err := retry.Wrap(store, nil, &fakeClock{}, retry.Config{MaxAttempts: 3}).CreateRoom(context.Background(), existing, day, 1); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected already exists on a first attempt, got %v", err)
	}
}

// flakyCreateBackend fails the first len(errs) CreateRoom calls before
// reaching the wrapped backend.
type flakyCreateBackend struct {
	storage.Backend
	errs  []error
	calls int
}

func (f *flakyCreateBackend) CreateRoom(ctx context.Context, room storage.Room, horizonStart caldate.Date, days int) error {
	f.calls++
	if idx := f.calls - 1; idx < len(f.errs) {
		return f.errs[idx]
	}
	return f.Backend.CreateRoom(ctx, room, horizonStart, days)
}
