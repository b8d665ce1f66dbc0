package retry

import (
	"context"
	"errors"
	"slices"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/loggingutil"
	"pkt.systems/roomd/internal/storage"
)

// Config controls retry behaviour.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// Wrap returns a backend that retries transient errors according to cfg.
// Only Backend calls are retried; a Tx that fails must be abandoned by its
// caller, so transactions are handed out unwrapped.
func Wrap(inner storage.Backend, logger pslog.Logger, clk clock.Clock, cfg Config) storage.Backend {
	if inner == nil {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 50 * time.Millisecond
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &backend{
		inner:  inner,
		logger: loggingutil.EnsureLogger(logger),
		clock:  clk,
		cfg:    cfg,
	}
}

type backend struct {
	inner  storage.Backend
	logger pslog.Logger
	clock  clock.Clock
	cfg    Config
}

func (b *backend) Begin(ctx context.Context) (storage.Tx, error) {
	var tx storage.Tx
	err := b.withRetry(ctx, "begin", "", func(ctx context.Context) error {
		var err error
		tx, err = b.inner.Begin(ctx)
		return err
	})
	return tx, err
}

// CreateRoom retries like every other call. A transient failure may hide a
// committed insert, so ErrAlreadyExists on a later attempt counts as success
// when the stored room is the one being created.
func (b *backend) CreateRoom(ctx context.Context, room storage.Room, horizonStart caldate.Date, days int) error {
	attempts := 0
	err := b.withRetry(ctx, "create_room", room.ID, func(ctx context.Context) error {
		attempts++
		return b.inner.CreateRoom(ctx, room, horizonStart, days)
	})
	if attempts < 2 || !errors.Is(err, storage.ErrAlreadyExists) {
		return err
	}
	stored, loadErr := b.inner.LoadRoom(ctx, room.ID)
	if loadErr != nil || !sameRoom(stored, room) {
		return err
	}
	b.logger.Info("storage.retry.create_room.already_applied", "key", room.ID, "attempts", attempts)
	return nil
}

func sameRoom(a, b storage.Room) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Description == b.Description &&
		a.PriceCents == b.PriceCents &&
		a.Location == b.Location &&
		a.TotalInventory == b.TotalInventory &&
		slices.Equal(a.Amenities, b.Amenities) &&
		a.CreatedAt.Truncate(time.Microsecond).Equal(b.CreatedAt.Truncate(time.Microsecond))
}

func (b *backend) LoadRoom(ctx context.Context, id string) (storage.Room, error) {
	var room storage.Room
	err := b.withRetry(ctx, "load_room", id, func(ctx context.Context) error {
		var err error
		room, err = b.inner.LoadRoom(ctx, id)
		return err
	})
	return room, err
}

func (b *backend) ListRooms(ctx context.Context) ([]storage.Room, error) {
	var rooms []storage.Room
	err := b.withRetry(ctx, "list_rooms", "", func(ctx context.Context) error {
		var err error
		rooms, err = b.inner.ListRooms(ctx)
		return err
	})
	return rooms, err
}

func (b *backend) LoadDays(ctx context.Context, roomID string, start, end caldate.Date) ([]storage.DayAvailability, error) {
	var days []storage.DayAvailability
	err := b.withRetry(ctx, "load_days", roomID, func(ctx context.Context) error {
		var err error
		days, err = b.inner.LoadDays(ctx, roomID, start, end)
		return err
	})
	return days, err
}

func (b *backend) Provision(ctx context.Context, roomID string, start, end caldate.Date) (int, error) {
	var created int
	err := b.withRetry(ctx, "provision", roomID, func(ctx context.Context) error {
		n, err := b.inner.Provision(ctx, roomID, start, end)
		created += n
		return err
	})
	return created, err
}

func (b *backend) FindAvailable(ctx context.Context, start, end caldate.Date, location string) ([]storage.RoomAvailability, error) {
	var hits []storage.RoomAvailability
	err := b.withRetry(ctx, "find_available", "", func(ctx context.Context) error {
		var err error
		hits, err = b.inner.FindAvailable(ctx, start, end, location)
		return err
	})
	return hits, err
}

func (b *backend) LoadBooking(ctx context.Context, id string) (storage.Booking, error) {
	var booking storage.Booking
	err := b.withRetry(ctx, "load_booking", id, func(ctx context.Context) error {
		var err error
		booking, err = b.inner.LoadBooking(ctx, id)
		return err
	})
	return booking, err
}

func (b *backend) ListBookings(ctx context.Context, filter storage.BookingFilter) ([]storage.BookingView, error) {
	var views []storage.BookingView
	err := b.withRetry(ctx, "list_bookings", filter.UserID, func(ctx context.Context) error {
		var err error
		views, err = b.inner.ListBookings(ctx, filter)
		return err
	})
	return views, err
}

func (b *backend) Ping(ctx context.Context) error {
	return b.inner.Ping(ctx)
}

func (b *backend) Close() error {
	return b.inner.Close()
}

func (b *backend) withRetry(ctx context.Context, op, key string, fn func(context.Context) error) error {
	attempts := b.cfg.MaxAttempts
	delay := b.cfg.BaseDelay
	if attempts <= 1 {
		return fn(ctx)
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !storage.IsTransient(err) || attempt == attempts {
			return err
		}
		b.logger.Warn("storage.retry.transient",
			"operation", op,
			"key", key,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.clock.Sleep(delay)
			next := time.Duration(float64(delay) * b.cfg.Multiplier)
			if b.cfg.MaxDelay > 0 && next > b.cfg.MaxDelay {
				next = b.cfg.MaxDelay
			}
			delay = next
		}
	}
	return lastErr
}
