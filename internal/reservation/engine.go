// Package reservation implements the availability reservation engine: the
// transactional check-and-decrement of per-day counters that turns a
// request for a date range into a confirmed booking without overselling.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/correlation"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/svcfields"
	"pkt.systems/roomd/internal/uuidv7"
)

// Config wires an Engine.
type Config struct {
	Backend storage.Backend
	Clock   clock.Clock
	Logger  pslog.Logger
	// LockWait bounds each wait for row holds. Zero waits until the holder
	// finishes or the caller's context ends.
	LockWait time.Duration
	// NewID generates booking ids. Defaults to uuidv7.
	NewID func() string
}

// Engine reserves and cancels bookings. It keeps no state of its own
// between calls and is safe for concurrent use.
type Engine struct {
	backend  storage.Backend
	clock    clock.Clock
	logger   pslog.Logger
	lockWait time.Duration
	newID    func() string
	metrics  *engineMetrics
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, errors.New("reservation: backend is required")
	}
	if cfg.LockWait < 0 {
		return nil, errors.New("reservation: lock wait must be >= 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuidv7.NewString
	}
	logger := svcfields.WithSubsystem(cfg.Logger, "reservation.engine")
	return &Engine{
		backend:  cfg.Backend,
		clock:    cfg.Clock,
		logger:   logger,
		lockWait: cfg.LockWait,
		newID:    cfg.NewID,
		metrics:  newEngineMetrics(logger),
	}, nil
}

// Reserve books one unit of roomID for every night in [checkIn, checkOut)
// on behalf of requesterID. Either every night is decremented and a
// CONFIRMED booking is recorded, or nothing changes.
func (e *Engine) Reserve(ctx context.Context, requesterID, roomID string, checkIn, checkOut caldate.Date) (booking storage.Booking, err error) {
	nights := checkIn.DaysUntil(checkOut)
	logger := e.requestLogger(ctx).With(
		"user", requesterID,
		"room_id", roomID,
		"check_in", checkIn.String(),
		"check_out", checkOut.String(),
	)
	defer func() {
		e.metrics.recordAttempt(ctx, err, nights)
		e.logOutcome(logger, "reservation.reserve", err, "booking_id", booking.ID)
	}()

	if strings.TrimSpace(requesterID) == "" {
		return storage.Booking{}, ErrInvalidRequest.WithDetail("requester is required")
	}
	if strings.TrimSpace(roomID) == "" {
		return storage.Booking{}, ErrInvalidRequest.WithDetail("room_id is required")
	}
	if checkIn.IsZero() || checkOut.IsZero() || nights <= 0 {
		return storage.Booking{}, ErrInvalidRange
	}
	logger.Debug("reservation.reserve.begin", "nights", nights)

	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return storage.Booking{}, fmt.Errorf("reservation: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := e.lockRange(ctx, tx, "reserve", roomID, checkIn, checkOut)
	if err != nil {
		return storage.Booking{}, err
	}
	if len(rows) != nights {
		return storage.Booking{}, ErrIncompleteProvisioning
	}
	for _, row := range rows {
		if row.Available <= 0 {
			return storage.Booking{}, ErrUnavailable.WithDetail("no units left on %s", row.Date)
		}
	}
	if err := tx.DecrementRange(ctx, roomID, checkIn, checkOut); err != nil {
		return storage.Booking{}, fmt.Errorf("reservation: decrement: %w", err)
	}
	booking = storage.Booking{
		ID:        e.newID(),
		UserID:    requesterID,
		RoomID:    roomID,
		CheckIn:   checkIn,
		CheckOut:  checkOut,
		Status:    storage.StatusConfirmed,
		CreatedAt: e.clock.Now().UTC(),
	}
	if err := tx.InsertBooking(ctx, booking); err != nil {
		return storage.Booking{}, fmt.Errorf("reservation: insert booking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Booking{}, fmt.Errorf("reservation: commit: %w", err)
	}
	return booking, nil
}

// Cancel cancels bookingID for its owner and credits every night back,
// never beyond the room's total inventory.
func (e *Engine) Cancel(ctx context.Context, requesterID, bookingID string) (booking storage.Booking, err error) {
	logger := e.requestLogger(ctx).With("user", requesterID, "booking_id", bookingID)
	defer func() {
		e.metrics.recordCancel(ctx, err)
		e.logOutcome(logger, "reservation.cancel", err)
	}()

	if strings.TrimSpace(requesterID) == "" || strings.TrimSpace(bookingID) == "" {
		return storage.Booking{}, ErrInvalidRequest.WithDetail("requester and booking id are required")
	}
	logger.Debug("reservation.cancel.begin")

	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return storage.Booking{}, fmt.Errorf("reservation: begin: %w", err)
	}
	defer tx.Rollback()

	lockCtx, cancel := e.lockContext(ctx)
	booking, err = tx.LockBooking(lockCtx, bookingID)
	cancel()
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Booking{}, ErrBookingNotFound
	}
	if err != nil {
		return storage.Booking{}, e.lockError(ctx, lockCtx, "lock booking", err)
	}
	if booking.UserID != requesterID {
		return storage.Booking{}, ErrBookingNotFound
	}
	if booking.Status == storage.StatusCancelled {
		return storage.Booking{}, ErrAlreadyCancelled
	}

	if _, err := e.lockRange(ctx, tx, "cancel", booking.RoomID, booking.CheckIn, booking.CheckOut); err != nil {
		return storage.Booking{}, err
	}
	if err := tx.CreditRange(ctx, booking.RoomID, booking.CheckIn, booking.CheckOut); err != nil {
		return storage.Booking{}, fmt.Errorf("reservation: credit: %w", err)
	}
	now := e.clock.Now().UTC()
	if err := tx.UpdateBookingStatus(ctx, booking.ID, storage.StatusCancelled, now); err != nil {
		return storage.Booking{}, fmt.Errorf("reservation: update booking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Booking{}, fmt.Errorf("reservation: commit: %w", err)
	}
	booking.Status = storage.StatusCancelled
	booking.CancelledAt = now
	return booking, nil
}

// Booking returns bookingID when it belongs to requesterID.
func (e *Engine) Booking(ctx context.Context, requesterID, bookingID string) (storage.Booking, error) {
	booking, err := e.backend.LoadBooking(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Booking{}, ErrBookingNotFound
	}
	if err != nil {
		return storage.Booking{}, fmt.Errorf("reservation: load booking: %w", err)
	}
	if booking.UserID != requesterID {
		return storage.Booking{}, ErrBookingNotFound
	}
	return booking, nil
}

// Bookings lists requesterID's bookings newest first, joined with room details.
func (e *Engine) Bookings(ctx context.Context, requesterID string, status storage.BookingStatus, limit int) ([]storage.BookingView, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, ErrInvalidRequest.WithDetail("requester is required")
	}
	views, err := e.backend.ListBookings(ctx, storage.BookingFilter{UserID: requesterID, Status: status, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("reservation: list bookings: %w", err)
	}
	return views, nil
}

func (e *Engine) lockRange(ctx context.Context, tx storage.Tx, op, roomID string, start, end caldate.Date) ([]storage.DayAvailability, error) {
	lockCtx, cancel := e.lockContext(ctx)
	defer cancel()
	began := time.Now()
	rows, err := tx.LockRange(lockCtx, roomID, start, end)
	e.metrics.recordLockWait(ctx, op, time.Since(began))
	if err != nil {
		return nil, e.lockError(ctx, lockCtx, "lock range", err)
	}
	return rows, nil
}

func (e *Engine) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.lockWait <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.lockWait)
}

// lockError reports LockTimeout only when our own bound fired; a caller that
// gave up gets its context error back.
func (e *Engine) lockError(ctx, lockCtx context.Context, what string, err error) error {
	if ctx.Err() == nil && errors.Is(lockCtx.Err(), context.DeadlineExceeded) {
		return ErrLockTimeout.WithDetail("%s exceeded %s", what, e.lockWait)
	}
	return fmt.Errorf("reservation: %s: %w", what, err)
}

func (e *Engine) requestLogger(ctx context.Context) pslog.Logger {
	if cid := correlation.ID(ctx); cid != "" {
		return e.logger.With("cid", cid)
	}
	return e.logger
}

func (e *Engine) logOutcome(logger pslog.Logger, event string, err error, kv ...any) {
	if err == nil {
		logger.Info(event+".success", kv...)
		return
	}
	if f, ok := AsFailure(err); ok {
		if f.HTTPStatus >= 500 {
			logger.Warn(event+".timeout", "code", f.Code, "detail", f.Detail)
			return
		}
		logger.Debug(event+".rejected", "code", f.Code, "detail", f.Detail)
		return
	}
	logger.Error(event+".error", "error", err)
}
