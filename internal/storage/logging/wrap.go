package logging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/correlation"
	"pkt.systems/roomd/internal/loggingutil"
	"pkt.systems/roomd/internal/storage"
)

type backend struct {
	inner  storage.Backend
	logger pslog.Logger
	tracer trace.Tracer
	sys    string
}

// Wrap decorates inner with spans and trace/debug logging. Transactions
// returned by Begin are decorated as well.
func Wrap(inner storage.Backend, logger pslog.Logger, sys string) storage.Backend {
	return &backend{
		inner:  inner,
		logger: loggingutil.EnsureLogger(logger),
		tracer: otel.Tracer("pkt.systems/roomd/storage"),
		sys:    sys,
	}
}

type finishFunc func(result string, err error)

func (b *backend) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, pslog.Logger, finishFunc) {
	begin := time.Now()
	ctx, span := b.tracer.Start(ctx, "roomd.storage."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("roomd.storage.operation", op),
		attribute.String("roomd.sys", b.sys),
	)
	span.SetAttributes(attrs...)

	logger := b.logger
	if ctxLogger := pslog.LoggerFromContext(ctx); ctxLogger != nil {
		logger = ctxLogger
	} else if corr := correlation.ID(ctx); corr != "" {
		logger = logger.With("cid", corr)
	}
	if corr := correlation.ID(ctx); corr != "" {
		span.SetAttributes(attribute.String("roomd.correlation_id", corr))
	}
	logger.Trace("storage."+op+".begin")
	return ctx, span, logger, func(result string, err error) {
		elapsed := time.Since(begin)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "storage_error")
			logger.Debug("storage."+op+".error", "error", err, "elapsed", elapsed)
		} else {
			span.SetStatus(codes.Ok, "")
			logger.Trace("storage."+op+".success", "result", result, "elapsed", elapsed)
		}
		span.AddEvent("roomd.storage.end", trace.WithAttributes(
			attribute.String("roomd.storage.result", result),
			attribute.Int64("roomd.storage.duration_ms", elapsed.Milliseconds()),
		))
	}
}

func rangeAttrs(roomID string, start, end caldate.Date) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("roomd.room_id", roomID),
		attribute.String("roomd.range.start", start.String()),
		attribute.String("roomd.range.end", end.String()),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (b *backend) Begin(ctx context.Context) (storage.Tx, error) {
	ctx, span, logger, finish := b.start(ctx, "begin")
	defer span.End()
	inner, err := b.inner.Begin(ctx)
	finish(outcome(err), err)
	if err != nil {
		return nil, err
	}
	return &tx{inner: inner, owner: b, logger: logger, ctx: ctx}, nil
}

func (b *backend) CreateRoom(ctx context.Context, room storage.Room, horizonStart caldate.Date, days int) error {
	ctx, span, _, finish := b.start(ctx, "create_room",
		attribute.String("roomd.room_id", room.ID),
		attribute.Int("roomd.storage.days", days),
	)
	defer span.End()
	err := b.inner.CreateRoom(ctx, room, horizonStart, days)
	finish(outcome(err), err)
	return err
}

func (b *backend) LoadRoom(ctx context.Context, id string) (storage.Room, error) {
	ctx, span, _, finish := b.start(ctx, "load_room", attribute.String("roomd.room_id", id))
	defer span.End()
	room, err := b.inner.LoadRoom(ctx, id)
	finish(outcome(err), err)
	return room, err
}

func (b *backend) ListRooms(ctx context.Context) ([]storage.Room, error) {
	ctx, span, _, finish := b.start(ctx, "list_rooms")
	defer span.End()
	rooms, err := b.inner.ListRooms(ctx)
	span.SetAttributes(attribute.Int("roomd.storage.rows", len(rooms)))
	finish(outcome(err), err)
	return rooms, err
}

func (b *backend) LoadDays(ctx context.Context, roomID string, start, end caldate.Date) ([]storage.DayAvailability, error) {
	ctx, span, _, finish := b.start(ctx, "load_days", rangeAttrs(roomID, start, end)...)
	defer span.End()
	days, err := b.inner.LoadDays(ctx, roomID, start, end)
	span.SetAttributes(attribute.Int("roomd.storage.rows", len(days)))
	finish(outcome(err), err)
	return days, err
}

func (b *backend) Provision(ctx context.Context, roomID string, start, end caldate.Date) (int, error) {
	ctx, span, _, finish := b.start(ctx, "provision", rangeAttrs(roomID, start, end)...)
	defer span.End()
	created, err := b.inner.Provision(ctx, roomID, start, end)
	span.SetAttributes(attribute.Int("roomd.storage.created", created))
	finish(outcome(err), err)
	return created, err
}

func (b *backend) FindAvailable(ctx context.Context, start, end caldate.Date, location string) ([]storage.RoomAvailability, error) {
	ctx, span, _, finish := b.start(ctx, "find_available",
		attribute.String("roomd.range.start", start.String()),
		attribute.String("roomd.range.end", end.String()),
		attribute.Bool("roomd.search.has_location", location != ""),
	)
	defer span.End()
	hits, err := b.inner.FindAvailable(ctx, start, end, location)
	span.SetAttributes(attribute.Int("roomd.storage.rows", len(hits)))
	finish(outcome(err), err)
	return hits, err
}

func (b *backend) LoadBooking(ctx context.Context, id string) (storage.Booking, error) {
	ctx, span, _, finish := b.start(ctx, "load_booking", attribute.String("roomd.booking_id", id))
	defer span.End()
	booking, err := b.inner.LoadBooking(ctx, id)
	finish(outcome(err), err)
	return booking, err
}

func (b *backend) ListBookings(ctx context.Context, filter storage.BookingFilter) ([]storage.BookingView, error) {
	ctx, span, _, finish := b.start(ctx, "list_bookings",
		attribute.Bool("roomd.filter.user", filter.UserID != ""),
		attribute.String("roomd.filter.status", string(filter.Status)),
	)
	defer span.End()
	views, err := b.inner.ListBookings(ctx, filter)
	span.SetAttributes(attribute.Int("roomd.storage.rows", len(views)))
	finish(outcome(err), err)
	return views, err
}

func (b *backend) Ping(ctx context.Context) error {
	return b.inner.Ping(ctx)
}

func (b *backend) Close() error {
	err := b.inner.Close()
	if err != nil {
		b.logger.Warn("storage.close.error", "error", err)
	}
	return err
}

// tx logs every step of a transaction. Commit and Rollback take no context,
// so they reuse the one Begin was called with.
type tx struct {
	inner  storage.Tx
	owner  *backend
	logger pslog.Logger
	ctx    context.Context
}

func (t *tx) LockRange(ctx context.Context, roomID string, start, end caldate.Date) ([]storage.DayAvailability, error) {
	ctx, span, _, finish := t.owner.start(ctx, "tx.lock_range", rangeAttrs(roomID, start, end)...)
	defer span.End()
	rows, err := t.inner.LockRange(ctx, roomID, start, end)
	span.SetAttributes(attribute.Int("roomd.storage.rows", len(rows)))
	finish(outcome(err), err)
	return rows, err
}

func (t *tx) DecrementRange(ctx context.Context, roomID string, start, end caldate.Date) error {
	ctx, span, _, finish := t.owner.start(ctx, "tx.decrement_range", rangeAttrs(roomID, start, end)...)
	defer span.End()
	err := t.inner.DecrementRange(ctx, roomID, start, end)
	finish(outcome(err), err)
	return err
}

func (t *tx) CreditRange(ctx context.Context, roomID string, start, end caldate.Date) error {
	ctx, span, _, finish := t.owner.start(ctx, "tx.credit_range", rangeAttrs(roomID, start, end)...)
	defer span.End()
	err := t.inner.CreditRange(ctx, roomID, start, end)
	finish(outcome(err), err)
	return err
}

func (t *tx) InsertBooking(ctx context.Context, booking storage.Booking) error {
	ctx, span, _, finish := t.owner.start(ctx, "tx.insert_booking",
		attribute.String("roomd.booking_id", booking.ID),
		attribute.String("roomd.room_id", booking.RoomID),
	)
	defer span.End()
	err := t.inner.InsertBooking(ctx, booking)
	finish(outcome(err), err)
	return err
}

func (t *tx) LockBooking(ctx context.Context, id string) (storage.Booking, error) {
	ctx, span, _, finish := t.owner.start(ctx, "tx.lock_booking", attribute.String("roomd.booking_id", id))
	defer span.End()
	booking, err := t.inner.LockBooking(ctx, id)
	finish(outcome(err), err)
	return booking, err
}

func (t *tx) UpdateBookingStatus(ctx context.Context, id string, status storage.BookingStatus, at time.Time) error {
	ctx, span, _, finish := t.owner.start(ctx, "tx.update_booking_status",
		attribute.String("roomd.booking_id", id),
		attribute.String("roomd.booking.status", string(status)),
	)
	defer span.End()
	err := t.inner.UpdateBookingStatus(ctx, id, status, at)
	finish(outcome(err), err)
	return err
}

func (t *tx) Commit() error {
	_, span, _, finish := t.owner.start(t.ctx, "tx.commit")
	defer span.End()
	err := t.inner.Commit()
	finish(outcome(err), err)
	return err
}

func (t *tx) Rollback() error {
	err := t.inner.Rollback()
	if err != nil {
		t.logger.Debug("storage.tx.rollback.error", "error", err)
	}
	return err
}
