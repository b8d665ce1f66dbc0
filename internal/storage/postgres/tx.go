package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/storage"
)

type tx struct {
	mu   sync.Mutex
	db   *gorm.DB
	done bool
}

func (t *tx) session(ctx context.Context) (*gorm.DB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, storage.ErrTxDone
	}
	return t.db.WithContext(ctx), nil
}

// LockRange issues SELECT ... ORDER BY date FOR UPDATE. Postgres acquires the
// row locks in scan order, so concurrent ranges queue instead of deadlocking.
func (t *tx) LockRange(ctx context.Context, roomID string, start, end caldate.Date) ([]storage.DayAvailability, error) {
	db, err := t.session(ctx)
	if err != nil {
		return nil, err
	}
	var models []availabilityModel
	err = db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("room_id = ? AND date >= ? AND date < ?", roomID, start, end).
		Order("date").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: lock range: %w", classify(err))
	}
	return toDays(models), nil
}

func (t *tx) DecrementRange(ctx context.Context, roomID string, start, end caldate.Date) error {
	db, err := t.session(ctx)
	if err != nil {
		return err
	}
	err = db.Model(&availabilityModel{}).
		Where("room_id = ? AND date >= ? AND date < ?", roomID, start, end).
		UpdateColumn("available_count", gorm.Expr("available_count - 1")).Error
	if err != nil {
		return fmt.Errorf("postgres: decrement range: %w", classify(err))
	}
	return nil
}

func (t *tx) CreditRange(ctx context.Context, roomID string, start, end caldate.Date) error {
	db, err := t.session(ctx)
	if err != nil {
		return err
	}
	err = db.Model(&availabilityModel{}).
		Where("room_id = ? AND date >= ? AND date < ?", roomID, start, end).
		UpdateColumn("available_count", gorm.Expr(
			"LEAST(available_count + 1, (SELECT total_inventory FROM rooms WHERE rooms.id = room_availability.room_id))",
		)).Error
	if err != nil {
		return fmt.Errorf("postgres: credit range: %w", classify(err))
	}
	return nil
}

func (t *tx) InsertBooking(ctx context.Context, booking storage.Booking) error {
	if err := booking.Validate(); err != nil {
		return fmt.Errorf("postgres: insert booking: %w", err)
	}
	db, err := t.session(ctx)
	if err != nil {
		return err
	}
	model := toBookingModel(booking)
	err = db.Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("postgres: insert booking: %w", classify(err))
	}
	return nil
}

func (t *tx) LockBooking(ctx context.Context, id string) (storage.Booking, error) {
	db, err := t.session(ctx)
	if err != nil {
		return storage.Booking{}, err
	}
	var m bookingModel
	err = db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id = ?", id).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.Booking{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Booking{}, fmt.Errorf("postgres: lock booking: %w", classify(err))
	}
	return m.toStorage(), nil
}

func (t *tx) UpdateBookingStatus(ctx context.Context, id string, status storage.BookingStatus, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("postgres: invalid booking status %q", status)
	}
	db, err := t.session(ctx)
	if err != nil {
		return err
	}
	updates := map[string]any{"status": string(status)}
	if status == storage.StatusCancelled {
		updates["cancelled_at"] = at.UTC()
	}
	res := db.Model(&bookingModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("postgres: update booking: %w", classify(res.Error))
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	if err := t.db.Commit().Error; err != nil {
		return fmt.Errorf("postgres: commit: %w", classify(err))
	}
	return nil
}

func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	err := t.db.Rollback().Error
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}
