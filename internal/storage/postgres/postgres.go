// Package postgres implements storage.Backend on PostgreSQL through gorm.
// Range holds use SELECT ... FOR UPDATE on room_availability rows, so
// reservations are serialized across every roomd instance sharing the
// database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/loggingutil"
	"pkt.systems/roomd/internal/storage"
)

// Config controls the PostgreSQL backend.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// AutoMigrate creates or updates the schema on open.
	AutoMigrate bool
	// SlowQuery logs statements slower than this at warn level (0 disables).
	SlowQuery time.Duration
	Logger    pslog.Logger
}

// Store implements storage.Backend backed by PostgreSQL.
type Store struct {
	db  *gorm.DB
	cfg Config
}

// New opens the database described by cfg.DSN.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	logger := loggingutil.EnsureLogger(cfg.Logger)
	db, err := gorm.Open(pgdriver.Open(cfg.DSN), &gorm.Config{
		Logger:                 newGormLogger(logger, cfg.SlowQuery),
		NowFunc:                func() time.Time { return time.Now().UTC() },
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", classify(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	store := &Store{db: db, cfg: cfg}
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return store, nil
}

// Migrate creates or updates the rooms, room_availability and bookings
// tables and their constraints.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&roomModel{}, &availabilityModel{}, &bookingModel{}); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	for _, stmt := range constraints {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("postgres: migrate constraints: %w", err)
		}
	}
	return nil
}

// DB exposes the gorm handle for diagnostics and tests.
func (s *Store) DB() *gorm.DB { return s.db }

// Begin opens a database transaction.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	db := s.db.WithContext(ctx).Begin()
	if db.Error != nil {
		return nil, fmt.Errorf("postgres: begin: %w", classify(db.Error))
	}
	return &tx{db: db}, nil
}

// CreateRoom inserts room and its initial counters in one transaction.
func (s *Store) CreateRoom(ctx context.Context, room storage.Room, horizonStart caldate.Date, days int) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("postgres: create room: %w", err)
	}
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		model := toRoomModel(room)
		if err := db.Create(&model).Error; err != nil {
			return err
		}
		if days <= 0 {
			return nil
		}
		rows := make([]availabilityModel, 0, days)
		for i := 0; i < days; i++ {
			rows = append(rows, availabilityModel{RoomID: room.ID, Date: horizonStart.AddDays(i), Available: room.TotalInventory})
		}
		return db.CreateInBatches(&rows, 500).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("postgres: create room: %w", classify(err))
	}
	return nil
}

// LoadRoom returns the room with id.
func (s *Store) LoadRoom(ctx context.Context, id string) (storage.Room, error) {
	var m roomModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.Room{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Room{}, fmt.Errorf("postgres: load room: %w", classify(err))
	}
	return m.toStorage(), nil
}

// ListRooms returns every room ordered by name then id.
func (s *Store) ListRooms(ctx context.Context) ([]storage.Room, error) {
	var models []roomModel
	if err := s.db.WithContext(ctx).Order("name, id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("postgres: list rooms: %w", classify(err))
	}
	out := make([]storage.Room, 0, len(models))
	for _, m := range models {
		out = append(out, m.toStorage())
	}
	return out, nil
}

// LoadDays returns committed counters in [start, end).
func (s *Store) LoadDays(ctx context.Context, roomID string, start, end caldate.Date) ([]storage.DayAvailability, error) {
	var models []availabilityModel
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND date >= ? AND date < ?", roomID, start, end).
		Order("date").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: load days: %w", classify(err))
	}
	return toDays(models), nil
}

// Provision inserts missing counters in [start, end), ignoring existing rows.
func (s *Store) Provision(ctx context.Context, roomID string, start, end caldate.Date) (int, error) {
	room, err := s.LoadRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	span := caldate.Span(start, end)
	if len(span) == 0 {
		return 0, nil
	}
	rows := make([]availabilityModel, 0, len(span))
	for _, d := range span {
		rows = append(rows, availabilityModel{RoomID: roomID, Date: d, Available: room.TotalInventory})
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, 500)
	if res.Error != nil {
		return 0, fmt.Errorf("postgres: provision: %w", classify(res.Error))
	}
	return int(res.RowsAffected), nil
}

// FindAvailable runs the search as one grouped query: a room qualifies when
// it has one row per night in range and the smallest count is positive.
func (s *Store) FindAvailable(ctx context.Context, start, end caldate.Date, location string) ([]storage.RoomAvailability, error) {
	nights := start.DaysUntil(end)
	if nights <= 0 {
		return nil, nil
	}
	q := s.db.WithContext(ctx).
		Table("rooms AS r").
		Select("r.*, MIN(a.available_count) AS min_available").
		Joins("JOIN room_availability a ON a.room_id = r.id").
		Where("a.date >= ? AND a.date < ?", start, end)
	if filter := strings.TrimSpace(location); filter != "" {
		q = q.Where("r.location ILIKE ?", "%"+escapeLike(filter)+"%")
	}
	var hits []availabilityHit
	err := q.Group("r.id").
		Having("COUNT(*) = ? AND MIN(a.available_count) > 0", nights).
		Order("r.name, r.id").
		Scan(&hits).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: find available: %w", classify(err))
	}
	out := make([]storage.RoomAvailability, 0, len(hits))
	for _, h := range hits {
		out = append(out, storage.RoomAvailability{Room: h.roomModel.toStorage(), MinAvailable: h.MinAvailable})
	}
	return out, nil
}

// LoadBooking returns the booking with id.
func (s *Store) LoadBooking(ctx context.Context, id string) (storage.Booking, error) {
	var m bookingModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.Booking{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Booking{}, fmt.Errorf("postgres: load booking: %w", classify(err))
	}
	return m.toStorage(), nil
}

// ListBookings returns matching bookings joined with their room, newest first.
func (s *Store) ListBookings(ctx context.Context, filter storage.BookingFilter) ([]storage.BookingView, error) {
	q := s.db.WithContext(ctx).
		Table("bookings AS b").
		Select("b.*, r.name AS room_name, r.location AS room_location, r.price_cents AS room_price_cents").
		Joins("JOIN rooms r ON r.id = b.room_id")
	if filter.UserID != "" {
		q = q.Where("b.user_id = ?", filter.UserID)
	}
	if filter.RoomID != "" {
		q = q.Where("b.room_id = ?", filter.RoomID)
	}
	if filter.Status != "" {
		q = q.Where("b.status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []bookingViewRow
	if err := q.Order("b.created_at DESC, b.id DESC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("postgres: list bookings: %w", classify(err))
	}
	out := make([]storage.BookingView, 0, len(rows))
	for _, row := range rows {
		out = append(out, storage.BookingView{
			Booking:        row.bookingModel.toStorage(),
			RoomName:       row.RoomName,
			RoomLocation:   row.RoomLocation,
			RoomPriceCents: row.RoomPriceCents,
		})
	}
	return out, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", classify(err))
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toDays(models []availabilityModel) []storage.DayAvailability {
	out := make([]storage.DayAvailability, 0, len(models))
	for _, m := range models {
		out = append(out, m.toStorage())
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
