package postgres

import (
	"time"

	"gorm.io/datatypes"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/storage"
)

type roomModel struct {
	ID             string                      `gorm:"primaryKey;type:text"`
	Name           string                      `gorm:"type:varchar(255);not null"`
	Description    string                      `gorm:"type:text;not null;default:''"`
	PriceCents     int64                       `gorm:"not null;check:chk_rooms_price,price_cents > 0"`
	Location       string                      `gorm:"type:varchar(255);not null;index:idx_rooms_location"`
	TotalInventory int                         `gorm:"not null;default:1;check:chk_rooms_inventory,total_inventory > 0"`
	Amenities      datatypes.JSONSlice[string] `gorm:"not null;default:'[]'"`
	CreatedAt      time.Time                   `gorm:"not null"`
}

func (roomModel) TableName() string { return "rooms" }

type availabilityModel struct {
	RoomID    string       `gorm:"primaryKey;type:text"`
	Date      caldate.Date `gorm:"primaryKey;type:date;index:idx_room_availability_date"`
	Available int          `gorm:"column:available_count;not null;check:chk_availability_nonnegative,available_count >= 0"`
}

func (availabilityModel) TableName() string { return "room_availability" }

type bookingModel struct {
	ID          string       `gorm:"primaryKey;type:text"`
	UserID      string       `gorm:"type:text;not null;index:idx_bookings_user"`
	RoomID      string       `gorm:"type:text;not null;index:idx_bookings_room"`
	CheckIn     caldate.Date `gorm:"type:date;not null"`
	CheckOut    caldate.Date `gorm:"type:date;not null;check:chk_bookings_range,check_out > check_in"`
	Status      string       `gorm:"type:varchar(16);not null;default:CONFIRMED"`
	CreatedAt   time.Time    `gorm:"not null;index:idx_bookings_created"`
	CancelledAt *time.Time
}

func (bookingModel) TableName() string { return "bookings" }

type bookingViewRow struct {
	bookingModel   `gorm:"embedded"`
	RoomName       string
	RoomLocation   string
	RoomPriceCents int64
}

type availabilityHit struct {
	roomModel    `gorm:"embedded"`
	MinAvailable int
}

// constraints are applied after AutoMigrate; gorm only derives foreign keys
// from association fields, which these models deliberately do not carry.
var constraints = []string{
	`DO $$ BEGIN
		ALTER TABLE room_availability ADD CONSTRAINT fk_room_availability_room
			FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE;
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`DO $$ BEGIN
		ALTER TABLE bookings ADD CONSTRAINT fk_bookings_room
			FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE;
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
}

func toRoomModel(r storage.Room) roomModel {
	amenities := r.Amenities
	if amenities == nil {
		amenities = []string{}
	}
	return roomModel{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		PriceCents:     r.PriceCents,
		Location:       r.Location,
		TotalInventory: r.TotalInventory,
		Amenities:      datatypes.NewJSONSlice(amenities),
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func (m roomModel) toStorage() storage.Room {
	return storage.Room{
		ID:             m.ID,
		Name:           m.Name,
		Description:    m.Description,
		PriceCents:     m.PriceCents,
		Location:       m.Location,
		TotalInventory: m.TotalInventory,
		Amenities:      append([]string(nil), m.Amenities...),
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func (m availabilityModel) toStorage() storage.DayAvailability {
	return storage.DayAvailability{RoomID: m.RoomID, Date: m.Date, Available: m.Available}
}

func toBookingModel(b storage.Booking) bookingModel {
	m := bookingModel{
		ID:        b.ID,
		UserID:    b.UserID,
		RoomID:    b.RoomID,
		CheckIn:   b.CheckIn,
		CheckOut:  b.CheckOut,
		Status:    string(b.Status),
		CreatedAt: b.CreatedAt.UTC(),
	}
	if !b.CancelledAt.IsZero() {
		at := b.CancelledAt.UTC()
		m.CancelledAt = &at
	}
	return m
}

func (m bookingModel) toStorage() storage.Booking {
	b := storage.Booking{
		ID:        m.ID,
		UserID:    m.UserID,
		RoomID:    m.RoomID,
		CheckIn:   m.CheckIn,
		CheckOut:  m.CheckOut,
		Status:    storage.BookingStatus(m.Status),
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.CancelledAt != nil {
		b.CancelledAt = m.CancelledAt.UTC()
	}
	return b
}
