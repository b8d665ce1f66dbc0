// Package storage defines the inventory store contract shared by every
// roomd backend: rooms, per-day availability counters and the booking
// ledger, plus the transactional context used by the reservation engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pkt.systems/roomd/internal/caldate"
)

var (
	// ErrNotFound indicates the requested room or booking is missing.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists is returned when inserting a record whose id is taken.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrTxDone is returned by Tx methods after Commit or Rollback.
	ErrTxDone = errors.New("storage: transaction already finished")
	// ErrNotLocked is returned when a Tx mutates rows it does not hold.
	ErrNotLocked = errors.New("storage: rows not locked by transaction")
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	// StatusConfirmed marks a booking whose nights were decremented.
	StatusConfirmed BookingStatus = "CONFIRMED"
	// StatusCancelled marks a booking whose nights were credited back.
	StatusCancelled BookingStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// Room is a bookable unit type with a fixed inventory.
type Room struct {
	ID             string
	Name           string
	Description    string
	PriceCents     int64
	Location       string
	TotalInventory int
	Amenities      []string
	CreatedAt      time.Time
}

// Validate checks the invariants every backend enforces on insert.
func (r Room) Validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return errors.New("room id is required")
	case strings.TrimSpace(r.Name) == "":
		return errors.New("room name is required")
	case strings.TrimSpace(r.Location) == "":
		return errors.New("room location is required")
	case r.PriceCents <= 0:
		return errors.New("room price must be positive")
	case r.TotalInventory <= 0:
		return errors.New("room total inventory must be positive")
	}
	return nil
}

// DayAvailability is the counter of free units for one room on one date.
type DayAvailability struct {
	RoomID    string
	Date      caldate.Date
	Available int
}

// Booking is one ledger entry.
type Booking struct {
	ID          string
	UserID      string
	RoomID      string
	CheckIn     caldate.Date
	CheckOut    caldate.Date
	Status      BookingStatus
	CreatedAt   time.Time
	CancelledAt time.Time
}

// Nights returns the number of nights covered by the booking.
func (b Booking) Nights() int {
	return b.CheckIn.DaysUntil(b.CheckOut)
}

// Validate checks the ledger invariants.
func (b Booking) Validate() error {
	switch {
	case b.ID == "":
		return errors.New("booking id is required")
	case b.UserID == "":
		return errors.New("booking user is required")
	case b.RoomID == "":
		return errors.New("booking room is required")
	case !b.CheckIn.Before(b.CheckOut):
		return fmt.Errorf("booking check-out %s must be after check-in %s", b.CheckOut, b.CheckIn)
	case !b.Status.Valid():
		return fmt.Errorf("booking status %q is invalid", b.Status)
	}
	return nil
}

// BookingView is a booking joined with the room fields shown to its owner.
type BookingView struct {
	Booking
	RoomName       string
	RoomLocation   string
	RoomPriceCents int64
}

// BookingFilter selects ledger entries. Zero fields do not filter.
type BookingFilter struct {
	UserID string
	RoomID string
	Status BookingStatus
	Limit  int
}

// Matches reports whether b passes the filter (Limit is ignored).
func (f BookingFilter) Matches(b Booking) bool {
	if f.UserID != "" && b.UserID != f.UserID {
		return false
	}
	if f.RoomID != "" && b.RoomID != f.RoomID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	return true
}

// RoomAvailability is a search hit: a room free on every night of the
// requested range and the smallest free count across that range.
type RoomAvailability struct {
	Room         Room
	MinAvailable int
}

// Backend is a durable inventory store. Implementations are safe for
// concurrent use.
type Backend interface {
	// Begin opens one atomic unit of work.
	Begin(ctx context.Context) (Tx, error)
	// CreateRoom inserts room and provisions days counters starting at
	// horizonStart, all initialised to the room's total inventory.
	CreateRoom(ctx context.Context, room Room, horizonStart caldate.Date, days int) error
	LoadRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	// LoadDays returns committed counters in [start, end) ordered by date.
	LoadDays(ctx context.Context, roomID string, start, end caldate.Date) ([]DayAvailability, error)
	// Provision inserts missing counters in [start, end) and leaves existing
	// ones untouched. It returns the number of rows created.
	Provision(ctx context.Context, roomID string, start, end caldate.Date) (int, error)
	// FindAvailable runs the read-only availability search. location is an
	// optional case-insensitive substring filter. It takes no locks.
	FindAvailable(ctx context.Context, start, end caldate.Date, location string) ([]RoomAvailability, error)
	LoadBooking(ctx context.Context, id string) (Booking, error)
	// ListBookings returns matching bookings newest first.
	ListBookings(ctx context.Context, filter BookingFilter) ([]BookingView, error)
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the transactional context threaded through every mutation of
// availability and the ledger. Commit and Rollback are its only terminal
// operations; Rollback after Commit is a no-op so it can always be deferred.
type Tx interface {
	// LockRange takes an exclusive hold on every provisioned counter of roomID
	// in [start, end) until the Tx ends, blocking while another Tx holds any
	// of them. Rows come back in ascending date order; missing rows are
	// absent from the result.
	LockRange(ctx context.Context, roomID string, start, end caldate.Date) ([]DayAvailability, error)
	// DecrementRange subtracts one from every counter in [start, end). The
	// rows must have been locked and verified positive by this Tx.
	DecrementRange(ctx context.Context, roomID string, start, end caldate.Date) error
	// CreditRange adds one to every counter in [start, end), capped at the
	// room's total inventory. The rows must have been locked by this Tx.
	CreditRange(ctx context.Context, roomID string, start, end caldate.Date) error
	InsertBooking(ctx context.Context, booking Booking) error
	// LockBooking takes an exclusive hold on one booking until the Tx ends.
	LockBooking(ctx context.Context, id string) (Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, status BookingStatus, at time.Time) error
	Commit() error
	Rollback() error
}

// MatchesLocation implements the search location filter: an empty filter
// matches everything, otherwise a case-insensitive substring match.
func MatchesLocation(location, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(location), strings.ToLower(filter))
}

// SortAvailability orders search hits by room name, then id.
func SortAvailability(hits []RoomAvailability) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Room.Name != hits[j].Room.Name {
			return hits[i].Room.Name < hits[j].Room.Name
		}
		return hits[i].Room.ID < hits[j].Room.ID
	})
}

// SortBookingsNewestFirst orders bookings by creation time descending, then
// id descending so equal timestamps stay deterministic.
func SortBookingsNewestFirst(views []BookingView) {
	sort.Slice(views, func(i, j int) bool {
		a, b := views[i].CreatedAt, views[j].CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return views[i].ID > views[j].ID
	})
}

type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked as retryable.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}
