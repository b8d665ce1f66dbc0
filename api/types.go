// Package api holds the JSON wire types shared by the roomd HTTP server and
// the Go client.
package api

import "time"

const (
	// HeaderUser carries the pre-authenticated requester id.
	HeaderUser = "X-Roomd-User"
	// HeaderCorrelationID links related requests across logs.
	HeaderCorrelationID = "X-Correlation-Id"
	// HeaderRequestID echoes the server-assigned request id.
	HeaderRequestID = "X-Request-Id"
)

// CreateBookingRequest models the JSON payload for POST /v1/bookings.
type CreateBookingRequest struct {
	// RoomID identifies the room to reserve.
	RoomID string `json:"room_id" validate:"required,max=128"`
	// CheckIn is the first night, YYYY-MM-DD.
	CheckIn string `json:"check_in" validate:"required"`
	// CheckOut is the departure day (exclusive), YYYY-MM-DD.
	CheckOut string `json:"check_out" validate:"required"`
}

// Booking is a ledger entry as returned to its owner.
type Booking struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	RoomID      string     `json:"room_id"`
	CheckIn     string     `json:"check_in"`
	CheckOut    string     `json:"check_out"`
	Nights      int        `json:"nights"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	// Room fields are filled on listings.
	RoomName     string `json:"room_name,omitempty"`
	RoomLocation string `json:"room_location,omitempty"`
	// Price is the nightly price of the room as a decimal string.
	Price string `json:"price,omitempty"`
}

// ListBookingsResponse is returned by GET /v1/bookings, newest first.
type ListBookingsResponse struct {
	Bookings []Booking `json:"bookings"`
}

// Room describes a bookable unit type.
type Room struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Price          string    `json:"price"`
	Location       string    `json:"location"`
	TotalInventory int       `json:"total_inventory"`
	Amenities      []string  `json:"amenities,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateRoomRequest models the JSON payload for POST /v1/rooms.
type CreateRoomRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description,omitempty" validate:"max=4000"`
	// Price is the nightly price as a decimal string with at most two
	// fractional digits, e.g. "129.50".
	Price          string   `json:"price" validate:"required"`
	Location       string   `json:"location" validate:"required,max=200"`
	TotalInventory int      `json:"total_inventory" validate:"gt=0,lte=100000"`
	Amenities      []string `json:"amenities,omitempty" validate:"max=64,dive,max=64"`
}

// AvailableRoom is one search hit.
type AvailableRoom struct {
	Room
	// MinAvailable is the smallest free count across the searched nights.
	MinAvailable int `json:"min_available"`
}

// SearchResponse is returned by GET /v1/rooms.
type SearchResponse struct {
	CheckIn  string          `json:"check_in"`
	CheckOut string          `json:"check_out"`
	Location string          `json:"location,omitempty"`
	Rooms    []AvailableRoom `json:"rooms"`
}

// DayAvailability is one provisioned counter.
type DayAvailability struct {
	Date      string `json:"date"`
	Available int    `json:"available"`
}

// RoomResponse is returned by GET /v1/rooms/{id}. Days is filled when the
// request names a from/to window.
type RoomResponse struct {
	Room Room              `json:"room"`
	Days []DayAvailability `json:"days,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// ErrorCode is the stable roomd error identifier.
	ErrorCode string `json:"error"`
	// Detail provides human-readable diagnostic context for the error.
	Detail string `json:"detail,omitempty"`
	// RetryAfterSeconds is the server-provided retry hint in seconds.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
	// CorrelationID links the failure to server logs.
	CorrelationID string `json:"correlation_id,omitempty"`
}
