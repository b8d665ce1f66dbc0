package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"pkt.systems/roomd/api"
	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/storage"
)

func routerSys(operation string) string {
	parts := strings.FieldsFunc(operation, func(r rune) bool {
		switch r {
		case '.', '/', '-', '_':
			return true
		}
		return false
	})
	if len(parts) == 0 {
		return "api.http.router"
	}
	return "api.http.router." + strings.Join(parts, ".")
}

// decodeBody reads one JSON object, rejecting unknown fields, trailing data
// and bodies over the configured limit, then runs struct validation.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, h.jsonMaxBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: fmt.Sprintf("failed to parse request: %v", err)}
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: "request body must contain a single JSON object"}
	}
	if err := h.validate.Struct(dst); err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_request", Detail: validationDetail(err)}
	}
	return nil
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func requireUser(r *http.Request) (string, error) {
	user := strings.TrimSpace(r.Header.Get(api.HeaderUser))
	if user == "" {
		return "", httpError{Status: http.StatusUnauthorized, Code: "missing_identity", Detail: api.HeaderUser + " header is required"}
	}
	return user, nil
}

func parseDate(name, value string) (caldate.Date, error) {
	if strings.TrimSpace(value) == "" {
		return caldate.Date{}, httpError{Status: http.StatusBadRequest, Code: "invalid_date", Detail: name + " is required"}
	}
	d, err := caldate.Parse(value)
	if err != nil {
		return caldate.Date{}, httpError{Status: http.StatusBadRequest, Code: "invalid_date", Detail: fmt.Sprintf("%s: %v", name, err)}
	}
	return d, nil
}

func parseLimit(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, httpError{Status: http.StatusBadRequest, Code: "invalid_request", Detail: "limit must be a non-negative integer"}
	}
	return n, nil
}

func toAPIRoom(room storage.Room) api.Room {
	return api.Room{
		ID:             room.ID,
		Name:           room.Name,
		Description:    room.Description,
		Price:          api.FormatPrice(room.PriceCents),
		Location:       room.Location,
		TotalInventory: room.TotalInventory,
		Amenities:      room.Amenities,
		CreatedAt:      room.CreatedAt,
	}
}

func toAPIBooking(b storage.Booking) api.Booking {
	out := api.Booking{
		ID:        b.ID,
		UserID:    b.UserID,
		RoomID:    b.RoomID,
		CheckIn:   b.CheckIn.String(),
		CheckOut:  b.CheckOut.String(),
		Nights:    b.Nights(),
		Status:    string(b.Status),
		CreatedAt: b.CreatedAt,
	}
	if !b.CancelledAt.IsZero() {
		at := b.CancelledAt
		out.CancelledAt = &at
	}
	return out
}

func toAPIBookingView(v storage.BookingView) api.Booking {
	out := toAPIBooking(v.Booking)
	out.RoomName = v.RoomName
	out.RoomLocation = v.RoomLocation
	out.Price = api.FormatPrice(v.RoomPriceCents)
	return out
}
