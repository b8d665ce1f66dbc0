package httpapi

import (
	"net/http"
	"strings"

	"pkt.systems/roomd/api"
	"pkt.systems/roomd/internal/provision"
	"pkt.systems/roomd/internal/storage"
)

// @Summary      Reserve a room
// @Description  Books one unit of a room for every night in [check_in, check_out). Every night must be provisioned and have at least one free unit; the decrement and the ledger insert commit together or not at all.
// @Tags         booking
// @Accept       json
// @Produce      json
// @Param        X-Roomd-User  header  string                    true  "Requester id"
// @Param        request       body    api.CreateBookingRequest  true  "Room and stay"
// @Success      201  {object}  api.Booking
// @Failure      400  {object}  api.ErrorResponse
// @Failure      401  {object}  api.ErrorResponse
// @Failure      404  {object}  api.ErrorResponse
// @Failure      409  {object}  api.ErrorResponse
// @Failure      503  {object}  api.ErrorResponse
// @Router       /v1/bookings [post]
func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) error {
	user, err := requireUser(r)
	if err != nil {
		return err
	}
	var req api.CreateBookingRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		return err
	}
	checkIn, err := parseDate("check_in", req.CheckIn)
	if err != nil {
		return err
	}
	checkOut, err := parseDate("check_out", req.CheckOut)
	if err != nil {
		return err
	}
	booking, err := h.engine.Reserve(r.Context(), user, strings.TrimSpace(req.RoomID), checkIn, checkOut)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusCreated, toAPIBooking(booking), map[string]string{
		"Location": "/v1/bookings/" + booking.ID,
	})
	return nil
}

// @Summary      List bookings
// @Description  Lists the requester's bookings newest first, joined with room name, location and price.
// @Tags         booking
// @Produce      json
// @Param        X-Roomd-User  header  string  true   "Requester id"
// @Param        status        query   string  false  "CONFIRMED or CANCELLED"
// @Param        limit         query   int     false  "Maximum bookings to return"
// @Success      200  {object}  api.ListBookingsResponse
// @Failure      400  {object}  api.ErrorResponse
// @Failure      401  {object}  api.ErrorResponse
// @Router       /v1/bookings [get]
func (h *Handler) handleListBookings(w http.ResponseWriter, r *http.Request) error {
	user, err := requireUser(r)
	if err != nil {
		return err
	}
	q := r.URL.Query()
	status := storage.BookingStatus(strings.ToUpper(strings.TrimSpace(q.Get("status"))))
	if status != "" && !status.Valid() {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_request", Detail: "status must be CONFIRMED or CANCELLED"}
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return err
	}
	views, err := h.engine.Bookings(r.Context(), user, status, limit)
	if err != nil {
		return err
	}
	resp := api.ListBookingsResponse{Bookings: make([]api.Booking, 0, len(views))}
	for _, v := range views {
		resp.Bookings = append(resp.Bookings, toAPIBookingView(v))
	}
	h.writeJSON(w, http.StatusOK, resp, nil)
	return nil
}

// @Summary      Get a booking
// @Tags         booking
// @Produce      json
// @Param        X-Roomd-User  header  string  true  "Requester id"
// @Param        id            path    string  true  "Booking id"
// @Success      200  {object}  api.Booking
// @Failure      404  {object}  api.ErrorResponse
// @Router       /v1/bookings/{id} [get]
func (h *Handler) handleGetBooking(w http.ResponseWriter, r *http.Request) error {
	user, err := requireUser(r)
	if err != nil {
		return err
	}
	booking, err := h.engine.Booking(r.Context(), user, r.PathValue("id"))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, toAPIBooking(booking), nil)
	return nil
}

// @Summary      Cancel a booking
// @Description  Marks a confirmed booking CANCELLED and returns one unit to every night it covered. Bookings owned by other users are reported as not found.
// @Tags         booking
// @Produce      json
// @Param        X-Roomd-User  header  string  true  "Requester id"
// @Param        id            path    string  true  "Booking id"
// @Success      200  {object}  api.Booking
// @Failure      404  {object}  api.ErrorResponse
// @Failure      409  {object}  api.ErrorResponse
// @Failure      503  {object}  api.ErrorResponse
// @Router       /v1/bookings/{id}/cancel [post]
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) error {
	user, err := requireUser(r)
	if err != nil {
		return err
	}
	booking, err := h.engine.Cancel(r.Context(), user, r.PathValue("id"))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, toAPIBooking(booking), nil)
	return nil
}

// @Summary      Search availability
// @Description  Lists rooms free on every night of the stay. The result is a snapshot and does not hold inventory.
// @Tags         room
// @Produce      json
// @Param        check_in   query  string  true   "First night (YYYY-MM-DD)"
// @Param        check_out  query  string  true   "Departure day (YYYY-MM-DD)"
// @Param        location   query  string  false  "Case-insensitive location substring"
// @Success      200  {object}  api.SearchResponse
// @Failure      400  {object}  api.ErrorResponse
// @Router       /v1/rooms [get]
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	checkIn, err := parseDate("check_in", q.Get("check_in"))
	if err != nil {
		return err
	}
	checkOut, err := parseDate("check_out", q.Get("check_out"))
	if err != nil {
		return err
	}
	location := strings.TrimSpace(q.Get("location"))
	hits, err := h.search.FindAvailable(r.Context(), checkIn, checkOut, location)
	if err != nil {
		return err
	}
	resp := api.SearchResponse{
		CheckIn:  checkIn.String(),
		CheckOut: checkOut.String(),
		Location: location,
		Rooms:    make([]api.AvailableRoom, 0, len(hits)),
	}
	for _, hit := range hits {
		resp.Rooms = append(resp.Rooms, api.AvailableRoom{Room: toAPIRoom(hit.Room), MinAvailable: hit.MinAvailable})
	}
	h.writeJSON(w, http.StatusOK, resp, nil)
	return nil
}

// @Summary      Get a room
// @Tags         room
// @Produce      json
// @Param        id    path   string  true   "Room id"
// @Param        from  query  string  false  "Availability window start (YYYY-MM-DD)"
// @Param        to    query  string  false  "Availability window end, exclusive (YYYY-MM-DD)"
// @Success      200  {object}  api.RoomResponse
// @Failure      400  {object}  api.ErrorResponse
// @Failure      404  {object}  api.ErrorResponse
// @Router       /v1/rooms/{id} [get]
func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) error {
	room, err := h.backend.LoadRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	resp := api.RoomResponse{Room: toAPIRoom(room)}
	q := r.URL.Query()
	if q.Get("from") != "" || q.Get("to") != "" {
		from, err := parseDate("from", q.Get("from"))
		if err != nil {
			return err
		}
		to, err := parseDate("to", q.Get("to"))
		if err != nil {
			return err
		}
		if !from.Before(to) {
			return httpError{Status: http.StatusBadRequest, Code: "invalid_range", Detail: "to must be after from"}
		}
		if from.DaysUntil(to) > 366 {
			return httpError{Status: http.StatusBadRequest, Code: "invalid_range", Detail: "window is limited to 366 days"}
		}
		days, err := h.backend.LoadDays(r.Context(), room.ID, from, to)
		if err != nil {
			return err
		}
		resp.Days = make([]api.DayAvailability, 0, len(days))
		for _, d := range days {
			resp.Days = append(resp.Days, api.DayAvailability{Date: d.Date.String(), Available: d.Available})
		}
	}
	h.writeJSON(w, http.StatusOK, resp, nil)
	return nil
}

// @Summary      Create a room
// @Description  Creates a room and provisions its availability over the configured horizon.
// @Tags         room
// @Accept       json
// @Produce      json
// @Param        X-Roomd-User  header  string                 true  "Requester id"
// @Param        request       body    api.CreateRoomRequest  true  "Room definition"
// @Success      201  {object}  api.RoomResponse
// @Failure      400  {object}  api.ErrorResponse
// @Router       /v1/rooms [post]
func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) error {
	if _, err := requireUser(r); err != nil {
		return err
	}
	var req api.CreateRoomRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		return err
	}
	cents, err := api.ParsePrice(req.Price)
	if err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_request", Detail: err.Error()}
	}
	room, err := h.provisioner.CreateRoom(r.Context(), provision.RoomSpec{
		Name:           req.Name,
		Description:    req.Description,
		PriceCents:     cents,
		Location:       req.Location,
		TotalInventory: req.TotalInventory,
		Amenities:      req.Amenities,
	})
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusCreated, api.RoomResponse{Room: toAPIRoom(room)}, map[string]string{
		"Location": "/v1/rooms/" + room.ID,
	})
	return nil
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  api.HealthResponse
// @Failure      503  {object}  api.ErrorResponse
// @Router       /healthz [get]
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) error {
	if err := h.backend.Ping(r.Context()); err != nil {
		return httpError{Status: http.StatusServiceUnavailable, Code: "unhealthy", Detail: "storage unavailable", RetryAfter: 1}
	}
	h.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Version: h.version}, nil)
	return nil
}
