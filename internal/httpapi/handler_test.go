package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/roomd/api"
	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/provision"
	"pkt.systems/roomd/internal/qrf"
	"pkt.systems/roomd/internal/reservation"
	"pkt.systems/roomd/internal/search"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/storage/memory"
)

var today = time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

type fixture struct {
	server  *httptest.Server
	backend *memory.Store
	clock   *clock.Manual
}

func newFixture(t *testing.T, lockWait time.Duration) *fixture {
	t.Helper()
	return newLimitedFixture(t, lockWait, nil)
}

func newLimitedFixture(t *testing.T, lockWait time.Duration, limiter *qrf.Controller) *fixture {
	t.Helper()
	backend := memory.New()
	clk := clock.NewManual(today)
	engine, err := reservation.New(reservation.Config{Backend: backend, Clock: clk, LockWait: lockWait})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	svc, err := search.New(search.Config{Backend: backend})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	prov, err := provision.New(provision.Config{Backend: backend, Clock: clk, HorizonDays: 10})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	h, err := New(Config{
		Engine:             engine,
		Search:             svc,
		Provisioner:        prov,
		Backend:            backend,
		Limiter:            limiter,
		JSONMaxBytes:       4096,
		DisableHTTPTracing: true,
		Version:            "test",
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &fixture{server: server, backend: backend, clock: clk}
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if user != "" {
		req.Header.Set(api.HeaderUser, user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func expectError(t *testing.T, resp *http.Response, status int, code string) api.ErrorResponse {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d", status, resp.StatusCode)
	}
	body := decode[api.ErrorResponse](t, resp)
	if body.ErrorCode != code {
		t.Fatalf("expected code %q, got %+v", code, body)
	}
	if body.CorrelationID == "" {
		t.Fatalf("expected correlation id in error body")
	}
	return body
}

func (f *fixture) createRoom(t *testing.T, name, location string, inventory int) api.Room {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/v1/rooms", "admin", api.CreateRoomRequest{
		Name:           name,
		Price:          "129.50",
		Location:       location,
		TotalInventory: inventory,
		Amenities:      []string{"wifi"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room: status %d", resp.StatusCode)
	}
	return decode[api.RoomResponse](t, resp).Room
}

func TestReserveListAndCancel(t *testing.T) {
	f := newFixture(t, 0)
	room := f.createRoom(t, "Loft", "Lisbon", 1)
	if room.Price != "129.50" || room.TotalInventory != 1 {
		t.Fatalf("unexpected room %+v", room)
	}

	resp := f.do(t, http.MethodPost, "/v1/bookings", "alice", api.CreateBookingRequest{
		RoomID: room.ID, CheckIn: "2026-01-20", CheckOut: "2026-01-22",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reserve: status %d", resp.StatusCode)
	}
	if resp.Header.Get(api.HeaderCorrelationID) == "" {
		t.Fatal("expected correlation header")
	}
	booking := decode[api.Booking](t, resp)
	if booking.Status != "CONFIRMED" || booking.Nights != 2 || booking.UserID != "alice" {
		t.Fatalf("unexpected booking %+v", booking)
	}

	resp = f.do(t, http.MethodPost, "/v1/bookings", "bob", api.CreateBookingRequest{
		RoomID: room.ID, CheckIn: "2026-01-21", CheckOut: "2026-01-23",
	})
	expectError(t, resp, http.StatusConflict, "unavailable")

	resp = f.do(t, http.MethodGet, "/v1/bookings", "alice", nil)
	list := decode[api.ListBookingsResponse](t, resp)
	if len(list.Bookings) != 1 || list.Bookings[0].RoomName != "Loft" || list.Bookings[0].Price != "129.50" {
		t.Fatalf("unexpected listing %+v", list)
	}
	resp = f.do(t, http.MethodGet, "/v1/bookings", "bob", nil)
	if others := decode[api.ListBookingsResponse](t, resp); len(others.Bookings) != 0 {
		t.Fatalf("expected bob to see nothing, got %+v", others)
	}

	resp = f.do(t, http.MethodGet, "/v1/bookings/"+booking.ID, "bob", nil)
	expectError(t, resp, http.StatusNotFound, "not_found")
	resp = f.do(t, http.MethodGet, "/v1/bookings/"+booking.ID, "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get booking: status %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/v1/bookings/"+booking.ID+"/cancel", "alice", nil)
	cancelled := decode[api.Booking](t, resp)
	if cancelled.Status != "CANCELLED" || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancel result %+v", cancelled)
	}
	resp = f.do(t, http.MethodPost, "/v1/bookings/"+booking.ID+"/cancel", "alice", nil)
	expectError(t, resp, http.StatusConflict, "already_cancelled")

	resp = f.do(t, http.MethodPost, "/v1/bookings", "bob", api.CreateBookingRequest{
		RoomID: room.ID, CheckIn: "2026-01-21", CheckOut: "2026-01-23",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reserve after cancel: status %d", resp.StatusCode)
	}
}

func TestReserveErrorMapping(t *testing.T) {
	f := newFixture(t, 0)
	room := f.createRoom(t, "Loft", "Lisbon", 2)
	cases := []struct {
		name   string
		user   string
		body   any
		status int
		code   string
	}{
		{name: "missing identity", body: api.CreateBookingRequest{RoomID: room.ID, CheckIn: "2026-01-20", CheckOut: "2026-01-21"}, status: http.StatusUnauthorized, code: "missing_identity"},
		{name: "bad json", user: "u", body: "{", status: http.StatusBadRequest, code: "invalid_body"},
		{name: "unknown field", user: "u", body: `{"room_id":"x","check_in":"2026-01-20","check_out":"2026-01-21","extra":1}`, status: http.StatusBadRequest, code: "invalid_body"},
		{name: "missing field", user: "u", body: `{"check_in":"2026-01-20","check_out":"2026-01-21"}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "bad date", user: "u", body: api.CreateBookingRequest{RoomID: room.ID, CheckIn: "20/01/2026", CheckOut: "2026-01-21"}, status: http.StatusBadRequest, code: "invalid_date"},
		{name: "reversed range", user: "u", body: api.CreateBookingRequest{RoomID: room.ID, CheckIn: "2026-01-22", CheckOut: "2026-01-21"}, status: http.StatusBadRequest, code: "invalid_range"},
		{name: "beyond horizon", user: "u", body: api.CreateBookingRequest{RoomID: room.ID, CheckIn: "2026-01-28", CheckOut: "2026-02-02"}, status: http.StatusBadRequest, code: "incomplete_provisioning"},
		{name: "unknown room", user: "u", body: api.CreateBookingRequest{RoomID: "nope", CheckIn: "2026-01-20", CheckOut: "2026-01-21"}, status: http.StatusBadRequest, code: "incomplete_provisioning"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/v1/bookings", tc.user, tc.body)
			expectError(t, resp, tc.status, tc.code)
		})
	}
	days := f.do(t, http.MethodGet, "/v1/rooms/"+room.ID+"?from=2026-01-20&to=2026-01-30", "", nil)
	detail := decode[api.RoomResponse](t, days)
	for _, d := range detail.Days {
		if d.Available != 2 {
			t.Fatalf("failed requests changed %s to %d", d.Date, d.Available)
		}
	}
}

func TestIncompleteProvisioningMessage(t *testing.T) {
	f := newFixture(t, 0)
	room := f.createRoom(t, "Loft", "Lisbon", 2)
	resp := f.do(t, http.MethodPost, "/v1/bookings", "u", api.CreateBookingRequest{RoomID: room.ID, CheckIn: "2026-01-29", CheckOut: "2026-01-31"})
	body := expectError(t, resp, http.StatusBadRequest, "incomplete_provisioning")
	if body.Detail != "Requested dates are outside of valid range" {
		t.Fatalf("unexpected detail %q", body.Detail)
	}
}

func TestLockWaitTimeoutMapsTo503(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	room := f.createRoom(t, "Loft", "Lisbon", 1)
	holder, err := f.backend.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer holder.Rollback()
	day := caldate.Of(today)
	if _, err := holder.LockRange(context.Background(), room.ID, day, day.AddDays(1)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	resp := f.do(t, http.MethodPost, "/v1/bookings", "u", api.CreateBookingRequest{RoomID: room.ID, CheckIn: "2026-01-20", CheckOut: "2026-01-21"})
	body := expectError(t, resp, http.StatusServiceUnavailable, "lock_wait_timeout")
	if resp.Header.Get("Retry-After") != "1" || body.RetryAfterSeconds != 1 {
		t.Fatalf("expected retry hints, header=%q body=%+v", resp.Header.Get("Retry-After"), body)
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t, 0)
	f.createRoom(t, "Beta", "Lisbon", 2)
	alpha := f.createRoom(t, "Alpha", "lisbon airport", 1)
	f.createRoom(t, "Gamma", "Porto", 1)

	resp := f.do(t, http.MethodPost, "/v1/bookings", "u", api.CreateBookingRequest{RoomID: alpha.ID, CheckIn: "2026-01-21", CheckOut: "2026-01-22"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reserve: %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/v1/rooms?check_in=2026-01-20&check_out=2026-01-22&location=LISBON", "", nil)
	result := decode[api.SearchResponse](t, resp)
	if len(result.Rooms) != 1 || result.Rooms[0].Name != "Beta" || result.Rooms[0].MinAvailable != 2 {
		t.Fatalf("unexpected search result %+v", result)
	}
	resp = f.do(t, http.MethodGet, "/v1/rooms?check_in=2026-01-22&check_out=2026-01-24&location=lisbon", "", nil)
	result = decode[api.SearchResponse](t, resp)
	if len(result.Rooms) != 2 || result.Rooms[0].Name != "Alpha" {
		t.Fatalf("unexpected ordering %+v", result)
	}

	resp = f.do(t, http.MethodGet, "/v1/rooms?check_in=2026-01-22&check_out=2026-01-22", "", nil)
	expectError(t, resp, http.StatusBadRequest, "invalid_range")
	resp = f.do(t, http.MethodGet, "/v1/rooms?check_in=2026-01-22", "", nil)
	expectError(t, resp, http.StatusBadRequest, "invalid_date")
}

func TestRoomEndpoints(t *testing.T) {
	f := newFixture(t, 0)
	resp := f.do(t, http.MethodPost, "/v1/rooms", "admin", api.CreateRoomRequest{Name: "X", Price: "abc", Location: "Y", TotalInventory: 1})
	expectError(t, resp, http.StatusBadRequest, "invalid_request")
	resp = f.do(t, http.MethodPost, "/v1/rooms", "admin", api.CreateRoomRequest{Name: "X", Price: "1.00", Location: "Y"})
	body := expectError(t, resp, http.StatusBadRequest, "invalid_request")
	if !strings.Contains(body.Detail, "total_inventory") {
		t.Fatalf("expected field name in detail, got %q", body.Detail)
	}
	resp = f.do(t, http.MethodPost, "/v1/rooms", "", api.CreateRoomRequest{Name: "X", Price: "1.00", Location: "Y", TotalInventory: 1})
	expectError(t, resp, http.StatusUnauthorized, "missing_identity")

	room := f.createRoom(t, "Loft", "Lisbon", 3)
	resp = f.do(t, http.MethodGet, "/v1/rooms/"+room.ID+"?from=2026-01-28&to=2026-02-05", "", nil)
	detail := decode[api.RoomResponse](t, resp)
	if detail.Room.ID != room.ID || len(detail.Days) != 2 {
		t.Fatalf("expected two provisioned days at the horizon edge, got %+v", detail)
	}
	resp = f.do(t, http.MethodGet, "/v1/rooms/missing", "", nil)
	expectError(t, resp, http.StatusNotFound, "not_found")
	resp = f.do(t, http.MethodGet, "/v1/rooms/"+room.ID+"?from=2026-01-28", "", nil)
	expectError(t, resp, http.StatusBadRequest, "invalid_date")
}

func TestListBookingsValidatesQuery(t *testing.T) {
	f := newFixture(t, 0)
	resp := f.do(t, http.MethodGet, "/v1/bookings?status=pending", "u", nil)
	expectError(t, resp, http.StatusBadRequest, "invalid_request")
	resp = f.do(t, http.MethodGet, "/v1/bookings?limit=-2", "u", nil)
	expectError(t, resp, http.StatusBadRequest, "invalid_request")
	resp = f.do(t, http.MethodGet, "/v1/bookings", "", nil)
	expectError(t, resp, http.StatusUnauthorized, "missing_identity")
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, 0)
	huge := `{"room_id":"` + strings.Repeat("x", 8192) + `","check_in":"2026-01-20","check_out":"2026-01-21"}`
	resp := f.do(t, http.MethodPost, "/v1/bookings", "u", huge)
	expectError(t, resp, http.StatusBadRequest, "invalid_body")
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 0)
	resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	health := decode[api.HealthResponse](t, resp)
	if resp.StatusCode != http.StatusOK || health.Status != "ok" || health.Version != "test" {
		t.Fatalf("unexpected health %d %+v", resp.StatusCode, health)
	}
}

func TestCorrelationIDIsPropagated(t *testing.T) {
	f := newFixture(t, 0)
	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/v1/bookings", nil)
	req.Header.Set(api.HeaderCorrelationID, "trace-me")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get(api.HeaderCorrelationID); got != "trace-me" {
		t.Fatalf("expected echoed correlation id, got %q", got)
	}
	body := decode[api.ErrorResponse](t, resp)
	if body.CorrelationID != "trace-me" {
		t.Fatalf("expected correlation id in body, got %+v", body)
	}
}

func TestToHTTPErrorFallsBackToInternal(t *testing.T) {
	herr := toHTTPError(errors.New("boom"))
	if herr.Status != http.StatusInternalServerError || herr.Code != "internal_error" || strings.Contains(herr.Detail, "boom") {
		t.Fatalf("unexpected mapping %+v", herr)
	}
	herr = toHTTPError(storage.ErrNotFound)
	if herr.Status != http.StatusNotFound {
		t.Fatalf("unexpected mapping %+v", herr)
	}
}
