package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"pkt.systems/pslog"

	"pkt.systems/roomd/api"
	"pkt.systems/roomd/internal/loggingutil"
	"pkt.systems/roomd/internal/svcfields"
	"pkt.systems/roomd/internal/version"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	// DefaultFailureRetries is how many times a retryable failure is retried.
	DefaultFailureRetries = 2
	maxErrorBody          = 64 << 10
)

// Client talks to one roomd server.
type Client struct {
	baseURL        *url.URL
	httpClient     *http.Client
	user           string
	logger         pslog.Logger
	failureRetries int
	httpTimeout    time.Duration
	sleep          func(context.Context, time.Duration) error
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient supplies a custom HTTP client/transport stack.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithUser sets the requester id sent in the X-Roomd-User header.
func WithUser(user string) Option {
	return func(c *Client) { c.user = strings.TrimSpace(user) }
}

// WithLogger supplies a logger for client diagnostics.
// Passing nil falls back to a disabled logger.
func WithLogger(logger pslog.Logger) Option {
	return func(c *Client) {
		c.logger = svcfields.WithSubsystem(loggingutil.EnsureLogger(logger), "client.sdk")
	}
}

// WithFailureRetries sets how many times retryable failures are retried.
// Zero disables retries.
func WithFailureRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.failureRetries = n
		}
	}
}

// WithHTTPTimeout bounds each HTTP exchange when the default client is used.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpTimeout = d
		}
	}
}

// New constructs a client for baseURL (scheme and host, optional path prefix).
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse baseURL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("baseURL %q has no host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	c := &Client{
		baseURL:        u,
		logger:         loggingutil.NoopLogger(),
		failureRetries: DefaultFailureRetries,
		httpTimeout:    defaultHTTPTimeout,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   c.httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return c, nil
}

// APIError describes a non-2xx response.
type APIError struct {
	// Status is the HTTP status code returned by the server.
	Status int
	// Response is the decoded roomd error envelope, when available.
	Response api.ErrorResponse
	// Body contains the raw response body bytes for additional diagnostics.
	Body []byte
	// RetryAfter is the parsed retry delay hint from headers, when provided.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Response.ErrorCode != "" {
		return fmt.Sprintf("roomd: %s (%s)", e.Response.ErrorCode, e.Response.Detail)
	}
	return fmt.Sprintf("roomd: status %d", e.Status)
}

// Code returns the stable error code, if any.
func (e *APIError) Code() string {
	if e == nil {
		return ""
	}
	return e.Response.ErrorCode
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code() == code
}

// Reserve books roomID for [checkIn, checkOut), dates as YYYY-MM-DD.
func (c *Client) Reserve(ctx context.Context, roomID, checkIn, checkOut string) (api.Booking, error) {
	var out api.Booking
	req := api.CreateBookingRequest{RoomID: roomID, CheckIn: checkIn, CheckOut: checkOut}
	err := c.do(ctx, http.MethodPost, "/v1/bookings", nil, req, &out, http.StatusCreated)
	return out, err
}

// Cancel cancels one of the requester's bookings.
func (c *Client) Cancel(ctx context.Context, bookingID string) (api.Booking, error) {
	var out api.Booking
	err := c.do(ctx, http.MethodPost, "/v1/bookings/"+url.PathEscape(bookingID)+"/cancel", nil, nil, &out, http.StatusOK)
	return out, err
}

// BookingsOptions filters Bookings.
type BookingsOptions struct {
	Status string
	Limit  int
}

// Bookings lists the requester's bookings newest first.
func (c *Client) Bookings(ctx context.Context, opts BookingsOptions) ([]api.Booking, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var out api.ListBookingsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/bookings", q, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Bookings, nil
}

// Booking fetches one of the requester's bookings.
func (c *Client) Booking(ctx context.Context, bookingID string) (api.Booking, error) {
	var out api.Booking
	err := c.do(ctx, http.MethodGet, "/v1/bookings/"+url.PathEscape(bookingID), nil, nil, &out, http.StatusOK)
	return out, err
}

// Search lists rooms free on every night of [checkIn, checkOut).
func (c *Client) Search(ctx context.Context, checkIn, checkOut, location string) (api.SearchResponse, error) {
	q := url.Values{}
	q.Set("check_in", checkIn)
	q.Set("check_out", checkOut)
	if location != "" {
		q.Set("location", location)
	}
	var out api.SearchResponse
	err := c.do(ctx, http.MethodGet, "/v1/rooms", q, nil, &out, http.StatusOK)
	return out, err
}

// Room fetches room details. When from and to are set the provisioned
// counters in that window are included.
func (c *Client) Room(ctx context.Context, roomID, from, to string) (api.RoomResponse, error) {
	q := url.Values{}
	if from != "" || to != "" {
		q.Set("from", from)
		q.Set("to", to)
	}
	var out api.RoomResponse
	err := c.do(ctx, http.MethodGet, "/v1/rooms/"+url.PathEscape(roomID), q, nil, &out, http.StatusOK)
	return out, err
}

// CreateRoom creates a room and its initial availability.
func (c *Client) CreateRoom(ctx context.Context, req api.CreateRoomRequest) (api.Room, error) {
	var out api.RoomResponse
	err := c.do(ctx, http.MethodPost, "/v1/rooms", nil, req, &out, http.StatusCreated)
	return out.Room, err
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &out, http.StatusOK)
	return out, err
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any, want int) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = raw
	}
	corr := CorrelationIDFromContext(ctx)
	if corr == "" {
		corr = GenerateCorrelationID()
	}
	logger := c.logger.With("method", method, "path", path, "cid", corr)
	for attempt := 0; ; attempt++ {
		err := c.once(ctx, method, c.endpoint(path, q), corr, payload, out, want)
		var apiErr *APIError
		if err == nil || !errors.As(err, &apiErr) || !retryable(apiErr) || attempt >= c.failureRetries {
			if err != nil {
				logger.Debug("client.request.error", "attempt", attempt+1, "error", err)
			}
			return err
		}
		delay := apiErr.RetryAfter
		if delay <= 0 {
			delay = 500 * time.Millisecond
		}
		logger.Debug("client.request.retry", "attempt", attempt+1, "delay", delay, "code", apiErr.Code())
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (c *Client) once(ctx context.Context, method, endpoint, corr string, payload []byte, out any, want int) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(api.HeaderCorrelationID, corr)
	if c.user != "" {
		req.Header.Set(api.HeaderUser, c.user)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode, Body: raw}
	_ = json.Unmarshal(raw, &apiErr.Response)
	if secs, err := strconv.ParseInt(strings.TrimSpace(resp.Header.Get("Retry-After")), 10, 64); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	} else if apiErr.Response.RetryAfterSeconds > 0 {
		apiErr.RetryAfter = time.Duration(apiErr.Response.RetryAfterSeconds) * time.Second
	}
	return apiErr
}

func retryable(err *APIError) bool {
	switch err.Status {
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return err.RetryAfter > 0
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
