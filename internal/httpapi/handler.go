// Package httpapi exposes the reservation engine, search and room
// administration over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/roomd/api"
	"pkt.systems/roomd/internal/correlation"
	"pkt.systems/roomd/internal/loggingutil"
	"pkt.systems/roomd/internal/provision"
	"pkt.systems/roomd/internal/qrf"
	"pkt.systems/roomd/internal/reservation"
	"pkt.systems/roomd/internal/search"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/svcfields"
	"pkt.systems/roomd/internal/uuidv7"
)

// DefaultJSONMaxBytes caps request bodies when Config.JSONMaxBytes is zero.
const DefaultJSONMaxBytes = 1 << 20

// Config wires a Handler.
type Config struct {
	Engine      *reservation.Engine
	Search      *search.Service
	Provisioner *provision.Provisioner
	Backend     storage.Backend
	Logger      pslog.Logger
	// Limiter throttles /v1 requests per client; nil disables throttling.
	Limiter *qrf.Controller
	// JSONMaxBytes limits request bodies.
	JSONMaxBytes int64
	// DisableHTTPTracing skips otelhttp and per-request spans.
	DisableHTTPTracing bool
	Version            string
}

// Handler serves the /v1 API.
type Handler struct {
	engine             *reservation.Engine
	search             *search.Service
	provisioner        *provision.Provisioner
	backend            storage.Backend
	limiter            *qrf.Controller
	logger             pslog.Logger
	tracer             trace.Tracer
	validate           *validator.Validate
	jsonMaxBytes       int64
	httpTracingEnabled bool
	version            string
}

// New returns a Handler. Engine, Search, Provisioner and Backend are required.
func New(cfg Config) (*Handler, error) {
	switch {
	case cfg.Engine == nil:
		return nil, errors.New("httpapi: engine is required")
	case cfg.Search == nil:
		return nil, errors.New("httpapi: search service is required")
	case cfg.Provisioner == nil:
		return nil, errors.New("httpapi: provisioner is required")
	case cfg.Backend == nil:
		return nil, errors.New("httpapi: backend is required")
	}
	if cfg.JSONMaxBytes <= 0 {
		cfg.JSONMaxBytes = DefaultJSONMaxBytes
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		engine:             cfg.Engine,
		search:             cfg.Search,
		provisioner:        cfg.Provisioner,
		backend:            cfg.Backend,
		limiter:            cfg.Limiter,
		logger:             loggingutil.EnsureLogger(cfg.Logger),
		tracer:             otel.Tracer("pkt.systems/roomd/httpapi"),
		validate:           v,
		jsonMaxBytes:       cfg.JSONMaxBytes,
		httpTracingEnabled: !cfg.DisableHTTPTracing,
		version:            cfg.Version,
	}, nil
}

// Register installs every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /v1/bookings", h.wrap("bookings.create", h.limited(qrf.KindBooking, h.handleReserve)))
	mux.Handle("GET /v1/bookings", h.wrap("bookings.list", h.limited(qrf.KindBooking, h.handleListBookings)))
	mux.Handle("GET /v1/bookings/{id}", h.wrap("bookings.get", h.limited(qrf.KindBooking, h.handleGetBooking)))
	mux.Handle("POST /v1/bookings/{id}/cancel", h.wrap("bookings.cancel", h.limited(qrf.KindBooking, h.handleCancel)))
	mux.Handle("GET /v1/rooms", h.wrap("rooms.search", h.limited(qrf.KindSearch, h.handleSearch)))
	mux.Handle("POST /v1/rooms", h.wrap("rooms.create", h.limited(qrf.KindRoom, h.handleCreateRoom)))
	mux.Handle("GET /v1/rooms/{id}", h.wrap("rooms.get", h.limited(qrf.KindRoom, h.handleGetRoom)))
	mux.Handle("GET /healthz", h.wrap("healthz", h.handleHealth))
}

// limited applies the per-client request limit before fn runs.
func (h *Handler) limited(kind qrf.Kind, fn handlerFunc) handlerFunc {
	if h.limiter == nil {
		return fn
	}
	return func(w http.ResponseWriter, r *http.Request) error {
		if err := h.throttleError(h.limiter.Wait(r.Context(), clientKeyFromRequest(r), kind)); err != nil {
			return err
		}
		return fn(w, r)
	}
}

func (h *Handler) throttleError(err error) error {
	if err == nil {
		return nil
	}
	var waitErr *qrf.WaitError
	if errors.As(err, &waitErr) {
		retry := int64((waitErr.Delay + time.Second - 1) / time.Second)
		if retry <= 0 {
			retry = 1
		}
		return httpError{
			Status:     http.StatusTooManyRequests,
			Code:       "throttled",
			Detail:     "request rate limit exceeded",
			RetryAfter: retry,
		}
	}
	return err
}

// clientKeyFromRequest keys the limiter by the peer IP address.
func clientKeyFromRequest(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type httpError struct {
	Status     int
	Code       string
	Detail     string
	RetryAfter int64
}

func (h httpError) Error() string {
	if h.Detail != "" {
		return fmt.Sprintf("%s: %s", h.Code, h.Detail)
	}
	return h.Code
}

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := routerSys(operation)
	httpSpanName := "roomd.http." + operation

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		reqID := uuidv7.NewString()
		span := trace.SpanFromContext(ctx)
		if h.httpTracingEnabled {
			ctx, span = h.tracer.Start(ctx, "roomd.request."+operation,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("roomd.sys", sys),
					attribute.String("roomd.operation", operation),
					attribute.String("roomd.route", r.URL.Path),
				),
			)
			defer span.End()
		}

		ctx = correlation.Ensure(ctx)
		ctx = correlation.Set(ctx, correlation.FromHeader(r.Header.Get(api.HeaderCorrelationID)))
		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"cid", correlation.ID(ctx),
		)
		span.SetAttributes(attribute.String("roomd.correlation_id", correlation.ID(ctx)))
		ctx = pslog.ContextWithLogger(ctx, logger)
		r = r.WithContext(ctx)

		w.Header().Set(api.HeaderCorrelationID, correlation.ID(ctx))
		w.Header().Set(api.HeaderRequestID, reqID)
		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)

		if err := fn(w, r); err != nil {
			herr := toHTTPError(err)
			span.SetStatus(codes.Error, herr.Code)
			span.SetAttributes(
				attribute.String("roomd.error_code", herr.Code),
				attribute.Int("roomd.error_status", herr.Status),
			)
			if herr.Status >= http.StatusInternalServerError {
				span.RecordError(err)
			}
			h.handleError(ctx, w, herr, err)
			logger.Debug("http.request.error", "status", herr.Status, "code", herr.Code, "elapsed", time.Since(start))
			return
		}
		span.SetStatus(codes.Ok, "")
		logger.Trace("http.request.complete", "elapsed", time.Since(start))
	})

	if !h.httpTracingEnabled {
		return handler
	}
	return otelhttp.NewHandler(handler, httpSpanName,
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, herr httpError, cause error) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	if herr.Status >= http.StatusInternalServerError && herr.Code == "internal_error" {
		logger.Error("http.request.internal_error", "error", cause)
	} else {
		logger.Debug("http.request.failure", "status", herr.Status, "code", herr.Code, "detail", herr.Detail)
	}
	headers := map[string]string{}
	if herr.RetryAfter > 0 {
		headers["Retry-After"] = strconv.FormatInt(herr.RetryAfter, 10)
	}
	h.writeJSON(w, herr.Status, api.ErrorResponse{
		ErrorCode:         herr.Code,
		Detail:            herr.Detail,
		RetryAfterSeconds: herr.RetryAfter,
		CorrelationID:     correlation.ID(ctx),
	}, headers)
}

func toHTTPError(err error) httpError {
	var herr httpError
	if errors.As(err, &herr) {
		return herr
	}
	if f, ok := reservation.AsFailure(err); ok {
		return httpError{Status: f.HTTPStatus, Code: f.Code, Detail: f.Detail, RetryAfter: f.RetryAfter}
	}
	var invalidRoom provision.InvalidRoomError
	switch {
	case errors.As(err, &invalidRoom):
		return httpError{Status: http.StatusBadRequest, Code: "invalid_request", Detail: invalidRoom.Err.Error()}
	case errors.Is(err, storage.ErrNotFound):
		return httpError{Status: http.StatusNotFound, Code: "not_found", Detail: "resource not found"}
	case errors.Is(err, storage.ErrAlreadyExists):
		return httpError{Status: http.StatusConflict, Code: "already_exists", Detail: "resource already exists"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return httpError{Status: http.StatusServiceUnavailable, Code: "request_canceled", Detail: "request ended before completion", RetryAfter: 1}
	}
	return httpError{Status: http.StatusInternalServerError, Code: "internal_error", Detail: "internal server error"}
}
