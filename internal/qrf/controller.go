// Package qrf throttles API requests per client. Each client gets a fixed
// window of Limit requests; callers past the limit are either held until the
// window rolls over (when it is within MaxWait) or rejected with a WaitError
// carrying the delay to advertise as Retry-After.
package qrf

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/loggingutil"
	"pkt.systems/roomd/internal/svcfields"
)

const (
	// DefaultLimit is the number of requests a client may issue per window.
	DefaultLimit = 100
	// DefaultWindow is the length of one accounting window.
	DefaultWindow = time.Minute
)

// Kind identifies the class of request under evaluation.
type Kind int

const (
	// KindBooking marks reservation, cancellation and booking reads.
	KindBooking Kind = iota
	// KindSearch marks availability searches.
	KindSearch
	// KindRoom marks room reads and room administration.
	KindRoom
)

func (k Kind) String() string {
	switch k {
	case KindBooking:
		return "booking"
	case KindSearch:
		return "search"
	case KindRoom:
		return "room"
	default:
		return "unknown"
	}
}

// Config configures a Controller.
type Config struct {
	Enabled bool
	// Limit is the number of requests allowed per client per Window.
	Limit int
	// Window is the accounting period.
	Window time.Duration
	// MaxWait holds a throttled request until its window rolls over when the
	// remaining delay is at most MaxWait. Zero rejects immediately.
	MaxWait time.Duration
	Clock   clock.Clock
	Logger  pslog.Logger
}

// Decision reports whether a request should be throttled.
type Decision struct {
	Throttle  bool
	Delay     time.Duration
	Remaining int
	Reason    string
}

// WaitError is returned when a request is throttled and may not wait.
type WaitError struct {
	Delay  time.Duration
	Reason string
}

func (e *WaitError) Error() string {
	return "throttled: request rate limit exceeded"
}

type window struct {
	start time.Time
	count int
}

// Controller tracks request counts per client.
type Controller struct {
	cfg     Config
	clock   clock.Clock
	logger  pslog.Logger
	metrics *qrfMetrics

	mu        sync.Mutex
	clients   map[string]*window
	lastPrune time.Time
}

// NewController constructs a Controller, filling zero limits with defaults.
func NewController(cfg Config) *Controller {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxWait < 0 {
		cfg.MaxWait = 0
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := loggingutil.EnsureLogger(cfg.Logger)
	c := &Controller{
		cfg:     cfg,
		clock:   clk,
		logger:  svcfields.WithSubsystem(logger, "control.qrf.controller"),
		clients: make(map[string]*window),
	}
	c.metrics = newQRFMetrics(logger, c)
	return c
}

// Decide counts one request from client and reports whether it must be
// throttled. Throttled requests are not counted.
func (c *Controller) Decide(client string, kind Kind) Decision {
	if c == nil || !c.cfg.Enabled {
		return Decision{}
	}
	now := c.clock.Now()

	c.mu.Lock()
	c.pruneLocked(now)
	w := c.clients[client]
	if w == nil || !now.Before(w.start.Add(c.cfg.Window)) {
		w = &window{start: now}
		c.clients[client] = w
	}
	var decision Decision
	if w.count < c.cfg.Limit {
		w.count++
		decision = Decision{Remaining: c.cfg.Limit - w.count}
	} else {
		decision = Decision{
			Throttle: true,
			Delay:    w.start.Add(c.cfg.Window).Sub(now),
			Reason:   "rate_limit",
		}
	}
	c.mu.Unlock()

	if decision.Throttle {
		c.logger.Debug("qrf.throttle", "client", client, "kind", kind.String(), "delay", decision.Delay)
	}
	c.metrics.recordDecision(context.Background(), kind, decision)
	return decision
}

// Wait applies the limit to one request. It returns nil when the request may
// proceed, a *WaitError when it is throttled beyond MaxWait, or the ctx error
// when ctx ends while holding.
func (c *Controller) Wait(ctx context.Context, client string, kind Kind) error {
	if c == nil || !c.cfg.Enabled {
		return nil
	}
	decision := c.Decide(client, kind)
	if !decision.Throttle {
		return nil
	}
	if c.cfg.MaxWait <= 0 || decision.Delay > c.cfg.MaxWait {
		return &WaitError{Delay: decision.Delay, Reason: decision.Reason}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < decision.Delay {
		return &WaitError{Delay: decision.Delay, Reason: decision.Reason}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(decision.Delay):
	}
	decision = c.Decide(client, kind)
	if decision.Throttle {
		return &WaitError{Delay: decision.Delay, Reason: decision.Reason}
	}
	return nil
}

// Clients returns the number of clients with a tracked window.
func (c *Controller) Clients() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// pruneLocked drops expired windows at most once per window length, so the
// map only holds clients seen during the last two windows.
func (c *Controller) pruneLocked(now time.Time) {
	if now.Sub(c.lastPrune) < c.cfg.Window {
		return
	}
	c.lastPrune = now
	for key, w := range c.clients {
		if !now.Before(w.start.Add(c.cfg.Window)) {
			delete(c.clients, key)
		}
	}
}
