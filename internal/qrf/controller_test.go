package qrf

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/clock"
)

func newTestController(clk clock.Clock, limit int, maxWait time.Duration) *Controller {
	return NewController(Config{
		Enabled: true,
		Limit:   limit,
		Window:  time.Minute,
		MaxWait: maxWait,
		Clock:   clk,
		Logger:  pslog.NoopLogger(),
	})
}

func TestDecideThrottlesPastLimit(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC))
	ctrl := newTestController(clk, 3, 0)

	for i := 0; i < 3; i++ {
		d := ctrl.Decide("10.0.0.1", KindSearch)
		if d.Throttle {
			t.Fatalf("request %d throttled early: %+v", i+1, d)
		}
		if d.Remaining != 2-i {
			t.Fatalf("request %d: expected remaining %d, got %d", i+1, 2-i, d.Remaining)
		}
	}
	clk.Advance(20 * time.Second)
	d := ctrl.Decide("10.0.0.1", KindSearch)
	if !d.Throttle || d.Delay != 40*time.Second || d.Reason != "rate_limit" {
		t.Fatalf("expected throttle with 40s delay, got %+v", d)
	}
	if other := ctrl.Decide("10.0.0.2", KindSearch); other.Throttle {
		t.Fatalf("expected other client to be unaffected, got %+v", other)
	}

	clk.Advance(40 * time.Second)
	if d := ctrl.Decide("10.0.0.1", KindSearch); d.Throttle {
		t.Fatalf("expected a fresh window after rollover, got %+v", d)
	}
}

func TestDisabledControllerNeverThrottles(t *testing.T) {
	ctrl := NewController(Config{Limit: 1})
	for i := 0; i < 5; i++ {
		if err := ctrl.Wait(context.Background(), "c", KindBooking); err != nil {
			t.Fatalf("disabled controller returned %v", err)
		}
	}
	var nilCtrl *Controller
	if err := nilCtrl.Wait(context.Background(), "c", KindBooking); err != nil {
		t.Fatalf("nil controller returned %v", err)
	}
}

func TestWaitRejectsWithoutMaxWait(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC))
	ctrl := newTestController(clk, 1, 0)
	if err := ctrl.Wait(context.Background(), "c", KindBooking); err != nil {
		t.Fatalf("first request: %v", err)
	}
	err := ctrl.Wait(context.Background(), "c", KindBooking)
	var waitErr *WaitError
	if !errors.As(err, &waitErr) {
		t.Fatalf("expected WaitError, got %v", err)
	}
	if waitErr.Delay != time.Minute {
		t.Fatalf("expected 1m delay, got %s", waitErr.Delay)
	}
}

func TestWaitHoldsUntilWindowRollsOver(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC))
	ctrl := newTestController(clk, 1, 2*time.Minute)
	if err := ctrl.Wait(context.Background(), "c", KindRoom); err != nil {
		t.Fatalf("first request: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- ctrl.Wait(context.Background(), "c", KindRoom) }()

	deadline := time.Now().Add(2 * time.Second)
	for clk.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("throttled request never started waiting")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case err := <-done:
		t.Fatalf("request finished before the window rolled over: %v", err)
	default:
	}
	clk.Advance(time.Minute)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected held request to proceed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("held request did not resume")
	}
}

func TestWaitHonorsContextWhileHolding(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC))
	ctrl := newTestController(clk, 1, 2*time.Minute)
	_ = ctrl.Wait(context.Background(), "c", KindBooking)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Wait(ctx, "c", KindBooking) }()
	for clk.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait ignored cancellation")
	}
}

func TestExpiredWindowsArePruned(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC))
	ctrl := newTestController(clk, 10, 0)
	for _, c := range []string{"a", "b", "c"} {
		ctrl.Decide(c, KindSearch)
	}
	if got := ctrl.Clients(); got != 3 {
		t.Fatalf("expected 3 tracked clients, got %d", got)
	}
	clk.Advance(2 * time.Minute)
	ctrl.Decide("d", KindSearch)
	if got := ctrl.Clients(); got != 1 {
		t.Fatalf("expected expired windows to be dropped, got %d clients", got)
	}
}
