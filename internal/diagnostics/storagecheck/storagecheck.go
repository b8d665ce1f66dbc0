// Package storagecheck runs read-only diagnostics against the configured
// inventory store and the optional ledger export bucket.
package storagecheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/roomd"
	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/export"
	"pkt.systems/roomd/internal/storage"
)

// Result captures the outcome of store verification checks.
type Result struct {
	Provider       string
	Rooms          int
	ExportEndpoint string
	ExportBucket   string
	Credentials    roomd.CredentialSummary
	Checks         []CheckResult
}

// Passed reports whether all checks succeeded.
func (r Result) Passed() bool {
	for _, check := range r.Checks {
		if check.Err != nil {
			return false
		}
	}
	return true
}

// CheckResult is the outcome of a single verification step.
type CheckResult struct {
	Name string
	Err  error
}

// ErrMissingCounters is reported when rooms lack availability rows inside
// the provisioning horizon.
var ErrMissingCounters = errors.New("availability counters missing inside horizon")

// VerifyStore opens the configured backend, checks connectivity and that
// every room is provisioned across the horizon, then checks the export
// bucket when one is configured. Nothing is written.
func VerifyStore(ctx context.Context, cfg roomd.Config, clk clock.Clock, logger pslog.Logger) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	scheme, err := roomd.StoreScheme(cfg.Store)
	if err != nil {
		return Result{}, err
	}
	result := Result{Provider: scheme}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	run := func(name string, fn func(context.Context) error) bool {
		err := fn(ctx)
		result.Checks = append(result.Checks, CheckResult{Name: name, Err: err})
		return err == nil
	}

	var backend storage.Backend
	if !run("Connect", func(ctx context.Context) error {
		var err error
		backend, err = roomd.OpenBackend(ctx, cfg, logger)
		return err
	}) {
		return result, nil
	}
	defer backend.Close()

	run("Ping", backend.Ping)

	var rooms []storage.Room
	if run("ListRooms", func(ctx context.Context) error {
		var err error
		rooms, err = backend.ListRooms(ctx)
		return err
	}) {
		result.Rooms = len(rooms)
		run("ProvisionedHorizon", func(ctx context.Context) error {
			return checkHorizon(ctx, backend, rooms, caldate.Today(clk.Now), cfg.ProvisionHorizonDays)
		})
	}

	if cfg.ExportEndpoint == "" && cfg.ExportBucket == "" {
		return result, nil
	}
	expCfg, summary, err := roomd.BuildExportConfig(cfg)
	if err != nil {
		result.Checks = append(result.Checks, CheckResult{Name: "ExportConfig", Err: err})
		return result, nil
	}
	result.ExportEndpoint = expCfg.Endpoint
	result.ExportBucket = expCfg.Bucket
	result.Credentials = summary
	run("ExportBucket", func(ctx context.Context) error {
		exp, err := export.New(expCfg, backend, clk, logger)
		if err != nil {
			return err
		}
		return exp.Check(ctx)
	})
	return result, nil
}

func checkHorizon(ctx context.Context, backend storage.Backend, rooms []storage.Room, today caldate.Date, horizon int) error {
	end := today.AddDays(horizon)
	short := 0
	var first string
	for _, room := range rooms {
		days, err := backend.LoadDays(ctx, room.ID, today, end)
		if err != nil {
			return fmt.Errorf("room %s: %w", room.ID, err)
		}
		if len(days) < horizon {
			if short == 0 {
				first = fmt.Sprintf("%s has %d of %d days", room.ID, len(days), horizon)
			}
			short++
		}
	}
	if short > 0 {
		return fmt.Errorf("%w: %d room(s), first %s", ErrMissingCounters, short, first)
	}
	return nil
}
