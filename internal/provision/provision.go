// Package provision keeps the rolling availability horizon populated and
// creates rooms together with their initial counters.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/svcfields"
	"pkt.systems/roomd/internal/uuidv7"
)

// DefaultHorizonDays is the number of days, starting today, kept provisioned.
const DefaultHorizonDays = 30

// Config wires a Provisioner.
type Config struct {
	Backend     storage.Backend
	Clock       clock.Clock
	Logger      pslog.Logger
	HorizonDays int
}

// Provisioner inserts missing day counters; it never modifies existing ones.
type Provisioner struct {
	backend storage.Backend
	clock   clock.Clock
	logger  pslog.Logger
	horizon int
}

// Result summarises one EnsureHorizon pass.
type Result struct {
	Rooms   int
	Created int
	Start   caldate.Date
	End     caldate.Date
}

// New returns a Provisioner.
func New(cfg Config) (*Provisioner, error) {
	if cfg.Backend == nil {
		return nil, errors.New("provision: backend is required")
	}
	if cfg.HorizonDays < 0 {
		return nil, errors.New("provision: horizon days must be >= 0")
	}
	if cfg.HorizonDays == 0 {
		cfg.HorizonDays = DefaultHorizonDays
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Provisioner{
		backend: cfg.Backend,
		clock:   cfg.Clock,
		logger:  svcfields.WithSubsystem(cfg.Logger, "provision.horizon"),
		horizon: cfg.HorizonDays,
	}, nil
}

// HorizonDays returns the configured horizon length.
func (p *Provisioner) HorizonDays() int { return p.horizon }

// Today returns the current UTC date per the injected clock.
func (p *Provisioner) Today() caldate.Date { return caldate.Today(p.clock.Now) }

// EnsureHorizon provisions [today, today+HorizonDays) for every room. A room
// that fails is logged and skipped; the first such error is returned after
// the remaining rooms were attempted.
func (p *Provisioner) EnsureHorizon(ctx context.Context) (Result, error) {
	start := p.Today()
	res := Result{Start: start, End: start.AddDays(p.horizon)}
	rooms, err := p.backend.ListRooms(ctx)
	if err != nil {
		return res, fmt.Errorf("provision: list rooms: %w", err)
	}
	var firstErr error
	for _, room := range rooms {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		created, err := p.backend.Provision(ctx, room.ID, res.Start, res.End)
		if err != nil {
			p.logger.Warn("provision.horizon.room_failed", "room_id", room.ID, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("provision: room %s: %w", room.ID, err)
			}
			continue
		}
		res.Rooms++
		res.Created += created
	}
	if firstErr != nil {
		return res, firstErr
	}
	p.logger.Debug("provision.horizon.ok",
		"rooms", res.Rooms,
		"created", res.Created,
		"start", res.Start.String(),
		"end", res.End.String(),
	)
	return res, nil
}

// RoomSpec is the caller-supplied part of a new room.
type RoomSpec struct {
	Name           string
	Description    string
	PriceCents     int64
	Location       string
	TotalInventory int
	Amenities      []string
}

// InvalidRoomError reports a RoomSpec that fails validation.
type InvalidRoomError struct {
	Err error
}

func (e InvalidRoomError) Error() string { return "provision: invalid room: " + e.Err.Error() }
func (e InvalidRoomError) Unwrap() error { return e.Err }

// CreateRoom stores a new room and provisions its first HorizonDays days.
func (p *Provisioner) CreateRoom(ctx context.Context, spec RoomSpec) (storage.Room, error) {
	amenities := make([]string, 0, len(spec.Amenities))
	for _, a := range spec.Amenities {
		if a = strings.TrimSpace(a); a != "" {
			amenities = append(amenities, a)
		}
	}
	room := storage.Room{
		ID:             uuidv7.NewString(),
		Name:           strings.TrimSpace(spec.Name),
		Description:    strings.TrimSpace(spec.Description),
		PriceCents:     spec.PriceCents,
		Location:       strings.TrimSpace(spec.Location),
		TotalInventory: spec.TotalInventory,
		Amenities:      amenities,
		CreatedAt:      p.clock.Now().UTC(),
	}
	if err := room.Validate(); err != nil {
		return storage.Room{}, InvalidRoomError{Err: err}
	}
	if err := p.backend.CreateRoom(ctx, room, p.Today(), p.horizon); err != nil {
		return storage.Room{}, fmt.Errorf("provision: create room: %w", err)
	}
	p.logger.Info("provision.room.created", "room_id", room.ID, "name", room.Name, "inventory", room.TotalInventory, "days", p.horizon)
	return room, nil
}
