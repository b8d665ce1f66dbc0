// Package search answers read-only availability queries. Results may be
// served from a short-lived cache; reservations always re-check counters
// under row holds, so a stale hit can at worst lead to an Unavailable
// reservation attempt.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/reservation"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/svcfields"
)

// Cache stores search results keyed by CacheKey.
type Cache interface {
	Get(ctx context.Context, key string) ([]storage.RoomAvailability, bool, error)
	Set(ctx context.Context, key string, hits []storage.RoomAvailability, ttl time.Duration) error
}

// Config wires a Service.
type Config struct {
	Backend storage.Backend
	// Cache is optional; nil or a zero CacheTTL disables caching.
	Cache    Cache
	CacheTTL time.Duration
	Logger   pslog.Logger
}

// Service runs availability searches.
type Service struct {
	backend  storage.Backend
	cache    Cache
	ttl      time.Duration
	logger   pslog.Logger
	requests metric.Int64Counter
}

// New returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Backend == nil {
		return nil, errors.New("search: backend is required")
	}
	logger := svcfields.WithSubsystem(cfg.Logger, "search.service")
	s := &Service{
		backend: cfg.Backend,
		logger:  logger,
	}
	if cfg.Cache != nil && cfg.CacheTTL > 0 {
		s.cache = cfg.Cache
		s.ttl = cfg.CacheTTL
	}
	counter, err := otel.Meter("pkt.systems/roomd/search").Int64Counter(
		"roomd.search.requests",
		metric.WithDescription("Availability searches by cache outcome"),
	)
	if err != nil {
		logger.Warn("telemetry.metric.init_failed", "name", "roomd.search.requests", "error", err)
	}
	s.requests = counter
	return s, nil
}

// CacheKey is the cache key for one query. Location is matched
// case-insensitively so it is folded here as well.
func CacheKey(start, end caldate.Date, location string) string {
	return fmt.Sprintf("roomd:search:%s|%s|%s", start, end, strings.ToLower(strings.TrimSpace(location)))
}

// FindAvailable returns rooms free on every night of [start, end), each
// annotated with the smallest free count in range, ordered by name then id.
func (s *Service) FindAvailable(ctx context.Context, start, end caldate.Date, location string) ([]storage.RoomAvailability, error) {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return nil, reservation.ErrInvalidRange
	}
	if s.cache == nil {
		s.record(ctx, "off")
		return s.query(ctx, start, end, location)
	}
	key := CacheKey(start, end, location)
	hits, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("search.cache.get_failed", "key", key, "error", err)
	}
	if ok {
		s.record(ctx, "hit")
		return hits, nil
	}
	s.record(ctx, "miss")
	hits, err = s.query(ctx, start, end, location)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, hits, s.ttl); err != nil {
		s.logger.Warn("search.cache.set_failed", "key", key, "error", err)
	}
	return hits, nil
}

func (s *Service) query(ctx context.Context, start, end caldate.Date, location string) ([]storage.RoomAvailability, error) {
	hits, err := s.backend.FindAvailable(ctx, start, end, location)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if hits == nil {
		hits = []storage.RoomAvailability{}
	}
	s.logger.Trace("search.query.done", "start", start.String(), "end", end.String(), "location", location, "hits", len(hits))
	return hits, nil
}

func (s *Service) record(ctx context.Context, cache string) {
	if s.requests == nil {
		return
	}
	s.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", cache)))
}
