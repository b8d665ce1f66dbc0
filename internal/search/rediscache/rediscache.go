// Package rediscache implements search.Cache on Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pkt.systems/roomd/internal/storage"
)

// Config describes the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Cache stores search results as JSON strings with a TTL.
type Cache struct {
	client redis.UniversalClient
}

// New connects to Redis described by cfg. The connection is lazy; use Ping
// to verify reachability.
func New(cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("rediscache: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return &Cache{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

type entry struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	PriceCents     int64     `json:"price_cents"`
	Location       string    `json:"location"`
	TotalInventory int       `json:"total_inventory"`
	Amenities      []string  `json:"amenities,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	MinAvailable   int       `json:"min_available"`
}

// Get returns the cached hits for key. A miss reports false with no error.
func (c *Cache) Get(ctx context.Context, key string) ([]storage.RoomAvailability, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rediscache: get: %w", err)
	}
	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("rediscache: decode %q: %w", key, err)
	}
	hits := make([]storage.RoomAvailability, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, storage.RoomAvailability{
			Room: storage.Room{
				ID:             e.ID,
				Name:           e.Name,
				Description:    e.Description,
				PriceCents:     e.PriceCents,
				Location:       e.Location,
				TotalInventory: e.TotalInventory,
				Amenities:      e.Amenities,
				CreatedAt:      e.CreatedAt,
			},
			MinAvailable: e.MinAvailable,
		})
	}
	return hits, true, nil
}

// Set stores hits under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, hits []storage.RoomAvailability, ttl time.Duration) error {
	entries := make([]entry, 0, len(hits))
	for _, h := range hits {
		entries = append(entries, entry{
			ID:             h.Room.ID,
			Name:           h.Room.Name,
			Description:    h.Room.Description,
			PriceCents:     h.Room.PriceCents,
			Location:       h.Room.Location,
			TotalInventory: h.Room.TotalInventory,
			Amenities:      h.Room.Amenities,
			CreatedAt:      h.Room.CreatedAt,
			MinAvailable:   h.MinAvailable,
		})
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("rediscache: encode: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("rediscache: ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
