package roomd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/roomd/api"
	"pkt.systems/roomd/client"
	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/storage/memory"
)

func waitFor(t *testing.T, timeout, interval time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if fn() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(interval)
	}
}

func startTestServer(t *testing.T, cfg Config, opts ...Option) (*Server, *client.Client) {
	t.Helper()
	if cfg.Store == "" {
		cfg.Store = "mem://"
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv, stop, err := StartServer(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		if err := stop(ctx); err != nil {
			t.Errorf("stop server: %v", err)
		}
	})
	cli, err := client.New("http://"+srv.ListenerAddr().String(), client.WithUser("alice"))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return srv, cli
}

func seedRoom(t *testing.T, backend storage.Backend, id string, inventory int, start caldate.Date, days int) {
	t.Helper()
	room := storage.Room{ID: id, Name: "Room " + id, Location: "Gothenburg", PriceCents: 9900, TotalInventory: inventory}
	if err := backend.CreateRoom(context.Background(), room, start, days); err != nil {
		t.Fatalf("create room: %v", err)
	}
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil || !strings.Contains(err.Error(), "store is required") {
		t.Fatalf("expected store error, got %v", err)
	}
	if _, err := NewServer(Config{Store: "s3://bucket"}); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

func TestServerProvisionsHorizonAtStart(t *testing.T) {
	backend := memory.New()
	clk := clock.NewManual(time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC))
	today := caldate.Today(clk.Now)
	seedRoom(t, backend, "r1", 2, today, 1)

	_, cli := startTestServer(t, Config{ProvisionHorizonDays: 5}, WithBackend(backend), WithClock(clk))

	days, err := backend.LoadDays(context.Background(), "r1", today, today.AddDays(10))
	if err != nil {
		t.Fatalf("load days: %v", err)
	}
	if len(days) != 5 {
		t.Fatalf("expected 5 provisioned days, got %d", len(days))
	}

	booking, err := cli.Reserve(context.Background(), "r1", today.AddDays(3).String(), today.AddDays(6).String())
	if !client.IsCode(err, "incomplete_provisioning") {
		t.Fatalf("expected stay past horizon to fail, got %+v %v", booking, err)
	}
	ok, err := cli.Reserve(context.Background(), "r1", today.AddDays(3).String(), today.AddDays(4).String())
	if err != nil {
		t.Fatalf("reserve inside horizon: %v", err)
	}
	if ok.Nights != 1 {
		t.Fatalf("unexpected booking %+v", ok)
	}
}

func TestServerSweeperExtendsHorizon(t *testing.T) {
	backend := memory.New()
	clk := clock.NewManual(time.Date(2026, 1, 20, 23, 30, 0, 0, time.UTC))
	today := caldate.Today(clk.Now)
	seedRoom(t, backend, "r1", 1, today, 3)

	startTestServer(t, Config{ProvisionHorizonDays: 3, ProvisionInterval: time.Hour}, WithBackend(backend), WithClock(clk))

	waitFor(t, 5*time.Second, 5*time.Millisecond, func() bool { return clk.Pending() > 0 })
	clk.Advance(time.Hour)

	tomorrow := today.AddDays(1)
	waitFor(t, 5*time.Second, 5*time.Millisecond, func() bool {
		days, err := backend.LoadDays(context.Background(), "r1", today, tomorrow.AddDays(3))
		return err == nil && len(days) == 4
	})
}

func TestServerHealthAndCorrelation(t *testing.T) {
	logger := pslog.NewStructured(context.Background(), io.Discard)
	srv, cli := startTestServer(t, Config{ProvisionIntervalSet: true}, WithLogger(logger))
	health, err := cli.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("unexpected health %+v", health)
	}

	req, err := http.NewRequest(http.MethodGet, "http://"+srv.ListenerAddr().String()+"/healthz", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set(api.HeaderCorrelationID, "corr-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(api.HeaderCorrelationID); got != "corr-123" {
		t.Fatalf("expected correlation echo, got %q", got)
	}
	if resp.Header.Get(api.HeaderRequestID) == "" {
		t.Fatal("expected request id header")
	}
}

func TestServerShutdownIdempotent(t *testing.T) {
	srv, err := NewServer(Config{Store: "mem://", Listen: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.WaitUntilReady(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if srv.ListenerAddr() == nil {
		t.Fatal("expected bound listener")
	}
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("start returned %v", err)
	}
}

func TestStartServerReportsListenError(t *testing.T) {
	_, _, err := StartServer(context.Background(), Config{Store: "mem://", Listen: "256.0.0.1:bad"})
	if err == nil {
		t.Fatal("expected listen error")
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("expected the listen failure, got %v", err)
	}
}

type countingCache struct {
	mu         sync.Mutex
	gets, sets int
	entries    map[string][]storage.RoomAvailability
}

func (c *countingCache) Get(_ context.Context, key string) ([]storage.RoomAvailability, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	hits, ok := c.entries[key]
	return hits, ok, nil
}

func (c *countingCache) Set(_ context.Context, key string, hits []storage.RoomAvailability, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key] = hits
	return nil
}

func TestServerUsesInjectedSearchCache(t *testing.T) {
	backend := memory.New()
	clk := clock.NewManual(time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC))
	today := caldate.Today(clk.Now)
	seedRoom(t, backend, "r1", 1, today, 30)
	cache := &countingCache{entries: map[string][]storage.RoomAvailability{}}
	_, cli := startTestServer(t,
		Config{SearchCacheTTL: time.Minute, RedisAddr: "unused:6379"},
		WithBackend(backend), WithClock(clk), WithSearchCache(cache))
	for i := 0; i < 2; i++ {
		res, err := cli.Search(context.Background(), today.String(), today.AddDays(2).String(), "")
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(res.Rooms) != 1 {
			t.Fatalf("unexpected search result %+v", res)
		}
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.gets != 2 || cache.sets != 1 {
		t.Fatalf("expected one miss then one hit, got gets=%d sets=%d", cache.gets, cache.sets)
	}
}
