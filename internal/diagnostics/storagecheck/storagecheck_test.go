package storagecheck

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"pkt.systems/roomd"
	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/storage/memory"
)

func checkNames(res Result) map[string]error {
	out := make(map[string]error, len(res.Checks))
	for _, c := range res.Checks {
		out[c.Name] = c.Err
	}
	return out
}

func TestVerifyMemoryStore(t *testing.T) {
	res, err := VerifyStore(context.Background(), roomd.Config{Store: "mem://"}, nil, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Passed() {
		t.Fatalf("expected checks to pass: %+v", res.Checks)
	}
	checks := checkNames(res)
	for _, name := range []string{"Connect", "Ping", "ListRooms", "ProvisionedHorizon"} {
		if _, ok := checks[name]; !ok {
			t.Fatalf("check %s missing from %+v", name, res.Checks)
		}
	}
	if _, ok := checks["ExportBucket"]; ok {
		t.Fatal("export check should be skipped without export settings")
	}
	if res.Provider != "mem" {
		t.Fatalf("provider %q", res.Provider)
	}
}

func TestVerifyRejectsUnknownScheme(t *testing.T) {
	if _, err := VerifyStore(context.Background(), roomd.Config{Store: "disk:///tmp"}, nil, nil); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

func TestVerifyExportBucket(t *testing.T) {
	s3 := s3mem.New()
	srv := httptest.NewServer(gofakes3.New(s3).Server())
	defer srv.Close()
	cfg := roomd.Config{
		Store:           "mem://",
		ExportEndpoint:  srv.URL,
		ExportBucket:    "ledger",
		ExportPathStyle: true,
		ExportAccessKey: "test",
		ExportSecretKey: "test",
	}
	res, err := VerifyStore(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if checkNames(res)["ExportBucket"] == nil {
		t.Fatal("expected missing bucket to fail the export check")
	}
	if err := s3.CreateBucket("ledger"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	res, err = VerifyStore(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Passed() {
		t.Fatalf("expected checks to pass: %+v", res.Checks)
	}
	if res.ExportBucket != "ledger" || res.Credentials.AccessKey != "test" {
		t.Fatalf("unexpected export summary %+v", res)
	}
}

func TestCheckHorizonReportsShortRooms(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	today := caldate.Today(clk.Now)
	backend := memory.New()
	full := storage.Room{ID: "full", Name: "Full", Location: "Lund", PriceCents: 100, TotalInventory: 1}
	short := storage.Room{ID: "short", Name: "Short", Location: "Lund", PriceCents: 100, TotalInventory: 1}
	if err := backend.CreateRoom(ctx, full, today, 10); err != nil {
		t.Fatalf("create full: %v", err)
	}
	if err := backend.CreateRoom(ctx, short, today, 4); err != nil {
		t.Fatalf("create short: %v", err)
	}
	rooms, err := backend.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if err := checkHorizon(ctx, backend, rooms, today, 10); !errors.Is(err, ErrMissingCounters) {
		t.Fatalf("expected missing counters, got %v", err)
	}
	if err := checkHorizon(ctx, backend, rooms, today, 4); err != nil {
		t.Fatalf("both rooms cover 4 days: %v", err)
	}
}
