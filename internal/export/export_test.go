package export_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/export"
	"pkt.systems/roomd/internal/reservation"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/storage/memory"
	"pkt.systems/roomd/internal/storage/storagetest"
)

func setupFakeS3(t *testing.T) export.Config {
	t.Helper()
	backend := s3mem.New()
	faker := gofakes3.New(backend)
	server := httptest.NewServer(faker.Server())
	t.Cleanup(server.Close)
	bucket := "roomd-test"
	if err := backend.CreateBucket(bucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	return export.Config{
		Endpoint:       strings.TrimPrefix(server.URL, "http://"),
		Region:         "us-east-1",
		Bucket:         bucket,
		Prefix:         "/ledger/",
		Insecure:       true,
		ForcePathStyle: true,
		AccessKey:      "test",
		SecretKey:      "test",
	}
}

func TestExportWritesNDJSON(t *testing.T) {
	cfg := setupFakeS3(t)
	backend := memory.New()
	room := storagetest.SeedRoom(t, backend, "Loft", "Lisbon", 2, 5)
	clk := clock.NewManual(time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC))
	engine, err := reservation.New(reservation.Config{Backend: backend, Clock: clk})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ctx := context.Background()
	first, err := engine.Reserve(ctx, "ana", room.ID, storagetest.Base, storagetest.Base.AddDays(2))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := engine.Reserve(ctx, "ben", room.ID, storagetest.Base, storagetest.Base.AddDays(1)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := engine.Cancel(ctx, "ana", first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	exporter, err := export.New(cfg, backend, clk, nil)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	res, err := exporter.Export(ctx, storage.BookingFilter{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Count != 2 || res.Bytes == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(res.Key, "ledger/bookings-20260110T080100Z-") || !strings.HasSuffix(res.Key, ".ndjson") {
		t.Fatalf("unexpected key %q", res.Key)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4("test", "test", ""),
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	obj, err := client.GetObject(ctx, cfg.Bucket, res.Key, minio.GetObjectOptions{})
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	defer obj.Close()
	var records []export.Record
	scanner := bufio.NewScanner(obj)
	for scanner.Scan() {
		var rec export.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("decode line %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].UserID != "ben" || records[0].Status != "CONFIRMED" || records[0].CancelledAt != nil {
		t.Fatalf("unexpected newest record %+v", records[0])
	}
	if records[1].UserID != "ana" || records[1].Status != "CANCELLED" || records[1].CancelledAt == nil || records[1].Nights != 2 {
		t.Fatalf("unexpected oldest record %+v", records[1])
	}
	if records[1].RoomName != "Loft" || records[1].CheckIn != storagetest.Base {
		t.Fatalf("expected joined room details, got %+v", records[1])
	}
}

func TestExportFilter(t *testing.T) {
	cfg := setupFakeS3(t)
	cfg.Prefix = ""
	backend := memory.New()
	room := storagetest.SeedRoom(t, backend, "Loft", "Lisbon", 2, 5)
	engine, _ := reservation.New(reservation.Config{Backend: backend})
	ctx := context.Background()
	if _, err := engine.Reserve(ctx, "ana", room.ID, storagetest.Base, storagetest.Base.AddDays(1)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	exporter, err := export.New(cfg, backend, nil, nil)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	res, err := exporter.Export(ctx, storage.BookingFilter{Status: storage.StatusCancelled})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Count != 0 || res.Bytes != 0 || !strings.HasPrefix(res.Key, "bookings-") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := export.New(export.Config{Bucket: "b"}, nil, nil, nil); err == nil {
		t.Fatal("expected error without backend")
	}
	if _, err := export.New(export.Config{}, memory.New(), nil, nil); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestCheckBucket(t *testing.T) {
	cfg := setupFakeS3(t)
	exp, err := export.New(cfg, memory.New(), nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := exp.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	cfg.Bucket = "missing"
	exp, err = export.New(cfg, memory.New(), nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := exp.Check(context.Background()); err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing bucket error, got %v", err)
	}
}
