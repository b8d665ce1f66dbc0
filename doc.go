// Package roomd exposes the Go APIs behind the room-booking service: a
// search over per-day availability counters and a reservation engine that
// never books a room-night beyond its inventory, even under concurrent
// requests.
//
// # Running a server
//
//	cfg := roomd.Config{
//	    Store:    "postgres://roomd:secret@db:5432/roomd?sslmode=disable",
//	    Listen:   ":9341",
//	    LockWait: 5 * time.Second,
//	}
//	srv, err := roomd.NewServer(cfg, roomd.WithLogger(logger))
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("roomd: %v", err)
//	    }
//	}()
//	defer srv.Shutdown(context.Background())
//
// Start provisions availability rows for `Config.ProvisionHorizonDays` days
// from today (UTC) before accepting traffic, and a background sweeper keeps the
// horizon rolling every `Config.ProvisionInterval`. A stay that reaches past
// the horizon fails with `incomplete_provisioning`.
//
// # Stores
//
// `mem://` keeps everything in process and is meant for tests and single-node
// development. `postgres://` persists rooms, counters and bookings through
// gorm, taking `SELECT ... FOR UPDATE` row locks so any number of roomd
// instances can share one database.
//
// # Embedding in tests
//
// StartServer returns a ready server and an idempotent stop function:
//
//	srv, stop, err := roomd.StartServer(ctx, roomd.Config{Store: "mem://", Listen: "127.0.0.1:0"})
//	if err != nil { t.Fatal(err) }
//	defer stop(context.Background())
//	cli, _ := client.New("http://"+srv.ListenerAddr().String(), client.WithUser("alice"))
//
// # Ledger export
//
// ExportLedger uploads the booking ledger as NDJSON to an S3-compatible bucket
// (`Config.Export*`). The CLI exposes it as `roomd export`.
package roomd
