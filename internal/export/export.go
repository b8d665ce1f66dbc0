// Package export writes the booking ledger to S3-compatible object storage
// as newline-delimited JSON.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/xid"
	"pkt.systems/pslog"

	"pkt.systems/roomd/internal/caldate"
	"pkt.systems/roomd/internal/clock"
	"pkt.systems/roomd/internal/storage"
	"pkt.systems/roomd/internal/svcfields"
)

// Config describes the destination bucket.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	// AccessKey and SecretKey select static credentials. When empty the
	// usual AWS/MinIO environment and credential files are consulted.
	AccessKey string
	SecretKey string
	Transport http.RoundTripper
}

// Exporter uploads ledger snapshots.
type Exporter struct {
	client  *minio.Client
	cfg     Config
	backend storage.Backend
	clock   clock.Clock
	logger  pslog.Logger
}

// Result describes one uploaded snapshot.
type Result struct {
	Bucket string
	Key    string
	Count  int
	Bytes  int64
	ETag   string
}

// Record is one NDJSON line.
type Record struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	RoomID       string       `json:"room_id"`
	RoomName     string       `json:"room_name"`
	RoomLocation string       `json:"room_location"`
	PriceCents   int64        `json:"price_cents"`
	CheckIn      caldate.Date `json:"check_in"`
	CheckOut     caldate.Date `json:"check_out"`
	Nights       int          `json:"nights"`
	Status       string       `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	CancelledAt  *time.Time   `json:"cancelled_at,omitempty"`
}

// New returns an Exporter reading from backend.
func New(cfg Config, backend storage.Backend, clk clock.Clock, logger pslog.Logger) (*Exporter, error) {
	if backend == nil {
		return nil, errors.New("export: backend is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("export: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("export: create client: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Exporter{
		client:  client,
		cfg:     cfg,
		backend: backend,
		clock:   clk,
		logger:  svcfields.WithSubsystem(logger, "export.ledger"),
	}, nil
}

// Check verifies the destination bucket is reachable and exists.
func (e *Exporter) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := e.client.BucketExists(ctx, e.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("export: bucket check: %w", err)
	}
	if !exists {
		return fmt.Errorf("export: bucket %s does not exist", e.cfg.Bucket)
	}
	return nil
}

// ObjectKey names the snapshot taken at now.
func (e *Exporter) ObjectKey(now time.Time) string {
	name := fmt.Sprintf("bookings-%s-%s.ndjson", now.UTC().Format("20060102T150405Z"), xid.New().String())
	if e.cfg.Prefix == "" {
		return name
	}
	return e.cfg.Prefix + "/" + name
}

// Export uploads every booking matching filter, newest first.
func (e *Exporter) Export(ctx context.Context, filter storage.BookingFilter) (Result, error) {
	views, err := e.backend.ListBookings(ctx, filter)
	if err != nil {
		return Result{}, fmt.Errorf("export: list bookings: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, v := range views {
		if err := enc.Encode(toRecord(v)); err != nil {
			return Result{}, fmt.Errorf("export: encode %s: %w", v.ID, err)
		}
	}
	key := e.ObjectKey(e.clock.Now())
	size := int64(buf.Len())
	info, err := e.client.PutObject(ctx, e.cfg.Bucket, key, &buf, size, minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
		UserMetadata: map[string]string{
			"roomd-count": fmt.Sprint(len(views)),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("export: put %s: %w", key, err)
	}
	res := Result{Bucket: e.cfg.Bucket, Key: key, Count: len(views), Bytes: size, ETag: info.ETag}
	e.logger.Info("export.ledger.uploaded", "bucket", res.Bucket, "key", res.Key, "count", res.Count, "bytes", res.Bytes)
	return res, nil
}

func toRecord(v storage.BookingView) Record {
	rec := Record{
		ID:           v.ID,
		UserID:       v.UserID,
		RoomID:       v.RoomID,
		RoomName:     v.RoomName,
		RoomLocation: v.RoomLocation,
		PriceCents:   v.RoomPriceCents,
		CheckIn:      v.CheckIn,
		CheckOut:     v.CheckOut,
		Nights:       v.Nights(),
		Status:       string(v.Status),
		CreatedAt:    v.CreatedAt.UTC(),
	}
	if !v.CancelledAt.IsZero() {
		at := v.CancelledAt.UTC()
		rec.CancelledAt = &at
	}
	return rec
}
