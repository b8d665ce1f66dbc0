package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"pkt.systems/roomd/internal/storage"
)

// retryable SQLSTATE codes: serialization failure, deadlock, admin/crash
// shutdown and "cannot connect now".
var retryableCodes = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"57P01": {},
	"57P02": {},
	"57P03": {},
}

// classify marks connection-level and serialization failures as transient so
// the retry layer can replay idempotent calls. Context errors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryableCodes[pgErr.Code]; ok || strings.HasPrefix(pgErr.Code, "08") {
			return storage.NewTransientError(err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) {
		return storage.NewTransientError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return storage.NewTransientError(err)
	}
	return err
}
