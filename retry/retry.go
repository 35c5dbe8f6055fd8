// Package retry provides the deadlock-retry policy shared by every mutating
// store operation. The queue reader, the acknowledger and cleanup all
// contend for rows on the same tables under concurrent multi-process
// delivery, so lock conflicts are expected and handled here rather than
// surfaced to callers.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// Logger is the logging surface the retry wrapper needs.
type Logger interface {
	Warnf(format string, args ...interface{})
}

// MySQL error numbers reported on lock conflicts.
const (
	mysqlDeadlock    = 1213 // Deadlock found when trying to get lock
	mysqlLockTimeout = 1205 // Lock wait timeout exceeded
)

// PostgreSQL SQLSTATE codes reported on lock conflicts.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsDeadlock reports whether an error belongs to the store's lock-conflict
// class. Only these errors are retried; anything else propagates.
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockTimeout
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgSerializationFailure || pqErr.Code == pgDeadlockDetected
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	return false
}

// Config holds the retry policy knobs.
type Config struct {
	// Sleep is the pause between attempts.
	Sleep time.Duration

	// WarnEvery emits a warning on every Nth attempt so stuck retries stay
	// observable.
	WarnEvery int
}

// DefaultConfig returns the production retry policy: 5ms between attempts,
// a warning every 50th.
func DefaultConfig() Config {
	return Config{
		Sleep:     5 * time.Millisecond,
		WarnEvery: 50,
	}
}

// Do executes fn, retrying indefinitely while it fails with a lock-conflict
// error. Any other error is returned immediately. The sleep between attempts
// is interruptible: a cancelled context ends the retry loop with ctx.Err().
func Do(ctx context.Context, logger Logger, name string, cfg Config, fn func() error) error {
	if cfg.Sleep <= 0 {
		cfg.Sleep = DefaultConfig().Sleep
	}
	if cfg.WarnEvery <= 0 {
		cfg.WarnEvery = DefaultConfig().WarnEvery
	}

	attempts := 0
	for {
		attempts++

		err := fn()
		if err == nil {
			return nil
		}
		if !IsDeadlock(err) {
			return err
		}

		if attempts%cfg.WarnEvery == 0 {
			logger.Warnf("Still in deadlock for `%s` after %d attempts", name, attempts)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Sleep):
		}
	}
}
