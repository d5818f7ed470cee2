package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dtroode/membergate/internal/model"
	"github.com/dtroode/membergate/internal/retry"
)

var txRetryPolicy = retry.Policy{
	MaxAttempts: 3,
	BaseDelay:   10 * time.Millisecond,
	MaxDelay:    100 * time.Millisecond,
	Jitter:      0.5,
}

func isContentionError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected, lock_not_available
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

// withTxRetry retries fn on transaction conflicts with bounded attempts and
// surfaces ErrStoreContention once they are exhausted. Non-contention errors
// stop the retry loop immediately.
func withTxRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var terminalErr error
	err := txRetryPolicy.Do(ctx, func(ctx context.Context) error {
		terminalErr = fn(ctx)
		if terminalErr != nil && isContentionError(terminalErr) {
			return terminalErr
		}
		return nil
	})
	if err != nil {
		if isContentionError(err) {
			return fmt.Errorf("%w: %s", model.ErrStoreContention, err)
		}
		return err
	}
	return terminalErr
}
