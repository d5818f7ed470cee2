package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RemovalRecord is an append-only audit entry written when an account's
// identifiers are purged. Written in the same transaction as the purge,
// before the identifier rows are deleted.
type RemovalRecord struct {
	ID         uuid.UUID
	AccountID  int64
	Reason     RemovalReason
	IDsRemoved int
	CreatedAt  time.Time
}

// RemovalStore reads the removal audit log.
type RemovalStore interface {
	ListByAccount(ctx context.Context, accountID int64) ([]RemovalRecord, error)
}
