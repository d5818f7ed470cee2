package model

import (
	"context"
	"time"
)

// AccountStatus enumerates account lifecycle states.
type AccountStatus string

const (
	// AccountActive is a member in good standing.
	AccountActive AccountStatus = "active"
	// AccountWarned has failed membership checks but is below the strike limit.
	AccountWarned AccountStatus = "warned"
	// AccountSuspended has hit the strike limit; identifiers are suspended until
	// SuspendedUntil elapses or the account rejoins.
	AccountSuspended AccountStatus = "suspended"
	// AccountDeleted had its identifiers purged after the suspension window expired.
	AccountDeleted AccountStatus = "deleted"
)

// Account represents one external user identity tracked by the system.
type Account struct {
	ID                 int64
	Status             AccountStatus
	Strikes            int
	SuspendedUntil     *time.Time
	LastCheckedAt      time.Time
	LastNotifiedStatus *AccountStatus
	DisplayName        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TransitionOpts carries the per-transition fields written alongside the status.
type TransitionOpts struct {
	Strikes        int
	SuspendedUntil *time.Time
}

// RemovalReason enumerates the reasons recorded in the removal log.
type RemovalReason string

const (
	// RemovalReasonLeftChannel is the standard purge after suspension expiry.
	RemovalReasonLeftChannel RemovalReason = "left_channel"
	// RemovalReasonManual is an operator-initiated purge.
	RemovalReasonManual RemovalReason = "manual"
)

// AccountStore defines persistence operations for accounts and their transitions.
type AccountStore interface {
	EnsureAccount(ctx context.Context, id int64, displayName string) (Account, error)
	GetByID(ctx context.Context, id int64) (Account, error)
	ListForReconciliation(ctx context.Context, limit int) ([]Account, error)
	// TransitionAccount atomically changes the account status, cascades the
	// change to the account's identifiers, and for AccountDeleted appends a
	// removal log row before purging. Returns the updated account.
	TransitionAccount(ctx context.Context, id int64, newStatus AccountStatus, reason RemovalReason, opts TransitionOpts) (Account, error)
	TouchChecked(ctx context.Context, id int64) error
	SetNotifiedStatus(ctx context.Context, id int64, status AccountStatus) error
}
