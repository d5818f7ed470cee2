package model

import (
	"context"
	"fmt"
	"time"
)

// IdentifierStatus enumerates identifier lifecycle states.
type IdentifierStatus string

const (
	// IdentifierActive is served to consumers of the export surface.
	IdentifierActive IdentifierStatus = "active"
	// IdentifierSuspended is withheld while the owning account is suspended.
	IdentifierSuspended IdentifierStatus = "suspended"
	// IdentifierRemoved marks a purged identifier.
	IdentifierRemoved IdentifierStatus = "removed"
)

// IdentifierMinLen and IdentifierMaxLen bound accepted identifier values.
const (
	IdentifierMinLen = 3
	IdentifierMaxLen = 100
)

// Identifier is a user-supplied opaque value registered against an account.
// A value is unique within its owning account, not globally.
type Identifier struct {
	ID        int64
	AccountID int64
	Value     string
	Status    IdentifierStatus
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// ValidateIdentifierValue checks length and charset of a candidate value.
func ValidateIdentifierValue(value string) error {
	if len(value) < IdentifierMinLen || len(value) > IdentifierMaxLen {
		return fmt.Errorf("%w: identifier must be %d-%d characters", ErrValidation, IdentifierMinLen, IdentifierMaxLen)
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return fmt.Errorf("%w: identifier may contain letters, digits, '_' and '-' only", ErrValidation)
		}
	}
	return nil
}

// IdentifierStore defines persistence operations for identifiers.
type IdentifierStore interface {
	// AddIdentifier inserts an active identifier. Fails with ErrNotEligible when
	// the account is not active and ErrDuplicateIdentifier on a repeated value.
	AddIdentifier(ctx context.Context, accountID int64, value string) (Identifier, error)
	// ListIdentifiers returns the account's identifiers in insertion order.
	// An empty statusFilter returns all of them.
	ListIdentifiers(ctx context.Context, accountID int64, statusFilter IdentifierStatus) ([]Identifier, error)
	CountIdentifiers(ctx context.Context, accountID int64, statusFilter IdentifierStatus) (int, error)
	// ListActiveValues returns every active identifier value across accounts,
	// newest first. Feeds the export surface.
	ListActiveValues(ctx context.Context, limit int) ([]string, error)
}
