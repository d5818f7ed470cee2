package model

import "context"

// Raw membership statuses returned by the upstream chat member query.
const (
	RawStatusMember        = "member"
	RawStatusAdministrator = "administrator"
	RawStatusCreator       = "creator"
	RawStatusLeft          = "left"
	RawStatusKicked        = "kicked"
	RawStatusRestricted    = "restricted"
	RawStatusUnknown       = "unknown"
)

// MembershipResult is the oracle's aggregated answer for one account.
type MembershipResult struct {
	IsMember   bool
	Confidence int // 0..100
	RawStatus  string
}

// MemberClient performs a single upstream "is this account a member" query.
// Implementations return one of the RawStatus constants.
type MemberClient interface {
	MemberStatus(ctx context.Context, accountID int64) (string, error)
}

// MembershipOracle answers membership questions with retry and confidence
// scoring. Check may serve a short-lived cached result; CheckFresh always
// queries upstream and refreshes the cache.
type MembershipOracle interface {
	Check(ctx context.Context, accountID int64) (MembershipResult, error)
	CheckFresh(ctx context.Context, accountID int64) (MembershipResult, error)
}

// IsMemberStatus reports whether a raw status counts as channel membership.
func IsMemberStatus(raw string) bool {
	switch raw {
	case RawStatusMember, RawStatusAdministrator, RawStatusCreator:
		return true
	}
	return false
}
