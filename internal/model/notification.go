package model

import "context"

// NotificationKind enumerates outbound notification variants. A tagged enum with
// fixed fields keeps the reconciler's dedup logic free of ad hoc payload keys.
type NotificationKind string

const (
	// NotificationWarning is sent on each strike increment.
	NotificationWarning NotificationKind = "warning"
	// NotificationSuspended is sent once when the strike limit is hit.
	NotificationSuspended NotificationKind = "suspended"
	// NotificationRevoked is sent once when identifiers are purged.
	NotificationRevoked NotificationKind = "revoked"
	// NotificationRestored is sent once when access comes back.
	NotificationRestored NotificationKind = "restored"
)

// Notification is an outbound status message for an account.
type Notification struct {
	AccountID  int64
	Kind       NotificationKind
	Strikes    int // set for NotificationWarning
	MaxStrikes int // set for NotificationWarning and NotificationSuspended
	IDsRemoved int // set for NotificationRevoked
	Confidence int
}

// Notifier delivers notifications best-effort. Delivery failures are logged and
// swallowed by implementations, never returned to drive control flow.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
