package model

// EventKind enumerates inbound event types delivered by the event source.
type EventKind string

const (
	// EventStart is the /start command.
	EventStart EventKind = "start"
	// EventAddIdentifier carries an identifier value in Payload.
	EventAddIdentifier EventKind = "add_identifier"
	// EventManualCheck is an explicit membership re-check request.
	EventManualCheck EventKind = "manual_check"
	// EventListIdentifiers asks for the account's registered identifiers.
	EventListIdentifiers EventKind = "list_identifiers"
)

// Event is one inbound command or button press from the event source.
type Event struct {
	AccountID   int64
	Kind        EventKind
	Payload     string
	DisplayName string
}

// ReplyOutcome classifies the user-visible result of handling an event.
type ReplyOutcome string

const (
	ReplyOK           ReplyOutcome = "ok"
	ReplyInvalidInput ReplyOutcome = "invalid_input"
	ReplyJoinRequired ReplyOutcome = "join_required"
	ReplyDuplicate    ReplyOutcome = "already_exists"
	ReplyTryAgain     ReplyOutcome = "try_again"
)

// Reply is the handler's answer to one event, rendered by the event source.
type Reply struct {
	Outcome     ReplyOutcome
	Status      AccountStatus
	IsMember    bool
	Confidence  int
	Restored    bool
	ActiveIDs   int
	Identifiers []Identifier // set for EventListIdentifiers
	Value       string       // echo of the added identifier value
}
