package session

import "time"

// Sender is the delivery side of a live connection. TrySend must never block:
// it reports false when the message could not be queued (outbox full or
// connection already closed), which the caller treats as a delivery failure.
type Sender interface {
	TrySend(data []byte) bool
	Close()
}

// Session is one authenticated live connection, bound to a single document
// for its lifetime. All fields are set at admission and never mutated, so
// sessions can be shared across goroutines without locking.
type Session struct {
	Sender     Sender
	DocumentID string
	UserID     string
	UserName   string
	Permission Permission
	JoinedAt   time.Time
}

// RosterEntry is one user's slot in a room roster.
type RosterEntry struct {
	UserName   string     `json:"user_name"`
	Permission Permission `json:"permission"`
}

// Roster is the user-id-keyed projection of a room's current sessions. It is
// always recomputed from the session set, never mutated in place.
type Roster map[string]RosterEntry
