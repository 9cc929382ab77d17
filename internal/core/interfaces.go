package core

import "github.com/perch/parley/internal/domain"

// SessionID identifies one live connection. Fresh ids are drawn at
// registration; uniqueness is only promised among live sessions.
type SessionID string

// Recipient is the broker's outbound handle to one session. Deliver is
// fire-and-forget: it must never block and silently drops when the
// underlying transport is gone or saturated.
type Recipient interface {
	Deliver(text string)
}

// RoomSnapshot is a read-only view of one room's membership.
type RoomSnapshot struct {
	Name    domain.RoomName
	Members []SessionID
}
