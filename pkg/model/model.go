// Package model defines the core domain types for mqchat.
package model

import (
	"time"

	"github.com/NicolasHaas/mqchat/pkg/protocol"
)

// Member is one user inside a room, addressed by their personal mailbox.
type Member struct {
	Name    string             `json:"name"`
	Mailbox protocol.MailboxID `json:"mailbox"`
}

// Room is a point-in-time view of a registered room.
type Room struct {
	Name      string             `json:"name"`
	Mailbox   protocol.MailboxID `json:"mailbox"`
	Members   []Member           `json:"members"`
	CreatedAt time.Time          `json:"created_at"`
}

// MemberNames returns the member names in membership order.
func (r Room) MemberNames() []string {
	names := make([]string, len(r.Members))
	for i, m := range r.Members {
		names[i] = m.Name
	}
	return names
}

// AuditAction is a membership change recorded by the server.
type AuditAction int

const (
	AuditRoomCreated AuditAction = iota + 1
	AuditJoined
	AuditLeft
	AuditRejected
)

func (a AuditAction) String() string {
	switch a {
	case AuditRoomCreated:
		return "room_created"
	case AuditJoined:
		return "joined"
	case AuditLeft:
		return "left"
	case AuditRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Valid reports whether a is a known action.
func (a AuditAction) Valid() bool {
	return a >= AuditRoomCreated && a <= AuditRejected
}

// AuditEvent is one entry of the membership audit trail.
type AuditEvent struct {
	ID        int64       `json:"id"`
	Room      string      `json:"room"`
	User      string      `json:"user"`
	Action    AuditAction `json:"action"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
