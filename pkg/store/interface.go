package store

import (
	"github.com/NicolasHaas/mqchat/pkg/model"
)

// DataStore is the persistence interface behind the room catalog and the
// membership audit trail. Chat text is never stored.
type DataStore interface {
	// Close closes the underlying storage connection.
	Close() error

	// ---- Rooms ----

	// SaveRoom records a room name. Saving a known room keeps its original
	// creation time.
	SaveRoom(room model.Room) error

	// ListRooms returns every recorded room in creation order.
	ListRooms() ([]model.Room, error)

	// ---- Audit ----

	// RecordEvent appends an entry to the audit trail.
	RecordEvent(ev model.AuditEvent) error

	// ListEvents returns audit entries in insertion order, optionally limited
	// to one room. limit <= 0 means no limit.
	ListEvents(room string, limit int) ([]model.AuditEvent, error)
}

// Compile-time checks.
var (
	_ DataStore = (*Store)(nil)
	_ DataStore = (*MemoryStore)(nil)
)
