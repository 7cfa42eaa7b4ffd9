package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NicolasHaas/mqchat/pkg/model"
)

var ErrInvalidAction = errors.New("invalid audit action")

// MemoryStore provides an in-memory DataStore implementation for tests and
// for servers started without a database. It mirrors SQLite validation.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	rooms     []model.Room
	roomIndex map[string]int
	events    []model.AuditEvent
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:       now,
		roomIndex: make(map[string]int),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// SaveRoom records a room; a known name is left untouched.
func (s *MemoryStore) SaveRoom(room model.Room) error {
	if err := model.ValidateRoomName(room.Name); err != nil {
		return fmt.Errorf("store: save room: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roomIndex[room.Name]; ok {
		return nil
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}
	s.roomIndex[room.Name] = len(s.rooms)
	s.rooms = append(s.rooms, model.Room{Name: room.Name, CreatedAt: room.CreatedAt.UTC().Truncate(time.Second)})
	return nil
}

// ListRooms returns every recorded room in creation order.
func (s *MemoryStore) ListRooms() ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Room, len(s.rooms))
	copy(out, s.rooms)
	return out, nil
}

// RecordEvent appends an entry to the audit trail.
func (s *MemoryStore) RecordEvent(ev model.AuditEvent) error {
	if !ev.Action.Valid() {
		return fmt.Errorf("store: record event: %w", ErrInvalidAction)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC().Truncate(time.Second)
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}

// ListEvents returns audit entries in insertion order.
func (s *MemoryStore) ListEvents(room string, limit int) ([]model.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AuditEvent
	for _, ev := range s.events {
		if room != "" && ev.Room != room {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
