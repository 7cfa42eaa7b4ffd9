package server

import (
	"errors"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/NicolasHaas/mqchat/pkg/mailbox"
	"github.com/NicolasHaas/mqchat/pkg/model"
)

var (
	// ErrRoomTableFull is returned when no more rooms can be registered.
	ErrRoomTableFull = errors.New("server: room table full")
	// ErrRoomFull is returned when a room has no free member slot.
	ErrRoomFull = errors.New("server: room full")
	// ErrNoSuchRoom is returned for operations on an unregistered room.
	ErrNoSuchRoom = errors.New("server: no such room")
	// ErrRoomExists is returned when registering a name twice.
	ErrRoomExists = errors.New("server: room already registered")
)

type roomEntry struct {
	name      string
	mailbox   mailbox.Handle
	members   []model.Member
	createdAt time.Time
}

// Registry is the ordered set of rooms and their members.
//
// Reads are safe from any goroutine and return copies. Mutations are
// unexported: only the dispatcher goroutine calls them, so there is a single
// writer and a room worker never observes a half-applied membership change.
type Registry struct {
	mu         sync.RWMutex
	maxRooms   int
	maxMembers int
	rooms      []*roomEntry
	byName     map[string]*roomEntry
}

// NewRegistry creates an empty registry bounded by the given capacities.
func NewRegistry(maxRooms, maxMembers int) *Registry {
	return &Registry{
		maxRooms:   maxRooms,
		maxMembers: maxMembers,
		byName:     make(map[string]*roomEntry),
	}
}

// Lookup returns the mailbox of a room.
func (r *Registry) Lookup(name string) (mailbox.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	if !ok {
		return mailbox.NoHandle, false
	}
	return e.mailbox, true
}

// Full reports whether the room table has reached its capacity.
func (r *Registry) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms) >= r.maxRooms
}

// Len returns the number of registered rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// RoomNames returns room names in registration order.
func (r *Registry) RoomNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.rooms, func(e *roomEntry, _ int) string { return e.name })
}

// Members returns a snapshot of a room's members in join order.
func (r *Registry) Members(name string) ([]model.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return append([]model.Member(nil), e.members...), true
}

// MemberCount returns the total number of memberships across all rooms.
func (r *Registry) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.SumBy(r.rooms, func(e *roomEntry) int { return len(e.members) })
}

// Rooms returns a snapshot of every room in registration order.
func (r *Registry) Rooms() []model.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.rooms, func(e *roomEntry, _ int) model.Room {
		return model.Room{
			Name:      e.name,
			Mailbox:   e.mailbox,
			Members:   append([]model.Member(nil), e.members...),
			CreatedAt: e.createdAt,
		}
	})
}

// Mailboxes returns every room mailbox in registration order.
func (r *Registry) Mailboxes() []mailbox.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.rooms, func(e *roomEntry, _ int) mailbox.Handle { return e.mailbox })
}

// register adds a room. Dispatcher only.
func (r *Registry) register(name string, h mailbox.Handle, createdAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return ErrRoomExists
	}
	if len(r.rooms) >= r.maxRooms {
		return ErrRoomTableFull
	}
	e := &roomEntry{name: name, mailbox: h, createdAt: createdAt}
	r.rooms = append(r.rooms, e)
	r.byName[name] = e
	return nil
}

// addMember appends m to a room. A name already present is not added again;
// its reply mailbox is refreshed so a restarted client keeps receiving.
// Dispatcher only.
func (r *Registry) addMember(room string, m model.Member) (added bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byName[room]
	if !ok {
		return false, ErrNoSuchRoom
	}
	if _, i, found := lo.FindIndexOf(e.members, func(x model.Member) bool { return x.Name == m.Name }); found {
		e.members[i].Mailbox = m.Mailbox
		return false, nil
	}
	if len(e.members) >= r.maxMembers {
		return false, ErrRoomFull
	}
	e.members = append(e.members, m)
	return true, nil
}

// removeMember drops user from a room, preserving the order of the rest.
// Dispatcher only.
func (r *Registry) removeMember(room, user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byName[room]
	if !ok {
		return false
	}
	_, i, found := lo.FindIndexOf(e.members, func(x model.Member) bool { return x.Name == user })
	if !found {
		return false
	}
	e.members = append(e.members[:i], e.members[i+1:]...)
	return true
}
