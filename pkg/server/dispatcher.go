package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NicolasHaas/mqchat/pkg/mailbox"
	"github.com/NicolasHaas/mqchat/pkg/model"
	"github.com/NicolasHaas/mqchat/pkg/protocol"
	"github.com/NicolasHaas/mqchat/pkg/store"
)

// Dispatcher serves control requests arriving on the well-known mailbox.
// It is the only goroutine that mutates the registry.
type Dispatcher struct {
	log       *slog.Logger
	transport mailbox.Transport
	inbox     mailbox.Handle
	registry  *Registry
	store     store.DataStore
	metrics   *Metrics
	spawn     func(room string, h mailbox.Handle)
	now       func() time.Time
}

// Run receives and handles control envelopes until the inbox is destroyed
// or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		env, err := d.transport.Receive(ctx, d.inbox)
		switch {
		case errors.Is(err, mailbox.ErrClosed), ctx.Err() != nil:
			return nil
		case err != nil:
			d.metrics.ReceiveErrors.Add(1)
			d.log.Debug("receive failed, retrying", "err", err)
			continue
		}
		d.Handle(env)
	}
}

// Handle processes a single control envelope.
func (d *Dispatcher) Handle(env protocol.Envelope) {
	d.metrics.ControlMessages.Add(1)

	switch env.Kind {
	case protocol.KindJoin:
		d.handleJoin(env)
	case protocol.KindListRooms:
		d.handleListRooms(env)
	case protocol.KindListUsers:
		d.handleListUsers(env)
	case protocol.KindLeave:
		d.handleLeave(env)
	default:
		d.log.Debug("ignoring envelope", "kind", env.Kind, "sender", env.Sender)
	}
}

func (d *Dispatcher) handleJoin(env protocol.Envelope) {
	if err := model.ValidateRoomName(env.Room); err != nil {
		d.reject(env, "invalid room name.", err)
		return
	}

	h, err := d.ensureRoom(env.Room)
	if err != nil {
		d.reject(env, "could not create or join room.", err)
		return
	}

	added, err := d.registry.addMember(env.Room, model.Member{Name: env.Sender, Mailbox: env.ReplyMailbox})
	if err != nil {
		d.reject(env, fmt.Sprintf("room '%s' is full.", env.Room), err)
		return
	}
	if added {
		d.metrics.Joins.Add(1)
		d.audit(env.Room, env.Sender, model.AuditJoined, "")
		d.log.Info("user joined", "user", env.Sender, "room", env.Room)
	}

	d.reply(env, protocol.NewConfirmAck(env.Room, "Joined room: "+env.Room, h))
}

// ensureRoom returns the mailbox of room, creating the room and starting its
// worker on first use. Every room creation path goes through here, so names
// that no client could join never take a slot.
func (d *Dispatcher) ensureRoom(room string) (mailbox.Handle, error) {
	if err := model.ValidateRoomName(room); err != nil {
		return mailbox.NoHandle, fmt.Errorf("server: room name %q: %w", room, err)
	}
	if h, ok := d.registry.Lookup(room); ok {
		return h, nil
	}
	if d.registry.Full() {
		return mailbox.NoHandle, ErrRoomTableFull
	}

	h, err := d.transport.Create()
	if err != nil {
		return mailbox.NoHandle, fmt.Errorf("server: create room mailbox: %w", err)
	}
	createdAt := d.now()
	if err := d.registry.register(room, h, createdAt); err != nil {
		_ = d.transport.Destroy(h)
		return mailbox.NoHandle, err
	}
	d.spawn(room, h)

	d.metrics.RoomsCreated.Add(1)
	if err := d.store.SaveRoom(model.Room{Name: room, CreatedAt: createdAt}); err != nil {
		d.log.Warn("failed to record room", "room", room, "err", err)
	}
	d.audit(room, "", model.AuditRoomCreated, "")
	d.log.Info("room created", "room", room, "mailbox", h)
	return h, nil
}

func (d *Dispatcher) handleListRooms(env protocol.Envelope) {
	d.reply(env, protocol.NewConfirmAck("", listBody("Available rooms:", d.registry.RoomNames()), mailbox.NoHandle))
}

func (d *Dispatcher) handleListUsers(env protocol.Envelope) {
	members, ok := d.registry.Members(env.Room)
	if !ok {
		d.reply(env, protocol.NewErrorAck(env.Room, fmt.Sprintf("Room '%s' does not exist.", env.Room)))
		return
	}
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	d.reply(env, protocol.NewConfirmAck(env.Room, listBody(fmt.Sprintf("Users in '%s':", env.Room), names), mailbox.NoHandle))
}

func (d *Dispatcher) handleLeave(env protocol.Envelope) {
	if !d.registry.removeMember(env.Room, env.Sender) {
		return
	}
	d.metrics.Leaves.Add(1)
	d.audit(env.Room, env.Sender, model.AuditLeft, "")
	d.log.Info("user left", "user", env.Sender, "room", env.Room)
}

// reject answers a Join that could not be honoured.
func (d *Dispatcher) reject(env protocol.Envelope, msg string, cause error) {
	d.metrics.RejectedJoins.Add(1)
	d.audit(env.Room, env.Sender, model.AuditRejected, cause.Error())
	d.log.Warn("join rejected", "user", env.Sender, "room", env.Room, "err", cause)
	d.reply(env, protocol.NewErrorAck(env.Room, msg))
}

// reply sends to the requester's personal mailbox. Delivery is lossy.
func (d *Dispatcher) reply(req, resp protocol.Envelope) {
	if err := d.transport.Send(req.ReplyMailbox, resp); err != nil {
		d.metrics.DroppedSends.Add(1)
		d.log.Debug("reply dropped", "user", req.Sender, "mailbox", req.ReplyMailbox, "err", err)
	}
}

func (d *Dispatcher) audit(room, user string, action model.AuditAction, detail string) {
	ev := model.AuditEvent{Room: room, User: user, Action: action, Detail: detail, CreatedAt: d.now()}
	if err := d.store.RecordEvent(ev); err != nil {
		d.log.Warn("failed to record audit event", "room", room, "action", action, "err", err)
	}
}

// listBody renders a header followed by one item per line. NewConfirmAck
// truncates the result to the body limit.
func listBody(header string, items []string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	for _, item := range items {
		b.WriteString(item)
		b.WriteByte('\n')
	}
	return b.String()
}
