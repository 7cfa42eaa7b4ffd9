package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/NicolasHaas/mqchat/pkg/mailbox"
	"github.com/NicolasHaas/mqchat/pkg/protocol"
)

// RoomWorker fans chat envelopes from one room mailbox out to the members.
type RoomWorker struct {
	room      string
	inbox     mailbox.Handle
	log       *slog.Logger
	transport mailbox.Transport
	registry  *Registry
	history   *History
	metrics   *Metrics
}

// Run relays chat until the room mailbox is destroyed or ctx is cancelled.
func (w *RoomWorker) Run(ctx context.Context) error {
	for {
		env, err := w.transport.Receive(ctx, w.inbox)
		switch {
		case errors.Is(err, mailbox.ErrClosed), ctx.Err() != nil:
			return nil
		case err != nil:
			w.metrics.ReceiveErrors.Add(1)
			w.log.Debug("receive failed, retrying", "err", err)
			continue
		}
		if env.Kind != protocol.KindChat {
			w.log.Debug("ignoring envelope", "kind", env.Kind, "sender", env.Sender)
			continue
		}
		w.relay(env)
	}
}

// relay delivers env to every member except its sender, in membership
// order, and returns the number of successful sends.
func (w *RoomWorker) relay(env protocol.Envelope) int {
	members, _ := w.registry.Members(w.room)

	delivered := 0
	for _, m := range members {
		if m.Name == env.Sender {
			continue
		}
		if err := w.transport.Send(m.Mailbox, env); err != nil {
			w.metrics.DroppedSends.Add(1)
			w.log.Debug("delivery dropped", "user", m.Name, "mailbox", m.Mailbox, "err", err)
			continue
		}
		delivered++
	}

	w.metrics.ChatMessages.Add(1)
	w.metrics.Deliveries.Add(int64(delivered))
	w.history.Record(w.room, env.Sender, env.Body)
	return delivered
}
