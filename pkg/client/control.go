// Package client implements the mqchat client: a session that sends
// commands to the relay and renders what arrives on its personal mailbox.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/NicolasHaas/mqchat/pkg/mailbox"
	"github.com/NicolasHaas/mqchat/pkg/protocol"
)

// ErrServerNotFound is returned by Dial when no server owns the well-known mailbox.
var ErrServerNotFound = errors.New("client: server mailbox not found (is mqchat-server running?)")

// EventHandler is a callback for envelopes arriving on the personal mailbox.
type EventHandler func(env protocol.Envelope)

// Conn is a client's attachment to the relay: the server's dispatcher
// mailbox plus a private mailbox for replies and chat.
type Conn struct {
	transport  mailbox.Transport
	dispatcher mailbox.Handle
	personal   mailbox.Handle
	handler    EventHandler
	log        *slog.Logger
	started    atomic.Bool
	done       chan struct{}
}

// Dial attaches to the dispatcher mailbox registered under key and creates
// the personal mailbox.
func Dial(t mailbox.Transport, key mailbox.Key, log *slog.Logger) (*Conn, error) {
	dispatcher, err := t.Open(key, false)
	if errors.Is(err, mailbox.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrServerNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("client: open server mailbox: %w", err)
	}

	personal, err := t.Create()
	if err != nil {
		return nil, fmt.Errorf("client: create personal mailbox: %w", err)
	}

	return &Conn{
		transport:  t,
		dispatcher: dispatcher,
		personal:   personal,
		log:        log,
		done:       make(chan struct{}),
	}, nil
}

// SetEventHandler sets the callback for incoming envelopes.
func (c *Conn) SetEventHandler(handler EventHandler) {
	c.handler = handler
}

// Personal returns the handle of the personal mailbox.
func (c *Conn) Personal() mailbox.Handle {
	return c.personal
}

// SendControl sends env to the dispatcher with the personal mailbox as the
// reply address.
func (c *Conn) SendControl(env protocol.Envelope) error {
	env.ReplyMailbox = c.personal
	return c.SendTo(c.dispatcher, env)
}

// SendTo sends env to h. Delivery is lossy; failures are only logged.
func (c *Conn) SendTo(h mailbox.Handle, env protocol.Envelope) error {
	if err := c.transport.Send(h, env); err != nil {
		c.log.Debug("send dropped", "kind", env.Kind, "mailbox", h, "err", err)
		return err
	}
	return nil
}

// StartReceiving starts a goroutine that reads the personal mailbox and
// dispatches envelopes to the event handler until the mailbox is destroyed
// or ctx is cancelled.
func (c *Conn) StartReceiving(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(c.done)
		for {
			env, err := c.transport.Receive(ctx, c.personal)
			switch {
			case errors.Is(err, mailbox.ErrClosed), ctx.Err() != nil:
				c.log.Debug("personal mailbox closed")
				return
			case err != nil:
				c.log.Debug("receive failed, retrying", "err", err)
				continue
			}
			if c.handler != nil {
				c.handler(env)
			}
		}
	}()
}

// Close destroys the personal mailbox, which also stops the receiver.
func (c *Conn) Close() error {
	return c.transport.Destroy(c.personal)
}

// Done returns a channel that's closed when the receiver has stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the receiver has stopped. It returns at once if
// receiving was never started.
func (c *Conn) Wait() {
	if c.started.Load() {
		<-c.done
	}
}
