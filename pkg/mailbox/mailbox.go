//go:generate go run go.uber.org/mock/mockgen -source=mailbox.go -destination=mocks/mock_transport.go -package=mocks

// Package mailbox provides FIFO, blocking-receive message channels identified
// by a handle. Any holder of a handle may send; only the owner receives.
//
// Two transports implement the contract:
//
//   - SysV: System V message queues, visible across processes (Linux).
//   - Memory: in-process queues with the same semantics, used by tests and
//     single-process runs.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/NicolasHaas/mqchat/pkg/protocol"
)

// Handle identifies a mailbox. The zero value is NoHandle.
type Handle = protocol.MailboxID

// NoHandle is the unset handle.
const NoHandle = protocol.NoMailbox

// Key is the statically agreed identifier of a well-known mailbox.
type Key int32

var (
	// ErrClosed is returned by Receive once the mailbox has been destroyed.
	ErrClosed = errors.New("mailbox: closed")
	// ErrFull is returned by Send when the destination queue has no room.
	ErrFull = errors.New("mailbox: destination full")
	// ErrStale is returned by Send when the handle no longer refers to a mailbox.
	ErrStale = errors.New("mailbox: stale handle")
	// ErrNotFound is returned by Open when the well-known mailbox does not exist.
	ErrNotFound = errors.New("mailbox: not found")
	// ErrHandleRange is returned when a kernel id does not fit a wire handle.
	ErrHandleRange = errors.New("mailbox: id out of handle range")
	// ErrUnsupported is returned when a transport is not available on this platform.
	ErrUnsupported = errors.New("mailbox: transport not supported on this platform")
)

// Transport creates, addresses and releases mailboxes.
//
// Send never blocks: a full destination or stale handle drops the envelope
// and reports why. Callers treat that as lossy delivery and do not retry.
// Receive blocks until an envelope arrives, the context is cancelled or the
// mailbox is destroyed (ErrClosed). Any other Receive error is transient.
type Transport interface {
	Create() (Handle, error)
	Open(key Key, create bool) (Handle, error)
	Send(h Handle, env protocol.Envelope) error
	Receive(ctx context.Context, h Handle) (protocol.Envelope, error)
	Destroy(h Handle) error
}

// Transport names accepted by New.
const (
	TransportSysV   = "sysv"
	TransportMemory = "memory"
)

// New returns the transport registered under name.
func New(name string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case TransportSysV, "":
		t, err := NewSysV()
		if err != nil {
			return nil, err
		}
		return t, nil
	case TransportMemory:
		return NewMemory(DefaultMemoryCapacity), nil
	default:
		return nil, fmt.Errorf("mailbox: unknown transport %q (valid: %s, %s)", name, TransportSysV, TransportMemory)
	}
}

// IsDropped reports whether a Send error is ordinary lossy delivery.
func IsDropped(err error) bool {
	return errors.Is(err, ErrFull) || errors.Is(err, ErrStale)
}
