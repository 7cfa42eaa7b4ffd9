//go:build linux && (amd64 || arm64 || riscv64)

package mailbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/NicolasHaas/mqchat/pkg/protocol"
)

const (
	// queuePerm lets processes of other users reach the queue, matching how
	// independently started clients discover the server.
	queuePerm = 0o666

	// mtypeSize is the leading long every System V message carries.
	mtypeSize = 8
	msgType   = 1

	// msgNoError truncates oversized foreign messages instead of leaving
	// them at the head of the queue (MSG_NOERROR).
	msgNoError = 0o10000
)

// SysV is a Transport over System V message queues. Handles are the kernel
// queue id plus one, so that zero keeps meaning "unset" on the wire.
type SysV struct{}

// NewSysV returns the System V transport.
func NewSysV() (*SysV, error) {
	return &SysV{}, nil
}

// toHandle fails for ids whose shifted value would not fit the wire field.
func toHandle(qid uintptr) (Handle, error) {
	if qid >= math.MaxInt32 {
		return NoHandle, fmt.Errorf("%w: queue id %d", ErrHandleRange, qid)
	}
	return Handle(qid + 1), nil //nolint:gosec // bounded above
}

func queueID(h Handle) uintptr { return uintptr(h - 1) } //nolint:gosec // caller checks Valid

func (s *SysV) msgget(key Key, flags int) (Handle, error) {
	qid, _, errno := unix.Syscall(unix.SYS_MSGGET, uintptr(key), uintptr(flags), 0) //nolint:gosec // key_t is a C int
	if errno != 0 {
		return NoHandle, errno
	}
	h, err := toHandle(qid)
	if err != nil {
		if key == unix.IPC_PRIVATE {
			// nobody else can reach a private queue we cannot address
			_, _, _ = unix.Syscall(unix.SYS_MSGCTL, qid, unix.IPC_RMID, 0)
		}
		return NoHandle, err
	}
	return h, nil
}

// Create allocates a private queue.
func (s *SysV) Create() (Handle, error) {
	h, err := s.msgget(unix.IPC_PRIVATE, unix.IPC_CREAT|queuePerm)
	if err != nil {
		return NoHandle, fmt.Errorf("mailbox: msgget private: %w", err)
	}
	return h, nil
}

// Open attaches to the well-known queue for key, creating it if requested.
func (s *SysV) Open(key Key, create bool) (Handle, error) {
	flags := queuePerm
	if create {
		flags |= unix.IPC_CREAT
	}
	h, err := s.msgget(key, flags)
	if errors.Is(err, unix.ENOENT) {
		return NoHandle, fmt.Errorf("%w: key %#x", ErrNotFound, int32(key))
	}
	if err != nil {
		return NoHandle, fmt.Errorf("mailbox: msgget key %#x: %w", int32(key), err)
	}
	return h, nil
}

// Send enqueues env with IPC_NOWAIT so the caller never blocks.
func (s *SysV) Send(h Handle, env protocol.Envelope) error {
	if !h.Valid() {
		return ErrStale
	}
	buf := make([]byte, mtypeSize+protocol.WireSize)
	binary.NativeEndian.PutUint64(buf, msgType)
	copy(buf[mtypeSize:], env.Marshal())

	_, _, errno := unix.Syscall6(unix.SYS_MSGSND, queueID(h),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(protocol.WireSize), unix.IPC_NOWAIT, 0, 0)
	switch errno {
	case 0:
		return nil
	case unix.EAGAIN:
		return ErrFull
	case unix.EIDRM, unix.EINVAL:
		return ErrStale
	default:
		return fmt.Errorf("mailbox: msgsnd: %w", errno)
	}
}

// Receive blocks in msgrcv. Destroying the queue wakes it with EIDRM, which
// is reported as ErrClosed. Signal interruptions are retried here.
func (s *SysV) Receive(ctx context.Context, h Handle) (protocol.Envelope, error) {
	if !h.Valid() {
		return protocol.Envelope{}, ErrClosed
	}
	buf := make([]byte, mtypeSize+protocol.WireSize)
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Envelope{}, err
		}
		n, _, errno := unix.Syscall6(unix.SYS_MSGRCV, queueID(h),
			uintptr(unsafe.Pointer(&buf[0])), uintptr(protocol.WireSize), 0, msgNoError, 0)
		switch errno {
		case 0:
			return protocol.Unmarshal(buf[mtypeSize : mtypeSize+int(n)]) //nolint:gosec // n <= WireSize
		case unix.EINTR:
			continue
		case unix.EIDRM, unix.EINVAL:
			return protocol.Envelope{}, ErrClosed
		default:
			return protocol.Envelope{}, fmt.Errorf("mailbox: msgrcv: %w", errno)
		}
	}
}

// Destroy removes the queue. Removing an already removed queue is a no-op.
func (s *SysV) Destroy(h Handle) error {
	if !h.Valid() {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_MSGCTL, queueID(h), unix.IPC_RMID, 0)
	switch errno {
	case 0, unix.EIDRM, unix.EINVAL:
		return nil
	default:
		return fmt.Errorf("mailbox: msgctl rmid: %w", errno)
	}
}

// KeyFromPath derives a well-known key from an existing path and a project
// byte, exactly like ftok(3).
func KeyFromPath(path string, project byte) (Key, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("mailbox: stat key path %q: %w", path, err)
	}
	k := uint32(project)<<24 | uint32(st.Dev&0xff)<<16 | uint32(st.Ino&0xffff) //nolint:gosec // masked
	return Key(int32(k)), nil                                                 //nolint:gosec // ftok wraps into key_t
}

// Compile-time check: *SysV implements Transport.
var _ Transport = (*SysV)(nil)
