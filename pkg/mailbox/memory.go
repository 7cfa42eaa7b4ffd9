package mailbox

import (
	"context"
	"sync"

	"github.com/NicolasHaas/mqchat/pkg/protocol"
)

// DefaultMemoryCapacity is the per-mailbox queue depth of a Memory transport.
const DefaultMemoryCapacity = 64

// Memory is an in-process Transport. Envelopes travel in their wire encoding
// so field bounds behave exactly as they do across processes.
type Memory struct {
	mu       sync.Mutex
	capacity int
	nextID   Handle
	boxes    map[Handle]*memoryBox
	keys     map[Key]Handle
}

type memoryBox struct {
	queue  chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewMemory creates a Memory transport whose mailboxes hold up to capacity envelopes.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{
		capacity: capacity,
		boxes:    make(map[Handle]*memoryBox),
		keys:     make(map[Key]Handle),
	}
}

// Create allocates a private mailbox.
func (m *Memory) Create() (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(), nil
}

func (m *Memory) createLocked() Handle {
	m.nextID++
	h := m.nextID
	m.boxes[h] = &memoryBox{
		queue:  make(chan []byte, m.capacity),
		closed: make(chan struct{}),
	}
	return h
}

// Open returns the mailbox registered under key, creating it when asked to.
func (m *Memory) Open(key Key, create bool) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.keys[key]; ok {
		return h, nil
	}
	if !create {
		return NoHandle, ErrNotFound
	}
	h := m.createLocked()
	m.keys[key] = h
	return h, nil
}

func (m *Memory) box(h Handle) *memoryBox {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boxes[h]
}

// Send enqueues env without blocking.
func (m *Memory) Send(h Handle, env protocol.Envelope) error {
	b := m.box(h)
	if b == nil {
		return ErrStale
	}
	select {
	case <-b.closed:
		return ErrStale
	default:
	}
	select {
	case b.queue <- env.Marshal():
		return nil
	default:
		return ErrFull
	}
}

// Receive blocks until an envelope is available.
func (m *Memory) Receive(ctx context.Context, h Handle) (protocol.Envelope, error) {
	b := m.box(h)
	if b == nil {
		return protocol.Envelope{}, ErrClosed
	}
	select {
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case <-b.closed:
		return protocol.Envelope{}, ErrClosed
	case data := <-b.queue:
		return protocol.Unmarshal(data)
	}
}

// Destroy releases the mailbox and wakes any blocked receiver. Destroying an
// unknown handle is a no-op.
func (m *Memory) Destroy(h Handle) error {
	m.mu.Lock()
	b, ok := m.boxes[h]
	delete(m.boxes, h)
	for k, kh := range m.keys {
		if kh == h {
			delete(m.keys, k)
		}
	}
	m.mu.Unlock()

	if ok {
		b.once.Do(func() { close(b.closed) })
	}
	return nil
}

// Len returns the number of envelopes waiting in a mailbox.
func (m *Memory) Len(h Handle) int {
	b := m.box(h)
	if b == nil {
		return 0
	}
	return len(b.queue)
}

// Compile-time check: *Memory implements Transport.
var _ Transport = (*Memory)(nil)
