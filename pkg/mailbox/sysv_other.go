//go:build !(linux && (amd64 || arm64 || riscv64))

package mailbox

import (
	"context"

	"github.com/NicolasHaas/mqchat/pkg/protocol"
)

// SysV is unavailable on this platform; use the memory transport instead.
type SysV struct{}

// NewSysV always fails on this platform.
func NewSysV() (*SysV, error) {
	return nil, ErrUnsupported
}

func (s *SysV) Create() (Handle, error)            { return NoHandle, ErrUnsupported }
func (s *SysV) Open(_ Key, _ bool) (Handle, error) { return NoHandle, ErrUnsupported }
func (s *SysV) Send(_ Handle, _ protocol.Envelope) error {
	return ErrUnsupported
}
func (s *SysV) Receive(_ context.Context, _ Handle) (protocol.Envelope, error) {
	return protocol.Envelope{}, ErrUnsupported
}
func (s *SysV) Destroy(_ Handle) error { return nil }

// KeyFromPath is unavailable on this platform.
func KeyFromPath(_ string, _ byte) (Key, error) {
	return 0, ErrUnsupported
}

var _ Transport = (*SysV)(nil)
