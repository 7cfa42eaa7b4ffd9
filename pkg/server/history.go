package server

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/NicolasHaas/mqchat/pkg/crypto"
)

// History appends relayed chat lines to per-room files and echoes them to
// the server output. Both are best effort.
type History struct {
	dir string
	log *slog.Logger

	mu   sync.Mutex // serializes echo writes across room workers
	echo io.Writer
}

// NewHistory returns a History writing files under dir. An empty dir
// disables the files; a nil echo disables the echo.
func NewHistory(dir string, echo io.Writer, log *slog.Logger) *History {
	return &History{dir: dir, echo: echo, log: log}
}

// Record logs one chat line for room.
func (h *History) Record(room, sender, body string) {
	line := FormatHistoryLine(room, sender, body)

	if h.dir != "" {
		path := filepath.Join(h.dir, HistoryFileName(room))
		if err := appendLine(path, line); err != nil {
			h.log.Debug("history write failed", "room", room, "path", path, "err", err)
		}
	}

	if h.echo != nil {
		h.mu.Lock()
		_, _ = io.WriteString(h.echo, line)
		h.mu.Unlock()
	}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // path from server config
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// FormatHistoryLine renders "[room] sender: body\n".
func FormatHistoryLine(room, sender, body string) string {
	return fmt.Sprintf("[%s] %s: %s\n", room, sender, body)
}

// HistoryFileName returns history_<room>.txt, or a digest of the room name
// when it is not safe to use as a file name.
func HistoryFileName(room string) string {
	if safeFileName(room) {
		return "history_" + room + ".txt"
	}
	return "history_" + crypto.ShortDigest(room, 8) + ".txt"
}

func safeFileName(name string) bool {
	if name == "" || name[0] == '.' {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
