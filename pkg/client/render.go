package client

import (
	"fmt"
	"io"
	"sync"

	"github.com/gookit/color"

	"github.com/NicolasHaas/mqchat/pkg/protocol"
)

// Renderer displays session output.
type Renderer interface {
	// Notice shows local feedback from the command loop.
	Notice(msg string)
	// Server shows the body of a ConfirmAck.
	Server(body string)
	// Chat shows a message relayed from another member.
	Chat(sender, body string)
	// Prompt shows the input prompt.
	Prompt()
}

// Terminal renders to a terminal, colouring server lines and sender names.
type Terminal struct {
	mu      sync.Mutex
	w       io.Writer
	noColor bool

	notice color.Style
	server color.Style
	sender color.Style
	errors color.Style
}

// NewTerminal returns a Terminal writing to w.
func NewTerminal(w io.Writer, noColor bool) *Terminal {
	return &Terminal{
		w:       w,
		noColor: noColor,
		notice:  color.New(color.FgYellow),
		server:  color.New(color.FgGreen),
		sender:  color.New(color.FgCyan, color.OpBold),
		errors:  color.New(color.FgRed),
	}
}

func (t *Terminal) paint(s color.Style, text string) string {
	if t.noColor {
		return text
	}
	return s.Sprint(text)
}

// Notice prints a local notice on its own line.
func (t *Terminal) Notice(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintln(t.w, t.paint(t.notice, msg))
}

// Server prints a server reply and redraws the prompt.
func (t *Terminal) Server(body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	style := t.server
	if protocol.IsErrorBody(body) {
		style = t.errors
	}
	_, _ = fmt.Fprintf(t.w, "\n%s\n> ", t.paint(style, trimTrailingNewline(body)))
}

// Chat prints "sender: body" and redraws the prompt.
func (t *Terminal) Chat(sender, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.w, "\n%s: %s\n> ", t.paint(t.sender, sender), body)
}

// Prompt prints the input prompt.
func (t *Terminal) Prompt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.w, "> ")
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}
