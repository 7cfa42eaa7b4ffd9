package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/NicolasHaas/mqchat/pkg/mailbox"
	"github.com/NicolasHaas/mqchat/pkg/model"
	"github.com/NicolasHaas/mqchat/pkg/protocol"
)

// ErrDisconnected is returned by Run when the personal mailbox disappears.
var ErrDisconnected = errors.New("client: personal mailbox closed")

// User-facing notices.
const (
	NoticeTruncated    = "(Notice) Message truncated to 255 characters."
	NoticeNotInRoom    = "You are not in any room."
	NoticeJoinFirst    = "You are not in any room. Use: join <room>"
	NoticeNotConfirmed = "Room confirmation has not arrived yet. Try again in a moment."
	NoticeJoinUsage    = "Usage: join <room>"
)

const maxLineLength = 1 << 20

// Session is one user's chat session. The command loop and the receiver
// share its state under mu.
type Session struct {
	username string
	conn     *Conn
	out      Renderer
	log      *slog.Logger

	mu          sync.Mutex
	room        string
	roomMailbox mailbox.Handle
}

// NewSession creates a session for username over conn.
func NewSession(username string, conn *Conn, out Renderer, log *slog.Logger) (*Session, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("client: username: %w", err)
	}
	return &Session{
		username: username,
		conn:     conn,
		out:      out,
		log:      log,
	}, nil
}

// Username returns the session's user name.
func (s *Session) Username() string {
	return s.username
}

// CurrentRoom returns the room the user is in and its mailbox, which is
// NoHandle until the server confirms the join.
func (s *Session) CurrentRoom() (string, mailbox.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.roomMailbox
}

// Start begins receiving, asks for the room list and prints the help.
func (s *Session) Start(ctx context.Context) {
	s.conn.SetEventHandler(s.handleEvent)
	s.conn.StartReceiving(ctx)

	s.sendControl(protocol.KindListRooms, "")

	s.out.Notice(fmt.Sprintf("Welcome, %s. Commands:", s.username))
	s.out.Notice("  join <room>   | /list   | /users   | /leave   | <text>")
}

// Run reads commands from in until EOF, ctx cancellation or loss of the
// personal mailbox.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 4096), maxLineLength)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		s.out.Prompt()
		select {
		case <-ctx.Done():
			return nil
		case <-s.conn.Done():
			return ErrDisconnected
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("client: read input: %w", err)
			}
			return nil
		case line := <-lines:
			s.HandleLine(line)
		}
	}
}

// HandleLine interprets one line of user input.
func (s *Session) HandleLine(line string) {
	line = strings.TrimSpace(line)
	if len(line) > protocol.MaxBodyLength {
		line, _ = protocol.Truncate(line, protocol.MaxBodyLength)
		s.out.Notice(NoticeTruncated)
	}
	if line == "" {
		return
	}

	switch {
	case line == "join" || strings.HasPrefix(line, "join "):
		s.join(strings.TrimPrefix(line, "join"))
	case line == "/list":
		s.sendControl(protocol.KindListRooms, "")
	case line == "/users":
		s.listUsers()
	case line == "/leave":
		s.leave()
	default:
		s.chat(line)
	}
}

func (s *Session) join(args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		s.out.Notice(NoticeJoinUsage)
		return
	}
	room, _ := protocol.Truncate(fields[0], protocol.MaxNameLength)

	s.mu.Lock()
	s.room = room
	s.roomMailbox = mailbox.NoHandle
	s.mu.Unlock()

	s.sendControl(protocol.KindJoin, room)
}

func (s *Session) listUsers() {
	room, _ := s.CurrentRoom()
	if room == "" {
		s.out.Notice(NoticeNotInRoom)
		return
	}
	s.sendControl(protocol.KindListUsers, room)
}

func (s *Session) leave() {
	s.mu.Lock()
	room := s.room
	s.room = ""
	s.roomMailbox = mailbox.NoHandle
	s.mu.Unlock()

	if room == "" {
		s.out.Notice(NoticeNotInRoom)
		return
	}
	s.sendControl(protocol.KindLeave, room)
	s.out.Notice("You left room " + room)
}

func (s *Session) chat(text string) {
	room, h := s.CurrentRoom()
	switch {
	case room == "":
		s.out.Notice(NoticeJoinFirst)
		return
	case !h.Valid():
		s.out.Notice(NoticeNotConfirmed)
		return
	}
	_ = s.conn.SendTo(h, protocol.Envelope{
		Kind:   protocol.KindChat,
		Sender: s.username,
		Room:   room,
		Body:   text,
	})
}

func (s *Session) sendControl(kind protocol.Kind, room string) {
	_ = s.conn.SendControl(protocol.Envelope{Kind: kind, Sender: s.username, Room: room})
}

// handleEvent runs on the receiver goroutine.
func (s *Session) handleEvent(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindConfirmAck:
		s.applyAck(env)
		s.out.Server(env.Body)
	case protocol.KindChat:
		s.out.Chat(env.Sender, env.Body)
	default:
		s.log.Debug("ignoring envelope", "kind", env.Kind, "sender", env.Sender)
	}
}

// applyAck records the room mailbox from a join confirmation. Acks for a
// room the user has since left or switched away from are ignored, and a
// refused join of the pending room clears it.
func (s *Session) applyAck(env protocol.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if env.Room == "" || env.Room != s.room {
		return
	}
	switch {
	case env.RoomMailbox.Valid():
		s.roomMailbox = env.RoomMailbox
	case env.IsError() && !s.roomMailbox.Valid():
		s.room = ""
	}
}

// Close leaves the current room and destroys the personal mailbox.
func (s *Session) Close() error {
	s.mu.Lock()
	room := s.room
	s.room = ""
	s.roomMailbox = mailbox.NoHandle
	s.mu.Unlock()

	if room != "" {
		s.sendControl(protocol.KindLeave, room)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("client: destroy personal mailbox: %w", err)
	}
	s.conn.Wait()
	return nil
}
