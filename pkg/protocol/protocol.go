// Package protocol defines the envelope exchanged over every mailbox and its
// fixed-size binary wire format.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxNameLength is the maximum byte length of a user or room name.
	MaxNameLength = 63

	// MaxBodyLength is the maximum byte length of an envelope body.
	MaxBodyLength = 255

	nameFieldSize = MaxNameLength + 1
	bodyFieldSize = MaxBodyLength + 1

	// WireSize is the byte size of an encoded envelope, not counting the
	// leading message-type word required by System V queues.
	// [kind(4) | sender(64) | room(64) | body(256) | reply(4) | roomMailbox(4)] = 396
	WireSize = 4 + 2*nameFieldSize + bodyFieldSize + 4 + 4

	offKind        = 0
	offSender      = offKind + 4
	offRoom        = offSender + nameFieldSize
	offBody        = offRoom + nameFieldSize
	offReply       = offBody + bodyFieldSize
	offRoomMailbox = offReply + 4

	// ServerName is the sender name on every server-generated envelope.
	ServerName = "SERVER"

	// ErrorPrefix starts the body of every ConfirmAck that reports a failure.
	ErrorPrefix = "ERROR: "
)

var ErrShortEnvelope = errors.New("protocol: envelope too short")

// Kind discriminates envelope types.
type Kind int32

const (
	KindJoin       Kind = 1
	KindConfirmAck Kind = 2
	KindChat       Kind = 3
	KindListRooms  Kind = 4
	KindListUsers  Kind = 5
	KindLeave      Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindConfirmAck:
		return "confirm"
	case KindChat:
		return "chat"
	case KindListRooms:
		return "list_rooms"
	case KindListUsers:
		return "list_users"
	case KindLeave:
		return "leave"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// MailboxID identifies a mailbox on the wire. The zero value means "unset".
type MailboxID int32

// NoMailbox is the unset mailbox id.
const NoMailbox MailboxID = 0

// Valid reports whether the id refers to a mailbox.
func (id MailboxID) Valid() bool { return id > 0 }

// Envelope is the record exchanged over every mailbox.
type Envelope struct {
	Kind         Kind
	Sender       string
	Room         string
	Body         string
	ReplyMailbox MailboxID // sender's personal mailbox, set on every client->server message
	RoomMailbox  MailboxID // only set on a ConfirmAck answering a successful join
}

// NewConfirmAck builds a server reply. roomMailbox is NoMailbox for list
// results and errors.
func NewConfirmAck(room, body string, roomMailbox MailboxID) Envelope {
	body, _ = Truncate(body, MaxBodyLength)
	return Envelope{
		Kind:        KindConfirmAck,
		Sender:      ServerName,
		Room:        room,
		Body:        body,
		RoomMailbox: roomMailbox,
	}
}

// NewErrorAck builds a ConfirmAck reporting a failure for room.
func NewErrorAck(room, msg string) Envelope {
	return NewConfirmAck(room, ErrorPrefix+msg, NoMailbox)
}

// IsError reports whether env is a ConfirmAck carrying a failure.
func (e *Envelope) IsError() bool {
	return e.Kind == KindConfirmAck && IsErrorBody(e.Body)
}

// IsErrorBody reports whether a ConfirmAck body reports a failure.
func IsErrorBody(body string) bool {
	return strings.HasPrefix(body, ErrorPrefix)
}

// Marshal encodes the envelope into its fixed-size wire form. Oversized
// strings are truncated on a rune boundary; unused bytes stay zero.
func (e *Envelope) Marshal() []byte {
	buf := make([]byte, WireSize)
	binary.NativeEndian.PutUint32(buf[offKind:], uint32(e.Kind)) //nolint:gosec // kind is a small enum
	putString(buf[offSender:offRoom], e.Sender)
	putString(buf[offRoom:offBody], e.Room)
	putString(buf[offBody:offReply], e.Body)
	binary.NativeEndian.PutUint32(buf[offReply:], uint32(e.ReplyMailbox))      //nolint:gosec // ids are non-negative
	binary.NativeEndian.PutUint32(buf[offRoomMailbox:], uint32(e.RoomMailbox)) //nolint:gosec // ids are non-negative
	return buf
}

// Unmarshal decodes an envelope from its wire form.
func Unmarshal(data []byte) (Envelope, error) {
	if len(data) < WireSize {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrShortEnvelope, len(data))
	}
	return Envelope{
		Kind:         Kind(binary.NativeEndian.Uint32(data[offKind:])),
		Sender:       cString(data[offSender:offRoom]),
		Room:         cString(data[offRoom:offBody]),
		Body:         cString(data[offBody:offReply]),
		ReplyMailbox: MailboxID(binary.NativeEndian.Uint32(data[offReply:])),
		RoomMailbox:  MailboxID(binary.NativeEndian.Uint32(data[offRoomMailbox:])),
	}, nil
}

// Truncate shortens s to at most limit bytes without splitting a UTF-8
// sequence. It reports whether anything was cut.
func Truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

// putString copies s into a NUL-terminated field, leaving room for the terminator.
func putString(field []byte, s string) {
	s, _ = Truncate(s, len(field)-1)
	copy(field, s)
}

func cString(field []byte) string {
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}
