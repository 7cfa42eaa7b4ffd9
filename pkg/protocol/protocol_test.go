package protocol

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := Envelope{
		Kind:         KindChat,
		Sender:       "alice",
		Room:         "lobby",
		Body:         "hi there",
		ReplyMailbox: 7,
	}

	data := in.Marshal()
	if len(data) != WireSize {
		t.Fatalf("Marshal: got %d bytes, want %d", len(data), WireSize)
	}

	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalTruncatesFields(t *testing.T) {
	in := Envelope{
		Kind:   KindChat,
		Sender: strings.Repeat("s", 80),
		Room:   strings.Repeat("r", 64),
		Body:   strings.Repeat("b", 300),
	}

	out, err := Unmarshal(in.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(out.Sender) != MaxNameLength {
		t.Errorf("sender length = %d, want %d", len(out.Sender), MaxNameLength)
	}
	if len(out.Room) != MaxNameLength {
		t.Errorf("room length = %d, want %d", len(out.Room), MaxNameLength)
	}
	if out.Body != strings.Repeat("b", MaxBodyLength) {
		t.Errorf("body length = %d, want %d", len(out.Body), MaxBodyLength)
	}
}

func TestMarshalLeavesUnusedBytesZero(t *testing.T) {
	e := Envelope{Kind: KindListRooms, Sender: "bob"}
	data := e.Marshal()
	for i := offSender + len("bob"); i < len(data); i++ {
		if data[i] != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, data[i])
		}
	}
}

func TestUnmarshalShort(t *testing.T) {
	if _, err := Unmarshal(make([]byte, WireSize-1)); err == nil {
		t.Fatal("expected error for short envelope")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		limit   int
		want    string
		wantCut bool
	}{
		{"short", "hello", 10, "hello", false},
		{"exact", "hello", 5, "hello", false},
		{"ascii", "hello world", 5, "hello", true},
		{"keeps rune whole", "aé", 2, "a", true},
		{"multibyte fits", "éé", 4, "éé", false},
		{"empty", "", 3, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cut := Truncate(tt.input, tt.limit)
			if got != tt.want || cut != tt.wantCut {
				t.Errorf("Truncate(%q, %d) = (%q, %v), want (%q, %v)", tt.input, tt.limit, got, cut, tt.want, tt.wantCut)
			}
		})
	}
}

func TestNewConfirmAck(t *testing.T) {
	ack := NewConfirmAck("lobby", strings.Repeat("x", 400), 3)
	if ack.Kind != KindConfirmAck || ack.Sender != ServerName {
		t.Fatalf("unexpected ack header: %+v", ack)
	}
	if len(ack.Body) != MaxBodyLength {
		t.Errorf("body length = %d, want %d", len(ack.Body), MaxBodyLength)
	}
	if ack.RoomMailbox != 3 || ack.ReplyMailbox.Valid() {
		t.Errorf("unexpected mailboxes: room=%d reply=%d", ack.RoomMailbox, ack.ReplyMailbox)
	}
}

func TestKindString(t *testing.T) {
	if KindJoin.String() != "join" {
		t.Errorf("KindJoin.String() = %q", KindJoin.String())
	}
	if Kind(42).String() != "kind(42)" {
		t.Errorf("Kind(42).String() = %q", Kind(42).String())
	}
}

func TestErrorAck(t *testing.T) {
	ack := NewErrorAck("lobby", "room 'lobby' is full.")
	if !ack.IsError() {
		t.Fatalf("IsError() = false for %+v", ack)
	}
	if ack.Body != "ERROR: room 'lobby' is full." {
		t.Errorf("Body = %q", ack.Body)
	}
	ok := NewConfirmAck("lobby", "Joined room: lobby", 4)
	if ok.IsError() {
		t.Errorf("IsError() = true for %+v", ok)
	}
	chat := Envelope{Kind: KindChat, Body: ErrorPrefix + "not an ack"}
	if chat.IsError() {
		t.Errorf("IsError() = true for chat %+v", chat)
	}
}

func TestIsErrorBody(t *testing.T) {
	for body, want := range map[string]bool{
		"ERROR: Room 'x' does not exist.": true,
		"Joined room: lobby":              false,
		"error: lowercase":                false,
		"":                                false,
	} {
		if got := IsErrorBody(body); got != want {
			t.Errorf("IsErrorBody(%q) = %v, want %v", body, got, want)
		}
	}
}
