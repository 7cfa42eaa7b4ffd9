package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/mqchat/pkg/logging"
	"github.com/NicolasHaas/mqchat/pkg/mailbox"
	"github.com/NicolasHaas/mqchat/pkg/model"
	"github.com/NicolasHaas/mqchat/pkg/protocol"
	"github.com/NicolasHaas/mqchat/pkg/store"
)

const testKey mailbox.Key = 0x41001234

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	t     *testing.T
	cfg   Config
	tr    *mailbox.Memory
	st    *store.MemoryStore
	echo  *syncBuffer
	srv   *Server
	inbox mailbox.Handle
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Transport = mailbox.TransportMemory
	cfg.HistoryDir = t.TempDir()
	cfg.DBPath = ""
	cfg.MetricsInterval = 0
	cfg.RestartDelay = 10 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		t:    t,
		cfg:  cfg,
		tr:   mailbox.NewMemory(mailbox.DefaultMemoryCapacity),
		st:   store.NewMemory(),
		echo: &syncBuffer{},
	}
	h.srv = New(cfg, Dependencies{
		Transport: h.tr,
		Store:     h.st,
		Logger:    logging.Discard(),
		Echo:      h.echo,
		Key:       testKey,
	})
	require.NoError(t, h.srv.Start())
	t.Cleanup(h.srv.Shutdown)
	h.inbox = h.srv.Inbox()
	require.True(t, h.inbox.Valid())
	return h
}

// client creates a personal mailbox.
func (h *harness) client() mailbox.Handle {
	h.t.Helper()
	mb, err := h.tr.Create()
	require.NoError(h.t, err)
	return mb
}

func (h *harness) send(env protocol.Envelope) {
	h.t.Helper()
	require.NoError(h.t, h.tr.Send(h.inbox, env))
}

func (h *harness) recv(mb mailbox.Handle) protocol.Envelope {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, err := h.tr.Receive(ctx, mb)
	require.NoError(h.t, err)
	return env
}

func (h *harness) join(user, room string, mb mailbox.Handle) protocol.Envelope {
	h.t.Helper()
	h.send(protocol.Envelope{Kind: protocol.KindJoin, Sender: user, Room: room, ReplyMailbox: mb})
	ack := h.recv(mb)
	require.Equal(h.t, protocol.KindConfirmAck, ack.Kind)
	return ack
}

func (h *harness) waitChats(n int64) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.srv.Metrics().ChatMessages.Load() == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFirstJoinCreatesRoomOnce(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.client(), h.client()

	ackA := h.join("alice", "lobby", alice)
	require.Equal(t, "Joined room: lobby", ackA.Body)
	require.Equal(t, "lobby", ackA.Room)
	require.Equal(t, protocol.ServerName, ackA.Sender)
	require.True(t, ackA.RoomMailbox.Valid())

	ackB := h.join("bob", "lobby", bob)
	require.Equal(t, ackA.RoomMailbox, ackB.RoomMailbox)

	require.Equal(t, 1, h.srv.Registry().Len())
	require.EqualValues(t, 1, h.srv.Metrics().RoomsCreated.Load())

	rooms, err := h.st.ListRooms()
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, "lobby", rooms[0].Name)
}

func TestDuplicateJoinIsAckedWithoutNewMembership(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.client()

	first := h.join("alice", "lobby", alice)
	second := h.join("alice", "lobby", alice)
	require.Equal(t, first, second)
	require.Zero(t, h.tr.Len(alice), "exactly one ack per join")

	members, ok := h.srv.Registry().Members("lobby")
	require.True(t, ok)
	require.Len(t, members, 1)
	require.EqualValues(t, 1, h.srv.Metrics().Joins.Load())
}

func TestChatFanOutSkipsSender(t *testing.T) {
	h := newHarness(t, nil)
	users := []string{"alice", "bob", "carol", "dave"}
	boxes := make(map[string]mailbox.Handle, len(users))
	var room mailbox.Handle
	for _, u := range users {
		boxes[u] = h.client()
		room = h.join(u, "lobby", boxes[u]).RoomMailbox
	}

	chat := protocol.Envelope{Kind: protocol.KindChat, Sender: "alice", Room: "lobby", Body: "hi there", ReplyMailbox: boxes["alice"]}
	require.NoError(t, h.tr.Send(room, chat))
	h.waitChats(1)

	for _, u := range users[1:] {
		got := h.recv(boxes[u])
		require.Equal(t, chat, got, "delivered to %s", u)
	}
	require.Zero(t, h.tr.Len(boxes["alice"]))
	require.EqualValues(t, len(users)-1, h.srv.Metrics().Deliveries.Load())
	require.Contains(t, h.echo.String(), "[lobby] alice: hi there\n")
}

func TestChatIgnoresNonChatKinds(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.client(), h.client()
	room := h.join("alice", "lobby", alice).RoomMailbox
	h.join("bob", "lobby", bob)

	require.NoError(t, h.tr.Send(room, protocol.Envelope{Kind: protocol.KindJoin, Sender: "alice", Room: "lobby"}))
	require.NoError(t, h.tr.Send(room, protocol.Envelope{Kind: protocol.KindChat, Sender: "alice", Room: "lobby", Body: "ok"}))
	h.waitChats(1)

	require.Equal(t, "ok", h.recv(bob).Body)
	require.Zero(t, h.tr.Len(bob))
}

func TestListUsersUnknownRoom(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.client()

	h.send(protocol.Envelope{Kind: protocol.KindListUsers, Sender: "alice", Room: "nowhere", ReplyMailbox: alice})
	ack := h.recv(alice)

	require.True(t, ack.IsError())
	require.Contains(t, ack.Body, "'nowhere'")
	require.Equal(t, protocol.NoMailbox, ack.RoomMailbox)
	require.Zero(t, h.srv.Registry().Len())

	events, err := h.st.ListEvents("", 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestListUsersInJoinOrder(t *testing.T) {
	h := newHarness(t, nil)
	for _, u := range []string{"carol", "alice", "bob"} {
		h.join(u, "lobby", h.client())
	}
	asker := h.client()
	h.send(protocol.Envelope{Kind: protocol.KindListUsers, Sender: "x", Room: "lobby", ReplyMailbox: asker})
	require.Equal(t, "Users in 'lobby':\ncarol\nalice\nbob\n", h.recv(asker).Body)
}

func TestListRoomsIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.client()
	for _, r := range []string{"zeta", "alpha", "mid"} {
		h.join("alice", r, alice)
	}

	list := func() string {
		h.send(protocol.Envelope{Kind: protocol.KindListRooms, Sender: "alice", ReplyMailbox: alice})
		return h.recv(alice).Body
	}
	first, second := list(), list()
	require.Equal(t, "Available rooms:\nzeta\nalpha\nmid\n", first)
	require.Equal(t, first, second)
}

func TestMemberTableFullRepliesWithError(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxMembers = 1 })
	alice, bob := h.client(), h.client()

	h.join("alice", "lobby", alice)
	ack := h.join("bob", "lobby", bob)

	require.True(t, ack.IsError())
	require.Contains(t, ack.Body, "full")
	require.Equal(t, protocol.NoMailbox, ack.RoomMailbox)
	require.EqualValues(t, 1, h.srv.Metrics().RejectedJoins.Load())

	members, _ := h.srv.Registry().Members("lobby")
	require.Equal(t, []string{"alice"}, model.Room{Members: members}.MemberNames())
}

func TestRoomTableFullRepliesWithError(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxRooms = 1 })
	alice := h.client()

	h.join("alice", "one", alice)
	ack := h.join("alice", "two", alice)

	require.True(t, ack.IsError())
	require.Equal(t, protocol.NoMailbox, ack.RoomMailbox)
	require.Equal(t, []string{"one"}, h.srv.Registry().RoomNames())
}

func TestInvalidRoomNameRejected(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.client()

	ack := h.join("alice", "", alice)
	require.True(t, ack.IsError())
	require.Zero(t, h.srv.Registry().Len())
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob, carol := h.client(), h.client(), h.client()
	room := h.join("alice", "lobby", alice).RoomMailbox
	h.join("bob", "lobby", bob)
	h.join("carol", "lobby", carol)

	h.send(protocol.Envelope{Kind: protocol.KindLeave, Sender: "alice", Room: "lobby", ReplyMailbox: alice})
	require.Eventually(t, func() bool {
		return h.srv.Metrics().Leaves.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.tr.Send(room, protocol.Envelope{Kind: protocol.KindChat, Sender: "bob", Room: "lobby", Body: "still here?"}))
	h.waitChats(1)

	require.Equal(t, "still here?", h.recv(carol).Body)
	require.Zero(t, h.tr.Len(alice))

	events, err := h.st.ListEvents("lobby", 0)
	require.NoError(t, err)
	actions := make([]model.AuditAction, len(events))
	for i, ev := range events {
		actions[i] = ev.Action
	}
	require.Equal(t, []model.AuditAction{
		model.AuditRoomCreated, model.AuditJoined, model.AuditJoined, model.AuditJoined, model.AuditLeft,
	}, actions)
}

func TestLeaveUnknownRoomIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.client()

	h.send(protocol.Envelope{Kind: protocol.KindLeave, Sender: "alice", Room: "ghost", ReplyMailbox: alice})
	h.send(protocol.Envelope{Kind: protocol.KindListRooms, Sender: "alice", ReplyMailbox: alice})

	require.Equal(t, "Available rooms:\n", h.recv(alice).Body)
	require.Zero(t, h.tr.Len(alice))
}

func TestHistoryFileWritten(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.client(), h.client()
	room := h.join("alice", "lobby", alice).RoomMailbox
	h.join("bob", "lobby", bob)

	require.NoError(t, h.tr.Send(room, protocol.Envelope{Kind: protocol.KindChat, Sender: "alice", Room: "lobby", Body: "one"}))
	require.NoError(t, h.tr.Send(room, protocol.Envelope{Kind: protocol.KindChat, Sender: "bob", Room: "lobby", Body: "two"}))
	h.waitChats(2)

	data, err := os.ReadFile(filepath.Join(h.cfg.HistoryDir, "history_lobby.txt"))
	require.NoError(t, err)
	require.Equal(t, "[lobby] alice: one\n[lobby] bob: two\n", string(data))
}

func TestShutdownDestroysMailboxes(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.client()
	room := h.join("alice", "lobby", alice).RoomMailbox

	h.srv.Shutdown()
	h.srv.Shutdown()

	require.ErrorIs(t, h.tr.Send(room, protocol.Envelope{Kind: protocol.KindChat}), mailbox.ErrStale)
	require.ErrorIs(t, h.tr.Send(h.inbox, protocol.Envelope{Kind: protocol.KindListRooms}), mailbox.ErrStale)
}

func TestRunReturnsOnCancel(t *testing.T) {
	srv := New(testConfig(t), Dependencies{
		Transport: mailbox.NewMemory(4),
		Logger:    logging.Discard(),
		Echo:      &syncBuffer{},
		Key:       testKey,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDroppedDeliveryDoesNotStopFanOut(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob, carol := h.client(), h.client(), h.client()
	room := h.join("alice", "lobby", alice).RoomMailbox
	h.join("bob", "lobby", bob)
	h.join("carol", "lobby", carol)

	require.NoError(t, h.tr.Destroy(bob))
	require.NoError(t, h.tr.Send(room, protocol.Envelope{Kind: protocol.KindChat, Sender: "alice", Room: "lobby", Body: "x"}))
	h.waitChats(1)

	require.Equal(t, "x", h.recv(carol).Body)
	require.EqualValues(t, 1, h.srv.Metrics().DroppedSends.Load())
}

func TestRandomUsersShareRoom(t *testing.T) {
	h := newHarness(t, nil)
	var room mailbox.Handle
	names := make([]string, 8)
	for i := range names {
		names[i] = "u-" + uuid.NewString()[:8]
		room = h.join(names[i], "lobby", h.client()).RoomMailbox
	}
	members, ok := h.srv.Registry().Members("lobby")
	require.True(t, ok)
	require.Equal(t, names, model.Room{Members: members}.MemberNames())
	got, _ := h.srv.Registry().Lookup("lobby")
	require.Equal(t, room, got)
}

func TestImportRoomsFromYAML(t *testing.T) {
	h := newHarness(t, nil)
	data := []byte("rooms:\n  - name: lobby\n  - name: dev\n  - name: lobby\n")

	require.NoError(t, h.srv.ImportRoomsFromYAML(data))
	require.Equal(t, []string{"lobby", "dev"}, h.srv.Registry().RoomNames())

	alice := h.client()
	ack := h.join("alice", "dev", alice)
	got, _ := h.srv.Registry().Lookup("dev")
	require.Equal(t, got, ack.RoomMailbox)
	require.EqualValues(t, 2, h.srv.Metrics().RoomsCreated.Load())
}

func TestImportRoomsFromYAMLSkipsInvalidNames(t *testing.T) {
	h := newHarness(t, nil)
	long := strings.Repeat("x", 80)
	data := []byte("rooms:\n  - name: \"\"\n  - name: has space\n  - name: " + long + "\n  - name: lobby\n")

	require.NoError(t, h.srv.ImportRoomsFromYAML(data))
	require.Equal(t, []string{"lobby"}, h.srv.Registry().RoomNames())
	require.EqualValues(t, 1, h.srv.Metrics().RoomsCreated.Load())

	bob := h.client()
	h.send(protocol.Envelope{Kind: protocol.KindListRooms, Sender: "bob", ReplyMailbox: bob})
	require.Equal(t, "Available rooms:\nlobby\n", h.recv(bob).Body)
}

func TestStartLoadsRoomsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rooms:\n  - name: general\n"), 0o600))

	h := newHarness(t, func(c *Config) { c.RoomsFile = path })
	require.Equal(t, []string{"general"}, h.srv.Registry().RoomNames())
}

func TestImportRoomsFromYAMLInvalid(t *testing.T) {
	h := newHarness(t, nil)
	require.Error(t, h.srv.ImportRoomsFromYAML([]byte("rooms: [")))
}

func TestExportRoomsYAML(t *testing.T) {
	st := store.NewMemoryWithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) })
	require.NoError(t, st.SaveRoom(model.Room{Name: "lobby"}))
	require.NoError(t, st.SaveRoom(model.Room{Name: "dev"}))

	data, err := ExportRoomsYAML(st)
	require.NoError(t, err)

	var got RoomsConfig
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Equal(t, RoomsConfig{Rooms: []RoomYAML{
		{Name: "lobby", CreatedAt: "2026-01-02T03:04:05Z"},
		{Name: "dev", CreatedAt: "2026-01-02T03:04:05Z"},
	}}, got)
}

func TestWriteAuditTable(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.RecordEvent(model.AuditEvent{Room: "lobby", Action: model.AuditRoomCreated}))
	require.NoError(t, st.RecordEvent(model.AuditEvent{Room: "lobby", User: "alice", Action: model.AuditJoined}))
	require.NoError(t, st.RecordEvent(model.AuditEvent{Room: "dev", User: "bob", Action: model.AuditJoined}))

	var buf bytes.Buffer
	require.NoError(t, WriteAuditTable(&buf, st, "lobby", 0))
	out := buf.String()
	require.Contains(t, out, "room_created")
	require.Contains(t, out, "alice")
	require.NotContains(t, out, "bob")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.join("alice", "lobby", h.client())

	rec := httptest.NewRecorder()
	h.srv.metricsMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "mqchat_rooms 1\n")
	require.Contains(t, body, "mqchat_members 1\n")
	require.Contains(t, body, "mqchat_joins_total 1\n")

	rec = httptest.NewRecorder()
	h.srv.metricsMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, "ok\n", rec.Body.String())
}

func TestMetricsJSON(t *testing.T) {
	m := NewMetrics()
	m.Joins.Add(3)
	require.True(t, strings.Contains(m.JSON(), `"joins": 3`))
}
