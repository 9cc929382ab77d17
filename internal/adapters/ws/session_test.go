package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/perch/parley/internal/core"
	"github.com/perch/parley/internal/domain"
)

type stubRecipient struct {
	mu   sync.Mutex
	msgs []string
}

func (s *stubRecipient) Deliver(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, text)
}

func (s *stubRecipient) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func newTestBroker(t *testing.T) *core.Broker {
	t.Helper()
	b := core.NewBroker(core.NewVisitorCounter())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)
	return b
}

// newTestSession registers a session whose outbound queue can be
// drained directly, bypassing the websocket transport.
func newTestSession(t *testing.T, b *core.Broker) *Session {
	t.Helper()
	s := &Session{
		broker:            b,
		conn:              newWSConn(nil, 16),
		room:              domain.DefaultRoom,
		heartbeatInterval: 5 * time.Second,
		clientTimeout:     10 * time.Second,
	}
	s.touch()
	id, err := b.Connect(context.Background(), s)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	s.id = id
	s.state.Store(stateActive)
	return s
}

// flush waits for every command submitted so far to be applied.
func flush(t *testing.T, b *core.Broker) {
	t.Helper()
	if _, err := b.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
}

func outbound(s *Session) []string {
	var out []string
	for {
		select {
		case text := <-s.conn.send:
			out = append(out, text)
		default:
			return out
		}
	}
}

func TestJoinWithoutArgumentKeepsRoom(t *testing.T) {
	b := newTestBroker(t)
	s := newTestSession(t, b)
	outbound(s)

	s.handleText(context.Background(), "/join")

	if s.room != domain.DefaultRoom {
		t.Errorf("room changed to %q on missing argument", s.room)
	}
	got := outbound(s)
	if len(got) != 1 || got[0] != replyRoomRequired {
		t.Errorf("reply = %v, want [%q]", got, replyRoomRequired)
	}
}

func TestJoinSwitchesRoomLocallyAndConfirms(t *testing.T) {
	b := newTestBroker(t)
	s := newTestSession(t, b)
	outbound(s)

	s.handleText(context.Background(), "/join Sports")
	flush(t, b)

	if s.room != "Sports" {
		t.Errorf("room = %q, want Sports", s.room)
	}
	confirmed := false
	for _, text := range outbound(s) {
		if text == replyJoined {
			confirmed = true
		}
	}
	if !confirmed {
		t.Error("no join confirmation sent")
	}
}

func TestNameWithoutArgument(t *testing.T) {
	b := newTestBroker(t)
	s := newTestSession(t, b)
	outbound(s)

	s.handleText(context.Background(), "/name")

	if s.name != "" {
		t.Errorf("name set to %q on missing argument", s.name)
	}
	got := outbound(s)
	if len(got) != 1 || got[0] != replyNameRequired {
		t.Errorf("reply = %v, want [%q]", got, replyNameRequired)
	}
}

func TestNamePrefixesMessages(t *testing.T) {
	b := newTestBroker(t)
	s := newTestSession(t, b)
	peer := &stubRecipient{}
	if _, err := b.Connect(context.Background(), peer); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	s.handleText(context.Background(), "/name Alice")
	s.handleText(context.Background(), "hi")
	flush(t, b)

	found := false
	for _, m := range peer.messages() {
		if m == "Alice: hi" {
			found = true
		}
	}
	if !found {
		t.Errorf("peer messages %v missing %q", peer.messages(), "Alice: hi")
	}
}

func TestPlainTextUnprefixedWithoutName(t *testing.T) {
	b := newTestBroker(t)
	s := newTestSession(t, b)
	peer := &stubRecipient{}
	if _, err := b.Connect(context.Background(), peer); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	s.handleText(context.Background(), "  hello  ")
	flush(t, b)

	found := false
	for _, m := range peer.messages() {
		if m == "hello" {
			found = true
		}
	}
	if !found {
		t.Errorf("peer messages %v missing trimmed %q", peer.messages(), "hello")
	}
}

func TestListEmitsOneFramePerRoom(t *testing.T) {
	b := newTestBroker(t)
	s := newTestSession(t, b)
	outbound(s)

	s.handleText(context.Background(), "/list")

	got := outbound(s)
	if len(got) != 1 || got[0] != string(domain.DefaultRoom) {
		t.Errorf("list reply = %v, want [Main]", got)
	}
}

func TestUnknownCommandEchoesInput(t *testing.T) {
	b := newTestBroker(t)
	s := newTestSession(t, b)
	outbound(s)

	s.handleText(context.Background(), "/frobnicate now")

	got := outbound(s)
	want := "!!! unknown command: /frobnicate now"
	if len(got) != 1 || got[0] != want {
		t.Errorf("reply = %v, want [%q]", got, want)
	}
}

func TestDeliverAfterClosingIsNoop(t *testing.T) {
	b := newTestBroker(t)
	s := newTestSession(t, b)
	outbound(s)

	s.state.Store(stateClosed)
	s.Deliver("late")

	if got := outbound(s); len(got) != 0 {
		t.Errorf("closed session queued %v", got)
	}
}

func TestDeliverDropsOnFullQueue(t *testing.T) {
	b := newTestBroker(t)
	s := &Session{
		broker: b,
		conn:   newWSConn(nil, 1),
		room:   domain.DefaultRoom,
	}
	s.state.Store(stateActive)

	s.Deliver("first")
	s.Deliver("second") // dropped, must not block or panic

	got := outbound(s)
	if len(got) != 1 || got[0] != "first" {
		t.Errorf("queue contents = %v, want [first]", got)
	}
}

func TestHeartbeatExpiry(t *testing.T) {
	s := &Session{clientTimeout: 10 * time.Second}
	s.touch()

	if s.expired(time.Now()) {
		t.Error("fresh heartbeat reported expired")
	}
	if !s.expired(time.Now().Add(11 * time.Second)) {
		t.Error("stale heartbeat not reported expired")
	}
}
