// Package ws implements the per-connection session: websocket
// transport, heartbeat liveness, and the slash-command protocol. A
// session never touches another session's state; everything shared
// goes through the broker.
package ws

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/perch/parley/internal/config"
	"github.com/perch/parley/internal/core"
	"github.com/perch/parley/internal/domain"
)

// Session lifecycle. Connecting until the broker hands out an id,
// Active while both pumps run, Closing once either side gives up,
// Closed after the broker has been told.
const (
	stateConnecting int32 = iota
	stateActive
	stateClosing
	stateClosed
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests and runs one Session per connection.
type Handler struct {
	Broker *core.Broker
	Cfg    *config.Config
}

func (h *Handler) Handle(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Str("token", token).Msg("ws upgrade")
		return
	}
	conn.SetReadLimit(h.Cfg.ReadLimit)

	s := &Session{
		broker:            h.Broker,
		conn:              newWSConn(conn, h.Cfg.SendBuffer),
		room:              domain.DefaultRoom,
		token:             token,
		heartbeatInterval: h.Cfg.HeartbeatInterval,
		clientTimeout:     h.Cfg.ClientTimeout,
	}
	s.touch()
	s.run(ctx)
}

// Session is one client's connection. room and name are only ever
// touched from the read pump, so they stay unsynchronized; the
// heartbeat timestamp is shared between pumps and stays atomic.
type Session struct {
	id     core.SessionID
	broker *core.Broker
	conn   *wsConn
	token  string

	room domain.RoomName
	name string

	heartbeatInterval time.Duration
	clientTimeout     time.Duration

	hb      atomic.Int64 // unix nanos of the last heartbeat
	state   atomic.Int32
	cancel  context.CancelFunc
	closing sync.Once
}

// run registers with the broker and starts the pumps. Registration
// failure is fatal to the connection attempt: no retry, no backoff.
func (s *Session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	id, err := s.broker.Connect(ctx, s)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Str("token", s.token).Msg("broker registration failed")
		s.state.Store(stateClosing)
		s.conn.Close()
		s.state.Store(stateClosed)
		cancel()
		return
	}
	s.id = id
	s.state.Store(stateActive)
	log.Info().Str("module", "adapters.ws").Str("sid", string(id)).Str("token", s.token).Msg("session active")

	go s.writePump(ctx)
	go s.readPump(ctx)
}

// Deliver implements core.Recipient. It enqueues for the write pump
// and silently drops once the session is going away or the queue is
// full; the broker must never be held up by one client.
func (s *Session) Deliver(text string) {
	if s.state.Load() >= stateClosing {
		return
	}
	if err := s.conn.TrySend(text); err != nil {
		log.Debug().Err(err).Str("module", "adapters.ws").Str("sid", string(s.id)).Msg("delivery dropped")
	}
}

// shutdown is the single exit path for both pumps: tell the broker,
// release the transport, cancel the session context. Safe to hit from
// every cleanup site.
func (s *Session) shutdown() {
	s.closing.Do(func() {
		s.state.Store(stateClosing)
		s.broker.Disconnect(s.id)
		s.conn.Close()
		s.cancel()
		s.state.Store(stateClosed)
		log.Info().Str("module", "adapters.ws").Str("sid", string(s.id)).Msg("session closed")
	})
}

// touch refreshes the heartbeat timestamp.
func (s *Session) touch() {
	s.hb.Store(time.Now().UnixNano())
}

// expired reports whether the client has been silent past the timeout.
func (s *Session) expired(now time.Time) bool {
	last := time.Unix(0, s.hb.Load())
	return now.Sub(last) > s.clientTimeout
}
