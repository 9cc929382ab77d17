package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// readPump processes inbound frames one at a time. Ping and pong
// control frames refresh the heartbeat; close frames are echoed by the
// transport's default close handler and then surface here as a read
// error, as do malformed continuations.
func (s *Session) readPump(ctx context.Context) {
	defer s.shutdown()

	s.conn.conn.SetPingHandler(func(appData string) error {
		s.touch()
		// WriteControl is documented safe alongside the write pump.
		return s.conn.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	s.conn.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		mt, data, err := s.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Str("module", "adapters.ws").Str("sid", string(s.id)).Msg("client closed connection")
			} else {
				log.Warn().Err(err).Str("module", "adapters.ws").Str("sid", string(s.id)).Msg("read error, closing session")
			}
			return
		}

		switch mt {
		case websocket.TextMessage:
			s.handleText(ctx, string(data))
		case websocket.BinaryMessage:
			log.Warn().Str("module", "adapters.ws").Str("sid", string(s.id)).Msg("unexpected binary frame ignored")
		}
	}
}

// writePump owns all data writes. It drains the outbound queue and
// runs the heartbeat: every tick it either pings the client or, once
// the client has been silent past the timeout, gives up without
// pinging so the broker can reclaim the membership.
func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer func() {
		ticker.Stop()
		s.shutdown()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-s.conn.send:
			if !ok {
				return
			}
			if err := s.conn.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Str("sid", string(s.id)).Msg("write deadline")
				return
			}
			if err := s.conn.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Str("sid", string(s.id)).Msg("write error")
				return
			}
		case <-ticker.C:
			if s.expired(time.Now()) {
				log.Info().Str("module", "adapters.ws").Str("sid", string(s.id)).Msg("client heartbeat failed, disconnecting")
				return
			}
			if err := s.conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Str("sid", string(s.id)).Msg("ping error")
				return
			}
		}
	}
}
