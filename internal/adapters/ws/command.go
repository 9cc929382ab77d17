package ws

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/perch/parley/internal/domain"
)

// Protocol replies. Clients display these verbatim.
const (
	replyJoined       = "joined!!"
	replyRoomRequired = "!!! room name is required!!"
	replyNameRequired = "!!! name is required!!"
)

// handleText dispatches one inbound text frame: slash commands are
// handled locally or turned into broker calls, anything else is chat
// for the current room.
func (s *Session) handleText(ctx context.Context, raw string) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "/") {
		s.dispatchCommand(ctx, text)
		return
	}

	msg := text
	if s.name != "" {
		msg = s.name + ": " + text
	}
	s.broker.Publish(s.id, s.room, msg)
}

func (s *Session) dispatchCommand(ctx context.Context, text string) {
	parts := strings.SplitN(text, " ", 2)
	switch parts[0] {
	case "/list":
		// This blocks the read pump until the broker answers, so at
		// most one list request per session is ever in flight.
		rooms, err := s.broker.ListRooms(ctx)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.ws").Str("sid", string(s.id)).Msg("list rooms failed")
			return
		}
		for _, room := range rooms {
			s.reply(string(room))
		}
	case "/join":
		if len(parts) != 2 {
			s.reply(replyRoomRequired)
			return
		}
		// Local room switches right away; the broker applies the
		// membership change in its own time.
		s.room = domain.RoomName(parts[1])
		s.broker.Join(s.id, s.room)
		s.reply(replyJoined)
	case "/name":
		if len(parts) != 2 {
			s.reply(replyNameRequired)
			return
		}
		// Purely local: the name only prefixes outgoing messages.
		s.name = parts[1]
	default:
		s.reply(fmt.Sprintf("!!! unknown command: %s", text))
	}
}

func (s *Session) reply(text string) {
	if err := s.conn.TrySend(text); err != nil {
		log.Debug().Err(err).Str("module", "adapters.ws").Str("sid", string(s.id)).Msg("reply dropped")
	}
}
