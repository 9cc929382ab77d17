// Package core holds the broker: the single authority for session
// registration and room membership. Every mutation funnels through one
// goroutine in arrival order, so membership never needs a lock and two
// racing joins for the same id cannot interleave.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/perch/parley/internal/domain"
)

// ErrBrokerClosed is returned by request/response calls once the broker
// loop has exited.
var ErrBrokerClosed = errors.New("broker closed")

const commandBuffer = 64

// command is one serialized broker operation. apply runs inside the
// loop goroutine and may freely touch broker state.
type command interface {
	apply(b *Broker)
}

type connectCmd struct {
	handle Recipient
	reply  chan SessionID
}

type disconnectCmd struct {
	id SessionID
}

type joinCmd struct {
	id   SessionID
	room domain.RoomName
}

type publishCmd struct {
	id   SessionID
	room domain.RoomName
	text string
}

type listCmd struct {
	reply chan []domain.RoomName
}

type inspectCmd struct {
	reply chan []RoomSnapshot
}

// Broker owns the session registry and all rooms. Sessions talk to it
// through the methods below; it talks back only via Recipient.Deliver,
// which never blocks.
type Broker struct {
	commands chan command

	sessions map[SessionID]Recipient
	rooms    map[domain.RoomName]map[SessionID]struct{}

	visitors *VisitorCounter
	done     chan struct{}
}

func NewBroker(visitors *VisitorCounter) *Broker {
	return &Broker{
		commands: make(chan command, commandBuffer),
		sessions: make(map[SessionID]Recipient),
		rooms: map[domain.RoomName]map[SessionID]struct{}{
			domain.DefaultRoom: {},
		},
		visitors: visitors,
		done:     make(chan struct{}),
	}
}

// Run drains commands in arrival order until ctx is canceled. It must
// be running before any session calls Connect.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	log.Info().Str("module", "core.broker").Msg("broker loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "core.broker").Msg("broker loop stopped")
			return
		case cmd := <-b.commands:
			cmd.apply(b)
		}
	}
}

// submit enqueues a fire-and-forget command. Once the loop has exited
// the command is dropped, which matches its best-effort contract.
func (b *Broker) submit(cmd command) {
	select {
	case b.commands <- cmd:
	case <-b.done:
	}
}

// Connect registers a new session and returns its id. It fails only
// when ctx expires or the broker has stopped; the caller is expected to
// give up on the connection in that case, not retry.
func (b *Broker) Connect(ctx context.Context, handle Recipient) (SessionID, error) {
	cmd := connectCmd{handle: handle, reply: make(chan SessionID, 1)}
	select {
	case b.commands <- cmd:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.done:
		return "", ErrBrokerClosed
	}
	select {
	case id := <-cmd.reply:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.done:
		return "", ErrBrokerClosed
	}
}

// Disconnect removes the session everywhere. Unknown ids are a no-op,
// so calling it from more than one cleanup path is safe.
func (b *Broker) Disconnect(id SessionID) {
	b.submit(disconnectCmd{id: id})
}

// Join moves the session into room, creating it on first use.
func (b *Broker) Join(id SessionID, room domain.RoomName) {
	b.submit(joinCmd{id: id, room: room})
}

// Publish relays text to every member of room except the sender. A
// room that does not exist swallows the message silently.
func (b *Broker) Publish(id SessionID, room domain.RoomName, text string) {
	b.submit(publishCmd{id: id, room: room, text: text})
}

// ListRooms returns a snapshot of current room names. Order follows map
// iteration and is not stable across calls.
func (b *Broker) ListRooms(ctx context.Context) ([]domain.RoomName, error) {
	cmd := listCmd{reply: make(chan []domain.RoomName, 1)}
	select {
	case b.commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrBrokerClosed
	}
	select {
	case names := <-cmd.reply:
		return names, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrBrokerClosed
	}
}

// Snapshot returns every room with its member ids, read inside the
// loop so it reflects all commands submitted before it.
func (b *Broker) Snapshot(ctx context.Context) ([]RoomSnapshot, error) {
	cmd := inspectCmd{reply: make(chan []RoomSnapshot, 1)}
	select {
	case b.commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrBrokerClosed
	}
	select {
	case snaps := <-cmd.reply:
		return snaps, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrBrokerClosed
	}
}

func (c connectCmd) apply(b *Broker) {
	// The newcomer is not registered yet, so it does not hear this.
	b.sendMessage(domain.DefaultRoom, domain.NoticeJoined, "")

	id := b.newID()
	b.sessions[id] = c.handle
	b.rooms[domain.DefaultRoom][id] = struct{}{}

	count := b.visitors.Inc()
	b.sendMessage(domain.DefaultRoom, fmt.Sprintf("Total visitors %d", count), "")

	log.Info().Str("module", "core.broker").Str("sid", string(id)).Int64("visitors", count).Msg("session connected")
	c.reply <- id
}

func (c disconnectCmd) apply(b *Broker) {
	if _, ok := b.sessions[c.id]; !ok {
		return
	}
	delete(b.sessions, c.id)

	for _, room := range b.removeFromAllRooms(c.id) {
		b.sendMessage(room, domain.NoticeDisconnected, "")
	}
	log.Info().Str("module", "core.broker").Str("sid", string(c.id)).Msg("session disconnected")
}

func (c joinCmd) apply(b *Broker) {
	for _, room := range b.removeFromAllRooms(c.id) {
		b.sendMessage(room, domain.NoticeDisconnected, "")
	}

	if _, ok := b.sessions[c.id]; !ok {
		// Already disconnected; a stale join must not leak the id
		// back into a room.
		log.Debug().Str("module", "core.broker").Str("sid", string(c.id)).Str("room", string(c.room)).Msg("join from unknown session")
		return
	}

	members, ok := b.rooms[c.room]
	if !ok {
		members = make(map[SessionID]struct{})
		b.rooms[c.room] = members
	}
	members[c.id] = struct{}{}

	b.sendMessage(c.room, domain.NoticeConnected, "")
	log.Info().Str("module", "core.broker").Str("sid", string(c.id)).Str("room", string(c.room)).Msg("joined room")
}

func (c publishCmd) apply(b *Broker) {
	b.sendMessage(c.room, c.text, c.id)
}

func (c listCmd) apply(b *Broker) {
	names := make([]domain.RoomName, 0, len(b.rooms))
	for name := range b.rooms {
		names = append(names, name)
	}
	c.reply <- names
}

func (c inspectCmd) apply(b *Broker) {
	out := make([]RoomSnapshot, 0, len(b.rooms))
	for name, members := range b.rooms {
		snap := RoomSnapshot{Name: name, Members: make([]SessionID, 0, len(members))}
		for id := range members {
			snap.Members = append(snap.Members, id)
		}
		out = append(out, snap)
	}
	c.reply <- out
}

// newID draws a fresh id, re-rolling on the off chance it collides
// with a live session.
func (b *Broker) newID() SessionID {
	for {
		id := SessionID(uuid.NewString())
		if _, taken := b.sessions[id]; !taken {
			return id
		}
	}
}

// removeFromAllRooms strips id from every room and reports which rooms
// were affected. Empty rooms are kept around on purpose.
func (b *Broker) removeFromAllRooms(id SessionID) []domain.RoomName {
	var affected []domain.RoomName
	for name, members := range b.rooms {
		if _, ok := members[id]; ok {
			delete(members, id)
			affected = append(affected, name)
		}
	}
	return affected
}

// sendMessage fans text out to every member of room except exclude.
// Absent rooms are a no-op; members without a live handle are skipped.
func (b *Broker) sendMessage(room domain.RoomName, text string, exclude SessionID) {
	members, ok := b.rooms[room]
	if !ok {
		return
	}
	for id := range members {
		if id == exclude {
			continue
		}
		handle, ok := b.sessions[id]
		if !ok {
			continue
		}
		handle.Deliver(text)
	}
}
