// Package hub implements the session and protocol core: identity binding,
// room lifecycle, opcode dispatch, per-room broadcast and the anti-abuse
// controls in front of it.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/arivum/pianoroom/internal/logger"
	"github.com/arivum/pianoroom/internal/protocol"
	"github.com/arivum/pianoroom/internal/security"
	"github.com/arivum/pianoroom/internal/store"
)

// MaxConnsPerAddr caps concurrent connections from one address.
const MaxConnsPerAddr = 5

// Timer defaults; overridable through Options for tests.
const (
	defaultOwnershipGrace    = 5 * time.Second
	defaultCursorFlushEvery  = 500 * time.Millisecond
	defaultVanishNoticeDelay = 500 * time.Millisecond
)

// Connection rejection reasons surfaced to the transport.
var (
	ErrConnRateLimited = errors.New("connection rate limit exceeded")
	ErrTooManyConns    = errors.New("concurrent connection limit exceeded")
)

// Options configures a Hub.
type Options struct {
	Store       store.Store
	AdminPhrase string
	SaltOne     string
	SaltTwo     string

	// Timer periods; zero values take the production defaults.
	OwnershipGrace    time.Duration
	CursorFlushEvery  time.Duration
	VanishNoticeDelay time.Duration

	// Now overrides the clock. Test hook.
	Now func() time.Time
}

// Hub owns every live room and session. One mutex guards all of it: frame
// handlers run to completion under the lock, and timer callbacks re-acquire
// it and re-resolve rooms by name, so timer firings interleave safely with
// in-flight handlers.
type Hub struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	sessions map[string]*Session // by connection id
	conns    map[string]int      // concurrent connections by address

	limiter *security.Limiter
	st      store.Store
	opts    Options
	start   time.Time

	// adminPhraseClaimed flips exactly once per process lifetime.
	adminPhraseClaimed bool
}

// New creates a hub with no rooms.
func New(opts Options) *Hub {
	if opts.OwnershipGrace == 0 {
		opts.OwnershipGrace = defaultOwnershipGrace
	}
	if opts.CursorFlushEvery == 0 {
		opts.CursorFlushEvery = defaultCursorFlushEvery
	}
	if opts.VanishNoticeDelay == 0 {
		opts.VanishNoticeDelay = defaultVanishNoticeDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limiter := security.NewLimiter()
	limiter.SetClock(opts.Now)
	return &Hub{
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*Session),
		conns:    make(map[string]int),
		limiter:  limiter,
		st:       opts.Store,
		opts:     opts,
		start:    opts.Now(),
	}
}

func (h *Hub) now() time.Time { return h.opts.Now() }

// Run performs periodic maintenance until ctx is cancelled: rate-limiter
// windows idle for a while are pruned so the map does not grow with every
// address ever seen.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.limiter.Sweep(10 * time.Minute); n > 0 {
				logger.Debugf("pruned %d idle rate windows", n)
			}
		}
	}
}

// UptimeMillis is the server clock carried in note timestamps and pongs.
func (h *Hub) UptimeMillis() int64 {
	return h.now().Sub(h.start).Milliseconds()
}

// Connect performs the identity and abuse checks for a fresh connection
// and registers a session. A returned error means the transport must close
// the connection; no session exists in that case.
func (h *Hub) Connect(conn Conn, addr string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.limiter.Allow(addr, "connection", 5, time.Second) {
		logger.Infof("%s exceeded connection rate limit", addr)
		return ErrConnRateLimited
	}

	h.conns[addr]++
	if h.conns[addr] > MaxConnsPerAddr {
		h.conns[addr]--
		logger.Infof("%s exceeded concurrent connection limit", addr)
		return ErrTooManyConns
	}

	user := h.loadIdentity(addr)
	s := &Session{
		conn:      conn,
		addr:      addr,
		user:      user,
		noteQuota: MaxNoteQuota,
		lastNote:  -1,
	}
	h.sessions[conn.ID()] = s

	logger.Infof("%s (%s) connected from %s", s.user.Username, s.user.UUID, addr)
	h.sendRoomList(s)
	return nil
}

// loadIdentity resolves the persistent identity for an address, creating
// and persisting a fresh one when the store has no record. Store failures
// fall back to an ephemeral identity; they never reject the connection.
func (h *Hub) loadIdentity(addr string) store.Client {
	uuid := security.HashAddr(addr, h.opts.SaltOne, h.opts.SaltTwo)

	if h.st != nil {
		rec, err := h.st.Client(uuid)
		if err != nil {
			logger.Errorf("load identity %s: %v", uuid, err)
		} else if rec != nil {
			return *rec
		}
	}

	user := store.Client{
		UUID:     uuid,
		Username: "Player" + strconv.Itoa(rand.Intn(1000)),
		Color:    randomColor(),
	}
	if h.st != nil {
		go func(c store.Client) {
			if err := h.st.SaveClient(&c); err != nil {
				logger.Errorf("save identity %s: %v", c.UUID, err)
			}
		}(user)
	}
	return user
}

// Disconnect tears a session down: room removal, connection-counter
// decrement and room-emptiness checks.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[conn.ID()]
	if !ok {
		return
	}
	h.leaveRoom(s)
	delete(h.sessions, conn.ID())

	h.conns[s.addr]--
	if h.conns[s.addr] <= 0 {
		delete(h.conns, s.addr)
	}
	logger.Infof("%s disconnected", s.addr)
}

// CreateRoom registers a room. For persistent rooms the chat history is
// hydrated from the store asynchronously; late-arriving rows merge
// append-only by message id so they never clobber messages sent in the
// interim.
func (h *Hub) CreateRoom(name string, persistent, hidden bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.createRoom(name, nil, persistent, hidden)
}

func (h *Hub) createRoom(name string, owner *Session, persistent, hidden bool) *Room {
	name = sanitizeText(name)
	r := &Room{
		name:       name,
		created:    h.now(),
		owner:      owner,
		persistent: persistent,
		hidden:     hidden,
		chatFilter: true,
		cursors:    make(map[string]*cursor),
	}
	if owner != nil {
		r.ownerUUID = owner.user.UUID
	}
	h.rooms[name] = r

	if persistent && h.st != nil {
		go h.hydrateChat(name)
	}
	return r
}

func (h *Hub) hydrateChat(name string) {
	rows, err := h.st.RecentMessages(name, MaxChatHistory)
	if err != nil {
		logger.Errorf("chat history for %s: %v", name, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[name]
	if !ok {
		return
	}

	seen := make(map[string]bool, len(r.chat))
	for _, m := range r.chat {
		seen[m.id] = true
	}
	merged := make([]chatMessage, 0, len(rows)+len(r.chat))
	for _, row := range rows {
		if seen[row.UID] {
			continue
		}
		merged = append(merged, chatMessage{
			authorUUID: row.ClientUUID,
			id:         row.UID,
			content:    row.Content,
			color:      row.Color,
		})
	}
	merged = append(merged, r.chat...)
	if len(merged) > MaxChatHistory {
		merged = merged[len(merged)-MaxChatHistory:]
	}
	r.chat = merged
}

// joinRoom adds a session to a room, creating it on demand, and runs the
// join reply sequence. Caller holds the lock and has already validated
// capacity and duplicate membership.
func (h *Hub) joinRoom(s *Session, name string, hidden bool) {
	r, ok := h.rooms[name]
	if !ok {
		r = h.createRoom(name, s, false, hidden)
	}

	s.roomName = name
	s.seat = r.freeSeat()
	r.members = append(r.members, s)

	h.broadcast(s, protocol.Frame(protocol.OpPlayerJoined, h.playerJSON(r, s)), false)

	s.send(protocol.Frame(protocol.OpJoinRoom, []byte(s.user.UUID)))

	// The joiner's own entry is included so the client learns its seat.
	for _, m := range r.members {
		if m.vanished() {
			continue
		}
		s.send(protocol.Frame(protocol.OpPlayerJoined, h.playerJSON(r, m)))
	}

	if snapshot := cursorSnapshot(r); snapshot != nil {
		s.send(protocol.Frame(protocol.OpCursorUpdate, snapshot))
	}

	s.send(protocol.Frame(protocol.OpRoomSettings, r.settingsBytes()))

	if s.vanished() {
		time.AfterFunc(h.opts.VanishNoticeDelay, func() {
			h.notice(s, "You are in vanished mode. Others won't see you.")
		})
	}

	h.broadcastRoomList()

	if r.flushStop == nil {
		r.flushStop = make(chan struct{})
		go h.runCursorFlush(name, r.flushStop)
	}

	if r.transfer != nil && r.ownerUUID == s.user.UUID {
		r.transfer.Stop()
		r.transfer = nil
		logger.Infof("owner of %s rejoined, ownership transfer cancelled", name)
	}
}

// leaveRoom removes a session from its room, arming the ownership-transfer
// grace timer when the owner departs and deleting empty non-persistent
// rooms. Caller holds the lock.
func (h *Hub) leaveRoom(s *Session) {
	r, ok := h.rooms[s.roomName]
	if !ok {
		return
	}

	member := false
	for _, m := range r.members {
		if m == s {
			member = true
			break
		}
	}
	if member {
		h.broadcast(s, protocol.Frame(protocol.OpPlayerLeft, []byte(s.user.UUID)), false)

		if r.ownerUUID != "" && r.ownerUUID == s.user.UUID {
			h.armOwnershipTransfer(r, s.user.UUID)
		}

		delete(r.cursors, s.user.UUID)

		for i, m := range r.members {
			if m == s {
				r.members = append(r.members[:i], r.members[i+1:]...)
				break
			}
		}
	}

	name := s.roomName
	s.roomName = ""
	s.seat = 0

	if len(r.members) == 0 && r.flushStop != nil {
		close(r.flushStop)
		r.flushStop = nil
	}

	if len(r.members) == 0 && !r.persistent {
		if r.transfer != nil {
			r.transfer.Stop()
			r.transfer = nil
		}
		delete(h.rooms, name)
		logger.Infof("room %s is empty, deleting it", name)
	}

	h.broadcastRoomList()
}

// armOwnershipTransfer starts (restarting if pending) the grace timer. If
// the owner has not rejoined when it fires and the room still has members,
// ownership moves to the earliest-joined remaining member.
func (h *Hub) armOwnershipTransfer(r *Room, leavingUUID string) {
	if r.transfer != nil {
		r.transfer.Stop()
	}
	name := r.name
	r.transfer = time.AfterFunc(h.opts.OwnershipGrace, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		r, ok := h.rooms[name]
		if !ok {
			return
		}
		if r.hasIdentity(leavingUUID) || len(r.members) == 0 {
			return
		}
		newOwner := r.members[0]
		if newOwner.user.UUID == leavingUUID {
			return
		}
		r.owner = newOwner
		r.ownerUUID = newOwner.user.UUID
		r.transfer = nil

		frame := protocol.Frame(protocol.OpOwnershipTransfer, []byte{newOwner.seat})
		for _, m := range r.members {
			m.send(frame)
		}
		h.notice(newOwner, "You are now the owner of this room.")
		logger.Infof("ownership of %s transferred to %s", name, newOwner.user.Username)
	})
}

// broadcast fans a frame to every member of the sender's room except the
// sender. A vanished sender's frames are suppressed unless bypassVanish is
// set (moderation frames that must reach everyone).
func (h *Hub) broadcast(s *Session, frame []byte, bypassVanish bool) {
	r, ok := h.rooms[s.roomName]
	if !ok {
		return
	}
	if s.vanished() && !bypassVanish {
		return
	}
	for _, m := range r.members {
		if m == s {
			continue
		}
		m.send(frame)
	}
}

// notice sends a private system chat line.
func (h *Hub) notice(s *Session, text string) {
	payload, err := json.Marshal([]interface{}{nil, text})
	if err != nil {
		return
	}
	s.send(protocol.Frame(protocol.OpSendChat, []byte{SystemSeat}, payload))
}

// playerJSON builds the JSON member descriptor used by player-joined.
func (h *Hub) playerJSON(r *Room, m *Session) []byte {
	isOwner := 0
	if r.ownerUUID != "" && r.ownerUUID == m.user.UUID {
		isOwner = 1
	}
	payload, _ := json.Marshal([]interface{}{
		m.user.UUID, m.user.Username, m.user.Color, m.seat, isOwner,
	})
	return payload
}

// sendRoomList sends the public room list to one session. Hidden rooms are
// listed only to their current members.
func (h *Hub) sendRoomList(s *Session) {
	names := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]interface{}, 0, len(names))
	i := 0
	for _, name := range names {
		r := h.rooms[name]
		if r.hidden && s.roomName != name {
			continue
		}
		mine := 0
		if s.roomName == name {
			mine = 1
		}
		persistent := 0
		if r.persistent {
			persistent = 1
		}
		rows = append(rows, []interface{}{
			i, name, r.visibleCount(), mine, persistent, r.hidden,
		})
		i++
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return
	}
	s.send(protocol.Frame(protocol.OpRoomList, payload))
}

// broadcastRoomList refreshes the room list for every session currently in
// a room.
func (h *Hub) broadcastRoomList() {
	for _, r := range h.rooms {
		for _, m := range r.members {
			h.sendRoomList(m)
		}
	}
}

// rateLimited gates one action for a session. On a saturated window the
// client gets a rate-limited notice, and past MaxViolations consecutive
// rejections the connection is closed.
func (h *Hub) rateLimited(s *Session, action string, max int, window time.Duration) bool {
	if h.limiter.Allow(s.addr, action, max, window) {
		s.violations = 0
		return false
	}
	s.send(protocol.Frame(protocol.OpRateLimited))
	s.violations++
	if s.violations > security.MaxViolations {
		s.softClose()
	}
	return true
}

