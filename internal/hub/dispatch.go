package hub

import (
	"strings"
	"time"

	"github.com/arivum/pianoroom/internal/logger"
	"github.com/arivum/pianoroom/internal/protocol"
)

// rateRule is a per-action sliding-window budget.
type rateRule struct {
	action string
	max    int
	window time.Duration
}

// Per-action budgets. Windows are independent per action class; the
// connection-attempt budget lives in Connect.
var (
	rlJoinRoom     = rateRule{"joinRoom", 1, 500 * time.Millisecond}
	rlSetCursorPos = rateRule{"setCursorPos", 200, time.Second}
	rlPlayNote     = rateRule{"playNote", 2000, time.Second}
	rlReleaseNote  = rateRule{"releaseNote", 2000, time.Second}
	rlBatchNotes   = rateRule{"batchNotes", 100, time.Second}
	rlSendChat     = rateRule{"sendChat", 50, time.Second}
	rlSetName      = rateRule{"setName", 1, time.Second}
	rlRoomSettings = rateRule{"setRoomSettings", 1, time.Second}
	rlPingPong     = rateRule{"pingPong", 10, time.Second}
)

func (h *Hub) gate(s *Session, rule rateRule) bool {
	return h.rateLimited(s, rule.action, rule.max, rule.window)
}

// HandleFrame routes one inbound frame by opcode. Frames from a connection
// are handled to completion, one at a time, under the hub lock; malformed
// or unknown frames are dropped without a response.
func (h *Hub) HandleFrame(conn Conn, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[conn.ID()]
	if !ok {
		return
	}
	op, payload, ok := protocol.Split(data)
	if !ok {
		return
	}

	switch op {
	case protocol.OpJoinRoom:
		if h.gate(s, rlJoinRoom) {
			return
		}
		h.handleJoinRoom(s, string(payload))

	case protocol.OpSetCursorPos:
		if h.gate(s, rlSetCursorPos) {
			return
		}
		if s.roomName == "" || s.vanished() {
			return
		}
		h.updateCursor(s, payload)

	case protocol.OpPressNote:
		if h.gate(s, rlPlayNote) {
			return
		}
		h.handlePressNote(s, payload)

	case protocol.OpReleaseNote:
		if h.gate(s, rlReleaseNote) {
			return
		}
		h.handleReleaseNote(s, payload)

	case protocol.OpBatchNotes:
		if h.gate(s, rlBatchNotes) {
			return
		}
		h.handleBatchNotes(s, payload)

	case protocol.OpSendChat:
		if h.gate(s, rlSendChat) {
			return
		}
		h.handleChat(s, strings.TrimSpace(string(payload)))

	case protocol.OpSetName:
		if h.gate(s, rlSetName) {
			return
		}
		if s.roomName == "" {
			return
		}
		h.handleSetName(s, strings.TrimSpace(string(payload)))

	case protocol.OpUpdateRoomSettings:
		if h.gate(s, rlRoomSettings) {
			return
		}
		if s.roomName == "" {
			return
		}
		h.handleRoomSettings(s, payload)

	case protocol.OpPing:
		if h.gate(s, rlPingPong) {
			return
		}
		if s.roomName == "" {
			return
		}
		s.send(protocol.Frame(protocol.OpPong, protocol.PutInt(nil, uint32(h.UptimeMillis()))))

	default:
		logger.Infof("unknown opcode (%d) received from %s", op, s.addr)
	}
}

// handleJoinRoom moves a session into the requested room, enforcing the
// duplicate-identity and capacity rules. A vanished admin may enter a full
// room.
func (h *Hub) handleJoinRoom(s *Session, rawName string) {
	name := rawName
	hidden := false
	if strings.HasPrefix(name, hiddenPrefix) {
		name = name[len(hiddenPrefix):]
		hidden = true
	}
	name = validateRoomName(name)

	if r, ok := h.rooms[name]; ok {
		if r.hasIdentity(s.user.UUID) {
			h.notice(s, "You are already in this room.")
			s.softClose()
			return
		}
		if len(r.members) >= MaxPlayersPerRoom && !s.vanished() {
			h.notice(s, "This room is full.")
			return
		}
	}

	if s.roomName != "" {
		h.leaveRoom(s)
	}
	h.joinRoom(s, name, hidden)
	logger.Infof("%s joined room: %s", s.user.Username, name)

	go h.sendChatHistory(s, name)
}

// handleRoomSettings applies an owner's settings batch, echoes it to the
// room (bypassing vanish, so moderation state is visible) and refreshes the
// public room list. Non-owner attempts are silently ignored.
func (h *Hub) handleRoomSettings(s *Session, payload []byte) {
	r, ok := h.rooms[s.roomName]
	if !ok {
		return
	}
	if r.ownerUUID == "" || r.ownerUUID != s.user.UUID {
		return
	}

	r.applySettings(payload)

	echo := protocol.Frame(protocol.OpRoomSettings, payload)
	h.broadcast(s, echo, true)
	s.send(echo)

	h.broadcastRoomList()
}
