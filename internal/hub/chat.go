package hub

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/arivum/pianoroom/internal/logger"
	"github.com/arivum/pianoroom/internal/protocol"
	"github.com/arivum/pianoroom/internal/store"
)

const (
	maxChatMessageLen = 200
	chatMinGap        = 500 * time.Millisecond

	// minAdminPhraseLen: shorter configured phrases are never claimable,
	// so a short accidental value cannot hand out admin.
	minAdminPhraseLen = 64
)

// genMessageID returns a random message id unique within the room's
// history buffer.
func genMessageID(r *Room) string {
	for {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			continue
		}
		id := hex.EncodeToString(b[:])
		collision := false
		for _, m := range r.chat {
			if m.id == id {
				collision = true
				break
			}
		}
		if !collision {
			return id
		}
	}
}

// handleChat validates, relays and persists one chat message. Admin slash
// commands and the admin-phrase claim are intercepted before relay and are
// never broadcast as chat text.
func (h *Hub) handleChat(s *Session, raw string) {
	r, ok := h.rooms[s.roomName]
	if !ok {
		return
	}

	msg := sanitizeText(raw)
	if msg == "" || len([]rune(raw)) > maxChatMessageLen || len([]rune(msg)) > maxChatMessageLen {
		h.notice(s, "Invalid message.")
		return
	}

	if h.checkChatCommand(s, r, msg) {
		return
	}
	if s.vanished() {
		return
	}

	phrase := h.opts.AdminPhrase
	if phrase != "" && len(phrase) > minAdminPhraseLen && strings.Contains(msg, phrase) {
		if h.adminPhraseClaimed {
			h.notice(s, "Admin phrase already used.")
			return
		}
		h.adminPhraseClaimed = true
		s.user.Admin = true
		h.storeAsync(func(st store.Store) error {
			return st.UpdateClientAdmin(s.user.UUID, true)
		})
		h.notice(s, "You are now an admin.")
		return
	}

	if !s.lastChatAt.IsZero() && h.now().Sub(s.lastChatAt) < chatMinGap {
		h.notice(s, "You are sending messages too fast.")
		return
	}

	if r.disableChat {
		return
	}

	id := genMessageID(r)
	payload, err := json.Marshal([]interface{}{id, msg})
	if err != nil {
		return
	}
	frame := protocol.Frame(protocol.OpSendChat, []byte{s.seat}, payload)
	h.broadcast(s, frame, false)
	s.send(frame)

	r.chat = append(r.chat, chatMessage{
		authorUUID: s.user.UUID,
		id:         id,
		content:    msg,
		color:      s.user.Color,
	})
	if len(r.chat) > MaxChatHistory {
		r.chat = r.chat[len(r.chat)-MaxChatHistory:]
	}

	record := &store.Message{
		UID:        id,
		ClientUUID: s.user.UUID,
		Content:    msg,
		Color:      s.user.Color,
		RoomName:   r.name,
	}
	h.storeAsync(func(st store.Store) error { return st.SaveMessage(record) })

	logger.Infof("[#%s] %s: %s", r.name, s.user.Username, msg)
	s.lastChatAt = h.now()
}

// checkChatCommand intercepts admin slash commands. Returns true when the
// message was consumed as a command (including usage replies).
func (h *Hub) checkChatCommand(s *Session, r *Room, msg string) bool {
	if !s.user.Admin {
		return false
	}
	args := strings.Fields(msg)
	if len(args) == 0 {
		return false
	}

	switch strings.ToLower(args[0]) {
	case "/list":
		n := len(r.members)
		verb, plural := "are", "s"
		if n == 1 {
			verb, plural = "is", ""
		}
		h.notice(s, "There "+verb+" "+strconv.Itoa(n)+" player"+plural+" in this room.")
		for _, m := range r.members {
			h.notice(s, m.user.Username+" - "+m.user.UUID)
		}
		return true

	case "/purge":
		if len(args) < 2 {
			h.notice(s, "purge: Delete all chat messages sent by this player.")
			h.notice(s, "Usage: /purge <uuid>")
			return true
		}
		target := args[1]
		deleted := 0
		kept := r.chat[:0]
		for _, m := range r.chat {
			if m.authorUUID != target {
				kept = append(kept, m)
				continue
			}
			deleted++
			del := protocol.Frame(protocol.OpDeleteMessage, []byte(m.id))
			s.send(del)
			h.broadcast(s, del, true)
			if r.persistent {
				id := m.id
				h.storeAsync(func(st store.Store) error { return st.DeleteMessage(id) })
			}
		}
		r.chat = kept
		h.notice(s, "Deleted "+strconv.Itoa(deleted)+" messages.")
		return true

	case "/del":
		if len(args) < 2 {
			h.notice(s, "del: Delete a specific chat message.")
			h.notice(s, "Usage: /del <message_id>")
			return true
		}
		target := strings.TrimPrefix(args[1], "msg_")
		kept := r.chat[:0]
		for _, m := range r.chat {
			if m.id != target {
				kept = append(kept, m)
			}
		}
		r.chat = kept
		h.storeAsync(func(st store.Store) error { return st.DeleteMessage(target) })

		del := protocol.Frame(protocol.OpDeleteMessage, []byte(target))
		s.send(del)
		h.broadcast(s, del, true)
		h.notice(s, "Deleted message with ID "+target)
		return true

	case "/vanish":
		if s.vanished() {
			s.user.Username = strings.TrimPrefix(s.user.Username, "#")
			h.notice(s, "Vanished mode disabled.")
		} else {
			s.user.Username = "#" + s.user.Username
			h.broadcast(s, protocol.Frame(protocol.OpPlayerLeft, []byte(s.user.UUID)), true)
			h.notice(s, "Vanished mode enabled.")
		}
		name := s.user.Username
		h.storeAsync(func(st store.Store) error {
			return st.UpdateClientName(s.user.UUID, name)
		})
		// Force a reconnect so the leave/join cycle matches the new
		// visibility.
		s.softClose()
		return true

	case "/setcolor":
		if len(args) != 3 {
			h.notice(s, "setcolor: Set a player's color.")
			h.notice(s, "Usage: /setcolor <uuid> <hex color>")
			return true
		}
		target := args[1]
		color := args[2]
		if !strings.HasPrefix(color, "#") {
			color = "#" + color
		}
		h.storeAsync(func(st store.Store) error {
			return st.UpdateClientColor(target, color)
		})
		h.notice(s, "Color updated. They must reconnect to see changes.")
		return true

	case "/setname":
		if len(args) < 3 {
			h.notice(s, "setname: Set a player's name.")
			h.notice(s, "Usage: /setname <uuid> <new name>")
			return true
		}
		target := args[1]
		name := strings.TrimSpace(strings.Join(args[2:], " "))
		h.storeAsync(func(st store.Store) error {
			return st.UpdateClientName(target, name)
		})
		h.notice(s, "Name updated. They must reconnect to see changes.")
		return true
	}
	return false
}

// handleSetName updates the session's display name everywhere: persisted,
// broadcast to the room and echoed to the sender.
func (h *Hub) handleSetName(s *Session, name string) {
	runes := []rune(name)
	if len(runes) == 0 || len(runes) > 60 {
		return
	}
	alnum := 0
	for _, c := range name {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			alnum++
		}
	}
	if alnum == 0 {
		return
	}

	uuid := s.user.UUID
	h.storeAsync(func(st store.Store) error {
		return st.UpdateClientName(uuid, name)
	})

	frame := protocol.Frame(protocol.OpSetName, []byte{s.seat}, []byte(name))
	h.broadcast(s, frame, false)
	s.user.Username = name
	s.send(frame)
}

// sendChatHistory resolves author names through the store and sends the
// room's history buffer to one session. Runs off the hub lock; store
// latency never delays the join itself.
func (h *Hub) sendChatHistory(s *Session, room string) {
	h.mu.Lock()
	r, ok := h.rooms[room]
	if !ok {
		h.mu.Unlock()
		return
	}
	msgs := make([]chatMessage, len(r.chat))
	copy(msgs, r.chat)
	h.mu.Unlock()

	names := make(map[string]string)
	rows := make([][]interface{}, 0, len(msgs))
	for _, m := range msgs {
		name, cached := names[m.authorUUID]
		if !cached {
			name = h.resolveAuthor(m.authorUUID)
			names[m.authorUUID] = name
		}
		if name == "" {
			continue
		}
		rows = append(rows, []interface{}{m.authorUUID, m.id, name, m.content, m.color})
	}

	payload, err := json.Marshal(rows)
	if err != nil {
		return
	}
	s.send(protocol.Frame(protocol.OpChatHistory, payload))
}

// resolveAuthor looks a display name up in the store, unmasking the vanish
// prefix so history never reveals who is vanished. Returns "" for unknown
// authors, whose messages are skipped.
func (h *Hub) resolveAuthor(uuid string) string {
	if h.st == nil {
		return ""
	}
	rec, err := h.st.Client(uuid)
	if err != nil || rec == nil {
		logger.Infof("invalid client in chat history: %s", uuid)
		return ""
	}
	if rec.Admin && strings.HasPrefix(rec.Username, "#") {
		return rec.Username[1:]
	}
	return rec.Username
}

// storeAsync runs a persistence call on its own goroutine. Failures are
// logged and not retried; the real-time path never blocks on the store.
func (h *Hub) storeAsync(fn func(st store.Store) error) {
	if h.st == nil {
		return
	}
	st := h.st
	go func() {
		if err := fn(st); err != nil {
			logger.Errorf("store write failed: %v", err)
		}
	}()
}
