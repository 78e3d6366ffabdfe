package hub

import (
	"regexp"
	"strings"
	"time"
)

// Room capacity and buffer bounds.
const (
	MaxPlayersPerRoom = 10
	MaxChatHistory    = 55
	DefaultRoomName   = "lobby"

	// SystemSeat addresses frames originating from the server itself.
	SystemSeat byte = 255

	maxRoomNameLen = 60

	// hiddenPrefix on a join request creates the room as hidden.
	hiddenPrefix = "/hidden:"
)

// Room setting ids as carried on the wire: byte = (id<<1)|value.
const (
	settingHidden       = 1
	settingChatFilter   = 2
	settingDisableChat  = 3
	settingDisablePiano = 4
)

// chatMessage is one entry of a room's bounded history buffer.
type chatMessage struct {
	authorUUID string
	id         string
	content    string
	color      string
}

// cursorEvent is one queued movement, relative to the window start.
type cursorEvent struct {
	offset uint16
	x, y   float64
}

// cursor tracks one identity's pointer within a room between flush ticks.
type cursor struct {
	x, y         float64 // last known, percent [0,100]
	lastX, lastY float64 // as of the last flushed batch
	seat         byte
	queue        []cursorEvent
	queueStart   time.Time
}

// Room is a named broadcast domain. All fields are guarded by the hub
// mutex; the flush goroutine and the transfer timer re-resolve the room by
// name before touching it.
type Room struct {
	name    string
	members []*Session // join order
	created time.Time

	// ownerUUID identifies the owner even across reconnects; owner is the
	// session reference and may be stale while a transfer is pending.
	owner     *Session
	ownerUUID string

	persistent bool
	hidden     bool

	chatFilter   bool
	disableChat  bool
	disablePiano bool

	chat    []chatMessage
	cursors map[string]*cursor // by identity uuid

	// flushStop cancels the cursor flush loop; nil when not running.
	flushStop chan struct{}
	// transfer is the pending ownership-transfer grace timer, if any.
	transfer *time.Timer
}

// freeSeat returns the smallest seat handle not in use in the room.
func (r *Room) freeSeat() byte {
	for seat := byte(0); ; seat++ {
		taken := false
		for _, m := range r.members {
			if m.seat == seat {
				taken = true
				break
			}
		}
		if !taken {
			return seat
		}
	}
}

// hasIdentity reports whether an identity is already a member.
func (r *Room) hasIdentity(uuid string) bool {
	for _, m := range r.members {
		if m.user.UUID == uuid {
			return true
		}
	}
	return false
}

// visibleCount counts members not in vanished mode.
func (r *Room) visibleCount() int {
	n := 0
	for _, m := range r.members {
		if !m.vanished() {
			n++
		}
	}
	return n
}

// settingsBytes encodes the current settings as wire bytes.
func (r *Room) settingsBytes() []byte {
	bit := func(v bool) byte {
		if v {
			return 1
		}
		return 0
	}
	return []byte{
		settingHidden<<1 | bit(r.hidden),
		settingChatFilter<<1 | bit(r.chatFilter),
		settingDisableChat<<1 | bit(r.disableChat),
		settingDisablePiano<<1 | bit(r.disablePiano),
	}
}

// applySettings decodes and applies a settings payload. Unknown setting ids
// are ignored.
func (r *Room) applySettings(payload []byte) {
	for _, b := range payload {
		value := b&1 == 1
		switch b >> 1 {
		case settingHidden:
			r.hidden = value
		case settingChatFilter:
			r.chatFilter = value
		case settingDisableChat:
			r.disableChat = value
		case settingDisablePiano:
			r.disablePiano = value
		}
	}
}

var unsafeText = regexp.MustCompile("[\x00-\x1f\x7f‎‏‪-‮⁦-⁩]")

// sanitizeText strips control characters and bidi overrides.
func sanitizeText(s string) string {
	return unsafeText.ReplaceAllString(s, "")
}

// validateRoomName sanitizes and bounds a requested room name, falling back
// to the lobby when nothing usable remains.
func validateRoomName(name string) string {
	name = strings.TrimSpace(sanitizeText(name))
	if name == "" || len([]rune(name)) > maxRoomNameLen {
		return DefaultRoomName
	}
	return name
}
