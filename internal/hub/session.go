package hub

import (
	"strings"
	"time"

	"github.com/arivum/pianoroom/internal/store"
)

// Conn is the transport handle a session speaks through. Send must not
// block; SoftClose asks the peer to close and hard-terminates after a
// timeout if it does not.
type Conn interface {
	ID() string
	Send(data []byte) error
	SoftClose()
}

// Session binds a live connection to a persistent identity plus the
// ephemeral per-connection state. A session belongs to at most one room
// at a time. All fields are guarded by the hub mutex.
type Session struct {
	conn Conn
	addr string

	// user is the in-memory copy of the persisted identity. Username and
	// Admin mutate during the session (set-name, vanish, phrase claim).
	user store.Client

	roomName string
	seat     byte

	noteQuota       int
	lastNote        int // -1 when no note played yet
	lastNoteAt      time.Time
	lastQuotaWarnAt time.Time
	lastChatAt      time.Time

	violations int
}

// vanished reports whether the session is in vanished mode: an admin whose
// username carries the "#" prefix.
func (s *Session) vanished() bool {
	return s.user.Admin && strings.HasPrefix(s.user.Username, "#")
}

// send queues a frame for delivery, tolerating detached sessions (seeded
// room members have no connection).
func (s *Session) send(frame []byte) {
	if s.conn != nil {
		s.conn.Send(frame)
	}
}

// softClose asks the transport to close the connection.
func (s *Session) softClose() {
	if s.conn != nil {
		s.conn.SoftClose()
	}
}
