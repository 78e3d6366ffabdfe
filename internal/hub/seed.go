package hub

import (
	"fmt"
	"math/rand"

	"github.com/arivum/pianoroom/internal/logger"
	"github.com/arivum/pianoroom/internal/store"
)

// SeedTestRoom creates the hidden "test" room populated with synthetic
// store-backed members. Their sessions have no transport, so broadcasts to
// them are no-ops; they exist to exercise the member list, cursor snapshot
// and chat history paths against a realistic room.
func (h *Hub) SeedTestRoom() {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.createRoom("test", nil, false, true)

	for i := 1; i <= 8; i++ {
		uuid := fmt.Sprintf("test-user-%d", i)
		rec := h.seedIdentity(uuid, fmt.Sprintf("Test User %d", i))

		s := &Session{
			user:      rec,
			roomName:  r.name,
			seat:      byte(i),
			noteQuota: MaxNoteQuota,
			lastNote:  -1,
		}
		r.members = append(r.members, s)

		x, y := rand.Float64()*100, rand.Float64()*100
		r.cursors[uuid] = &cursor{x: x, y: y, lastX: x, lastY: y, seat: byte(i)}

		r.chat = append(r.chat, chatMessage{
			authorUUID: uuid,
			id:         genMessageID(r),
			content:    fmt.Sprintf("this is a test room and i am a test user #%d", i),
			color:      rec.Color,
		})
	}

	first := r.members[0]
	r.owner = first
	r.ownerUUID = first.user.UUID
	r.chat = append(r.chat, chatMessage{
		authorUUID: first.user.UUID,
		id:         genMessageID(r),
		content:    "if you accidentally found this room that's pretty funny",
		color:      first.user.Color,
	})
}

// seedIdentity loads or creates a synthetic identity record.
func (h *Hub) seedIdentity(uuid, username string) store.Client {
	if h.st != nil {
		rec, err := h.st.Client(uuid)
		if err != nil {
			logger.Errorf("load seed identity %s: %v", uuid, err)
		} else if rec != nil {
			return *rec
		}
	}
	rec := store.Client{UUID: uuid, Username: username, Color: randomColor()}
	if h.st != nil {
		if err := h.st.SaveClient(&rec); err != nil {
			logger.Errorf("save seed identity %s: %v", uuid, err)
		}
	}
	return rec
}
