package hub

import (
	"time"

	"github.com/arivum/pianoroom/internal/protocol"
)

// maxCursorQueue bounds one session's pending events per flush window; the
// wire format carries the count in a single byte.
const maxCursorQueue = 255

// updateCursor records a cursor movement for later batched delivery. The
// last known position is updated synchronously for the join snapshot, but
// nothing is relayed until the room's flush tick. Caller holds the lock.
func (h *Hub) updateCursor(s *Session, payload []byte) {
	r, ok := h.rooms[s.roomName]
	if !ok {
		return
	}
	if len(payload) != 4 {
		return
	}

	x := float64(protocol.Short(payload[0:2])) / 100
	y := float64(protocol.Short(payload[2:4])) / 100
	if x < 0 || x > 100 || y < 0 || y > 100 {
		return
	}

	c, ok := r.cursors[s.user.UUID]
	if !ok {
		c = &cursor{seat: s.seat}
		r.cursors[s.user.UUID] = c
	}
	c.x, c.y = x, y
	c.seat = s.seat

	if len(c.queue) >= maxCursorQueue {
		return
	}
	if len(c.queue) == 0 {
		c.queueStart = h.now()
	}
	offset := h.now().Sub(c.queueStart).Milliseconds()
	if offset > 0xffff {
		offset = 0xffff
	}
	c.queue = append(c.queue, cursorEvent{offset: uint16(offset), x: x, y: y})
}

// runCursorFlush sweeps a room's cursor queues once per interval, emitting
// at most one batched frame per tick. The room is re-resolved by name on
// every tick since rooms can be deleted and seats reassigned between ticks;
// the loop exits when the room is gone or stop is closed.
func (h *Hub) runCursorFlush(name string, stop chan struct{}) {
	ticker := time.NewTicker(h.opts.CursorFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !h.flushCursors(name) {
				return
			}
		}
	}
}

// flushCursors emits one batched cursor frame for the room and clears the
// processed queues. Returns false when the room no longer exists.
func (h *Hub) flushCursors(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[name]
	if !ok {
		return false
	}

	var payload []byte
	for _, c := range r.cursors {
		if len(c.queue) == 0 {
			continue
		}
		payload = append(payload, c.seat, byte(len(c.queue)))
		for _, ev := range c.queue {
			payload = protocol.PutShort(payload, ev.offset)
			payload = protocol.PutShort(payload, uint16(ev.x*100))
			payload = protocol.PutShort(payload, uint16(ev.y*100))
		}
		c.lastX, c.lastY = c.x, c.y
		c.queue = c.queue[:0]
		c.queueStart = time.Time{}
	}
	if payload == nil {
		return true
	}

	frame := protocol.Frame(protocol.OpCursorUpdate, payload)
	for _, m := range r.members {
		m.send(frame)
	}
	return true
}

// cursorSnapshot encodes every known cursor position as a single-event
// batch, for the join reply. Returns nil when the room has no cursors.
func cursorSnapshot(r *Room) []byte {
	var payload []byte
	for _, c := range r.cursors {
		payload = append(payload, c.seat, 1)
		payload = protocol.PutShort(payload, 0)
		payload = protocol.PutShort(payload, uint16(c.x*100))
		payload = protocol.PutShort(payload, uint16(c.y*100))
	}
	return payload
}
