package hub

import (
	"time"

	"github.com/arivum/pianoroom/internal/protocol"
)

// Note quota tuning. The quota is a debt counter: a press may push it
// below zero, but quota checks treat anything <= 0 as exhausted.
const (
	MaxNoteQuota = 100

	// noteQuotaRegen restores one quota unit per elapsed interval since
	// the last accepted note.
	noteQuotaRegen = 30 * time.Millisecond

	// sameNotePenalty is the extra cost of immediately repeating a note.
	sameNotePenalty = 4

	quotaWarnEvery = 5 * time.Second

	maxNoteIndex = 88
	maxVelocity  = 127

	// Accepted client-timestamp skew relative to the server clock:
	// events up to 5s in the server's past and 2s in its future.
	maxNotePastMs   = 5000
	maxNoteFutureMs = 2000
)

// clockSkewOK validates a client timestamp against the server clock,
// guarding against replayed and clock-abused events.
func (h *Hub) clockSkewOK(ts uint32) bool {
	diff := h.UptimeMillis() - int64(ts)
	return diff >= -maxNoteFutureMs && diff <= maxNotePastMs
}

// noteQuotaCheck regenerates the session's quota from elapsed time and
// reports whether a note may be played. An exhausted quota produces a
// throttled warning, at most one per quotaWarnEvery.
func (h *Hub) noteQuotaCheck(s *Session) bool {
	now := h.now()
	if !s.lastNoteAt.IsZero() {
		if elapsed := now.Sub(s.lastNoteAt); elapsed > noteQuotaRegen {
			s.noteQuota += int(elapsed / noteQuotaRegen)
			if s.noteQuota > MaxNoteQuota {
				s.noteQuota = MaxNoteQuota
			}
		}
	}

	if s.noteQuota <= 0 {
		if s.lastQuotaWarnAt.IsZero() || now.Sub(s.lastQuotaWarnAt) > quotaWarnEvery {
			h.notice(s, "You're playing too many notes. Others won't hear them.")
			s.lastQuotaWarnAt = now
		}
		return false
	}
	return true
}

// pianoAllowed covers the common preconditions of the note handlers.
func (h *Hub) pianoAllowed(s *Session) bool {
	r, ok := h.rooms[s.roomName]
	if !ok {
		return false
	}
	return !r.disablePiano && !s.vanished()
}

// handlePressNote validates and relays a note press: payload is
// [note][velocity][timestamp:4B LE].
func (h *Hub) handlePressNote(s *Session, payload []byte) {
	if !h.pianoAllowed(s) {
		return
	}
	if len(payload) < 6 {
		return
	}
	note, velocity := payload[0], payload[1]
	ts := protocol.Int(payload[2:6])

	if note > maxNoteIndex || velocity > maxVelocity {
		return
	}
	if !h.clockSkewOK(ts) {
		return
	}
	if !h.noteQuotaCheck(s) {
		return
	}

	h.broadcast(s, protocol.Frame(protocol.OpPressNote,
		[]byte{s.seat, note, velocity}, protocol.PutInt(nil, ts)), false)

	s.noteQuota--
	if s.lastNote == int(note) {
		s.noteQuota -= sameNotePenalty
	}
	s.lastNoteAt = h.now()
	s.lastNote = int(note)
}

// handleReleaseNote validates and relays a note release: payload is
// [note][releaseAllVoices][timestamp:4B LE]. Releases cost no quota.
func (h *Hub) handleReleaseNote(s *Session, payload []byte) {
	if !h.pianoAllowed(s) {
		return
	}
	if len(payload) < 6 {
		return
	}
	note := payload[0]
	allVoices := byte(0)
	if payload[1] == 1 {
		allVoices = 1
	}
	ts := protocol.Int(payload[2:6])

	if note > maxNoteIndex {
		return
	}
	if !h.clockSkewOK(ts) {
		return
	}

	h.broadcast(s, protocol.Frame(protocol.OpReleaseNote,
		[]byte{s.seat, note, allVoices}, protocol.PutInt(nil, ts)), false)
}

// handleBatchNotes validates a sequence of press/release sub-frames and
// relays them as one frame with the sender's seat prefixed. Any malformed
// sub-frame aborts the whole batch with nothing relayed; repeating a note
// within one batch costs escalating quota.
func (h *Hub) handleBatchNotes(s *Session, payload []byte) {
	if !h.pianoAllowed(s) {
		return
	}

	repeats := 1
	i := 0
	for i < len(payload) {
		op := payload[i]
		i++

		switch op {
		case protocol.OpPressNote:
			if i+2 > len(payload) {
				return
			}
			note, velocity := payload[i], payload[i+1]
			i += 2
			if note > maxNoteIndex || velocity > maxVelocity {
				return
			}
			if !h.noteQuotaCheck(s) {
				return
			}
			s.noteQuota--
			if s.lastNote == int(note) {
				s.noteQuota -= 2 * repeats
				repeats++
			}
			s.lastNoteAt = h.now()
			s.lastNote = int(note)

		case protocol.OpReleaseNote:
			if i+2 > len(payload) {
				return
			}
			note, allVoices := payload[i], payload[i+1]
			i += 2
			if note > maxNoteIndex || allVoices > 1 {
				return
			}

		default:
			return
		}

		if i+4 > len(payload) {
			return
		}
		if !h.clockSkewOK(protocol.Int(payload[i : i+4])) {
			return
		}
		i += 4
	}

	h.broadcast(s, protocol.Frame(protocol.OpBatchNotes, []byte{s.seat}, payload), false)
}
