// Package protocol implements the compact binary wire format shared by the
// server and the browser client. Every frame is a 1-byte opcode followed by
// an opcode-specific payload; multi-byte integers are little-endian.
package protocol

import "encoding/binary"

// MaxFrameSize bounds a single inbound websocket message. Enforced at the
// transport layer; larger frames never reach the dispatcher.
const MaxFrameSize = 8192

// Opcodes. A few values are shared between directions, matching the wire
// contract the client speaks.
const (
	OpJoinRoom           byte = 1 // C->S: room name. S->C: own identity id.
	OpPlayerJoined       byte = 2 // S->C: JSON [id, name, color, seat, isOwner]
	OpPlayerLeft         byte = 3 // S->C: identity id
	OpSetCursorPos       byte = 3 // C->S: short x*100, short y*100
	OpCursorUpdate       byte = 4 // S->C: repeated seat, count, (short off, short x, short y)...
	OpPressNote          byte = 5
	OpReleaseNote        byte = 6
	OpBatchNotes         byte = 7
	OpSendChat           byte = 8 // C->S: raw text. S->C: seat + JSON [msgId, text]
	OpChatHistory        byte = 9
	OpRoomList           byte = 10
	OpSetName            byte = 11
	OpUpdateRoomSettings byte = 12 // C->S
	OpDeleteMessage      byte = 12 // S->C: message id
	OpOwnershipTransfer  byte = 13 // S->C: new owner seat
	OpRoomSettings       byte = 14 // S->C: repeated (settingId<<1)|value bytes
	OpPing               byte = 99 // C->S: 1 arbitrary byte
	OpPong               byte = 99 // S->C: 4-byte server uptime ms
	OpRateLimited        byte = 250
)

// Short decodes a little-endian uint16. The caller guarantees len(b) >= 2.
func Short(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// PutShort appends v little-endian to dst and returns the extended slice.
func PutShort(dst []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, v)
}

// Int decodes a little-endian uint32. The caller guarantees len(b) >= 4.
func Int(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// PutInt appends v little-endian to dst and returns the extended slice.
func PutInt(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

// Long decodes a little-endian uint64. The caller guarantees len(b) >= 8.
func Long(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// PutLong appends v little-endian to dst and returns the extended slice.
func PutLong(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

// Frame builds an outbound frame from an opcode and payload chunks.
func Frame(op byte, chunks ...[]byte) []byte {
	n := 1
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 1, n)
	out[0] = op
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// Split separates an inbound frame into opcode and payload. The payload
// slice references the input data; callers must not retain it past the
// handler call. ok is false only for an empty frame; payload bounds
// validation is the handler's responsibility.
func Split(data []byte) (op byte, payload []byte, ok bool) {
	if len(data) == 0 {
		return 0, nil, false
	}
	return data[0], data[1:], true
}
