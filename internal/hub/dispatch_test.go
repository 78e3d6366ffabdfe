package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arivum/pianoroom/internal/protocol"
)

// playerRow decodes one player-joined JSON payload.
func playerRow(t *testing.T, payload []byte) (uuid, name, color string, seat byte, isOwner int) {
	t.Helper()
	var row []interface{}
	require.NoError(t, json.Unmarshal(payload, &row))
	require.Len(t, row, 5)
	return row[0].(string), row[1].(string), row[2].(string),
		byte(row[3].(float64)), int(row[4].(float64))
}

func TestJoinRoomReplySequence(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)
	h.CreateRoom("lobby", true, false)

	a := connect(t, h, "a", "10.0.0.1")
	a.reset()
	join(h, a, "lobby")

	s := sessionOf(h, a)

	joined := a.payloads(protocol.OpJoinRoom)
	require.Len(t, joined, 1)
	assert.Equal(t, s.user.UUID, string(joined[0]))

	players := a.payloads(protocol.OpPlayerJoined)
	require.Len(t, players, 1, "the joiner's own entry tells it its seat")
	uuid, _, _, seat, _ := playerRow(t, players[0])
	assert.Equal(t, s.user.UUID, uuid)
	assert.Equal(t, byte(0), seat)

	settings := a.payloads(protocol.OpRoomSettings)
	require.Len(t, settings, 1)
	assert.Equal(t, roomOf(h, "lobby").settingsBytes(), settings[0])

	assert.Equal(t, []string{"lobby"}, lastRoomNames(t, a))
}

func TestSecondJoinerSeatsAndBroadcast(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)
	h.CreateRoom("lobby", true, false)

	a := connect(t, h, "a", "10.0.0.1")
	join(h, a, "lobby")
	a.reset()

	b := connect(t, h, "b", "10.0.0.2")
	join(h, b, "lobby")

	assert.Equal(t, byte(1), sessionOf(h, b).seat, "smallest free seat")

	// The room saw B arrive.
	arrived := a.payloads(protocol.OpPlayerJoined)
	require.Len(t, arrived, 1)
	uuid, _, _, _, _ := playerRow(t, arrived[0])
	assert.Equal(t, sessionOf(h, b).user.UUID, uuid)

	// B saw both members.
	require.Len(t, b.payloads(protocol.OpPlayerJoined), 2)
}

func TestSeatReassignedAfterLeave(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)
	h.CreateRoom("lobby", true, false)

	a := connect(t, h, "a", "10.0.0.1")
	join(h, a, "lobby")
	b := connect(t, h, "b", "10.0.0.2")
	join(h, b, "lobby")
	h.Disconnect(a)

	c := connect(t, h, "c", "10.0.0.3")
	join(h, c, "lobby")
	assert.Equal(t, byte(0), sessionOf(h, c).seat, "freed seat is reused")
}

func TestDuplicateIdentityJoinRejected(t *testing.T) {
	t.Parallel()
	h, clk := newTestHub(t, nil)
	h.CreateRoom("lobby", true, false)

	a := connect(t, h, "a", "10.0.0.1")
	join(h, a, "lobby")
	clk.Advance(time.Second)

	dup := connect(t, h, "dup", "10.0.0.1")
	join(h, dup, "lobby")

	assert.True(t, dup.hasNotice("You are already in this room."))
	assert.True(t, dup.isClosed())
	assert.Len(t, roomOf(h, "lobby").members, 1)
}

func TestRoomFull(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)

	for i := 0; i < MaxPlayersPerRoom; i++ {
		c := connect(t, h, "c"+string(rune('a'+i)), "10.0.1."+string(rune('0'+i)))
		join(h, c, "crowded")
	}
	require.Len(t, roomOf(h, "crowded").members, MaxPlayersPerRoom)

	late := connect(t, h, "late", "10.0.2.1")
	join(h, late, "crowded")

	assert.True(t, late.hasNotice("This room is full."))
	assert.Len(t, roomOf(h, "crowded").members, MaxPlayersPerRoom)
	assert.Empty(t, sessionOf(h, late).roomName)
}

func TestVanishedAdminEntersFullRoom(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)

	var first *fakeConn
	for i := 0; i < MaxPlayersPerRoom; i++ {
		c := connect(t, h, "c"+string(rune('a'+i)), "10.0.1."+string(rune('0'+i)))
		join(h, c, "crowded")
		if first == nil {
			first = c
		}
	}

	ghost := connect(t, h, "ghost", "10.0.2.1")
	s := sessionOf(h, ghost)
	s.user.Admin = true
	s.user.Username = "#Ghost"
	first.reset()

	join(h, ghost, "crowded")

	assert.Equal(t, "crowded", sessionOf(h, ghost).roomName)
	assert.Empty(t, first.payloads(protocol.OpPlayerJoined),
		"vanished joins are not announced")
	assert.Equal(t, MaxPlayersPerRoom, roomOf(h, "crowded").visibleCount())
}

func TestHiddenRoomVisibility(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)
	h.CreateRoom("lobby", true, false)

	a := connect(t, h, "a", "10.0.0.1")
	join(h, a, "/hidden:secret")

	require.NotNil(t, roomOf(h, "secret"))
	assert.True(t, roomOf(h, "secret").hidden)
	assert.Equal(t, "secret", sessionOf(h, a).roomName)
	assert.Contains(t, lastRoomNames(t, a), "secret", "members see their hidden room")

	b := connect(t, h, "b", "10.0.0.2")
	assert.NotContains(t, lastRoomNames(t, b), "secret")
	assert.Contains(t, lastRoomNames(t, b), "lobby")
}

func TestRoomNameValidation(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)

	a := connect(t, h, "a", "10.0.0.1")
	join(h, a, "\x01\x02  ")

	assert.Equal(t, DefaultRoomName, sessionOf(h, a).roomName)
}

func TestRoomSettingsOwnerOnly(t *testing.T) {
	t.Parallel()
	h, clk := newTestHub(t, nil)

	a := connect(t, h, "a", "10.0.0.1")
	join(h, a, "mine")
	clk.Advance(time.Second)
	b := connect(t, h, "b", "10.0.0.2")
	join(h, b, "mine")

	hideOn := []byte{settingHidden<<1 | 1}

	// Non-owner attempts are ignored.
	h.HandleFrame(b, protocol.Frame(protocol.OpUpdateRoomSettings, hideOn))
	assert.False(t, roomOf(h, "mine").hidden)

	a.reset()
	b.reset()
	h.HandleFrame(a, protocol.Frame(protocol.OpUpdateRoomSettings, hideOn))

	assert.True(t, roomOf(h, "mine").hidden)
	assert.Equal(t, [][]byte{hideOn}, a.payloads(protocol.OpRoomSettings))
	assert.Equal(t, [][]byte{hideOn}, b.payloads(protocol.OpRoomSettings))
}

func TestRoomSettingsBatch(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)

	a := connect(t, h, "a", "10.0.0.1")
	join(h, a, "mine")

	batch := []byte{
		settingChatFilter<<1 | 0,
		settingDisableChat<<1 | 1,
		settingDisablePiano<<1 | 1,
		0xff, // unknown id, ignored
	}
	h.HandleFrame(a, protocol.Frame(protocol.OpUpdateRoomSettings, batch))

	r := roomOf(h, "mine")
	assert.False(t, r.chatFilter)
	assert.True(t, r.disableChat)
	assert.True(t, r.disablePiano)
	assert.False(t, r.hidden)
}

func TestPingPong(t *testing.T) {
	t.Parallel()
	h, clk := newTestHub(t, nil)

	a := connect(t, h, "a", "10.0.0.1")
	join(h, a, "lobby")
	clk.Advance(1234 * time.Millisecond)

	h.HandleFrame(a, protocol.Frame(protocol.OpPing, []byte{0}))

	pongs := a.payloads(protocol.OpPong)
	require.Len(t, pongs, 1)
	require.Len(t, pongs[0], 4)
	assert.Equal(t, uint32(1234), protocol.Int(pongs[0]))
}

func TestUnknownOpcodeDropped(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)

	a := connect(t, h, "a", "10.0.0.1")
	join(h, a, "lobby")
	a.reset()

	h.HandleFrame(a, []byte{200, 1, 2, 3})
	h.HandleFrame(a, nil)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.frames)
	assert.False(t, a.closed)
}

func TestFrameFromUnknownConnIgnored(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)

	stranger := newFakeConn("never-connected")
	h.HandleFrame(stranger, protocol.Frame(protocol.OpJoinRoom, []byte("lobby")))
	assert.Nil(t, roomOf(h, "lobby"))
}
