package hub

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arivum/pianoroom/internal/protocol"
)

func sendChat(h *Hub, c *fakeConn, text string) {
	h.HandleFrame(c, protocol.Frame(protocol.OpSendChat, []byte(text)))
}

// chatTexts decodes the player chat lines (not system notices) received.
func chatTexts(t *testing.T, c *fakeConn) []string {
	t.Helper()
	var out []string
	for _, p := range c.payloads(protocol.OpSendChat) {
		if len(p) == 0 || p[0] == SystemSeat {
			continue
		}
		var row []interface{}
		require.NoError(t, json.Unmarshal(p[1:], &row))
		require.Len(t, row, 2)
		out = append(out, row[1].(string))
	}
	return out
}

func TestChatRelayedAndPersisted(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	h, _ := newTestHub(t, st)
	a, b := twoInRoom(t, h, "lobby")

	sendChat(h, a, "hello there")

	assert.Equal(t, []string{"hello there"}, chatTexts(t, b))
	assert.Equal(t, []string{"hello there"}, chatTexts(t, a), "sender gets an echo")

	r := roomOf(h, "lobby")
	require.Len(t, r.chat, 1)
	assert.Equal(t, sessionOf(h, a).user.UUID, r.chat[0].authorUUID)

	require.Eventually(t, func() bool {
		return len(st.roomMessages("lobby")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello there", st.roomMessages("lobby")[0].Content)
}

func TestChatMinimumGap(t *testing.T) {
	t.Parallel()
	h, clk := newTestHub(t, nil)
	a, b := twoInRoom(t, h, "lobby")

	sendChat(h, a, "one")
	sendChat(h, a, "two")
	sendChat(h, a, "three")

	assert.Equal(t, []string{"one"}, chatTexts(t, b))
	tooFast := 0
	for _, n := range a.notices() {
		if n == "You are sending messages too fast." {
			tooFast++
		}
	}
	assert.Equal(t, 2, tooFast)
	assert.Len(t, roomOf(h, "lobby").chat, 1)

	clk.Advance(600 * time.Millisecond)
	sendChat(h, a, "four")
	assert.Equal(t, []string{"one", "four"}, chatTexts(t, b))
}

func TestChatValidation(t *testing.T) {
	t.Parallel()
	h, clk := newTestHub(t, nil)
	a, b := twoInRoom(t, h, "lobby")

	long := make([]rune, maxChatMessageLen+1)
	for i := range long {
		long[i] = 'x'
	}

	sendChat(h, a, "\x01\x02")
	clk.Advance(time.Second)
	sendChat(h, a, string(long))

	assert.Empty(t, chatTexts(t, b))
	invalid := 0
	for _, n := range a.notices() {
		if n == "Invalid message." {
			invalid++
		}
	}
	assert.Equal(t, 2, invalid)
}

func TestChatStripsControlCharacters(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)
	a, b := twoInRoom(t, h, "lobby")

	sendChat(h, a, "he\x01llo")
	assert.Equal(t, []string{"hello"}, chatTexts(t, b))
}

func TestChatHistoryCapped(t *testing.T) {
	t.Parallel()
	h, clk := newTestHub(t, nil)
	a, _ := twoInRoom(t, h, "lobby")

	for i := 0; i < MaxChatHistory+5; i++ {
		sendChat(h, a, "msg "+strconv.Itoa(i))
		clk.Advance(600 * time.Millisecond)
	}

	r := roomOf(h, "lobby")
	require.Len(t, r.chat, MaxChatHistory)
	assert.Equal(t, "msg 5", r.chat[0].content, "oldest entries are dropped")
}

func TestDisableChatDropsSilently(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)
	a, b := twoInRoom(t, h, "lobby")

	roomOf(h, "lobby").disableChat = true
	sendChat(h, a, "anyone?")

	assert.Empty(t, chatTexts(t, b))
	assert.Empty(t, chatTexts(t, a))
	assert.Empty(t, a.notices())
}

func TestChatHistorySentOnJoin(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	h, clk := newTestHub(t, st)
	h.CreateRoom("lobby", true, false)

	a := connect(t, h, "a", "10.0.0.1")
	join(h, a, "lobby")
	sendChat(h, a, "welcome in")

	// The author record must be persisted before history can resolve it.
	require.Eventually(t, func() bool {
		return st.client(sessionOf(h, a).user.UUID) != nil
	}, time.Second, 5*time.Millisecond)

	clk.Advance(time.Second)
	b := connect(t, h, "b", "10.0.0.2")
	join(h, b, "lobby")

	require.Eventually(t, func() bool {
		return len(b.payloads(protocol.OpChatHistory)) > 0
	}, time.Second, 5*time.Millisecond)

	var rows [][]interface{}
	history := b.payloads(protocol.OpChatHistory)
	require.NoError(t, json.Unmarshal(history[0], &rows))
	require.Len(t, rows, 1)
	require.Len(t, rows[0], 5)
	assert.Equal(t, sessionOf(h, a).user.UUID, rows[0][0])
	assert.Equal(t, sessionOf(h, a).user.Username, rows[0][2])
	assert.Equal(t, "welcome in", rows[0][3])
}

func TestAdminPhraseClaim(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	h, clk := newTestHub(t, st)
	a, b := twoInRoom(t, h, "lobby")

	require.Eventually(t, func() bool {
		return st.client(sessionOf(h, a).user.UUID) != nil
	}, time.Second, 5*time.Millisecond)

	sendChat(h, a, testAdminPhrase)

	assert.True(t, a.hasNotice("You are now an admin."))
	assert.True(t, sessionOf(h, a).user.Admin)
	assert.Empty(t, chatTexts(t, b), "the phrase is never relayed")

	require.Eventually(t, func() bool {
		c := st.client(sessionOf(h, a).user.UUID)
		return c != nil && c.Admin
	}, time.Second, 5*time.Millisecond)

	// The claim works exactly once per process.
	clk.Advance(time.Second)
	sendChat(h, b, testAdminPhrase)
	assert.True(t, b.hasNotice("Admin phrase already used."))
	assert.False(t, sessionOf(h, b).user.Admin)
}

func TestShortAdminPhraseNeverClaimable(t *testing.T) {
	t.Parallel()
	clk := newClock()
	h := New(Options{
		AdminPhrase:      "short",
		SaltOne:          "s1",
		SaltTwo:          "s2",
		CursorFlushEvery: time.Minute,
		Now:              clk.Now,
	})
	a, b := twoInRoom(t, h, "lobby")

	sendChat(h, a, "short")
	assert.Equal(t, []string{"short"}, chatTexts(t, b), "treated as plain chat")
	assert.False(t, sessionOf(h, a).user.Admin)
}

func TestSlashCommandsRequireAdmin(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)
	a, b := twoInRoom(t, h, "lobby")

	sendChat(h, a, "/list")
	assert.Equal(t, []string{"/list"}, chatTexts(t, b), "non-admin slash text is plain chat")
}

func TestListCommand(t *testing.T) {
	t.Parallel()
	h, _ := newTestHub(t, nil)
	a, b := twoInRoom(t, h, "lobby")

	sessionOf(h, a).user.Admin = true
	sendChat(h, a, "/list")

	assert.True(t, a.hasNotice("There are 2 players in this room."))
	assert.Len(t, a.notices(), 3, "header plus one line per member")
	assert.Empty(t, chatTexts(t, b))
	assert.Empty(t, b.notices())
}

func TestDelCommand(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	h, clk := newTestHub(t, st)
	a, b := twoInRoom(t, h, "lobby")
	sessionOf(h, a).user.Admin = true

	sendChat(h, a, "oops")
	r := roomOf(h, "lobby")
	require.Len(t, r.chat, 1)
	id := r.chat[0].id

	require.Eventually(t, func() bool {
		return len(st.roomMessages("lobby")) == 1
	}, time.Second, 5*time.Millisecond)

	clk.Advance(time.Second)
	sendChat(h, a, "/del msg_"+id)

	assert.Empty(t, r.chat)
	assert.Equal(t, [][]byte{[]byte(id)}, a.payloads(protocol.OpDeleteMessage))
	assert.Equal(t, [][]byte{[]byte(id)}, b.payloads(protocol.OpDeleteMessage))
	assert.True(t, a.hasNotice("Deleted message with ID "+id))

	require.Eventually(t, func() bool {
		return len(st.roomMessages("lobby")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPurgeCommand(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	h, clk := newTestHub(t, st)
	h.CreateRoom("lobby", true, false)
	a, b := twoInRoom(t, h, "lobby")
	sessionOf(h, a).user.Admin = true

	sendChat(h, b, "spam one")
	clk.Advance(time.Second)
	sendChat(h, b, "spam two")
	clk.Advance(time.Second)
	sendChat(h, a, "keep me")

	require.Eventually(t, func() bool {
		return len(st.roomMessages("lobby")) == 3
	}, time.Second, 5*time.Millisecond)

	clk.Advance(time.Second)
	sendChat(h, a, "/purge "+sessionOf(h, b).user.UUID)

	r := roomOf(h, "lobby")
	require.Len(t, r.chat, 1)
	assert.Equal(t, "keep me", r.chat[0].content)
	assert.Len(t, b.payloads(protocol.OpDeleteMessage), 2)
	assert.True(t, a.hasNotice("Deleted 2 messages."))

	require.Eventually(t, func() bool {
		return len(st.roomMessages("lobby")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestVanishToggle(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	h, _ := newTestHub(t, st)
	a, b := twoInRoom(t, h, "lobby")

	s := sessionOf(h, a)
	s.user.Admin = true
	uuid := s.user.UUID

	// Let the identity land in the store first, or the connect-time save
	// could race the rename below.
	require.Eventually(t, func() bool {
		return st.client(uuid) != nil
	}, time.Second, 5*time.Millisecond)

	sendChat(h, a, "/vanish")

	assert.True(t, s.vanished())
	assert.True(t, a.hasNotice("Vanished mode enabled."))
	assert.True(t, a.isClosed(), "vanish forces a reconnect")

	// The room saw a departure even though the session is still in it.
	left := b.payloads(protocol.OpPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, uuid, string(left[0]))

	require.Eventually(t, func() bool {
		c := st.client(uuid)
		return c != nil && c.Username == s.user.Username
	}, time.Second, 5*time.Millisecond)
}

func TestSetColorCommand(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	h, _ := newTestHub(t, st)
	a, b := twoInRoom(t, h, "lobby")
	sessionOf(h, a).user.Admin = true
	target := sessionOf(h, b).user.UUID

	require.Eventually(t, func() bool {
		return st.client(target) != nil
	}, time.Second, 5*time.Millisecond)

	sendChat(h, a, "/setcolor "+target+" ff0000")

	assert.True(t, a.hasNotice("Color updated. They must reconnect to see changes."))
	require.Eventually(t, func() bool {
		c := st.client(target)
		return c != nil && c.Color == "#ff0000"
	}, time.Second, 5*time.Millisecond)
}

func TestSetNameBroadcast(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	h, _ := newTestHub(t, st)
	a, b := twoInRoom(t, h, "lobby")

	require.Eventually(t, func() bool {
		return st.client(sessionOf(h, a).user.UUID) != nil
	}, time.Second, 5*time.Millisecond)

	h.HandleFrame(a, protocol.Frame(protocol.OpSetName, []byte("Aria")))

	s := sessionOf(h, a)
	assert.Equal(t, "Aria", s.user.Username)

	want := append([]byte{s.seat}, []byte("Aria")...)
	assert.Equal(t, [][]byte{want}, a.payloads(protocol.OpSetName))
	assert.Equal(t, [][]byte{want}, b.payloads(protocol.OpSetName))

	require.Eventually(t, func() bool {
		c := st.client(s.user.UUID)
		return c != nil && c.Username == "Aria"
	}, time.Second, 5*time.Millisecond)
}

func TestSetNameRejectsInvalid(t *testing.T) {
	t.Parallel()
	h, clk := newTestHub(t, nil)
	a, b := twoInRoom(t, h, "lobby")
	before := sessionOf(h, a).user.Username

	long := make([]byte, 61)
	for i := range long {
		long[i] = 'a'
	}
	for _, name := range []string{"", "   ", "!!!", string(long)} {
		h.HandleFrame(a, protocol.Frame(protocol.OpSetName, []byte(name)))
		clk.Advance(1100 * time.Millisecond)
	}

	assert.Equal(t, before, sessionOf(h, a).user.Username)
	assert.Empty(t, b.payloads(protocol.OpSetName))
}
