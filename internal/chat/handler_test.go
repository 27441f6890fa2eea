package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoom struct {
	host    uint32
	members map[uint32]bool
	muted   map[uint32]bool
}

func newRoom(host uint32, others ...uint32) *fakeRoom {
	r := &fakeRoom{host: host, members: map[uint32]bool{host: true}, muted: map[uint32]bool{}}
	for _, id := range others {
		r.members[id] = true
	}
	return r
}

func (r *fakeRoom) Host() uint32               { return r.host }
func (r *fakeRoom) Has(client uint32) bool     { return r.members[client] }
func (r *fakeRoom) Unmute(client uint32)       { delete(r.muted, client) }
func (r *fakeRoom) IsMuted(client uint32) bool { return r.muted[client] }
func (r *fakeRoom) Mute(client uint32) error {
	r.muted[client] = true
	return nil
}

func fixedClock() func() time.Time {
	t := time.Unix(1_700_000_000, 0)
	return func() time.Time { return t }
}

func TestParseCommand(t *testing.T) {
	cmd, ok := ParseCommand("  -KICK 42 ", 7)
	require.True(t, ok)
	assert.Equal(t, "kick", cmd.Command)
	assert.Equal(t, []string{"42"}, cmd.Args)
	assert.Equal(t, uint32(7), cmd.SenderID)

	_, ok = ParseCommand("hello -kick 42", 7)
	assert.False(t, ok)
	_, ok = ParseCommand("-", 7)
	assert.False(t, ok)
}

func TestPlainMessageBroadcast(t *testing.T) {
	h := NewHandler(WithClock(fixedClock()))
	room := newRoom(1, 2)

	out := h.Process(room, 2, "  gg  ")
	assert.Equal(t, ActionBroadcast, out.Action)
	assert.Equal(t, "gg", out.Text)

	out = h.Process(room, 2, "   ")
	assert.Equal(t, ActionNone, out.Action)
}

func TestLongMessageTruncated(t *testing.T) {
	h := NewHandler(WithClock(fixedClock()))
	room := newRoom(1)

	out := h.Process(room, 1, strings.Repeat("é", MaxMessageLength))
	require.Equal(t, ActionBroadcast, out.Action)
	assert.LessOrEqual(t, len(out.Text), MaxMessageLength)
	assert.True(t, strings.HasPrefix(out.Text, "éé"))
}

func TestKickByHost(t *testing.T) {
	h := NewHandler(WithClock(fixedClock()))
	room := newRoom(1, 42)

	out := h.Process(room, 1, "-kick 42")
	assert.Equal(t, ActionKick, out.Action)
	assert.Equal(t, uint32(42), out.Target)
	assert.False(t, out.IsError)
}

func TestModerationRejected(t *testing.T) {
	tests := []struct {
		name    string
		sender  uint32
		content string
	}{
		{"non host kick", 2, "-kick 3"},
		{"non host mute", 2, "-mute 3"},
		{"missing id", 1, "-kick"},
		{"extra args", 1, "-mute 2 3"},
		{"bad id", 1, "-kick bob"},
		{"zero id", 1, "-kick 0"},
		{"not in lobby", 1, "-kick 99"},
		{"kick self", 1, "-kick 1"},
		{"mute self", 1, "-mute 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(WithClock(fixedClock()))
			room := newRoom(1, 2, 3)

			out := h.Process(room, tt.sender, tt.content)
			assert.Equal(t, ActionReply, out.Action)
			assert.True(t, out.IsError)
			assert.Empty(t, room.muted)
		})
	}
}

func TestMuteUnmute(t *testing.T) {
	h := NewHandler(WithClock(fixedClock()))
	room := newRoom(1, 2)

	out := h.Process(room, 1, "-mute 2")
	assert.Equal(t, ActionReply, out.Action)
	assert.False(t, out.IsError)
	assert.True(t, room.IsMuted(2))

	out = h.Process(room, 2, "let me talk")
	assert.Equal(t, ActionReply, out.Action)
	assert.True(t, out.IsError)

	h.Process(room, 1, "-unmute 2")
	assert.False(t, room.IsMuted(2))
	out = h.Process(room, 2, "thanks")
	assert.Equal(t, ActionBroadcast, out.Action)
}

func TestUnknownCommandRepliesWithError(t *testing.T) {
	h := NewHandler(WithClock(fixedClock()))
	room := newRoom(1, 2)

	out := h.Process(room, 2, "-dance")
	assert.Equal(t, ActionReply, out.Action)
	assert.True(t, out.IsError)
	assert.Contains(t, out.Text, "-dance")

	out = h.Process(room, 2, "-help")
	assert.Equal(t, HelpText, out.Text)
	assert.False(t, out.IsError)
}

func TestSenderOutsideRoom(t *testing.T) {
	h := NewHandler(WithClock(fixedClock()))
	out := h.Process(newRoom(1), 5, "hi")
	assert.True(t, out.IsError)
}

func TestChatRateLimit(t *testing.T) {
	h := NewHandler(
		WithClock(fixedClock()),
		WithRateLimit(RateLimitConfig{PerSecond: 1, Burst: 2, IdleExpiry: time.Minute}),
	)
	room := newRoom(1, 2)

	assert.Equal(t, ActionBroadcast, h.Process(room, 2, "a").Action)
	assert.Equal(t, ActionBroadcast, h.Process(room, 2, "b").Action)
	out := h.Process(room, 2, "c")
	assert.True(t, out.IsError)

	// other clients have their own bucket
	assert.Equal(t, ActionBroadcast, h.Process(room, 1, "a").Action)

	h.Forget(2)
	assert.Equal(t, ActionBroadcast, h.Process(room, 2, "d").Action)
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerSecond: 1, Burst: 1, IdleExpiry: time.Minute})
	start := time.Unix(1_700_000_000, 0)

	rl.Allow(1, start)
	rl.Allow(2, start.Add(50*time.Second))
	require.Equal(t, 2, rl.Len())

	assert.Equal(t, 1, rl.Sweep(start.Add(90*time.Second)))
	assert.Equal(t, 1, rl.Len())
}
