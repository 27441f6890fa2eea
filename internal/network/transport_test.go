package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTransport(t *testing.T, cfg Config) *Transport {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	tr := NewTransport(cfg)
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { _ = tr.Stop() })
	return tr
}

func pollPacket(t *testing.T, tr *Transport) Packet {
	t.Helper()
	var pkt Packet
	require.Eventually(t, func() bool {
		var ok bool
		pkt, ok = tr.Poll()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return pkt
}

// TestTransportRegistersClientsAndReplies covers first-seen registration,
// stable ids per address and sends routed back to the sender.
func TestTransportRegistersClientsAndReplies(t *testing.T) {
	tr := startTransport(t, DefaultConfig())

	a, err := Dial(tr.Addr().String())
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(tr.Addr().String())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(Command{Type: TypeStartGame}))
	first := pollPacket(t, tr)
	require.NoError(t, b.Send(Command{Type: TypeLeaveLobby}))
	second := pollPacket(t, tr)
	require.NoError(t, a.Send(Command{Type: TypeToggleSpectator}))
	third := pollPacket(t, tr)

	assert.Equal(t, uint32(1), first.ClientID)
	assert.Equal(t, uint32(2), second.ClientID)
	assert.Equal(t, first.ClientID, third.ClientID)
	assert.Equal(t, 2, tr.ClientCount())

	in, err := Unmarshal(third.Payload)
	require.NoError(t, err)
	assert.Equal(t, TypeToggleSpectator, in.Type)

	reply, err := Marshal(NewError("nope"))
	require.NoError(t, err)
	require.NoError(t, tr.Send(first.ClientID, reply))

	got, err := a.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeError, got.Type)
	var msg Error
	require.NoError(t, got.Decode(&msg))
	assert.Equal(t, "nope", msg.Error)
}

// TestTransportSurvivesCorruptDatagram: garbage is delivered as a packet for
// the server to reject, and the next valid datagram still arrives.
func TestTransportSurvivesCorruptDatagram(t *testing.T) {
	tr := startTransport(t, DefaultConfig())
	c, err := Dial(tr.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	good, err := Marshal(Command{Type: TypeStartGame})
	require.NoError(t, err)
	require.NoError(t, c.SendRaw(good[:5]))
	require.NoError(t, c.SendRaw(good))

	bad := pollPacket(t, tr)
	_, ok := Decode(bad.Payload)
	assert.False(t, ok)

	next := pollPacket(t, tr)
	assert.Equal(t, bad.ClientID, next.ClientID)
	_, ok = Decode(next.Payload)
	assert.True(t, ok)
}

func TestTransportDropsSendToUnknownClient(t *testing.T) {
	tr := startTransport(t, DefaultConfig())
	require.NoError(t, tr.Send(77, []byte("x")))
	assert.Eventually(t, func() bool {
		return tr.Stats().UnknownClients == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, tr.Send(1, make([]byte, MaxDatagram+1)), ErrPayloadTooLarge)
}

func TestTransportRateLimitsPerClient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PacketRate = 1
	cfg.PacketBurst = 2
	tr := startTransport(t, cfg)
	c, err := Dial(tr.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	for range 6 {
		require.NoError(t, c.Send(Command{Type: TypeStartGame}))
	}
	assert.Eventually(t, func() bool {
		st := tr.Stats()
		return st.PacketsIn+st.RateLimited == 6
	}, 2*time.Second, 5*time.Millisecond)
	st := tr.Stats()
	assert.Equal(t, uint64(2), st.PacketsIn)
	assert.Equal(t, uint64(4), st.RateLimited)
}

// TestTransportEvictsIdleClients expects a Disconnected packet after the
// idle timeout and a fresh id when the address speaks again.
func TestTransportEvictsIdleClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	tr := startTransport(t, cfg)
	c, err := Dial(tr.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(Command{Type: TypeStartGame}))
	first := pollPacket(t, tr)

	gone := pollPacket(t, tr)
	assert.True(t, gone.Disconnected)
	assert.Equal(t, first.ClientID, gone.ClientID)
	assert.Equal(t, 0, tr.ClientCount())

	require.NoError(t, c.Send(Command{Type: TypeStartGame}))
	again := pollPacket(t, tr)
	assert.NotEqual(t, first.ClientID, again.ClientID)
}

func TestTransportStop(t *testing.T) {
	tr := NewTransport(Config{Addr: "127.0.0.1:0"})
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Stop())
	require.NoError(t, tr.Stop())
	assert.ErrorIs(t, tr.Send(1, []byte("x")), ErrTransportClosed)
}
