package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtype/internal/network"
)

// replyingPeer answers the first datagram it sees with replies, in order.
func replyingPeer(t *testing.T, replies ...any) string {
	t.Helper()
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	bufs := make([][]byte, len(replies))
	for i, r := range replies {
		bufs[i], err = network.Marshal(r)
		require.NoError(t, err)
	}
	go func() {
		buf := make([]byte, 2048)
		_, from, err := pc.ReadFromUDP(buf)
		if err != nil {
			return
		}
		for _, b := range bufs {
			if _, err := pc.WriteToUDP(b, from); err != nil {
				return
			}
		}
	}()
	return pc.LocalAddr().String()
}

func dialPeer(t *testing.T, addr string) *network.Client {
	t.Helper()
	conn, err := network.Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.Send(network.Command{Type: network.TypeLeaveLobby}))
	return conn
}

func TestAwaitLobby(t *testing.T) {
	created := network.NewLobbyResponse(network.ResponseCreated, "AB12")
	created.ClientID = 4

	tests := []struct {
		name    string
		reply   any
		code    string
		refused bool
	}{
		{"created", created, "AB12", false},
		{"refused", network.NewError("Lobby is full"), "", true},
		{"undecodable refusal", map[string]any{"type": network.TypeError, "error": 5}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &bot{log: zerolog.Nop()}
			conn := dialPeer(t, replyingPeer(t, tt.reply))

			code, err := b.awaitLobby(conn, network.ResponseCreated)
			if tt.refused {
				assert.ErrorIs(t, err, errLobbyRefused)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, uint32(4), b.client.Load())
		})
	}
}

// TestReceiveSkipsUndecodableMessages keeps reading past a bad error
// message and still stops on a lobby_closed it cannot decode.
func TestReceiveSkipsUndecodableMessages(t *testing.T) {
	b := &bot{log: zerolog.Nop()}
	conn := dialPeer(t, replyingPeer(t,
		map[string]any{"type": network.TypeError, "error": 5},
		network.NewChatBroadcast("server", "hi", 0),
		map[string]any{"type": network.TypeLobbyClosed, "scores": "none"},
	))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, b.receive(ctx, conn))
	assert.Equal(t, 1, b.result().Chat)
}
