package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtype/internal/game"
	"rtype/internal/lobby"
	"rtype/internal/network"
)

// TestLoopbackMatch runs the real UDP transport and tick loop: a client
// creates a lobby, starts it, survives sending a truncated envelope and
// receives snapshots containing its own ship.
func TestLoopbackMatch(t *testing.T) {
	require.NoError(t, game.RegisterComponents())

	ncfg := network.DefaultConfig()
	ncfg.Addr = "127.0.0.1:0"
	tr := network.NewTransport(ncfg)
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { _ = tr.Stop() })

	srv, err := New(DefaultConfig(), tr, lobby.NewManager(lobby.DefaultManagerConfig()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c, err := network.Dial(tr.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(network.RequestLobby{
		Type: network.TypeRequestLobby, Action: network.ActionCreate, LobbyCode: "E2E1", Difficulty: "easy",
	}))
	in, err := c.Await(network.TypeLobbyResponse, 2*time.Second)
	require.NoError(t, err)
	var resp network.LobbyResponse
	require.NoError(t, in.Decode(&resp))
	assert.Equal(t, network.ResponseCreated, resp.ResponseType)
	assert.Equal(t, "E2E1", resp.LobbyCode)

	good, err := network.Marshal(network.Command{Type: network.TypeStartGame})
	require.NoError(t, err)
	require.NoError(t, c.SendRaw(good[:3]))
	require.NoError(t, c.SendRaw(good))

	in, err = c.Await(network.TypeLobbyResponse, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, in.Decode(&resp))
	assert.Equal(t, network.ResponseStarted, resp.ResponseType)
	assert.GreaterOrEqual(t, srv.Stats().Malformed, uint64(1))

	require.NoError(t, c.Send(network.PlayerInput{Type: network.TypePlayerInput, Right: true}))
	in, err = c.Await(network.TypeSnapshot, 2*time.Second)
	require.NoError(t, err)
	var snap network.Snapshot
	require.NoError(t, in.Decode(&snap))

	var mine bool
	for _, e := range snap.Entities {
		if e.OwnerClient != nil && *e.OwnerClient == resp.ClientID && e.Health != nil {
			mine = true
			assert.Equal(t, game.PlayerHPForDifficulty(game.DifficultyEasy), e.Health.MaxHP)
		}
	}
	assert.True(t, mine, "own ship missing from snapshot")
}
