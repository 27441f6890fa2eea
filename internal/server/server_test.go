package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtype/internal/ecs"
	"rtype/internal/game"
	"rtype/internal/lobby"
	"rtype/internal/network"
)

const dt = 1.0 / 60

type fakeTransport struct {
	inbox []network.Packet
	sent  map[uint32][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[uint32][][]byte)}
}

func (f *fakeTransport) Poll() (network.Packet, bool) {
	if len(f.inbox) == 0 {
		return network.Packet{}, false
	}
	p := f.inbox[0]
	f.inbox = f.inbox[1:]
	return p, true
}

func (f *fakeTransport) Send(client uint32, payload []byte) error {
	f.sent[client] = append(f.sent[client], payload)
	return nil
}

func (f *fakeTransport) push(t *testing.T, client uint32, v any) {
	t.Helper()
	buf, err := network.Marshal(v)
	require.NoError(t, err)
	f.inbox = append(f.inbox, network.Packet{ClientID: client, Payload: buf})
}

// take returns and forgets every message sent to client so far.
func (f *fakeTransport) take(t *testing.T, client uint32) []network.Inbound {
	t.Helper()
	var out []network.Inbound
	for _, buf := range f.sent[client] {
		in, err := network.Unmarshal(buf)
		require.NoError(t, err)
		out = append(out, in)
	}
	delete(f.sent, client)
	return out
}

func ofType(msgs []network.Inbound, typ string) []network.Inbound {
	var out []network.Inbound
	for _, m := range msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	srv   *Server
	tr    *fakeTransport
	clock *manualClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	require.NoError(t, game.RegisterComponents())

	mcfg := lobby.DefaultManagerConfig()
	mcfg.Defaults.Game.Seed = 7
	tr := newFakeTransport()
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	cfg := DefaultConfig()
	cfg.SnapshotInterval = 0
	srv, err := New(cfg, tr, lobby.NewManager(mcfg), WithClock(clock.Now))
	require.NoError(t, err)
	return &harness{srv: srv, tr: tr, clock: clock}
}

func (h *harness) step() {
	h.clock.Advance(time.Second / 60)
	h.srv.Step(dt)
}

func (h *harness) create(t *testing.T, client uint32, code string, spectator bool) {
	t.Helper()
	h.tr.push(t, client, network.RequestLobby{
		Type: network.TypeRequestLobby, Action: network.ActionCreate, LobbyCode: code, Spectator: spectator,
	})
}

func (h *harness) join(t *testing.T, client uint32, code string, spectator bool) {
	t.Helper()
	h.tr.push(t, client, network.RequestLobby{
		Type: network.TypeRequestLobby, Action: network.ActionJoin, LobbyCode: code, Spectator: spectator,
	})
}

func (h *harness) command(t *testing.T, client uint32, typ string) {
	t.Helper()
	h.tr.push(t, client, network.Command{Type: typ})
}

func lastSnapshot(t *testing.T, msgs []network.Inbound) network.Snapshot {
	t.Helper()
	snaps := ofType(msgs, network.TypeSnapshot)
	require.NotEmpty(t, snaps)
	var snap network.Snapshot
	require.NoError(t, snaps[len(snaps)-1].Decode(&snap))
	return snap
}

func TestSystemOrder(t *testing.T) {
	h := newHarness(t)
	systems := h.srv.World().Systems().Systems()
	require.Len(t, systems, 4)
	assert.IsType(t, &ReceiveSystem{}, systems[0])
	assert.IsType(t, &SimulationSystem{}, systems[1])
	assert.IsType(t, &SendSystem{}, systems[2])
	assert.IsType(t, &HousekeepingSystem{}, systems[3])
}

func TestCreateJoinStartOverTheWire(t *testing.T) {
	h := newHarness(t)

	h.tr.push(t, 7, network.RequestLobby{
		Type: network.TypeRequestLobby, Action: network.ActionCreate, LobbyCode: "ab12", Difficulty: "MEDIUM",
	})
	h.join(t, 8, "AB12", true)
	h.step()

	var resp network.LobbyResponse
	created := ofType(h.tr.take(t, 7), network.TypeLobbyResponse)
	require.Len(t, created, 1)
	require.NoError(t, created[0].Decode(&resp))
	assert.Equal(t, network.ResponseCreated, resp.ResponseType)
	assert.Equal(t, "AB12", resp.LobbyCode)
	assert.Equal(t, uint32(7), resp.ClientID)
	assert.Equal(t, "MEDIUM", resp.Difficulty)

	joined := ofType(h.tr.take(t, 8), network.TypeLobbyResponse)
	require.Len(t, joined, 1)
	require.NoError(t, joined[0].Decode(&resp))
	assert.Equal(t, network.ResponseJoined, resp.ResponseType)
	assert.True(t, resp.Spectator)

	l, ok := h.srv.Lobbies().Get("AB12")
	require.True(t, ok)
	assert.Equal(t, 1, l.PlayerCount())
	assert.Equal(t, 2, l.ClientCount())

	h.command(t, 8, network.TypeStartGame)
	h.step()
	assert.Equal(t, lobby.StateRunning, l.State())

	for _, client := range []uint32{7, 8} {
		msgs := h.tr.take(t, client)
		assert.Len(t, ofType(msgs, network.TypeLobbyResponse), 1, "client %d", client)
		snap := lastSnapshot(t, msgs)
		var ships []network.EntityState
		for _, e := range snap.Entities {
			if e.Health != nil {
				ships = append(ships, e)
			}
		}
		require.Len(t, ships, 1)
		assert.Equal(t, game.PlayerHPForDifficulty(game.DifficultyMedium), ships[0].Health.HP)
		require.NotNil(t, ships[0].OwnerClient)
		assert.Equal(t, uint32(7), *ships[0].OwnerClient)
	}
}

func TestMalformedPacketDoesNotStopProcessing(t *testing.T) {
	h := newHarness(t)

	buf, err := network.Marshal(network.Command{Type: network.TypeStartGame})
	require.NoError(t, err)
	h.tr.inbox = append(h.tr.inbox, network.Packet{ClientID: 3, Payload: buf[:len(buf)-2]})
	h.tr.inbox = append(h.tr.inbox, network.Packet{ClientID: 3, Payload: []byte("not an envelope")})
	h.create(t, 3, "ZZ99", false)
	h.step()

	assert.Equal(t, uint64(2), h.srv.Stats().Malformed)
	_, ok := h.srv.Lobbies().Get("ZZ99")
	assert.True(t, ok)
	assert.Len(t, ofType(h.tr.take(t, 3), network.TypeLobbyResponse), 1)
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	h := newHarness(t)
	h.tr.push(t, 3, network.Command{Type: "teleport"})
	h.step()

	assert.Empty(t, h.tr.take(t, 3))
	assert.Equal(t, uint64(1), h.srv.Stats().Messages)
}

func TestJoinUnknownLobbyRepliesError(t *testing.T) {
	h := newHarness(t)
	h.join(t, 4, "NOPE", false)
	h.step()

	errs := ofType(h.tr.take(t, 4), network.TypeError)
	require.Len(t, errs, 1)
	var msg network.Error
	require.NoError(t, errs[0].Decode(&msg))
	assert.Equal(t, "Lobby not found", msg.Error)
}

func TestCreateWithoutCodeGeneratesOne(t *testing.T) {
	h := newHarness(t)
	h.create(t, 1, "", false)
	h.step()

	msgs := ofType(h.tr.take(t, 1), network.TypeLobbyResponse)
	require.Len(t, msgs, 1)
	var resp network.LobbyResponse
	require.NoError(t, msgs[0].Decode(&resp))
	assert.Len(t, resp.LobbyCode, lobby.DefaultCodeLength)
	_, ok := h.srv.Lobbies().Get(resp.LobbyCode)
	assert.True(t, ok)
}

func TestKickCommandRemovesTarget(t *testing.T) {
	h := newHarness(t)
	h.create(t, 1, "KICK", false)
	h.join(t, 42, "KICK", false)
	h.command(t, 1, network.TypeStartGame)
	h.step()

	l, ok := h.srv.Lobbies().Get("KICK")
	require.True(t, ok)
	_, hasShip := l.PlayerEntity(42)
	require.True(t, hasShip)
	h.tr.take(t, 1)
	h.tr.take(t, 42)

	h.tr.push(t, 1, network.Chat{Type: network.TypeChat, Content: "-kick 42", Sender: "host"})
	h.step()

	kicked := ofType(h.tr.take(t, 42), network.TypePlayerKicked)
	require.Len(t, kicked, 1)
	var msg network.PlayerKicked
	require.NoError(t, kicked[0].Decode(&msg))
	assert.Equal(t, "KICK", msg.LobbyCode)
	assert.Equal(t, uint32(1), msg.By)

	assert.False(t, l.Has(42))
	_, hasShip = l.PlayerEntity(42)
	assert.False(t, hasShip)
	assert.Len(t, ofType(h.tr.take(t, 1), network.TypeChatBroadcast), 1)
}

func TestChatBroadcastStaysInLobby(t *testing.T) {
	h := newHarness(t)
	h.create(t, 1, "AAAA", false)
	h.join(t, 2, "AAAA", false)
	h.create(t, 3, "BBBB", false)
	h.step()
	for _, c := range []uint32{1, 2, 3} {
		h.tr.take(t, c)
	}

	h.tr.push(t, 2, network.Chat{Type: network.TypeChat, Content: "hello", Sender: "two", SenderID: 99})
	h.step()

	for _, c := range []uint32{1, 2} {
		msgs := ofType(h.tr.take(t, c), network.TypeChatBroadcast)
		require.Len(t, msgs, 1)
		var cb network.ChatBroadcast
		require.NoError(t, msgs[0].Decode(&cb))
		assert.Equal(t, "hello", cb.Content)
		assert.Equal(t, "two", cb.Sender)
		assert.Equal(t, uint32(2), cb.SenderID)
	}
	assert.Empty(t, h.tr.take(t, 3))
}

func TestUnknownChatCommandRepliesToSenderOnly(t *testing.T) {
	h := newHarness(t)
	h.create(t, 1, "CMDS", false)
	h.join(t, 2, "CMDS", false)
	h.step()
	h.tr.take(t, 1)
	h.tr.take(t, 2)

	h.tr.push(t, 2, network.Chat{Type: network.TypeChat, Content: "-fly"})
	h.step()

	msgs := ofType(h.tr.take(t, 2), network.TypeChatBroadcast)
	require.Len(t, msgs, 1)
	var cb network.ChatBroadcast
	require.NoError(t, msgs[0].Decode(&cb))
	assert.Equal(t, "SYSTEM", cb.Sender)
	assert.Empty(t, h.tr.take(t, 1))
	_, ok := h.srv.Lobbies().LobbyOf(2)
	assert.True(t, ok)
}

func TestSnapshotsIsolatedPerLobby(t *testing.T) {
	h := newHarness(t)
	h.create(t, 1, "AAAA", false)
	h.create(t, 2, "BBBB", false)
	h.command(t, 1, network.TypeStartGame)
	h.command(t, 2, network.TypeStartGame)
	h.step()
	h.step()

	for _, client := range []uint32{1, 2} {
		l, ok := h.srv.Lobbies().LobbyOf(client)
		require.True(t, ok)
		snap := lastSnapshot(t, h.tr.take(t, client))
		states, _ := CaptureEntities(l.World())
		assert.Equal(t, states, snap.Entities)
		for _, e := range snap.Entities {
			if e.OwnerClient != nil {
				assert.Equal(t, client, *e.OwnerClient)
			}
		}
	}
}

func TestSnapshotReportsDestroyedIDs(t *testing.T) {
	h := newHarness(t)
	h.create(t, 1, "DIFF", false)
	h.command(t, 1, network.TypeStartGame)
	h.step()
	h.tr.take(t, 1)

	l, _ := h.srv.Lobbies().Get("DIFF")
	w := l.World()
	drones := ecs.Components[game.Follower](w).Entities()
	require.Len(t, drones, 1)
	drone := drones[0]
	nid, err := ecs.GetComponent[game.NetworkID](w, drone)
	require.NoError(t, err)
	droneID := nid.ID
	w.DestroyEntity(drone)

	h.step()
	snap := lastSnapshot(t, h.tr.take(t, 1))
	assert.Contains(t, snap.Destroyed, droneID)
	for _, e := range snap.Entities {
		assert.NotContains(t, snap.Destroyed, e.ID)
	}
}

func TestSnapshotInterval(t *testing.T) {
	h := newHarness(t)
	h.srv.cfg.SnapshotInterval = 100 * time.Millisecond
	h.create(t, 1, "SLOW", false)
	h.command(t, 1, network.TypeStartGame)
	h.step()
	require.Len(t, ofType(h.tr.take(t, 1), network.TypeSnapshot), 1)

	h.step() // ~17ms later
	assert.Empty(t, ofType(h.tr.take(t, 1), network.TypeSnapshot))

	h.clock.Advance(100 * time.Millisecond)
	h.step()
	assert.Len(t, ofType(h.tr.take(t, 1), network.TypeSnapshot), 1)
}

func TestIdleLobbyHistoryEvicted(t *testing.T) {
	h := newHarness(t)
	h.create(t, 1, "GONE", false)
	h.command(t, 1, network.TypeStartGame)
	h.step()

	send, ok := ecs.GetSystem[*SendSystem](h.srv.World())
	require.True(t, ok)
	require.True(t, send.Tracked("GONE"))

	h.command(t, 1, network.TypeLeaveLobby)
	h.step()
	assert.False(t, send.Tracked("GONE"))
	_, exists := h.srv.Lobbies().Get("GONE")
	assert.False(t, exists)
}

// TestRecreatedLobbyStartsWithoutHistory closes a lobby and reopens the
// code before the next snapshot; the new lobby must not report the old
// lobby's ids as destroyed.
func TestRecreatedLobbyStartsWithoutHistory(t *testing.T) {
	h := newHarness(t)
	h.srv.cfg.SnapshotInterval = 100 * time.Millisecond
	h.create(t, 1, "SAME", false)
	h.join(t, 2, "SAME", false)
	h.command(t, 1, network.TypeStartGame)
	h.step()
	old := lastSnapshot(t, h.tr.take(t, 1))
	require.NotEmpty(t, old.Entities)

	send, ok := ecs.GetSystem[*SendSystem](h.srv.World())
	require.True(t, ok)
	require.True(t, send.Tracked("SAME"))
	require.NoError(t, h.srv.CloseLobby("SAME", "admin"))
	assert.False(t, send.Tracked("SAME"))

	h.create(t, 3, "SAME", false)
	h.command(t, 3, network.TypeStartGame)
	h.step()
	h.clock.Advance(100 * time.Millisecond)
	h.step()

	snaps := ofType(h.tr.take(t, 3), network.TypeSnapshot)
	require.NotEmpty(t, snaps)
	for _, in := range snaps {
		var snap network.Snapshot
		require.NoError(t, in.Decode(&snap))
		assert.Empty(t, snap.Destroyed)
	}
	assert.True(t, send.Tracked("SAME"))
}

func TestDisconnectedClientLeavesLobby(t *testing.T) {
	h := newHarness(t)
	h.create(t, 1, "DROP", false)
	h.join(t, 2, "DROP", false)
	h.command(t, 1, network.TypeStartGame)
	h.step()

	h.tr.inbox = append(h.tr.inbox, network.Packet{ClientID: 2, Disconnected: true})
	h.step()

	l, ok := h.srv.Lobbies().Get("DROP")
	require.True(t, ok)
	assert.False(t, l.Has(2))
	_, hasShip := l.PlayerEntity(2)
	assert.False(t, hasShip)
	assert.Equal(t, lobby.StateRunning, l.State())
}

func TestSetDifficultyOnlyBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.create(t, 1, "DIFF", false)
	h.tr.push(t, 1, network.SetDifficulty{Type: network.TypeSetDifficulty, Difficulty: "hard"})
	h.step()

	l, _ := h.srv.Lobbies().Get("DIFF")
	assert.Equal(t, game.DifficultyHard, l.Settings().Difficulty)
	h.tr.take(t, 1)

	h.command(t, 1, network.TypeStartGame)
	h.tr.push(t, 1, network.SetDifficulty{Type: network.TypeSetDifficulty, Difficulty: "easy"})
	h.step()

	assert.Equal(t, game.DifficultyHard, l.Settings().Difficulty)
	assert.Len(t, ofType(h.tr.take(t, 1), network.TypeError), 1)
}

func TestToggleSpectatorResponse(t *testing.T) {
	h := newHarness(t)
	h.create(t, 1, "TOGL", false)
	h.command(t, 1, network.TypeToggleSpectator)
	h.step()

	msgs := ofType(h.tr.take(t, 1), network.TypeLobbyResponse)
	require.Len(t, msgs, 2)
	var resp network.LobbyResponse
	require.NoError(t, msgs[1].Decode(&resp))
	assert.Equal(t, network.ResponseSpectator, resp.ResponseType)
	assert.True(t, resp.Spectator)
}

func TestCloseLobbySendsScores(t *testing.T) {
	h := newHarness(t)
	h.create(t, 1, "SHUT", false)
	h.command(t, 1, network.TypeStartGame)
	h.step()
	h.tr.take(t, 1)

	require.NoError(t, h.srv.Post(func(s *Server) {
		assert.NoError(t, s.CloseLobby("SHUT", "operator"))
	}))
	h.step()

	closed := ofType(h.tr.take(t, 1), network.TypeLobbyClosed)
	require.Len(t, closed, 1)
	var msg network.LobbyClosed
	require.NoError(t, closed[0].Decode(&msg))
	assert.Equal(t, "operator", msg.Reason)
	require.Len(t, msg.Scores, 1)
	assert.Equal(t, uint32(1), msg.Scores[0].Client)

	_, ok := h.srv.Lobbies().Get("SHUT")
	assert.False(t, ok)
	_, ok = h.srv.Lobbies().LobbyOf(1)
	assert.False(t, ok)
}

func TestKickClientUnknown(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.srv.KickClient(5, 0), ErrClientUnknown)
}

func TestDoRunsOnTick(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.srv.Do(ctx, func(s *Server) error {
			_, err := s.Lobbies().Create("POST", s.Lobbies().Defaults())
			return err
		})
	}()
	require.Eventually(t, func() bool {
		h.srv.Step(dt)
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)

	h.srv.Lobbies().PublishSummaries()
	_, ok := h.srv.Lobbies().FindSummary("POST")
	assert.True(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.srv.cfg.TickRate = 200
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.srv.Run(ctx) }()
	require.Eventually(t, func() bool { return h.srv.Stats().Ticks > 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
