// Package lobby isolates match sessions. Each Lobby owns one ecs.World and
// a client roster; the Manager routes clients to lobbies by code.
//
// Lobbies are not safe for concurrent use. They belong to the tick
// goroutine; other goroutines read the Summary snapshots the Manager
// publishes.
package lobby

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"rtype/internal/ecs"
	"rtype/internal/game"
	"rtype/internal/journal"
)

// Config is the per-lobby match configuration.
type Config struct {
	Game        game.Settings
	MaxClients  int // 0 means unlimited
	MaxEntities int
}

func DefaultConfig() Config {
	return Config{
		Game:        game.DefaultSettings(),
		MaxClients:  8,
		MaxEntities: ecs.DefaultMaxEntities,
	}
}

// Viewport is the client's reported screen size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Recorder receives lifecycle entries; *journal.Journal implements it.
type Recorder interface {
	Record(journal.Entry) bool
}

type member struct {
	spectator bool
	viewport  Viewport
	joinedAt  time.Time
}

// Lobby is one isolated match session.
type Lobby struct {
	code  string
	cfg   Config
	state State

	world *ecs.World
	arena *game.Arena
	subs  []*ecs.Subscription

	order   []uint32 // join order
	members map[uint32]*member
	players map[uint32]ecs.Entity
	scores  map[uint32]int
	muted   map[uint32]struct{}
	host    uint32

	rec       Recorder
	log       zerolog.Logger
	createdAt time.Time
	endReason string
}

// Option configures a Lobby.
type Option func(*Lobby)

func WithRecorder(r Recorder) Option {
	return func(l *Lobby) { l.rec = r }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Lobby) { l.log = logger }
}

// New creates a lobby in the Waiting state.
func New(code string, cfg Config, opts ...Option) *Lobby {
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = ecs.DefaultMaxEntities
	}
	l := &Lobby{
		code:      code,
		cfg:       cfg,
		state:     StateWaiting,
		members:   make(map[uint32]*member),
		players:   make(map[uint32]ecs.Entity),
		scores:    make(map[uint32]int),
		muted:     make(map[uint32]struct{}),
		log:       zerolog.Nop(),
		createdAt: time.Now(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With().Str("lobby", code).Logger()
	l.world = ecs.NewWorld(ecs.WithMaxEntities(cfg.MaxEntities), ecs.WithLogger(l.log))
	return l
}

func (l *Lobby) Code() string            { return l.code }
func (l *Lobby) State() State            { return l.state }
func (l *Lobby) Settings() game.Settings { return l.cfg.Game }
func (l *Lobby) World() *ecs.World       { return l.world }
func (l *Lobby) Host() uint32            { return l.host }
func (l *Lobby) CreatedAt() time.Time    { return l.createdAt }

// Arena returns the running match's arena, or nil before StartGame.
func (l *Lobby) Arena() *game.Arena { return l.arena }

// EndReason explains why the lobby reached Ended.
func (l *Lobby) EndReason() string { return l.endReason }

func (l *Lobby) record(kind journal.Kind, client uint32, payload any) {
	if l.rec == nil {
		return
	}
	l.rec.Record(journal.NewEntry(kind, l.code, client, l.world.Tick(), payload))
}

// Join adds client to the roster. Joining again only updates the
// spectator flag. Joining a running match as a player spawns a ship.
func (l *Lobby) Join(client uint32, spectator bool) error {
	if m, ok := l.members[client]; ok {
		if m.spectator != spectator {
			_, err := l.ToggleSpectator(client)
			return err
		}
		return nil
	}
	if err := l.admits(client); err != nil {
		return err
	}

	l.members[client] = &member{spectator: spectator, joinedAt: time.Now()}
	l.order = append(l.order, client)
	if l.host == game.NoClient {
		l.host = client
	}
	if l.state == StateRunning && !spectator {
		if err := l.spawnPlayer(client); err != nil {
			l.log.Warn().Err(err).Uint32("client", client).Msg("joined as player without a ship")
		}
	}
	l.record(journal.KindClientJoined, client, journal.JoinPayload{Spectator: spectator})
	l.log.Debug().Uint32("client", client).Bool("spectator", spectator).Msg("client joined")
	return nil
}

// admits reports why client could not join right now, if anything.
func (l *Lobby) admits(client uint32) error {
	if _, ok := l.members[client]; ok {
		return nil
	}
	if l.state == StateEnded {
		return eris.Wrap(ErrGameEnded, l.code)
	}
	if l.cfg.MaxClients > 0 && len(l.order) >= l.cfg.MaxClients {
		return eris.Wrapf(ErrLobbyFull, "%s has %d clients", l.code, len(l.order))
	}
	return nil
}

// Leave removes client and its ship. It reports whether client was present.
func (l *Lobby) Leave(client uint32) bool {
	if _, ok := l.members[client]; !ok {
		return false
	}
	l.destroyPlayer(client)
	delete(l.members, client)
	delete(l.muted, client)
	for i, c := range l.order {
		if c == client {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	if l.host == client {
		l.host = game.NoClient
		if len(l.order) > 0 {
			l.host = l.order[0]
		}
	}
	l.record(journal.KindClientLeft, client, nil)
	l.log.Debug().Uint32("client", client).Msg("client left")
	return true
}

// ToggleSpectator flips client between player and spectator and returns the
// new spectator flag. During a match only that client's ship is affected.
func (l *Lobby) ToggleSpectator(client uint32) (bool, error) {
	m, ok := l.members[client]
	if !ok {
		return false, eris.Wrapf(ErrNotInLobby, "client %d in %s", client, l.code)
	}
	m.spectator = !m.spectator
	if l.state == StateRunning {
		if m.spectator {
			l.destroyPlayer(client)
		} else if err := l.spawnPlayer(client); err != nil {
			m.spectator = true
			return true, err
		}
	}
	return m.spectator, nil
}

func (l *Lobby) spawnPlayer(client uint32) error {
	if _, ok := l.players[client]; ok {
		return nil
	}
	e, err := game.SpawnPlayer(l.world, l.arena, client, len(l.players))
	if err != nil {
		return eris.Wrapf(err, "spawn player %d", client)
	}
	l.players[client] = e
	return nil
}

func (l *Lobby) destroyPlayer(client uint32) {
	e, ok := l.players[client]
	if !ok {
		return
	}
	delete(l.players, client)
	game.DespawnPlayer(l.world, e)
}

// StartGame moves Waiting → Running: gameplay systems are registered on
// the lobby's world and one ship is spawned per player.
func (l *Lobby) StartGame() error {
	switch l.state {
	case StateRunning:
		return eris.Wrap(ErrAlreadyRunning, l.code)
	case StateEnded:
		return eris.Wrap(ErrGameEnded, l.code)
	}
	if l.PlayerCount() == 0 {
		return eris.Wrap(ErrNoPlayers, l.code)
	}

	l.arena = game.NewArena(l.cfg.Game)
	if err := game.RegisterSystems(l.world, l.arena); err != nil {
		l.world.Clear()
		return eris.Wrap(err, "register systems")
	}
	bus := l.world.Events()
	l.subs = append(l.subs,
		ecs.Subscribe(bus, l.onDeath),
		ecs.Subscribe(bus, l.onScore),
	)
	for _, client := range l.order {
		if l.members[client].spectator {
			continue
		}
		if err := l.spawnPlayer(client); err != nil {
			l.teardownWorld()
			return err
		}
	}

	l.state = StateRunning
	s := l.cfg.Game
	l.record(journal.KindGameStarted, game.NoClient, journal.GameStartPayload{
		Difficulty: s.Difficulty.String(),
		Mode:       s.Mode.String(),
		Players:    len(l.players),
	})
	l.log.Info().Int("players", len(l.players)).Stringer("difficulty", s.Difficulty).Msg("game started")
	return nil
}

func (l *Lobby) onDeath(ev game.DeathEvent) {
	if ev.Victim == game.NoClient {
		return
	}
	if e, ok := l.players[ev.Victim]; ok && e == ev.Entity {
		delete(l.players, ev.Victim)
		l.log.Debug().Uint32("client", ev.Victim).Msg("player died")
	}
}

func (l *Lobby) onScore(ev game.ScoreEvent) {
	l.scores[ev.ClientID] += ev.Points
}

// StopGame moves Running → Ended, destroying every player ship.
func (l *Lobby) StopGame() error {
	if l.state != StateRunning {
		return eris.Wrap(ErrNotRunning, l.code)
	}
	l.end("stopped")
	return nil
}

func (l *Lobby) end(reason string) {
	for client := range l.players {
		l.destroyPlayer(client)
	}
	l.teardownWorld()
	l.state = StateEnded
	l.endReason = reason

	scores := l.Scores()
	lines := make([]journal.ScoreLine, len(scores))
	for i, s := range scores {
		lines[i] = journal.ScoreLine{Client: s.Client, Points: s.Points}
	}
	l.record(journal.KindGameEnded, game.NoClient, journal.GameEndPayload{Reason: reason, Scores: lines})
	l.log.Info().Str("reason", reason).Msg("game ended")
}

func (l *Lobby) teardownWorld() {
	for _, sub := range l.subs {
		sub.Release()
	}
	l.subs = nil
	clear(l.players)
	l.world.Clear()
}

// Update advances a running match by dt. It returns true on the tick the
// match ends because no player ship is left.
func (l *Lobby) Update(dt float64) bool {
	if l.state != StateRunning {
		return false
	}
	l.world.Update(dt)
	if len(l.players) == 0 {
		l.end("all_players_dead")
		return true
	}
	return false
}

// SetDifficulty changes the difficulty before the match starts.
func (l *Lobby) SetDifficulty(d game.Difficulty) error {
	switch l.state {
	case StateRunning:
		return eris.Wrap(ErrAlreadyRunning, l.code)
	case StateEnded:
		return eris.Wrap(ErrGameEnded, l.code)
	}
	l.cfg.Game.Difficulty = d
	return nil
}

// ApplyInput forwards client's controls to its ship. Input from spectators
// and dead players is ignored.
func (l *Lobby) ApplyInput(client uint32, in game.Input) error {
	if _, ok := l.members[client]; !ok {
		return eris.Wrapf(ErrNotInLobby, "client %d in %s", client, l.code)
	}
	if l.state != StateRunning {
		return eris.Wrap(ErrNotRunning, l.code)
	}
	e, ok := l.players[client]
	if !ok {
		return nil
	}
	ecs.Emit(l.world.Events(), game.PlayerInputEvent{ClientID: client, Entity: e, Input: in})
	return nil
}

func (l *Lobby) SetViewport(client uint32, vp Viewport) error {
	m, ok := l.members[client]
	if !ok {
		return eris.Wrapf(ErrNotInLobby, "client %d in %s", client, l.code)
	}
	m.viewport = vp
	return nil
}

func (l *Lobby) Viewport(client uint32) (Viewport, bool) {
	m, ok := l.members[client]
	if !ok {
		return Viewport{}, false
	}
	return m.viewport, true
}

// PlayerCount is the number of non-spectator clients.
func (l *Lobby) PlayerCount() int {
	n := 0
	for _, m := range l.members {
		if !m.spectator {
			n++
		}
	}
	return n
}

func (l *Lobby) ClientCount() int { return len(l.order) }

// Clients returns the roster in join order.
func (l *Lobby) Clients() []uint32 {
	out := make([]uint32, len(l.order))
	copy(out, l.order)
	return out
}

func (l *Lobby) Has(client uint32) bool {
	_, ok := l.members[client]
	return ok
}

func (l *Lobby) IsSpectator(client uint32) bool {
	m, ok := l.members[client]
	return ok && m.spectator
}

// PlayerEntity returns client's live ship.
func (l *Lobby) PlayerEntity(client uint32) (ecs.Entity, bool) {
	e, ok := l.players[client]
	return e, ok
}

// LivePlayers is the number of ships currently in the world.
func (l *Lobby) LivePlayers() int { return len(l.players) }

func (l *Lobby) Mute(client uint32) error {
	if !l.Has(client) {
		return eris.Wrapf(ErrNotInLobby, "client %d in %s", client, l.code)
	}
	l.muted[client] = struct{}{}
	return nil
}

func (l *Lobby) Unmute(client uint32) {
	delete(l.muted, client)
}

func (l *Lobby) IsMuted(client uint32) bool {
	_, ok := l.muted[client]
	return ok
}

// ScoreEntry is one line of a scoreboard.
type ScoreEntry struct {
	Client uint32 `json:"client"`
	Points int    `json:"points"`
}

// Scores returns points per client, best first. Current players appear even
// with zero points; clients who left keep what they earned.
func (l *Lobby) Scores() []ScoreEntry {
	seen := make(map[uint32]struct{}, len(l.scores)+len(l.members))
	out := make([]ScoreEntry, 0, len(l.scores)+len(l.members))
	for client, pts := range l.scores {
		seen[client] = struct{}{}
		out = append(out, ScoreEntry{Client: client, Points: pts})
	}
	for _, client := range l.order {
		if _, ok := seen[client]; ok || l.members[client].spectator {
			continue
		}
		out = append(out, ScoreEntry{Client: client})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].Client < out[j].Client
	})
	return out
}

// Close tears the lobby down. The lobby is unusable afterwards.
func (l *Lobby) Close() {
	l.teardownWorld()
	l.state = StateEnded
	if l.endReason == "" {
		l.endReason = "closed"
	}
}
