// Package server runs the authoritative tick loop. A server-level ecs.World
// hosts the network systems (receive, lobby simulation, send, housekeeping)
// so that packet handling, simulation and snapshots follow one durable order
// every tick.
package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"rtype/internal/chat"
	"rtype/internal/ecs"
	"rtype/internal/lobby"
	"rtype/internal/network"
)

var (
	ErrStopped       = eris.New("server stopped")
	ErrCommandsFull  = eris.New("command queue full")
	ErrClientUnknown = eris.New("client not in a lobby")
)

// Transport is the part of network.Transport the server drives.
type Transport interface {
	Poll() (network.Packet, bool)
	Send(client uint32, payload []byte) error
}

// Config tunes the tick loop.
type Config struct {
	TickRate          int           // simulation ticks per second
	SnapshotInterval  time.Duration // wall-clock spacing of snapshots
	SummaryInterval   time.Duration // how often lobby summaries are published
	CleanupInterval   time.Duration // how often empty lobbies are swept
	MaxSnapshotBytes  int           // per datagram, envelope included
	MaxPacketsPerTick int           // 0 drains the whole queue
	CommandBuffer     int
}

func DefaultConfig() Config {
	return Config{
		TickRate:          60,
		SnapshotInterval:  50 * time.Millisecond,
		SummaryInterval:   250 * time.Millisecond,
		CleanupInterval:   5 * time.Second,
		MaxSnapshotBytes:  network.MaxDatagram,
		MaxPacketsPerTick: 0,
		CommandBuffer:     64,
	}
}

// Observer receives per-tick measurements. Implementations must be cheap.
type Observer interface {
	ObserveTick(d time.Duration)
	MessageHandled(kind string)
	MessageRejected(reason string)
	SnapshotSent(bytes int)
	Lobbies(lobbies, clients int)
}

type nopObserver struct{}

func (nopObserver) ObserveTick(time.Duration) {}
func (nopObserver) MessageHandled(string)     {}
func (nopObserver) MessageRejected(string)    {}
func (nopObserver) SnapshotSent(int)          {}
func (nopObserver) Lobbies(int, int)          {}

// Stats are cumulative server counters, safe to read from any goroutine.
type Stats struct {
	Ticks         uint64 `json:"ticks"`
	Messages      uint64 `json:"messages"`
	Malformed     uint64 `json:"malformed"`
	Snapshots     uint64 `json:"snapshots"`
	SnapshotBytes uint64 `json:"snapshotBytes"`
	SendErrors    uint64 `json:"sendErrors"`
}

// Server owns the lobby manager and the server world. Everything except
// Post, Do, Stats and Lobbies().Summaries runs on the tick goroutine.
type Server struct {
	cfg       Config
	transport Transport
	lobbies   *lobby.Manager
	chat      *chat.Handler
	world     *ecs.World

	log      zerolog.Logger
	now      func() time.Time
	obs      Observer
	commands chan func(*Server)
	running  atomic.Bool

	ticks         atomic.Uint64
	messages      atomic.Uint64
	malformed     atomic.Uint64
	snapshots     atomic.Uint64
	snapshotBytes atomic.Uint64
	sendErrors    atomic.Uint64
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithClock replaces time.Now for snapshot pacing and housekeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func WithObserver(o Observer) Option {
	return func(s *Server) { s.obs = o }
}

func WithChat(h *chat.Handler) Option {
	return func(s *Server) { s.chat = h }
}

// New builds a server and registers its systems.
func New(cfg Config, t Transport, lobbies *lobby.Manager, opts ...Option) (*Server, error) {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultConfig().TickRate
	}
	if cfg.MaxSnapshotBytes <= 0 || cfg.MaxSnapshotBytes > network.MaxDatagram {
		cfg.MaxSnapshotBytes = network.MaxDatagram
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = DefaultConfig().CommandBuffer
	}
	s := &Server{
		cfg:       cfg,
		transport: t,
		lobbies:   lobbies,
		log:       zerolog.Nop(),
		now:       time.Now,
		obs:       nopObserver{},
		commands:  make(chan func(*Server), cfg.CommandBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chat == nil {
		s.chat = chat.NewHandler(chat.WithLogger(s.log), chat.WithClock(s.now))
	}
	s.world = ecs.NewWorld(ecs.WithMaxEntities(1), ecs.WithLogger(s.log))
	if err := s.registerSystems(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) registerSystems() error {
	if _, err := ecs.RegisterSystem(s.world, func() *ReceiveSystem { return &ReceiveSystem{srv: s} }); err != nil {
		return eris.Wrap(err, "register receive system")
	}
	if _, err := ecs.RegisterSystem(s.world, func() *SimulationSystem { return &SimulationSystem{srv: s} }); err != nil {
		return eris.Wrap(err, "register simulation system")
	}
	if _, err := ecs.RegisterSystem(s.world, func() *SendSystem { return newSendSystem(s) }); err != nil {
		return eris.Wrap(err, "register send system")
	}
	if _, err := ecs.RegisterSystem(s.world, func() *HousekeepingSystem { return &HousekeepingSystem{srv: s} }); err != nil {
		return eris.Wrap(err, "register housekeeping system")
	}
	return nil
}

func (s *Server) Config() Config          { return s.cfg }
func (s *Server) Lobbies() *lobby.Manager { return s.lobbies }
func (s *Server) World() *ecs.World       { return s.world }
func (s *Server) TickInterval() time.Duration {
	return time.Second / time.Duration(s.cfg.TickRate)
}

// Step runs one tick: queued commands first, then every server system.
func (s *Server) Step(dt float64) {
	start := time.Now()
	s.drainCommands()
	s.world.Update(dt)
	s.ticks.Add(1)
	s.obs.ObserveTick(time.Since(start))
}

// Run paces Step to the tick rate until ctx is cancelled. dt is measured,
// capped at four tick intervals after a stall.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return eris.New("server already running")
	}
	defer s.running.Store(false)

	interval := s.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Int("tickRate", s.cfg.TickRate).Dur("snapshotInterval", s.cfg.SnapshotInterval).Msg("tick loop started")
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			s.log.Info().Uint64("ticks", s.ticks.Load()).Msg("tick loop stopped")
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last)
			if dt > 4*interval {
				dt = 4 * interval
			}
			last = now
			s.Step(dt.Seconds())
		}
	}
}

func (s *Server) shutdown() {
	for _, l := range s.lobbies.Lobbies() {
		s.closeLobby(l.Code(), "server_shutdown")
	}
	s.lobbies.PublishSummaries()
	s.world.Clear()
}

// Post queues fn to run on the tick goroutine before the next tick. It
// never blocks.
func (s *Server) Post(fn func(*Server)) error {
	select {
	case s.commands <- fn:
		return nil
	default:
		return ErrCommandsFull
	}
}

// Do runs fn on the tick goroutine and waits for its error.
func (s *Server) Do(ctx context.Context, fn func(*Server) error) error {
	done := make(chan error, 1)
	if err := s.Post(func(s *Server) { done <- fn(s) }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "waiting for tick")
	}
}

func (s *Server) drainCommands() {
	for {
		select {
		case fn := <-s.commands:
			fn(s)
		default:
			return
		}
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		Ticks:         s.ticks.Load(),
		Messages:      s.messages.Load(),
		Malformed:     s.malformed.Load(),
		Snapshots:     s.snapshots.Load(),
		SnapshotBytes: s.snapshotBytes.Load(),
		SendErrors:    s.sendErrors.Load(),
	}
}

// CloseLobby tells every client in code that the lobby closed and tears it
// down. Tick goroutine only.
func (s *Server) CloseLobby(code, reason string) error {
	if _, ok := s.lobbies.Get(code); !ok {
		return eris.Wrap(lobby.ErrLobbyNotFound, code)
	}
	s.closeLobby(code, reason)
	return nil
}

// KickClient removes client from its lobby on behalf of by (0 for an
// operator). Tick goroutine only.
func (s *Server) KickClient(client, by uint32) error {
	code, err := s.lobbies.Kick(client, by)
	if err != nil {
		return eris.Wrapf(ErrClientUnknown, "client %d", client)
	}
	s.chat.Forget(client)
	s.send(client, network.NewPlayerKicked(code, by))
	if l, ok := s.lobbies.Get(code); ok {
		s.broadcast(l, systemMessage(sprintKicked(client)))
	}
	return nil
}
