package api

import (
	"context"
	"time"

	"rtype/internal/lobby"
	"rtype/internal/network"
	"rtype/internal/server"
)

// Backend is what the HTTP layer needs from the game server. Reads come
// from published snapshots; mutations are executed on the tick goroutine.
type Backend interface {
	Summaries() []lobby.Summary
	FindSummary(code string) (lobby.Summary, bool)
	Stats() Stats
	CloseLobby(ctx context.Context, code string) error
	KickClient(ctx context.Context, client uint32) error
}

// Stats is the /api/stats payload.
type Stats struct {
	Uptime    string        `json:"uptime"`
	Lobbies   int           `json:"lobbies"`
	Clients   int           `json:"clients"`
	Server    server.Stats  `json:"server"`
	Transport network.Stats `json:"transport"`
}

// StatsSource reports transport counters; *network.Transport implements it.
type StatsSource interface {
	Stats() network.Stats
}

// GameBackend adapts a running *server.Server.
type GameBackend struct {
	srv       *server.Server
	transport StatsSource
	started   time.Time
}

func NewGameBackend(srv *server.Server, transport StatsSource) *GameBackend {
	return &GameBackend{srv: srv, transport: transport, started: time.Now()}
}

func (b *GameBackend) Summaries() []lobby.Summary {
	return b.srv.Lobbies().Summaries()
}

func (b *GameBackend) FindSummary(code string) (lobby.Summary, bool) {
	return b.srv.Lobbies().FindSummary(code)
}

func (b *GameBackend) Stats() Stats {
	summaries := b.Summaries()
	clients := 0
	for _, s := range summaries {
		clients += len(s.Clients)
	}
	st := Stats{
		Uptime:  time.Since(b.started).Round(time.Second).String(),
		Lobbies: len(summaries),
		Clients: clients,
		Server:  b.srv.Stats(),
	}
	if b.transport != nil {
		st.Transport = b.transport.Stats()
	}
	return st
}

func (b *GameBackend) CloseLobby(ctx context.Context, code string) error {
	return b.srv.Do(ctx, func(s *server.Server) error {
		return s.CloseLobby(code, "closed_by_admin")
	})
}

func (b *GameBackend) KickClient(ctx context.Context, client uint32) error {
	return b.srv.Do(ctx, func(s *server.Server) error {
		return s.KickClient(client, 0)
	})
}
