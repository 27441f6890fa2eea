package server

import (
	"time"

	"rtype/internal/ecs"
	"rtype/internal/lobby"
)

// The server world holds no entities; its systems act on the lobby manager
// and the transport. They run in registration order: receive, simulation,
// send, housekeeping.

// ReceiveSystem drains the inbound queue and routes every message.
type ReceiveSystem struct {
	srv *Server
}

func (s *ReceiveSystem) Signature() ecs.Signature { return 0 }

func (s *ReceiveSystem) Update(_ *ecs.World, _ float64) {
	limit := s.srv.cfg.MaxPacketsPerTick
	for n := 0; limit <= 0 || n < limit; n++ {
		pkt, ok := s.srv.transport.Poll()
		if !ok {
			return
		}
		s.srv.handlePacket(pkt)
	}
}

// SimulationSystem advances every running lobby and closes those whose
// match ended this tick.
type SimulationSystem struct {
	srv *Server
}

func (s *SimulationSystem) Signature() ecs.Signature { return 0 }

func (s *SimulationSystem) Update(_ *ecs.World, dt float64) {
	for _, l := range s.srv.lobbies.Update(dt) {
		s.srv.closeLobby(l.Code(), l.EndReason())
	}
}

// SendSystem broadcasts snapshots of running lobbies on a wall-clock
// interval, independent of the tick rate.
type SendSystem struct {
	srv      *Server
	lastSent time.Time
	// previous network ids per lobby; a lobby recreated under an old code
	// starts from an empty set
	history map[*lobby.Lobby]map[uint32]struct{}
}

func newSendSystem(srv *Server) *SendSystem {
	return &SendSystem{srv: srv, history: make(map[*lobby.Lobby]map[uint32]struct{})}
}

func (s *SendSystem) Signature() ecs.Signature { return 0 }

func (s *SendSystem) Update(_ *ecs.World, _ float64) {
	now := s.srv.now()
	if !s.lastSent.IsZero() && now.Sub(s.lastSent) < s.srv.cfg.SnapshotInterval {
		return
	}
	s.lastSent = now

	live := make(map[*lobby.Lobby]struct{}, s.srv.lobbies.Len())
	for _, l := range s.srv.lobbies.Lobbies() {
		if l.State() != lobby.StateRunning || l.ClientCount() == 0 {
			continue
		}
		live[l] = struct{}{}
		s.sendLobby(l)
	}
	for l := range s.history {
		if _, ok := live[l]; !ok {
			delete(s.history, l)
		}
	}
}

func (s *SendSystem) sendLobby(l *lobby.Lobby) {
	states, current := CaptureEntities(l.World())
	destroyed := Destroyed(s.history[l], current)
	s.history[l] = current

	packets, err := EncodeSnapshot(l.World().Tick(), states, destroyed, s.srv.cfg.MaxSnapshotBytes)
	if err != nil {
		s.srv.log.Error().Err(err).Str("lobby", l.Code()).Msg("encode snapshot")
		return
	}
	for _, client := range l.Clients() {
		for _, p := range packets {
			if err := s.srv.transport.Send(client, p); err != nil {
				s.srv.sendErrors.Add(1)
				s.srv.log.Debug().Err(err).Uint32("client", client).Msg("snapshot send")
				continue
			}
			s.srv.snapshots.Add(1)
			s.srv.snapshotBytes.Add(uint64(len(p)))
			s.srv.obs.SnapshotSent(len(p))
		}
	}
}

// Tracked reports whether the send system holds id history for a lobby
// named code.
func (s *SendSystem) Tracked(code string) bool {
	for l := range s.history {
		if l.Code() == code {
			return true
		}
	}
	return false
}

func (s *SendSystem) forget(l *lobby.Lobby) {
	delete(s.history, l)
}

// HousekeepingSystem publishes lobby summaries and sweeps empty lobbies.
type HousekeepingSystem struct {
	srv         *Server
	lastSummary time.Time
	lastCleanup time.Time
}

func (s *HousekeepingSystem) Signature() ecs.Signature { return 0 }

func (s *HousekeepingSystem) Update(_ *ecs.World, _ float64) {
	now := s.srv.now()
	if s.lastCleanup.IsZero() {
		s.lastCleanup = now
	}
	if now.Sub(s.lastCleanup) >= s.srv.cfg.CleanupInterval {
		s.lastCleanup = now
		if n := s.srv.lobbies.CleanupEmptyLobbies(); n > 0 {
			s.srv.log.Debug().Int("removed", n).Msg("empty lobbies cleaned up")
		}
		s.srv.chat.Sweep()
	}
	if s.lastSummary.IsZero() || now.Sub(s.lastSummary) >= s.srv.cfg.SummaryInterval {
		s.lastSummary = now
		s.srv.lobbies.PublishSummaries()
		s.srv.obs.Lobbies(s.srv.lobbies.Len(), s.srv.lobbies.ClientCount())
	}
}
