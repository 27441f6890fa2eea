package lobby

import "time"

// Summary is an immutable view of a lobby, safe to hand to other goroutines.
type Summary struct {
	Code       string       `json:"code"`
	State      string       `json:"state"`
	Difficulty string       `json:"difficulty"`
	Mode       string       `json:"mode"`
	AIStrength float64      `json:"aiStrength"`
	Host       uint32       `json:"host"`
	Clients    []uint32     `json:"clients"`
	Players    int          `json:"players"`
	Spectators int          `json:"spectators"`
	Alive      int          `json:"alive"`
	Entities   int          `json:"entities"`
	Tick       uint64       `json:"tick"`
	CreatedAt  time.Time    `json:"createdAt"`
	Scores     []ScoreEntry `json:"scores"`
}

// Summary captures the lobby's current state.
func (l *Lobby) Summary() Summary {
	players := l.PlayerCount()
	s := l.cfg.Game
	return Summary{
		Code:       l.code,
		State:      l.state.String(),
		Difficulty: s.Difficulty.String(),
		Mode:       s.Mode.String(),
		AIStrength: s.AIStrength,
		Host:       l.host,
		Clients:    l.Clients(),
		Players:    players,
		Spectators: len(l.order) - players,
		Alive:      len(l.players),
		Entities:   l.world.EntityCount(),
		Tick:       l.world.Tick(),
		CreatedAt:  l.createdAt,
		Scores:     l.Scores(),
	}
}
