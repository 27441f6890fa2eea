// Package journal records lobby lifecycle events as newline-delimited JSON.
package journal

import (
	"time"

	"github.com/goccy/go-json"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindLobbyCreated Kind = "lobby_created"
	KindLobbyClosed  Kind = "lobby_closed"
	KindClientJoined Kind = "client_joined"
	KindClientLeft   Kind = "client_left"
	KindGameStarted  Kind = "game_started"
	KindGameEnded    Kind = "game_ended"
	KindClientKicked Kind = "client_kicked"
)

// Version is bumped when the entry schema changes.
const Version uint8 = 1

// Entry is one journal line.
type Entry struct {
	Version   uint8           `json:"version"`
	Kind      Kind            `json:"kind"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`
	Tick      uint64          `json:"tick"`
	Lobby     string          `json:"lobby"`
	Client    uint32          `json:"client,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Typed payloads

type JoinPayload struct {
	Spectator bool `json:"spectator"`
}

type GameStartPayload struct {
	Difficulty string `json:"difficulty"`
	Mode       string `json:"mode"`
	Players    int    `json:"players"`
}

type ScoreLine struct {
	Client uint32 `json:"client"`
	Points int    `json:"points"`
}

type GameEndPayload struct {
	Reason string      `json:"reason"`
	Scores []ScoreLine `json:"scores"`
}

type KickPayload struct {
	By uint32 `json:"by"`
}

// NewEntry stamps an entry with the current time. A payload that fails to
// encode is dropped from the entry.
func NewEntry(kind Kind, lobby string, client uint32, tick uint64, payload any) Entry {
	e := Entry{
		Version:   Version,
		Kind:      kind,
		Timestamp: time.Now().UnixNano(),
		Tick:      tick,
		Lobby:     lobby,
		Client:    client,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Payload = data
		}
	}
	return e
}
