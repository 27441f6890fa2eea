package network

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// Message type discriminators.
const (
	// client → server
	TypePlayerInput     = "player_input"
	TypeViewport        = "viewport"
	TypeRequestLobby    = "request_lobby"
	TypeToggleSpectator = "toggle_spectator"
	TypeStartGame       = "start_game"
	TypeLeaveLobby      = "leave_lobby"
	TypeSetDifficulty   = "set_difficulty"
	TypeChat            = "chat"

	// server → client
	TypeLobbyResponse = "lobby_response"
	TypeError         = "error"
	TypeSnapshot      = "snapshot"
	TypeChatBroadcast = "chat_broadcast"
	TypeLobbyClosed   = "lobby_closed"
	TypePlayerKicked  = "player_kicked"
)

// request_lobby actions
const (
	ActionCreate = "create"
	ActionJoin   = "join"
)

// lobby_response response types
const (
	ResponseCreated    = "created"
	ResponseJoined     = "joined"
	ResponseLeft       = "left"
	ResponseSpectator  = "spectator"
	ResponsePlayer     = "player"
	ResponseStarted    = "started"
	ResponseDifficulty = "difficulty"
)

type PlayerInput struct {
	Type  string `json:"type"`
	Up    bool   `json:"up"`
	Down  bool   `json:"down"`
	Left  bool   `json:"left"`
	Right bool   `json:"right"`
	Shoot bool   `json:"shoot"`
}

type Viewport struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type RequestLobby struct {
	Type       string  `json:"type"`
	Action     string  `json:"action"`
	Difficulty string  `json:"difficulty,omitempty"`
	Mode       string  `json:"mode,omitempty"`
	AIStrength float64 `json:"ai_strength,omitempty"`
	Spectator  bool    `json:"spectator"`
	LobbyCode  string  `json:"lobby_code,omitempty"`
}

// Command is the shape of the payload-less requests
// (toggle_spectator, start_game, leave_lobby).
type Command struct {
	Type string `json:"type"`
}

type SetDifficulty struct {
	Type       string `json:"type"`
	Difficulty string `json:"difficulty"`
}

type Chat struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Sender   string `json:"sender"`
	SenderID uint32 `json:"senderId"`
}

type LobbyResponse struct {
	Type         string `json:"type"`
	ResponseType string `json:"response_type"`
	LobbyCode    string `json:"lobby_code"`
	ClientID     uint32 `json:"client_id,omitempty"`
	Spectator    bool   `json:"spectator"`
	Difficulty   string `json:"difficulty,omitempty"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type ChatBroadcast struct {
	Type     string `json:"type"`
	Sender   string `json:"sender"`
	Content  string `json:"content"`
	SenderID uint32 `json:"senderId"`
}

type ScoreLine struct {
	Client uint32 `json:"client"`
	Points int    `json:"points"`
}

type LobbyClosed struct {
	Type      string      `json:"type"`
	LobbyCode string      `json:"lobby_code"`
	Reason    string      `json:"reason"`
	Scores    []ScoreLine `json:"scores,omitempty"`
}

type PlayerKicked struct {
	Type      string `json:"type"`
	LobbyCode string `json:"lobby_code"`
	By        uint32 `json:"by,omitempty"`
}

// Snapshot carries one lobby's networked entities. Large snapshots are
// split; Destroyed rides on the first chunk only.
type Snapshot struct {
	Type      string        `json:"type"`
	Tick      uint64        `json:"tick"`
	Entities  []EntityState `json:"entities"`
	Destroyed []uint32      `json:"destroyed,omitempty"`
	Chunk     int           `json:"chunk,omitempty"`
	Chunks    int           `json:"chunks,omitempty"`
}

type TransformState struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
	Scale    float64 `json:"scale"`
}

type ColliderState struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type SpriteState struct {
	Name  string `json:"name"`
	Frame int    `json:"frame"`
}

type HealthState struct {
	HP    int `json:"hp"`
	MaxHP int `json:"maxHp"`
}

type ScoreState struct {
	Points int `json:"points"`
}

// EntityState is one snapshot record.
type EntityState struct {
	ID          uint32         `json:"id"`
	Transform   TransformState `json:"transform"`
	Collider    *ColliderState `json:"collider,omitempty"`
	Sprite      *SpriteState   `json:"sprite,omitempty"`
	Health      *HealthState   `json:"health,omitempty"`
	Score       *ScoreState    `json:"score,omitempty"`
	OwnerClient *uint32        `json:"owner_client,omitempty"`
}

// Constructors set the discriminator.

func NewError(msg string) Error {
	return Error{Type: TypeError, Error: msg}
}

func NewLobbyResponse(responseType, code string) LobbyResponse {
	return LobbyResponse{Type: TypeLobbyResponse, ResponseType: responseType, LobbyCode: code}
}

func NewChatBroadcast(sender, content string, senderID uint32) ChatBroadcast {
	return ChatBroadcast{Type: TypeChatBroadcast, Sender: sender, Content: content, SenderID: senderID}
}

func NewLobbyClosed(code, reason string, scores []ScoreLine) LobbyClosed {
	return LobbyClosed{Type: TypeLobbyClosed, LobbyCode: code, Reason: reason, Scores: scores}
}

func NewPlayerKicked(code string, by uint32) PlayerKicked {
	return PlayerKicked{Type: TypePlayerKicked, LobbyCode: code, By: by}
}

// Inbound is a parsed message whose body has not been decoded yet.
type Inbound struct {
	Type string
	Raw  []byte
}

// ParseInbound reads the type discriminator of a JSON payload.
func ParseInbound(payload string) (Inbound, error) {
	raw := []byte(payload)
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Inbound{}, eris.Wrap(ErrMalformedMessage, err.Error())
	}
	if head.Type == "" {
		return Inbound{}, eris.Wrap(ErrMalformedMessage, "missing type")
	}
	return Inbound{Type: head.Type, Raw: raw}, nil
}

// Decode unmarshals the full message into v.
func (in Inbound) Decode(v any) error {
	if err := json.Unmarshal(in.Raw, v); err != nil {
		return eris.Wrapf(ErrMalformedMessage, "%s: %v", in.Type, err)
	}
	return nil
}

// Marshal encodes v as JSON and wraps it in an envelope.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "marshal message")
	}
	return Encode(string(data))
}

// Unmarshal unwraps an envelope and parses the message inside.
func Unmarshal(buf []byte) (Inbound, error) {
	payload, ok := Decode(buf)
	if !ok {
		return Inbound{}, eris.Wrap(ErrMalformedMessage, "bad envelope")
	}
	return ParseInbound(payload)
}
