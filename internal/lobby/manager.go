package lobby

import (
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"rtype/internal/journal"
)

const (
	DefaultMaxLobbies = 64
	DefaultCodeLength = 4
	maxCodeLength     = 16
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// ManagerConfig bounds the lobby population.
type ManagerConfig struct {
	MaxLobbies int
	CodeLength int // length of generated codes
	Defaults   Config
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxLobbies: DefaultMaxLobbies,
		CodeLength: DefaultCodeLength,
		Defaults:   DefaultConfig(),
	}
}

// Manager owns every lobby and the client → lobby mapping. A client is in
// at most one lobby. Like Lobby, it belongs to the tick goroutine, except
// for Summaries which may be called from anywhere.
type Manager struct {
	cfg         ManagerConfig
	lobbies     map[string]*Lobby
	clientLobby map[uint32]string

	rec       Recorder
	log       zerolog.Logger
	summaries atomic.Pointer[[]Summary]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithManagerRecorder(r Recorder) ManagerOption {
	return func(m *Manager) { m.rec = r }
}

func WithManagerLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

func NewManager(cfg ManagerConfig, opts ...ManagerOption) *Manager {
	if cfg.CodeLength <= 0 || cfg.CodeLength > maxCodeLength {
		cfg.CodeLength = DefaultCodeLength
	}
	m := &Manager{
		cfg:         cfg,
		lobbies:     make(map[string]*Lobby),
		clientLobby: make(map[uint32]string),
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	empty := []Summary{}
	m.summaries.Store(&empty)
	return m
}

// Defaults returns the configuration used for lobbies created from the wire.
func (m *Manager) Defaults() Config {
	return m.cfg.Defaults
}

// NormalizeCode canonicalizes a user-typed lobby code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (m *Manager) record(kind journal.Kind, code string, client uint32, payload any) {
	if m.rec == nil {
		return
	}
	m.rec.Record(journal.NewEntry(kind, code, client, 0, payload))
}

// GenerateCode returns an unused code drawn from a random UUID.
func (m *Manager) GenerateCode() string {
	for {
		raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
		code := raw[:m.cfg.CodeLength]
		if _, taken := m.lobbies[code]; !taken {
			return code
		}
	}
}

// CreateLobby creates a lobby under code and reports false if the code is
// taken or no lobby can be created.
func (m *Manager) CreateLobby(code string, cfg Config) bool {
	_, err := m.Create(code, cfg)
	return err == nil
}

// Create is CreateLobby with the failure reason. An empty code is replaced
// by a generated one.
func (m *Manager) Create(code string, cfg Config) (*Lobby, error) {
	code = NormalizeCode(code)
	if code == "" {
		code = m.GenerateCode()
	}
	if len(code) > maxCodeLength || !codePattern.MatchString(code) {
		return nil, eris.Wrapf(ErrInvalidCode, "%q", code)
	}
	if _, exists := m.lobbies[code]; exists {
		return nil, eris.Wrap(ErrLobbyExists, code)
	}
	if m.cfg.MaxLobbies > 0 && len(m.lobbies) >= m.cfg.MaxLobbies {
		return nil, eris.Wrapf(ErrTooManyLobbies, "%d lobbies", len(m.lobbies))
	}

	l := New(code, cfg, WithRecorder(m.rec), WithLogger(m.log))
	m.lobbies[code] = l
	m.record(journal.KindLobbyCreated, code, 0, journal.GameStartPayload{
		Difficulty: cfg.Game.Difficulty.String(),
		Mode:       cfg.Game.Mode.String(),
	})
	m.log.Info().Str("lobby", code).Stringer("difficulty", cfg.Game.Difficulty).Msg("lobby created")
	return l, nil
}

// JoinLobby moves client into the lobby under code, leaving any lobby it
// was in before. Nothing changes if code is unknown or the lobby cannot
// admit the client.
func (m *Manager) JoinLobby(code string, client uint32, spectator bool) (*Lobby, error) {
	code = NormalizeCode(code)
	l, ok := m.lobbies[code]
	if !ok {
		return nil, eris.Wrap(ErrLobbyNotFound, code)
	}
	if err := l.admits(client); err != nil {
		return nil, err
	}
	if prev, ok := m.clientLobby[client]; ok && prev != code {
		m.LeaveLobby(client)
	}
	if err := l.Join(client, spectator); err != nil {
		return nil, err
	}
	m.clientLobby[client] = code
	return l, nil
}

// LeaveLobby removes client from its lobby and deletes the lobby once it
// is empty. It returns the code the client left.
func (m *Manager) LeaveLobby(client uint32) (string, bool) {
	code, ok := m.clientLobby[client]
	if !ok {
		return "", false
	}
	delete(m.clientLobby, client)
	if l, ok := m.lobbies[code]; ok {
		l.Leave(client)
		if l.ClientCount() == 0 {
			m.remove(l, "empty")
		}
	}
	return code, true
}

// Kick removes client from its lobby on behalf of by.
func (m *Manager) Kick(client, by uint32) (string, error) {
	code, ok := m.clientLobby[client]
	if !ok {
		return "", eris.Wrapf(ErrNotInLobby, "client %d", client)
	}
	m.record(journal.KindClientKicked, code, client, journal.KickPayload{By: by})
	m.LeaveLobby(client)
	return code, nil
}

// LobbyOf returns the lobby client is in.
func (m *Manager) LobbyOf(client uint32) (*Lobby, bool) {
	code, ok := m.clientLobby[client]
	if !ok {
		return nil, false
	}
	l, ok := m.lobbies[code]
	return l, ok
}

func (m *Manager) Get(code string) (*Lobby, bool) {
	l, ok := m.lobbies[NormalizeCode(code)]
	return l, ok
}

// Lobbies returns every lobby ordered by code.
func (m *Manager) Lobbies() []*Lobby {
	out := make([]*Lobby, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].code < out[j].code })
	return out
}

func (m *Manager) Len() int { return len(m.lobbies) }

// ClientCount is the number of clients in any lobby.
func (m *Manager) ClientCount() int { return len(m.clientLobby) }

// CleanupEmptyLobbies tears down every lobby without clients and returns
// how many were removed.
func (m *Manager) CleanupEmptyLobbies() int {
	n := 0
	for _, l := range m.Lobbies() {
		if l.ClientCount() == 0 {
			m.remove(l, "empty")
			n++
		}
	}
	return n
}

// CloseLobby tears the lobby down regardless of its roster and returns the
// clients that were in it.
func (m *Manager) CloseLobby(code, reason string) ([]uint32, error) {
	l, ok := m.lobbies[NormalizeCode(code)]
	if !ok {
		return nil, eris.Wrap(ErrLobbyNotFound, code)
	}
	clients := l.Clients()
	for _, c := range clients {
		delete(m.clientLobby, c)
	}
	m.remove(l, reason)
	return clients, nil
}

func (m *Manager) remove(l *Lobby, reason string) {
	l.Close()
	delete(m.lobbies, l.code)
	m.record(journal.KindLobbyClosed, l.code, 0, map[string]string{"reason": reason})
	m.log.Info().Str("lobby", l.code).Str("reason", reason).Msg("lobby removed")
}

// Update advances every running lobby and returns those whose match ended
// during this tick.
func (m *Manager) Update(dt float64) []*Lobby {
	var ended []*Lobby
	for _, l := range m.Lobbies() {
		if l.Update(dt) {
			ended = append(ended, l)
		}
	}
	return ended
}

// PublishSummaries snapshots every lobby for readers on other goroutines.
func (m *Manager) PublishSummaries() {
	list := make([]Summary, 0, len(m.lobbies))
	for _, l := range m.Lobbies() {
		list = append(list, l.Summary())
	}
	m.summaries.Store(&list)
}

// Summaries returns the last published snapshot. Safe for concurrent use.
func (m *Manager) Summaries() []Summary {
	return *m.summaries.Load()
}

// FindSummary looks a lobby up in the last published snapshot.
func (m *Manager) FindSummary(code string) (Summary, bool) {
	code = NormalizeCode(code)
	for _, s := range m.Summaries() {
		if s.Code == code {
			return s, true
		}
	}
	return Summary{}, false
}
