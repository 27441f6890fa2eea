// Package config provides centralized configuration management.
// This is the single source of truth for server settings: every section has
// a Default constructor and an environment override, and cmd/server layers
// command line flags on top.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"

	"rtype/internal/api"
	"rtype/internal/ecs"
	"rtype/internal/game"
	"rtype/internal/journal"
	"rtype/internal/lobby"
	"rtype/internal/network"
	"rtype/internal/server"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = eris.New("invalid configuration")

// =============================================================================
// NETWORK CONFIGURATION
// =============================================================================

// NetworkConfig holds the UDP transport settings.
type NetworkConfig struct {
	UDPAddr       string
	Readers       int
	Writers       int
	QueueCapacity int           // inbound packets waiting for the tick loop
	SendBuffer    int           // outbound datagrams waiting for a writer
	MaxDatagram   int           // bytes, envelope included
	PacketRate    float64       // per client, packets per second
	PacketBurst   int           // per client
	IdleTimeout   time.Duration // silent clients are evicted after this
}

// DefaultNetwork returns the default transport configuration.
func DefaultNetwork() NetworkConfig {
	d := network.DefaultConfig()
	return NetworkConfig{
		UDPAddr:       d.Addr,
		Readers:       d.Readers,
		Writers:       d.Writers,
		QueueCapacity: d.QueueCapacity,
		SendBuffer:    d.SendBuffer,
		MaxDatagram:   1400, // stays under a typical MTU
		PacketRate:    d.PacketRate,
		PacketBurst:   d.PacketBurst,
		IdleTimeout:   d.IdleTimeout,
	}
}

// NetworkFromEnv returns network configuration with environment overrides.
func NetworkFromEnv() NetworkConfig {
	cfg := DefaultNetwork()

	cfg.UDPAddr = getEnvString("UDP_ADDR", cfg.UDPAddr)
	if n := getEnvInt("NET_READERS", 0); n > 0 {
		cfg.Readers = n
	}
	if n := getEnvInt("NET_WRITERS", 0); n > 0 {
		cfg.Writers = n
	}
	if n := getEnvInt("NET_QUEUE_CAPACITY", 0); n > 0 {
		cfg.QueueCapacity = n
	}
	if n := getEnvInt("NET_MAX_DATAGRAM", 0); n > 0 {
		cfg.MaxDatagram = n
	}
	if r := getEnvFloat("NET_PACKET_RATE", 0); r > 0 {
		cfg.PacketRate = r
	}
	if n := getEnvInt("NET_PACKET_BURST", 0); n > 0 {
		cfg.PacketBurst = n
	}
	cfg.IdleTimeout = getEnvDuration("NET_IDLE_TIMEOUT", cfg.IdleTimeout)

	return cfg
}

// Transport converts the section into the transport's own config.
func (c NetworkConfig) Transport() network.Config {
	return network.Config{
		Addr:          c.UDPAddr,
		Readers:       c.Readers,
		Writers:       c.Writers,
		QueueCapacity: c.QueueCapacity,
		SendBuffer:    c.SendBuffer,
		MaxDatagram:   c.MaxDatagram,
		PacketRate:    c.PacketRate,
		PacketBurst:   c.PacketBurst,
		IdleTimeout:   c.IdleTimeout,
	}
}

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimulationConfig holds tick loop and world settings.
type SimulationConfig struct {
	TickRate         int           // ticks per second
	SnapshotInterval time.Duration // spacing between snapshots
	MaxEntities      int           // per lobby world
	WorldWidth       float64
	WorldHeight      float64
	Difficulty       string // default for new lobbies
	Mode             string
	AIStrength       float64
}

// DefaultSimulation returns the default simulation configuration.
func DefaultSimulation() SimulationConfig {
	s := game.DefaultSettings()
	return SimulationConfig{
		TickRate:         60,
		SnapshotInterval: 50 * time.Millisecond, // 20 snapshots per second
		MaxEntities:      ecs.DefaultMaxEntities,
		WorldWidth:       s.Width,
		WorldHeight:      s.Height,
		Difficulty:       s.Difficulty.String(),
		Mode:             s.Mode.String(),
		AIStrength:       s.AIStrength,
	}
}

// SimulationFromEnv returns simulation configuration with environment overrides.
func SimulationFromEnv() SimulationConfig {
	cfg := DefaultSimulation()

	if n := getEnvInt("TICK_RATE", 0); n > 0 {
		cfg.TickRate = n
	}
	cfg.SnapshotInterval = getEnvDuration("SNAPSHOT_INTERVAL", cfg.SnapshotInterval)
	if n := getEnvInt("MAX_ENTITIES", 0); n > 0 {
		cfg.MaxEntities = n
	}
	if w := getEnvFloat("WORLD_WIDTH", 0); w > 0 {
		cfg.WorldWidth = w
	}
	if h := getEnvFloat("WORLD_HEIGHT", 0); h > 0 {
		cfg.WorldHeight = h
	}
	cfg.Difficulty = getEnvString("DIFFICULTY", cfg.Difficulty)
	cfg.Mode = getEnvString("GAME_MODE", cfg.Mode)
	if s := getEnvFloat("AI_STRENGTH", 0); s > 0 {
		cfg.AIStrength = s
	}

	return cfg
}

// Server converts the section into the tick loop config. maxDatagram caps
// snapshot chunks.
func (c SimulationConfig) Server(maxDatagram int) server.Config {
	cfg := server.DefaultConfig()
	cfg.TickRate = c.TickRate
	cfg.SnapshotInterval = c.SnapshotInterval
	if maxDatagram > 0 {
		cfg.MaxSnapshotBytes = maxDatagram
	}
	return cfg
}

// =============================================================================
// LOBBY CONFIGURATION
// =============================================================================

// LobbyConfig holds lobby manager limits.
type LobbyConfig struct {
	MaxLobbies int
	MaxClients int // per lobby
	CodeLength int // generated codes
}

// DefaultLobby returns the default lobby limits.
func DefaultLobby() LobbyConfig {
	return LobbyConfig{
		MaxLobbies: lobby.DefaultMaxLobbies,
		MaxClients: lobby.DefaultConfig().MaxClients,
		CodeLength: lobby.DefaultCodeLength,
	}
}

// LobbyFromEnv returns lobby limits with environment overrides.
func LobbyFromEnv() LobbyConfig {
	cfg := DefaultLobby()

	if n := getEnvInt("MAX_LOBBIES", 0); n > 0 {
		cfg.MaxLobbies = n
	}
	if n := getEnvInt("MAX_LOBBY_CLIENTS", 0); n > 0 {
		cfg.MaxClients = n
	}
	if n := getEnvInt("LOBBY_CODE_LENGTH", 0); n > 0 {
		cfg.CodeLength = n
	}

	return cfg
}

// =============================================================================
// API CONFIGURATION
// =============================================================================

// APIConfig holds the admin HTTP and debug server settings.
type APIConfig struct {
	HTTPAddr     string
	AdminToken   string
	CORSOrigins  []string
	FeedEvery    time.Duration
	DebugEnabled bool
	DebugAddr    string
}

// DefaultAPI returns the default HTTP configuration.
func DefaultAPI() APIConfig {
	a := api.DefaultConfig()
	d := api.DefaultObservabilityConfig()
	return APIConfig{
		HTTPAddr:     a.ListenAddr,
		CORSOrigins:  api.DefaultCORSOrigins,
		FeedEvery:    a.FeedEvery,
		DebugEnabled: d.Enabled,
		DebugAddr:    d.ListenAddr,
	}
}

// APIFromEnv returns HTTP configuration with environment overrides.
func APIFromEnv() APIConfig {
	cfg := DefaultAPI()

	cfg.HTTPAddr = getEnvString("HTTP_ADDR", cfg.HTTPAddr)
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if origins := getEnvList("CORS_ORIGINS"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	cfg.FeedEvery = getEnvDuration("WS_FEED_INTERVAL", cfg.FeedEvery)
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.DebugEnabled = false
	}
	cfg.DebugAddr = getEnvString("DEBUG_ADDR", cfg.DebugAddr)

	return cfg
}

// Server converts the section into the API server config.
func (c APIConfig) Server() api.Config {
	cfg := api.DefaultConfig()
	cfg.ListenAddr = c.HTTPAddr
	cfg.AdminToken = c.AdminToken
	cfg.CORSOrigins = c.CORSOrigins
	cfg.FeedEvery = c.FeedEvery
	return cfg
}

// Debug converts the section into the debug server config.
func (c APIConfig) Debug() api.ObservabilityConfig {
	cfg := api.DefaultObservabilityConfig()
	cfg.Enabled = c.DebugEnabled
	cfg.ListenAddr = c.DebugAddr
	return cfg
}

// =============================================================================
// JOURNAL CONFIGURATION
// =============================================================================

// JournalConfig holds the lobby audit journal settings.
type JournalConfig struct {
	Path      string // empty disables the journal file
	MaxPerSec int
}

// DefaultJournal returns the default journal configuration.
func DefaultJournal() JournalConfig {
	return JournalConfig{
		Path:      "events.jsonl",
		MaxPerSec: journal.DefaultMaxPerSec,
	}
}

// JournalFromEnv returns journal configuration with environment overrides.
func JournalFromEnv() JournalConfig {
	cfg := DefaultJournal()

	if p, ok := os.LookupEnv("EVENT_LOG_PATH"); ok {
		cfg.Path = p
	}
	if n := getEnvInt("EVENT_LOG_RATE", 0); n > 0 {
		cfg.MaxPerSec = n
	}

	return cfg
}

// Journal converts the section into the journal's own config.
func (c JournalConfig) Journal() journal.Config {
	cfg := journal.DefaultConfig()
	cfg.Path = c.Path
	cfg.MaxPerSec = c.MaxPerSec
	return cfg
}

// =============================================================================
// LOG CONFIGURATION
// =============================================================================

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Pretty bool   // human readable console output
}

// DefaultLog returns the default logger configuration.
func DefaultLog() LogConfig {
	return LogConfig{Level: "info"}
}

// LogFromEnv returns logger configuration with environment overrides.
func LogFromEnv() LogConfig {
	cfg := DefaultLog()

	cfg.Level = getEnvString("LOG_LEVEL", cfg.Level)
	if os.Getenv("LOG_PRETTY") == "true" {
		cfg.Pretty = true
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Network    NetworkConfig
	Simulation SimulationConfig
	Lobby      LobbyConfig
	API        APIConfig
	Journal    JournalConfig
	Log        LogConfig
}

// Default returns the configuration with no overrides applied.
func Default() AppConfig {
	return AppConfig{
		Network:    DefaultNetwork(),
		Simulation: DefaultSimulation(),
		Lobby:      DefaultLobby(),
		API:        DefaultAPI(),
		Journal:    DefaultJournal(),
		Log:        DefaultLog(),
	}
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Network:    NetworkFromEnv(),
		Simulation: SimulationFromEnv(),
		Lobby:      LobbyFromEnv(),
		API:        APIFromEnv(),
		Journal:    JournalFromEnv(),
		Log:        LogFromEnv(),
	}
}

// LoadDotEnv loads ../.env, falling back to .env. Variables already set in
// the environment win. It returns the file used, or "" if neither exists.
func LoadDotEnv() string {
	for _, path := range []string{"../.env", ".env"} {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate reports the first setting that cannot work.
func (c AppConfig) Validate() error {
	switch {
	case c.Simulation.TickRate <= 0:
		return eris.Wrapf(ErrInvalid, "tick rate %d", c.Simulation.TickRate)
	case c.Simulation.SnapshotInterval < 0:
		return eris.Wrapf(ErrInvalid, "snapshot interval %s", c.Simulation.SnapshotInterval)
	case c.Simulation.WorldWidth <= 0 || c.Simulation.WorldHeight <= 0:
		return eris.Wrapf(ErrInvalid, "world %gx%g", c.Simulation.WorldWidth, c.Simulation.WorldHeight)
	case c.Network.MaxDatagram <= network.HeaderSize || c.Network.MaxDatagram > network.MaxDatagram:
		return eris.Wrapf(ErrInvalid, "max datagram %d", c.Network.MaxDatagram)
	case c.Network.UDPAddr == "":
		return eris.Wrap(ErrInvalid, "empty udp address")
	}
	if _, err := game.ParseDifficulty(c.Simulation.Difficulty); err != nil {
		return eris.Wrap(ErrInvalid, err.Error())
	}
	return nil
}

// Lobbies builds the lobby manager config from the lobby and simulation
// sections.
func (c AppConfig) Lobbies() (lobby.ManagerConfig, error) {
	diff, err := game.ParseDifficulty(c.Simulation.Difficulty)
	if err != nil {
		return lobby.ManagerConfig{}, eris.Wrap(err, "default difficulty")
	}
	mcfg := lobby.DefaultManagerConfig()
	mcfg.MaxLobbies = c.Lobby.MaxLobbies
	mcfg.CodeLength = c.Lobby.CodeLength
	mcfg.Defaults.MaxClients = c.Lobby.MaxClients
	mcfg.Defaults.MaxEntities = c.Simulation.MaxEntities
	mcfg.Defaults.Game.Width = c.Simulation.WorldWidth
	mcfg.Defaults.Game.Height = c.Simulation.WorldHeight
	mcfg.Defaults.Game.Difficulty = diff
	mcfg.Defaults.Game.Mode = game.ParseMode(c.Simulation.Mode)
	mcfg.Defaults.Game.AIStrength = c.Simulation.AIStrength
	return mcfg, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("50ms") or bare milliseconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
