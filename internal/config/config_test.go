package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtype/internal/game"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 60, cfg.Simulation.TickRate)
	assert.Equal(t, "MEDIUM", cfg.Simulation.Difficulty)
	assert.Equal(t, "events.jsonl", cfg.Journal.Path)
	assert.Equal(t, "127.0.0.1:6060", cfg.API.DebugAddr)
	assert.Empty(t, cfg.API.AdminToken)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("UDP_ADDR", "127.0.0.1:9000")
	t.Setenv("TICK_RATE", "30")
	t.Setenv("SNAPSHOT_INTERVAL", "100")
	t.Setenv("NET_IDLE_TIMEOUT", "1m")
	t.Setenv("DIFFICULTY", "hard")
	t.Setenv("MAX_LOBBY_CLIENTS", "4")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("ADMIN_TOKEN", "tok")
	t.Setenv("DISABLE_DEBUG_SERVER", "true")
	t.Setenv("EVENT_LOG_PATH", "")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_PRETTY", "true")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9000", cfg.Network.UDPAddr)
	assert.Equal(t, time.Minute, cfg.Network.IdleTimeout)
	assert.Equal(t, 30, cfg.Simulation.TickRate)
	assert.Equal(t, 100*time.Millisecond, cfg.Simulation.SnapshotInterval)
	assert.Equal(t, 4, cfg.Lobby.MaxClients)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.CORSOrigins)
	assert.Equal(t, "tok", cfg.API.AdminToken)
	assert.False(t, cfg.API.DebugEnabled)
	assert.Empty(t, cfg.Journal.Path)
	assert.Equal(t, LogConfig{Level: "debug", Pretty: true}, cfg.Log)

	mcfg, err := cfg.Lobbies()
	require.NoError(t, err)
	assert.Equal(t, game.DifficultyHard, mcfg.Defaults.Game.Difficulty)
	assert.Equal(t, 4, mcfg.Defaults.MaxClients)
}

func TestBadEnvValuesKeepDefaults(t *testing.T) {
	t.Setenv("TICK_RATE", "fast")
	t.Setenv("NET_PACKET_RATE", "-3")
	t.Setenv("SNAPSHOT_INTERVAL", "soon")

	cfg := Load()
	def := Default()
	assert.Equal(t, def.Simulation.TickRate, cfg.Simulation.TickRate)
	assert.Equal(t, def.Network.PacketRate, cfg.Network.PacketRate)
	assert.Equal(t, def.Simulation.SnapshotInterval, cfg.Simulation.SnapshotInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"zero tick rate", func(c *AppConfig) { c.Simulation.TickRate = 0 }},
		{"negative snapshot interval", func(c *AppConfig) { c.Simulation.SnapshotInterval = -time.Second }},
		{"empty world", func(c *AppConfig) { c.Simulation.WorldWidth = 0 }},
		{"tiny datagram", func(c *AppConfig) { c.Network.MaxDatagram = 4 }},
		{"huge datagram", func(c *AppConfig) { c.Network.MaxDatagram = 1 << 20 }},
		{"no udp addr", func(c *AppConfig) { c.Network.UDPAddr = "" }},
		{"unknown difficulty", func(c *AppConfig) { c.Simulation.Difficulty = "NIGHTMARE" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Network.UDPAddr = ":5000"
	cfg.Simulation.TickRate = 30
	cfg.API.AdminToken = "x"

	assert.Equal(t, ":5000", cfg.Network.Transport().Addr)
	assert.Equal(t, 1400, cfg.Network.Transport().MaxDatagram)

	scfg := cfg.Simulation.Server(cfg.Network.MaxDatagram)
	assert.Equal(t, 30, scfg.TickRate)
	assert.Equal(t, 1400, scfg.MaxSnapshotBytes)

	assert.Equal(t, "x", cfg.API.Server().AdminToken)
	assert.True(t, cfg.API.Debug().Enabled)
	assert.Equal(t, cfg.Journal.Path, cfg.Journal.Journal().Path)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "server")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, ".env"), []byte("RTYPE_DOTENV_PROBE=local\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(sub))
	t.Cleanup(func() {
		os.Chdir(wd)
		os.Unsetenv("RTYPE_DOTENV_PROBE")
	})

	assert.Equal(t, ".env", LoadDotEnv())
	assert.Equal(t, "local", os.Getenv("RTYPE_DOTENV_PROBE"))
}
