package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"rtype/internal/api"
	"rtype/internal/chat"
	"rtype/internal/config"
	"rtype/internal/game"
	"rtype/internal/journal"
	"rtype/internal/lobby"
	"rtype/internal/network"
	"rtype/internal/server"
)

func main() {
	envFile := config.LoadDotEnv()
	cfg := config.Load()
	bindFlags(flag.CommandLine, &cfg)
	flag.Parse()

	setupLogging(cfg.Log)
	if envFile != "" {
		log.Info().Str("file", envFile).Msg("loaded environment")
	} else {
		log.Debug().Msg("no .env file found, using environment variables only")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("shutdown complete")
}

// bindFlags registers command line overrides on top of the env config.
func bindFlags(fs *flag.FlagSet, cfg *config.AppConfig) {
	fs.StringVar(&cfg.Network.UDPAddr, "udp-addr", cfg.Network.UDPAddr, "UDP game listen address")
	fs.StringVar(&cfg.API.HTTPAddr, "http-addr", cfg.API.HTTPAddr, "admin API listen address")
	fs.StringVar(&cfg.API.DebugAddr, "debug-addr", cfg.API.DebugAddr, "pprof and metrics listen address")
	fs.BoolVar(&cfg.API.DebugEnabled, "debug", cfg.API.DebugEnabled, "serve pprof and metrics")
	fs.IntVar(&cfg.Simulation.TickRate, "tick-rate", cfg.Simulation.TickRate, "simulation ticks per second")
	fs.DurationVar(&cfg.Simulation.SnapshotInterval, "snapshot-interval", cfg.Simulation.SnapshotInterval, "time between snapshots")
	fs.StringVar(&cfg.Simulation.Difficulty, "difficulty", cfg.Simulation.Difficulty, "default difficulty: EASY, MEDIUM or HARD")
	fs.IntVar(&cfg.Lobby.MaxLobbies, "max-lobbies", cfg.Lobby.MaxLobbies, "maximum concurrent lobbies")
	fs.IntVar(&cfg.Lobby.MaxClients, "max-clients", cfg.Lobby.MaxClients, "maximum clients per lobby")
	fs.StringVar(&cfg.Journal.Path, "journal", cfg.Journal.Path, "lobby journal file (empty disables)")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "debug, info, warn or error")
	fs.BoolVar(&cfg.Log.Pretty, "log-pretty", cfg.Log.Pretty, "human readable logs")
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}
}

func run(ctx context.Context, cfg config.AppConfig) error {
	if err := game.RegisterComponents(); err != nil {
		return err
	}

	jrnl := journal.New(cfg.Journal.Journal())
	if err := jrnl.Start(); err != nil {
		log.Warn().Err(err).Msg("journal disabled")
		jrnl = nil
	} else {
		defer jrnl.Stop()
		api.RegisterJournalMetrics(prometheus.DefaultRegisterer, jrnl.Stats)
		log.Info().Str("path", cfg.Journal.Path).Msg("lobby journal started")
	}

	mcfg, err := cfg.Lobbies()
	if err != nil {
		return err
	}
	opts := []lobby.ManagerOption{lobby.WithManagerLogger(log.With().Str("component", "lobby").Logger())}
	if jrnl != nil {
		opts = append(opts, lobby.WithManagerRecorder(jrnl))
	}
	lobbies := lobby.NewManager(mcfg, opts...)

	transport := network.NewTransport(cfg.Network.Transport(),
		network.WithLogger(log.With().Str("component", "transport").Logger()))
	if err := transport.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := transport.Stop(); err != nil {
			log.Warn().Err(err).Msg("transport stop")
		}
	}()

	srv, err := server.New(cfg.Simulation.Server(cfg.Network.MaxDatagram), transport, lobbies,
		server.WithLogger(log.With().Str("component", "server").Logger()),
		server.WithObserver(api.Metrics{}),
		server.WithChat(chat.NewHandler(chat.WithLogger(log.With().Str("component", "chat").Logger()))),
	)
	if err != nil {
		return err
	}
	api.RegisterTransportMetrics(prometheus.DefaultRegisterer, transport.Stats)

	httpSrv := api.NewServer(cfg.API.Server(), api.NewGameBackend(srv, transport))

	log.Info().
		Str("udp", transport.Addr().String()).
		Str("http", cfg.API.HTTPAddr).
		Int("tickRate", cfg.Simulation.TickRate).
		Str("difficulty", cfg.Simulation.Difficulty).
		Msg("r-type server ready")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return httpSrv.Run(ctx) })
	g.Go(func() error { return api.RunDebugServer(ctx, cfg.API.Debug()) })
	return g.Wait()
}
