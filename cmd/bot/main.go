// Command bot drives headless clients against a running server: the first
// bot creates a lobby, the rest join it, then every bot streams random input
// and counts the snapshots it receives.
//
// Usage:
//
//	go run ./cmd/server
//	go run ./cmd/bot --bots 4 --duration 30s
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"rtype/internal/config"
)

func main() {
	config.LoadDotEnv()

	var opts options
	flag.StringVar(&opts.Server, "server", "127.0.0.1:4242", "server UDP address")
	flag.IntVar(&opts.Bots, "bots", 2, "number of bots")
	flag.StringVar(&opts.Lobby, "lobby", "", "lobby code to create (empty lets the server pick)")
	flag.StringVar(&opts.Difficulty, "difficulty", "", "difficulty requested on create")
	flag.DurationVar(&opts.Duration, "duration", 20*time.Second, "how long to play")
	flag.Float64Var(&opts.InputRate, "input-rate", 30, "inputs per second per bot")
	flag.BoolVar(&opts.Chat, "chat", true, "send a greeting once joined")
	pretty := flag.Bool("log-pretty", true, "human readable logs")
	flag.Parse()

	if *pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	if opts.Bots < 1 {
		log.Fatal().Int("bots", opts.Bots).Msg("need at least one bot")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	results, err := runBots(ctx, opts)
	for i, r := range results {
		log.Info().Int("bot", i).Uint32("client", r.Client).Int("snapshots", r.Snapshots).
			Int("entities", r.MaxEntities).Int("chat", r.Chat).Msg("bot finished")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("bots failed")
	}
}

func runBots(ctx context.Context, opts options) ([]result, error) {
	codes := make(chan string, 1)
	joined := make(chan struct{}, opts.Bots)
	results := make([]result, opts.Bots)

	g, ctx := errgroup.WithContext(ctx)
	for i := range opts.Bots {
		b := &bot{id: i, opts: opts, log: log.With().Int("bot", i).Logger()}
		g.Go(func() error {
			defer func() { results[i] = b.result() }()
			return b.run(ctx, codes, joined)
		})
	}
	err := g.Wait()
	if err != nil && !isFatal(err) {
		err = nil
	}
	return results, err
}
