package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"rtype/internal/network"
)

var errLobbyRefused = eris.New("lobby request refused")

type options struct {
	Server     string
	Bots       int
	Lobby      string
	Difficulty string
	Duration   time.Duration
	InputRate  float64
	Chat       bool
}

type result struct {
	Client      uint32
	Snapshots   int
	MaxEntities int
	Chat        int
}

type bot struct {
	id   int
	opts options
	log  zerolog.Logger

	client      atomic.Uint32
	snapshots   atomic.Int64
	maxEntities atomic.Int64
	chat        atomic.Int64
}

func (b *bot) result() result {
	return result{
		Client:      b.client.Load(),
		Snapshots:   int(b.snapshots.Load()),
		MaxEntities: int(b.maxEntities.Load()),
		Chat:        int(b.chat.Load()),
	}
}

// run enters the lobby, then plays until ctx ends. Bot 0 creates the lobby
// and starts the match once every other bot has joined.
func (b *bot) run(ctx context.Context, codes chan string, joined chan struct{}) error {
	conn, err := network.Dial(b.opts.Server)
	if err != nil {
		return err
	}
	defer conn.Close()

	var code string
	if b.id == 0 {
		code, err = b.create(conn)
		if err != nil {
			return err
		}
		codes <- code
	} else {
		select {
		case code = <-codes:
			codes <- code
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := b.join(conn, code); err != nil {
			return err
		}
	}
	joined <- struct{}{}
	b.log.Info().Str("lobby", code).Uint32("client", b.client.Load()).Msg("in lobby")

	if b.id == 0 {
		for range b.opts.Bots {
			select {
			case <-joined:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := conn.Send(network.Command{Type: network.TypeStartGame}); err != nil {
			return err
		}
	}
	if b.opts.Chat {
		if err := conn.Send(network.Chat{Type: network.TypeChat, Content: "hello from a bot"}); err != nil {
			b.log.Warn().Err(err).Msg("chat greeting")
		}
	}

	go b.inputs(ctx, conn)
	return b.receive(ctx, conn)
}

func (b *bot) create(conn *network.Client) (string, error) {
	err := conn.Send(network.RequestLobby{
		Type:       network.TypeRequestLobby,
		Action:     network.ActionCreate,
		LobbyCode:  b.opts.Lobby,
		Difficulty: b.opts.Difficulty,
	})
	if err != nil {
		return "", err
	}
	return b.awaitLobby(conn, network.ResponseCreated)
}

func (b *bot) join(conn *network.Client, code string) error {
	err := conn.Send(network.RequestLobby{
		Type:      network.TypeRequestLobby,
		Action:    network.ActionJoin,
		LobbyCode: code,
	})
	if err != nil {
		return err
	}
	_, err = b.awaitLobby(conn, network.ResponseJoined)
	return err
}

func (b *bot) awaitLobby(conn *network.Client, want string) (string, error) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		in, err := conn.Receive(time.Until(deadline))
		if err != nil {
			return "", err
		}
		switch in.Type {
		case network.TypeError:
			var msg network.Error
			if err := in.Decode(&msg); err != nil {
				return "", eris.Wrap(errLobbyRefused, err.Error())
			}
			return "", eris.Wrap(errLobbyRefused, msg.Error)
		case network.TypeLobbyResponse:
			var resp network.LobbyResponse
			if err := in.Decode(&resp); err != nil {
				return "", err
			}
			if resp.ResponseType == want {
				b.client.Store(resp.ClientID)
				return resp.LobbyCode, nil
			}
		}
	}
	return "", eris.Errorf("no %s response", want)
}

// inputs sends a random held-key state at InputRate until ctx ends.
func (b *bot) inputs(ctx context.Context, conn *network.Client) {
	limiter := rate.NewLimiter(rate.Limit(b.opts.InputRate), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		err := conn.Send(network.PlayerInput{
			Type:  network.TypePlayerInput,
			Up:    rand.IntN(3) == 0,
			Down:  rand.IntN(3) == 0,
			Left:  rand.IntN(4) == 0,
			Right: rand.IntN(2) == 0,
			Shoot: rand.IntN(2) == 0,
		})
		if err != nil {
			b.log.Debug().Err(err).Msg("send input")
			return
		}
	}
}

func (b *bot) receive(ctx context.Context, conn *network.Client) error {
	for ctx.Err() == nil {
		in, err := conn.Receive(250 * time.Millisecond)
		if err != nil {
			if eris.Is(err, network.ErrReceiveTimeout) {
				continue
			}
			if eris.Is(err, network.ErrMalformedMessage) {
				b.log.Warn().Err(err).Msg("malformed message from server")
				continue
			}
			return err
		}
		switch in.Type {
		case network.TypeSnapshot:
			var snap network.Snapshot
			if err := in.Decode(&snap); err != nil {
				continue
			}
			b.snapshots.Add(1)
			if n := int64(len(snap.Entities)); n > b.maxEntities.Load() {
				b.maxEntities.Store(n)
			}
		case network.TypeChatBroadcast:
			b.chat.Add(1)
		case network.TypeLobbyClosed:
			var msg network.LobbyClosed
			if err := in.Decode(&msg); err != nil {
				b.log.Debug().Err(err).Msg("undecodable lobby_closed")
			}
			b.log.Info().Str("reason", msg.Reason).Interface("scores", msg.Scores).Msg("lobby closed")
			return nil
		case network.TypePlayerKicked:
			b.log.Warn().Msg("kicked")
			return nil
		case network.TypeError:
			var msg network.Error
			if err := in.Decode(&msg); err != nil {
				b.log.Debug().Err(err).Msg("undecodable error message")
				continue
			}
			b.log.Debug().Str("error", msg.Error).Msg("server error")
		}
	}
	return ctx.Err()
}

// isFatal separates real failures from the cancellation that ends a run.
func isFatal(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
