package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"rtype/internal/chat"
	"rtype/internal/ecs"
	"rtype/internal/game"
	"rtype/internal/lobby"
	"rtype/internal/network"
)

func (s *Server) handlePacket(pkt network.Packet) {
	if pkt.Disconnected {
		s.disconnect(pkt.ClientID)
		return
	}
	in, err := network.Unmarshal(pkt.Payload)
	if err != nil {
		s.malformed.Add(1)
		s.obs.MessageRejected("malformed")
		s.log.Debug().Err(err).Uint32("client", pkt.ClientID).Int("bytes", len(pkt.Payload)).Msg("malformed packet dropped")
		return
	}
	s.messages.Add(1)
	if err := s.route(pkt.ClientID, in); err != nil {
		s.obs.MessageRejected(in.Type)
		s.log.Debug().Err(err).Uint32("client", pkt.ClientID).Str("type", in.Type).Msg("message rejected")
		return
	}
	s.obs.MessageHandled(in.Type)
}

// route dispatches one decoded message. Errors are for logging; anything
// the client should see has already been sent.
func (s *Server) route(client uint32, in network.Inbound) error {
	switch in.Type {
	case network.TypePlayerInput:
		var msg network.PlayerInput
		if err := in.Decode(&msg); err != nil {
			return err
		}
		return s.onInput(client, msg)
	case network.TypeViewport:
		var msg network.Viewport
		if err := in.Decode(&msg); err != nil {
			return err
		}
		return s.onViewport(client, msg)
	case network.TypeRequestLobby:
		var msg network.RequestLobby
		if err := in.Decode(&msg); err != nil {
			s.replyError(client, "Malformed lobby request")
			return err
		}
		return s.onRequestLobby(client, msg)
	case network.TypeToggleSpectator:
		return s.onToggleSpectator(client)
	case network.TypeStartGame:
		return s.onStartGame(client)
	case network.TypeLeaveLobby:
		return s.onLeave(client)
	case network.TypeSetDifficulty:
		var msg network.SetDifficulty
		if err := in.Decode(&msg); err != nil {
			return err
		}
		return s.onSetDifficulty(client, msg)
	case network.TypeChat:
		var msg network.Chat
		if err := in.Decode(&msg); err != nil {
			return err
		}
		return s.onChat(client, msg)
	default:
		return eris.Wrapf(network.ErrUnknownMessage, "%q", in.Type)
	}
}

func (s *Server) onInput(client uint32, msg network.PlayerInput) error {
	l, ok := s.lobbies.LobbyOf(client)
	if !ok {
		return ErrClientUnknown
	}
	return l.ApplyInput(client, game.Input{
		Up:    msg.Up,
		Down:  msg.Down,
		Left:  msg.Left,
		Right: msg.Right,
		Shoot: msg.Shoot,
	})
}

func (s *Server) onViewport(client uint32, msg network.Viewport) error {
	l, ok := s.lobbies.LobbyOf(client)
	if !ok {
		return ErrClientUnknown
	}
	return l.SetViewport(client, lobby.Viewport{Width: msg.Width, Height: msg.Height})
}

func (s *Server) onRequestLobby(client uint32, msg network.RequestLobby) error {
	switch strings.ToLower(msg.Action) {
	case network.ActionCreate:
		return s.createLobby(client, msg)
	case network.ActionJoin:
		l, err := s.lobbies.JoinLobby(msg.LobbyCode, client, msg.Spectator)
		if err != nil {
			s.replyError(client, describe(err))
			return err
		}
		s.send(client, s.lobbyResponse(network.ResponseJoined, l, client))
		return nil
	default:
		s.replyError(client, fmt.Sprintf("Unknown lobby action %q", msg.Action))
		return eris.Errorf("unknown lobby action %q", msg.Action)
	}
}

func (s *Server) createLobby(client uint32, msg network.RequestLobby) error {
	cfg := s.lobbies.Defaults()
	if msg.Difficulty != "" {
		d, err := game.ParseDifficulty(msg.Difficulty)
		if err != nil {
			s.replyError(client, describe(err))
			return err
		}
		cfg.Game.Difficulty = d
	}
	if msg.Mode != "" {
		cfg.Game.Mode = game.ParseMode(msg.Mode)
	}
	if msg.AIStrength > 0 {
		cfg.Game.AIStrength = msg.AIStrength
	}

	l, err := s.lobbies.Create(msg.LobbyCode, cfg)
	if err != nil {
		s.replyError(client, describe(err))
		return err
	}
	if _, err := s.lobbies.JoinLobby(l.Code(), client, msg.Spectator); err != nil {
		if _, cerr := s.lobbies.CloseLobby(l.Code(), "create_failed"); cerr != nil {
			s.log.Warn().Err(cerr).Str("lobby", l.Code()).Msg("discard lobby after failed join")
		}
		s.replyError(client, describe(err))
		return err
	}
	s.send(client, s.lobbyResponse(network.ResponseCreated, l, client))
	return nil
}

func (s *Server) onToggleSpectator(client uint32) error {
	l, ok := s.lobbies.LobbyOf(client)
	if !ok {
		s.replyError(client, "You are not in a lobby")
		return ErrClientUnknown
	}
	spectator, err := l.ToggleSpectator(client)
	if err != nil {
		s.replyError(client, describe(err))
		return err
	}
	kind := network.ResponsePlayer
	if spectator {
		kind = network.ResponseSpectator
	}
	s.send(client, s.lobbyResponse(kind, l, client))
	return nil
}

func (s *Server) onStartGame(client uint32) error {
	l, ok := s.lobbies.LobbyOf(client)
	if !ok {
		s.replyError(client, "You are not in a lobby")
		return ErrClientUnknown
	}
	if err := l.StartGame(); err != nil {
		s.replyError(client, describe(err))
		return err
	}
	for _, c := range l.Clients() {
		s.send(c, s.lobbyResponse(network.ResponseStarted, l, c))
	}
	return nil
}

func (s *Server) onLeave(client uint32) error {
	code, ok := s.lobbies.LeaveLobby(client)
	if !ok {
		s.replyError(client, "You are not in a lobby")
		return ErrClientUnknown
	}
	s.send(client, network.NewLobbyResponse(network.ResponseLeft, code))
	return nil
}

func (s *Server) onSetDifficulty(client uint32, msg network.SetDifficulty) error {
	l, ok := s.lobbies.LobbyOf(client)
	if !ok {
		s.replyError(client, "You are not in a lobby")
		return ErrClientUnknown
	}
	d, err := game.ParseDifficulty(msg.Difficulty)
	if err != nil {
		s.replyError(client, describe(err))
		return err
	}
	if err := l.SetDifficulty(d); err != nil {
		s.replyError(client, describe(err))
		return err
	}
	for _, c := range l.Clients() {
		s.send(c, s.lobbyResponse(network.ResponseDifficulty, l, c))
	}
	return nil
}

func (s *Server) onChat(client uint32, msg network.Chat) error {
	l, ok := s.lobbies.LobbyOf(client)
	if !ok {
		s.replyError(client, "You are not in a lobby")
		return ErrClientUnknown
	}
	out := s.chat.Process(l, client, msg.Content)
	switch out.Action {
	case chat.ActionBroadcast:
		name := strings.TrimSpace(msg.Sender)
		if name == "" {
			name = fmt.Sprintf("Player %d", client)
		}
		s.broadcast(l, network.NewChatBroadcast(name, out.Text, client))
	case chat.ActionReply:
		s.send(client, systemMessage(out.Text))
	case chat.ActionKick:
		return s.KickClient(out.Target, client)
	}
	return nil
}

// disconnect handles a client the transport evicted. Its ship is destroyed
// immediately.
func (s *Server) disconnect(client uint32) {
	s.chat.Forget(client)
	if code, ok := s.lobbies.LeaveLobby(client); ok {
		s.log.Info().Uint32("client", client).Str("lobby", code).Msg("client disconnected")
	}
}

// closeLobby notifies the lobby's clients with the final scores and removes
// the lobby.
func (s *Server) closeLobby(code, reason string) {
	l, ok := s.lobbies.Get(code)
	if !ok {
		return
	}
	scores := l.Scores()
	lines := make([]network.ScoreLine, len(scores))
	for i, sc := range scores {
		lines[i] = network.ScoreLine{Client: sc.Client, Points: sc.Points}
	}
	msg := network.NewLobbyClosed(l.Code(), reason, lines)
	for _, c := range l.Clients() {
		s.send(c, msg)
	}
	if _, err := s.lobbies.CloseLobby(code, reason); err != nil {
		s.log.Warn().Err(err).Str("lobby", code).Msg("close lobby")
	}
	if send, ok := ecs.GetSystem[*SendSystem](s.world); ok {
		send.forget(l)
	}
}

func (s *Server) lobbyResponse(kind string, l *lobby.Lobby, client uint32) network.LobbyResponse {
	resp := network.NewLobbyResponse(kind, l.Code())
	resp.ClientID = client
	resp.Spectator = l.IsSpectator(client)
	resp.Difficulty = l.Settings().Difficulty.String()
	return resp
}

func (s *Server) replyError(client uint32, msg string) {
	s.send(client, network.NewError(msg))
}

func (s *Server) broadcast(l *lobby.Lobby, v any) {
	buf, err := network.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("lobby", l.Code()).Msg("encode broadcast")
		return
	}
	for _, c := range l.Clients() {
		s.sendRaw(c, buf)
	}
}

func (s *Server) send(client uint32, v any) {
	buf, err := network.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Uint32("client", client).Msg("encode message")
		return
	}
	s.sendRaw(client, buf)
}

func (s *Server) sendRaw(client uint32, buf []byte) {
	if err := s.transport.Send(client, buf); err != nil {
		s.sendErrors.Add(1)
		s.log.Debug().Err(err).Uint32("client", client).Msg("send")
	}
}

func systemMessage(text string) network.ChatBroadcast {
	return network.NewChatBroadcast(chat.SystemSender, text, 0)
}

func sprintKicked(client uint32) string {
	return fmt.Sprintf("Client %d was kicked", client)
}

// describe turns a domain error into a message for the client.
func describe(err error) string {
	switch {
	case errors.Is(err, lobby.ErrLobbyNotFound):
		return "Lobby not found"
	case errors.Is(err, lobby.ErrLobbyExists):
		return "Lobby code already in use"
	case errors.Is(err, lobby.ErrLobbyFull):
		return "Lobby is full"
	case errors.Is(err, lobby.ErrTooManyLobbies):
		return "Server is full"
	case errors.Is(err, lobby.ErrInvalidCode):
		return "Invalid lobby code"
	case errors.Is(err, lobby.ErrAlreadyRunning):
		return "Game already started"
	case errors.Is(err, lobby.ErrGameEnded):
		return "Game has ended"
	case errors.Is(err, lobby.ErrNoPlayers):
		return "At least one player is needed to start"
	case errors.Is(err, lobby.ErrNotInLobby):
		return "You are not in a lobby"
	case errors.Is(err, game.ErrUnknownDifficulty):
		return "Unknown difficulty"
	default:
		return "Request failed"
	}
}
