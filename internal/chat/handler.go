package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Room is the part of a lobby the interpreter needs. *lobby.Lobby satisfies it.
type Room interface {
	Host() uint32
	Has(client uint32) bool
	Mute(client uint32) error
	Unmute(client uint32)
	IsMuted(client uint32) bool
}

// Action tells the caller what to do with a processed line.
type Action int

const (
	// ActionNone drops the line.
	ActionNone Action = iota
	// ActionBroadcast sends Text to every client in the room.
	ActionBroadcast
	// ActionReply sends Text back to the sender only.
	ActionReply
	// ActionKick removes Target from the room and tells the room with Text.
	ActionKick
)

// Outcome is the result of Process.
type Outcome struct {
	Action Action
	Text   string
	// Target is the client a moderation command applied to.
	Target uint32
	// IsError marks replies that report a rejected line.
	IsError bool
}

func reply(text string) Outcome {
	return Outcome{Action: ActionReply, Text: text}
}

func replyError(text string) Outcome {
	return Outcome{Action: ActionReply, Text: text, IsError: true}
}

// Handler interprets chat lines for one server.
type Handler struct {
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	now         func() time.Time
}

type HandlerOption func(*Handler)

func WithLogger(l zerolog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

func WithRateLimit(cfg RateLimitConfig) HandlerOption {
	return func(h *Handler) { h.rateLimiter = NewRateLimiter(cfg) }
}

// NewHandler creates a new command handler
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		rateLimiter: NewRateLimiter(DefaultRateLimitConfig),
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Forget drops per-client state once a client disconnects.
func (h *Handler) Forget(client uint32) {
	h.rateLimiter.Forget(client)
}

// Sweep drops rate limiter state for idle clients.
func (h *Handler) Sweep() int {
	return h.rateLimiter.Sweep(h.now())
}

// Process interprets one chat line sent by sender inside room.
func (h *Handler) Process(room Room, sender uint32, content string) Outcome {
	if !room.Has(sender) {
		return replyError("You are not in a lobby")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Outcome{}
	}
	if !h.rateLimiter.Allow(sender, h.now()) {
		h.logger.Debug().Uint32("client", sender).Msg("chat rate limited")
		return replyError("You are sending messages too fast")
	}

	cmd, ok := ParseCommand(content, sender)
	if !ok {
		if room.IsMuted(sender) {
			return replyError("You are muted")
		}
		return Outcome{Action: ActionBroadcast, Text: truncate(content, MaxMessageLength)}
	}

	switch GetCommandType(cmd.Command) {
	case CmdHelp:
		return reply(HelpText)
	case CmdMute:
		return h.handleMute(room, cmd)
	case CmdUnmute:
		return h.handleUnmute(room, cmd)
	case CmdKick:
		return h.handleKick(room, cmd)
	default:
		return replyError(fmt.Sprintf("Unknown command: -%s (try -help)", cmd.Command))
	}
}

// target validates the host-only command form "<cmd> <id>".
func (h *Handler) target(room Room, cmd ChatCommand) (uint32, *Outcome) {
	if cmd.SenderID != room.Host() {
		out := replyError(fmt.Sprintf("Only the host can use -%s", cmd.Command))
		return 0, &out
	}
	if len(cmd.Args) != 1 {
		out := replyError(fmt.Sprintf("Usage: -%s <id>", cmd.Command))
		return 0, &out
	}
	id, err := strconv.ParseUint(cmd.Args[0], 10, 32)
	if err != nil || id == 0 {
		out := replyError(fmt.Sprintf("Invalid client id %q", cmd.Args[0]))
		return 0, &out
	}
	target := uint32(id)
	if !room.Has(target) {
		out := replyError(fmt.Sprintf("Client %d is not in this lobby", target))
		return 0, &out
	}
	return target, nil
}

func (h *Handler) handleMute(room Room, cmd ChatCommand) Outcome {
	target, fail := h.target(room, cmd)
	if fail != nil {
		return *fail
	}
	if target == cmd.SenderID {
		return replyError("You cannot mute yourself")
	}
	if err := room.Mute(target); err != nil {
		return replyError(err.Error())
	}
	h.logger.Info().Uint32("client", target).Uint32("by", cmd.SenderID).Msg("client muted")
	return Outcome{Action: ActionReply, Text: fmt.Sprintf("Client %d muted", target), Target: target}
}

func (h *Handler) handleUnmute(room Room, cmd ChatCommand) Outcome {
	target, fail := h.target(room, cmd)
	if fail != nil {
		return *fail
	}
	room.Unmute(target)
	return Outcome{Action: ActionReply, Text: fmt.Sprintf("Client %d unmuted", target), Target: target}
}

func (h *Handler) handleKick(room Room, cmd ChatCommand) Outcome {
	target, fail := h.target(room, cmd)
	if fail != nil {
		return *fail
	}
	if target == cmd.SenderID {
		return replyError("You cannot kick yourself")
	}
	h.logger.Info().Uint32("client", target).Uint32("by", cmd.SenderID).Msg("client kicked")
	return Outcome{Action: ActionKick, Text: fmt.Sprintf("Client %d was kicked", target), Target: target}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
