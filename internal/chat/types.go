// Package chat interprets lobby chat: plain messages are broadcast, lines
// starting with CommandPrefix are moderation commands.
package chat

import (
	"strings"
	"time"
)

// CommandPrefix marks a chat line as a command.
const CommandPrefix = "-"

// SystemSender is the sender name used for server replies.
const SystemSender = "SYSTEM"

// MaxMessageLength caps broadcast content in bytes.
const MaxMessageLength = 256

// ChatCommand is a parsed command line.
type ChatCommand struct {
	Command    string   // "mute", "kick", ...
	Args       []string // arguments after the command
	SenderID   uint32
	ReceivedAt time.Time
}

// CommandType for routing
type CommandType int

const (
	CmdMute CommandType = iota
	CmdUnmute
	CmdKick
	CmdHelp
	CmdUnknown
)

// SupportedCommands maps command strings to types
var SupportedCommands = map[string]CommandType{
	"mute":     CmdMute,
	"unmute":   CmdUnmute,
	"kick":     CmdKick,
	"help":     CmdHelp,
	"commands": CmdHelp,
}

// GetCommandType returns the command type for a lowercase command name.
func GetCommandType(cmd string) CommandType {
	if t, ok := SupportedCommands[cmd]; ok {
		return t
	}
	return CmdUnknown
}

// ParseCommand splits a "-name arg..." line. It reports false for plain
// chat.
func ParseCommand(content string, sender uint32) (ChatCommand, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, CommandPrefix) {
		return ChatCommand{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, CommandPrefix))
	if len(fields) == 0 {
		return ChatCommand{}, false
	}
	return ChatCommand{
		Command:    strings.ToLower(fields[0]),
		Args:       fields[1:],
		SenderID:   sender,
		ReceivedAt: time.Now(),
	}, true
}

// HelpText lists the commands.
const HelpText = "Commands: -mute <id> | -unmute <id> | -kick <id> (host only) | -help"
