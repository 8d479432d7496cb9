package core

import (
	"strings"

	"github.com/vovakirdan/pipechat-server/internal/proto"
)

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandUnknown is any command name the router does not recognize.
	CommandUnknown CommandKind = iota
	// CommandLogin registers the connection under a display name.
	CommandLogin
	// CommandHeartbeat refreshes the liveness timestamp.
	CommandHeartbeat
	// CommandJoin subscribes the client to a room.
	CommandJoin
	// CommandSay delivers a chat message to room members.
	CommandSay
	// CommandDM sends a direct message to a user by display name.
	CommandDM
	// CommandWho lists the members of a room.
	CommandWho
	// CommandLeave unsubscribes the client from a room.
	CommandLeave
	// CommandQuit ends the session.
	CommandQuit
)

var commandKinds = map[string]CommandKind{
	"LOGIN":     CommandLogin,
	"HEARTBEAT": CommandHeartbeat,
	"JOIN":      CommandJoin,
	"SAY":       CommandSay,
	"DM":        CommandDM,
	"WHO":       CommandWho,
	"LEAVE":     CommandLeave,
	"QUIT":      CommandQuit,
}

// String returns the wire name of the command.
func (k CommandKind) String() string {
	for name, kind := range commandKinds {
		if kind == k {
			return name
		}
	}
	return "UNKNOWN"
}

// Command represents an action requested by a connection.
type Command struct {
	ConnID string
	Kind   CommandKind
	// Name is the upper-cased command name as received.
	Name string
	Args []string
}

// NewCommand builds a command record, normalizing the name to upper case.
func NewCommand(connID, name string, args ...string) Command {
	name = strings.ToUpper(strings.TrimSpace(name))
	return Command{
		ConnID: connID,
		Kind:   commandKinds[name],
		Name:   name,
		Args:   args,
	}
}

// CommandFromRecord converts a parsed wire record.
func CommandFromRecord(rec proto.Record) Command {
	return NewCommand(rec.ConnID, rec.Command, rec.Args...)
}

// text joins the arguments starting at index from with single spaces.
// SAY and DM bodies may have been split on the wire delimiter.
func (c Command) text(from int) string {
	if from >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[from:], " ")
}
