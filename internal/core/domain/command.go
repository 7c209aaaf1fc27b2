package domain

import (
	"fmt"
	"strings"
)

// Command is a lifecycle verb addressed to one container.
type Command string

const (
	// CommandInspect is the implicit command of a bare container request.
	CommandInspect Command = ""
	CommandPause   Command = "pause"
	CommandRemove  Command = "remove"
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandLogs    Command = "logs"
	CommandStats   Command = "stats"
)

// ParseCommand lower-cases raw and reports whether it names a known verb.
// The returned Command carries the lower-cased text either way.
func ParseCommand(raw string) (Command, bool) {
	c := Command(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CommandInspect, CommandPause, CommandRemove, CommandStart, CommandStop, CommandLogs, CommandStats:
		return c, true
	default:
		return c, false
	}
}

// Streaming reports whether the command is served by the stream relay
// instead of the command router.
func (c Command) Streaming() bool {
	return c == CommandLogs || c == CommandStats
}

// Outcome is the single synchronous result of a non-streaming dispatch.
type Outcome struct {
	Status  int
	Message string
}

// CompletedMessage is the operator-facing text for an applied command.
func CompletedMessage(containerID, host, verb string) string {
	return fmt.Sprintf("Container %s on %s %s.", containerID, host, verb)
}

// NoopMessage is the operator-facing text for a command the current status
// gives no meaning to.
func NoopMessage(containerID, host, status string, cmd Command) string {
	return fmt.Sprintf("Container %s on %s is %s; %s has no effect.", containerID, host, status, cmd)
}
