package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/melih/lighthouse-ctl/internal/core/domain"
	"github.com/melih/lighthouse-ctl/internal/core/ports"
	"github.com/melih/lighthouse-ctl/internal/logging"
	"github.com/melih/lighthouse-ctl/internal/metrics"
)

// op is a single mutating runtime call.
type op string

const (
	opStart   op = "start"
	opRestart op = "restart"
	opStop    op = "stop"
	opPause   op = "pause"
	opUnpause op = "unpause"
	opRemove  op = "remove"
)

// step is what a command does against one observed status: the runtime calls
// to issue, in order, and the verb reported once they all succeed. A step
// without calls is a no-op.
type step struct {
	calls []op
	verb  string
}

var noop = step{}

// plan is the status-gated action table. Every (command, status) pair lands
// on an explicit arm.
func plan(cmd domain.Command, status domain.Status) step {
	switch cmd {
	case domain.CommandPause:
		switch status {
		case domain.StatusRunning:
			return step{calls: []op{opPause}, verb: "paused"}
		case domain.StatusPaused:
			return step{calls: []op{opUnpause}, verb: "unpaused"}
		default:
			return noop
		}
	case domain.CommandRemove:
		switch status {
		case domain.StatusRunning:
			return step{calls: []op{opStop, opRemove}, verb: "removed"}
		case domain.StatusExited:
			return step{calls: []op{opRemove}, verb: "removed"}
		default:
			return noop
		}
	case domain.CommandStart:
		switch status {
		case domain.StatusRunning:
			return step{calls: []op{opRestart}, verb: "restarted"}
		case domain.StatusExited:
			return step{calls: []op{opStart}, verb: "started"}
		default:
			return noop
		}
	case domain.CommandStop:
		// stop is issued whatever the runtime reports, unknown statuses included.
		return step{calls: []op{opStop}, verb: "stopped"}
	default:
		return noop
	}
}

// Router translates (host, container, command) into ordered runtime calls.
type Router struct {
	hosts ports.HostRegistry
}

// NewRouter creates a router resolving hosts through the given registry.
func NewRouter(hosts ports.HostRegistry) *Router {
	return &Router{hosts: hosts}
}

// Dispatch runs one non-streaming command and always produces exactly one
// outcome. An empty command inspects the container and returns its snapshot
// as JSON.
func (r *Router) Dispatch(ctx context.Context, host, containerID, command string) domain.Outcome {
	cmd, known := domain.ParseCommand(command)
	out := r.dispatch(ctx, host, containerID, cmd, known)

	label := string(cmd)
	if !known {
		label = metrics.UnsupportedCommand
	}
	metrics.IncCommand(label, out.Status)
	ev := logging.Get().Info()
	if out.Status >= http.StatusBadRequest {
		ev = logging.Get().Warn()
	}
	ev.Str("host", host).
		Str("container", containerID).
		Str("command", string(cmd)).
		Int("status", out.Status).
		Msg("dispatched container command")
	return out
}

func (r *Router) dispatch(ctx context.Context, host, containerID string, cmd domain.Command, known bool) domain.Outcome {
	c, err := r.hosts.Container(host, containerID)
	if err != nil {
		return failure(err)
	}
	if !known {
		return failure(domain.UnsupportedCommand(string(cmd)))
	}
	if cmd.Streaming() {
		return domain.Outcome{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("Command: '%s' is served as a stream.", cmd),
		}
	}

	// The mutating call must see the status as it is now, so the snapshot is
	// always fetched first and never reused across dispatches.
	snap, err := c.Inspect(ctx)
	if err != nil {
		// Whatever the runtime said, a failed inspect is the caller's 400.
		return domain.Outcome{Status: http.StatusBadRequest, Message: err.Error()}
	}

	if cmd == domain.CommandInspect {
		body, err := json.Marshal(snap)
		if err != nil {
			return failure(fmt.Errorf("failed to encode snapshot: %w", err))
		}
		return domain.Outcome{Status: http.StatusOK, Message: string(body)}
	}

	s := plan(cmd, snap.Status)
	if len(s.calls) == 0 {
		return domain.Outcome{
			Status:  http.StatusOK,
			Message: domain.NoopMessage(containerID, host, snap.RawStatus, cmd),
		}
	}

	// Once issued, a command runs to completion even if the client goes away.
	callCtx := context.WithoutCancel(ctx)
	for _, o := range s.calls {
		if err := call(callCtx, c, o); err != nil {
			logging.Get().Error().Err(err).
				Str("host", host).
				Str("container", containerID).
				Str("op", string(o)).
				Msg("runtime call failed")
			return failure(err)
		}
	}
	return domain.Outcome{
		Status:  http.StatusOK,
		Message: domain.CompletedMessage(containerID, host, s.verb),
	}
}

func call(ctx context.Context, c ports.Container, o op) error {
	var err error
	switch o {
	case opStart:
		err = c.Start(ctx)
	case opRestart:
		err = c.Restart(ctx)
	case opStop:
		err = c.Stop(ctx)
	case opPause:
		err = c.Pause(ctx)
	case opUnpause:
		err = c.Unpause(ctx)
	case opRemove:
		err = c.Remove(ctx)
	default:
		return fmt.Errorf("unknown runtime operation %q", o)
	}
	if err != nil {
		metrics.IncRuntimeError(string(o))
	}
	return err
}

// failure converts any error into the terminal outcome the caller sees.
// Unclassified errors are treated as runtime failures.
func failure(err error) domain.Outcome {
	if domain.KindOf(err) == 0 {
		err = domain.RuntimeOperationFailed(0, err)
	}
	return domain.Outcome{Status: domain.StatusOf(err), Message: err.Error()}
}
