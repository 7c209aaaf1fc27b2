package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state a runtime reports for a container.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusExited  Status = "exited"
	// StatusUnknown covers every runtime value the router has no rule for
	// (restarting, removing, dead, ...).
	StatusUnknown Status = "unknown"
)

// ParseStatus maps a raw runtime status onto the known set.
func ParseStatus(raw string) Status {
	switch s := Status(strings.ToLower(raw)); s {
	case StatusCreated, StatusRunning, StatusPaused, StatusExited:
		return s
	default:
		return StatusUnknown
	}
}

// Port is a published container port.
type Port struct {
	PrivatePort uint16 `json:"private_port"`
	PublicPort  uint16 `json:"public_port,omitempty"`
	HostIP      string `json:"host_ip,omitempty"`
	Protocol    string `json:"protocol"`
}

// Snapshot is a point-in-time read of a single container. It is never cached:
// every command decision works from a freshly fetched one.
type Snapshot struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Image      string            `json:"image"`
	Status     Status            `json:"status"`
	RawStatus  string            `json:"raw_status"`
	Labels     map[string]string `json:"labels"`
	Ports      []Port            `json:"ports"`
	Created    time.Time         `json:"created"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
	ExitCode   int               `json:"exit_code"`
	// TTY containers emit a raw log stream; all others multiplex stdout and
	// stderr into one framed channel.
	TTY bool `json:"tty"`
}

// ContainerSummary is one row of a host listing.
type ContainerSummary struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Project string            `json:"project,omitempty"`
	Image   string            `json:"image"`
	State   string            `json:"state"`
	Status  string            `json:"status"`
	Labels  map[string]string `json:"labels"`
	Ports   []Port            `json:"ports"`
	Created time.Time         `json:"created"`
}

// ComposeProjectLabel is the label docker compose stamps on its containers.
const ComposeProjectLabel = "com.docker.compose.project"
