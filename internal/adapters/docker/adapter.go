package docker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/melih/lighthouse-ctl/internal/core/domain"
	"github.com/melih/lighthouse-ctl/internal/core/ports"
)

// dockerAPI is the subset of the Docker SDK client the adapter uses.
type dockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerPause(ctx context.Context, containerID string) error
	ContainerUnpause(ctx context.Context, containerID string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (types.ContainerStats, error)
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

// Options configures the connection to one Docker endpoint.
type Options struct {
	// Endpoint is a unix:// or tcp:// daemon URL. Empty uses DOCKER_HOST and
	// the rest of the Docker environment.
	Endpoint   string
	APIVersion string
	TLSCA      string
	TLSCert    string
	TLSKey     string
	// StopTimeout is the grace period passed to stop and restart.
	StopTimeout time.Duration
}

// Adapter implements ports.Host on top of the Docker SDK. Each adapter owns
// one client bound to one endpoint.
type Adapter struct {
	name        string
	cli         dockerAPI
	stopTimeout time.Duration
}

var _ ports.Host = (*Adapter)(nil)

// NewAdapter connects a named host to its Docker endpoint. The daemon is not
// contacted until the first call.
func NewAdapter(name string, opts Options) (*Adapter, error) {
	clientOpts := []client.Opt{}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Endpoint))
	} else {
		clientOpts = append(clientOpts, client.FromEnv)
	}
	if opts.APIVersion != "" {
		clientOpts = append(clientOpts, client.WithVersion(opts.APIVersion))
	} else {
		clientOpts = append(clientOpts, client.WithAPIVersionNegotiation())
	}
	if opts.TLSCA != "" {
		clientOpts = append(clientOpts, client.WithTLSClientConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client for host %s: %w", name, err)
	}
	return newAdapter(name, cli, opts.StopTimeout), nil
}

func newAdapter(name string, cli dockerAPI, stopTimeout time.Duration) *Adapter {
	return &Adapter{name: name, cli: cli, stopTimeout: stopTimeout}
}

// Name returns the logical host name.
func (a *Adapter) Name() string { return a.name }

// Container binds a handle to id. Nothing is checked until the first call.
func (a *Adapter) Container(id string) ports.Container {
	return &containerHandle{a: a, id: id}
}

// List returns every container on the host, stopped ones included, in the
// order the daemon reports them.
func (a *Adapter) List(ctx context.Context) ([]domain.ContainerSummary, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, runtimeError(fmt.Errorf("failed to list containers on %s: %w", a.name, err))
	}

	result := make([]domain.ContainerSummary, 0, len(containers))
	for _, c := range containers {
		// Use the first name if available, remove slash
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		published := make([]domain.Port, 0, len(c.Ports))
		for _, p := range c.Ports {
			published = append(published, domain.Port{
				PrivatePort: p.PrivatePort,
				PublicPort:  p.PublicPort,
				HostIP:      p.IP,
				Protocol:    p.Type,
			})
		}
		result = append(result, domain.ContainerSummary{
			ID:      c.ID,
			Name:    name,
			Project: c.Labels[domain.ComposeProjectLabel],
			Image:   c.Image,
			State:   c.State,
			Status:  c.Status,
			Labels:  c.Labels,
			Ports:   published,
			Created: time.Unix(c.Created, 0).UTC(),
		})
	}
	return result, nil
}

// Ping checks that the daemon answers.
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.cli.Ping(ctx); err != nil {
		return runtimeError(err)
	}
	return nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

func (a *Adapter) stopOptions() container.StopOptions {
	if a.stopTimeout <= 0 {
		return container.StopOptions{}
	}
	secs := int(a.stopTimeout.Seconds())
	return container.StopOptions{Timeout: &secs}
}

// containerHandle is a ports.Container bound to one container id.
type containerHandle struct {
	a  *Adapter
	id string
}

func (h *containerHandle) ID() string { return h.id }

func (h *containerHandle) Inspect(ctx context.Context) (domain.Snapshot, error) {
	insp, err := h.a.cli.ContainerInspect(ctx, h.id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domain.Snapshot{}, domain.ContainerNotFound(h.id, err)
		}
		return domain.Snapshot{}, runtimeError(err)
	}
	return snapshotFrom(insp), nil
}

func (h *containerHandle) Start(ctx context.Context) error {
	return runtimeError(h.a.cli.ContainerStart(ctx, h.id, container.StartOptions{}))
}

func (h *containerHandle) Restart(ctx context.Context) error {
	return runtimeError(h.a.cli.ContainerRestart(ctx, h.id, h.a.stopOptions()))
}

func (h *containerHandle) Stop(ctx context.Context) error {
	return runtimeError(h.a.cli.ContainerStop(ctx, h.id, h.a.stopOptions()))
}

func (h *containerHandle) Pause(ctx context.Context) error {
	return runtimeError(h.a.cli.ContainerPause(ctx, h.id))
}

func (h *containerHandle) Unpause(ctx context.Context) error {
	return runtimeError(h.a.cli.ContainerUnpause(ctx, h.id))
}

func (h *containerHandle) Remove(ctx context.Context) error {
	return runtimeError(h.a.cli.ContainerRemove(ctx, h.id, container.RemoveOptions{}))
}

func (h *containerHandle) Logs(ctx context.Context) (io.ReadCloser, error) {
	body, err := h.a.cli.ContainerLogs(ctx, h.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, runtimeError(err)
	}
	return body, nil
}

func (h *containerHandle) Stats(ctx context.Context) (ports.StatsFeed, error) {
	resp, err := h.a.cli.ContainerStats(ctx, h.id, true)
	if err != nil {
		return nil, runtimeError(err)
	}
	return newStatsFeed(resp.Body), nil
}

func snapshotFrom(insp types.ContainerJSON) domain.Snapshot {
	var snap domain.Snapshot
	if base := insp.ContainerJSONBase; base != nil {
		snap.ID = base.ID
		snap.Name = strings.TrimPrefix(base.Name, "/")
		snap.Image = base.Image
		snap.Created = parseTime(base.Created)
		if st := base.State; st != nil {
			snap.RawStatus = st.Status
			snap.ExitCode = st.ExitCode
			snap.StartedAt = parseTime(st.StartedAt)
			snap.FinishedAt = parseTime(st.FinishedAt)
		}
	}
	snap.Status = domain.ParseStatus(snap.RawStatus)

	if cfg := insp.Config; cfg != nil {
		// The configured image reference reads better than the image id.
		if cfg.Image != "" {
			snap.Image = cfg.Image
		}
		snap.Labels = cfg.Labels
		snap.TTY = cfg.Tty
	}

	snap.Ports = []domain.Port{}
	if ns := insp.NetworkSettings; ns != nil {
		for port, bindings := range ns.Ports {
			if len(bindings) == 0 {
				snap.Ports = append(snap.Ports, domain.Port{PrivatePort: uint16(port.Int()), Protocol: port.Proto()})
				continue
			}
			for _, b := range bindings {
				public, _ := strconv.ParseUint(b.HostPort, 10, 16)
				snap.Ports = append(snap.Ports, domain.Port{
					PrivatePort: uint16(port.Int()),
					PublicPort:  uint16(public),
					HostIP:      b.HostIP,
					Protocol:    port.Proto(),
				})
			}
		}
	}
	sort.Slice(snap.Ports, func(i, j int) bool {
		pi, pj := snap.Ports[i], snap.Ports[j]
		if pi.PrivatePort != pj.PrivatePort {
			return pi.PrivatePort < pj.PrivatePort
		}
		if pi.Protocol != pj.Protocol {
			return pi.Protocol < pj.Protocol
		}
		return pi.HostIP < pj.HostIP
	})
	return snap
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.Year() <= 1 {
		return time.Time{}
	}
	return t
}

// runtimeError classifies a Docker SDK error. It returns nil for nil.
func runtimeError(err error) error {
	if err == nil {
		return nil
	}
	return domain.RuntimeOperationFailed(statusFor(err), err)
}

// statusFor maps the SDK's error classes onto HTTP statuses. Zero means no
// class applied.
func statusFor(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsConflict(err):
		return http.StatusConflict
	case errdefs.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errdefs.IsForbidden(err):
		return http.StatusForbidden
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errdefs.IsInvalidParameter(err):
		return http.StatusBadRequest
	default:
		return 0
	}
}
