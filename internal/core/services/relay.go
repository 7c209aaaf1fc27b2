package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/melih/lighthouse-ctl/internal/core/domain"
	"github.com/melih/lighthouse-ctl/internal/core/ports"
	"github.com/melih/lighthouse-ctl/internal/logging"
	"github.com/melih/lighthouse-ctl/internal/metrics"
)

const defaultChunkSize = 32 * 1024

// RelayOptions tunes stream sessions.
type RelayOptions struct {
	// Heartbeat is how often an idle session probes the client. Zero
	// disables heartbeats.
	Heartbeat time.Duration
	// ChunkSize bounds a single read from a log upstream.
	ChunkSize int
}

// Relay opens stream sessions and keeps track of the live ones so that none
// outlives the process.
type Relay struct {
	hosts ports.HostRegistry
	opts  RelayOptions

	mu       sync.Mutex
	sessions map[uint64]*Session
	nextID   uint64
	shutdown bool
}

// NewRelay creates a relay resolving hosts through the given registry.
func NewRelay(hosts ports.HostRegistry, opts RelayOptions) *Relay {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	return &Relay{
		hosts:    hosts,
		opts:     opts,
		sessions: make(map[uint64]*Session),
	}
}

var errRelayShutdown = &domain.Error{
	Kind:    domain.KindStreamSetupFailed,
	Status:  http.StatusServiceUnavailable,
	Message: "Stream relay is shutting down.",
}

// OpenLogs subscribes to the container's combined stdout and stderr in
// follow mode. Any failure is returned before a session exists, so the
// caller can still answer with a plain status.
func (r *Relay) OpenLogs(ctx context.Context, host, containerID string) (*Session, error) {
	return r.open(ctx, StreamLogs, host, containerID, func(upCtx context.Context, c ports.Container, snap domain.Snapshot) (source, error) {
		body, err := c.Logs(upCtx)
		if err != nil {
			return nil, err
		}
		if !snap.TTY {
			body = demux(body)
		}
		return &readerSource{r: body, size: r.opts.ChunkSize}, nil
	})
}

// OpenStats subscribes to the container's resource-usage stream.
func (r *Relay) OpenStats(ctx context.Context, host, containerID string) (*Session, error) {
	return r.open(ctx, StreamStats, host, containerID, func(upCtx context.Context, c ports.Container, _ domain.Snapshot) (source, error) {
		feed, err := c.Stats(upCtx)
		if err != nil {
			return nil, err
		}
		return &statsSource{feed: feed}, nil
	})
}

type subscribeFunc func(ctx context.Context, c ports.Container, snap domain.Snapshot) (source, error)

func (r *Relay) open(ctx context.Context, kind StreamKind, host, containerID string, subscribe subscribeFunc) (*Session, error) {
	c, err := r.hosts.Container(host, containerID)
	if err != nil {
		return nil, err
	}
	snap, err := c.Inspect(ctx)
	if err != nil {
		return nil, domain.StreamSetupFailed(err)
	}

	// The upstream lives as long as the session, not the opening request.
	upCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	src, err := subscribe(upCtx, c, snap)
	if err != nil {
		cancel()
		metrics.IncRuntimeError(string(kind))
		return nil, domain.StreamSetupFailed(err)
	}

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		cancel()
		_ = src.close()
		return nil, errRelayShutdown
	}
	r.nextID++
	s := &Session{
		ID:        r.nextID,
		Kind:      kind,
		Host:      host,
		Container: containerID,
		src:       src,
		cancel:    cancel,
		heartbeat: r.opts.Heartbeat,
		onClose:   r.forget,
		done:      make(chan struct{}),
		opened:    time.Now(),
	}
	s.state.Store(int32(SessionStreaming))
	r.sessions[s.ID] = s
	r.mu.Unlock()

	metrics.SessionOpened(string(kind))
	logging.Get().Info().
		Uint64("session", s.ID).
		Str("kind", string(kind)).
		Str("host", host).
		Str("container", containerID).
		Bool("tty", snap.TTY).
		Msg("stream session opened")
	return s, nil
}

func (r *Relay) forget(s *Session) {
	r.mu.Lock()
	_, ok := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	r.mu.Unlock()
	if ok {
		metrics.SessionClosed(string(s.Kind))
	}
}

// Active returns the number of sessions whose upstream is still open.
func (r *Relay) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown refuses new sessions and closes every live one.
func (r *Relay) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range live {
		if err := s.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			errs = append(errs, err)
		}
	}
	logging.Get().Info().Int("sessions", len(live)).Err(errors.Join(errs...)).Msg("stream relay shut down")
}
