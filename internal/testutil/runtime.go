// Package testutil provides in-memory runtime doubles for tests.
//
// MockHost implements ports.Host and hands out MockContainer handles. Every
// call made through a handle is appended to the host's call log as
// "<op>:<container>", so tests can assert both the set and the order of
// runtime calls:
//
//	h := testutil.NewMockHost("edge-1")
//	c := h.AddContainer("web", "running")
//	// ... exercise code under test ...
//	h.Calls() // ["inspect:web", "stop:web", "remove:web"]
//
// Successful lifecycle calls move the container to the status the runtime
// would report next, so repeated commands observe fresh state.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/melih/lighthouse-ctl/internal/core/domain"
	"github.com/melih/lighthouse-ctl/internal/core/ports"
)

// MockHost is an in-memory ports.Host.
type MockHost struct {
	HostName string

	mu         sync.Mutex
	containers map[string]*MockContainer
	calls      []string
	summaries  []domain.ContainerSummary

	ListErr error
	PingErr error
	closed  atomic.Int32
}

var _ ports.Host = (*MockHost)(nil)

// NewMockHost creates an empty host.
func NewMockHost(name string) *MockHost {
	return &MockHost{HostName: name, containers: make(map[string]*MockContainer)}
}

// AddContainer registers a container with the given raw runtime status.
func (h *MockHost) AddContainer(id, status string) *MockContainer {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &MockContainer{host: h, id: id, status: status, errors: make(map[string]error)}
	h.containers[id] = c
	h.summaries = append(h.summaries, domain.ContainerSummary{ID: id, Name: id, State: status})
	return c
}

func (h *MockHost) record(op, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, op+":"+id)
}

// Calls returns every recorded call in order.
func (h *MockHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	copy(out, h.calls)
	return out
}

// CountCalls returns how many times op was called on any container.
func (h *MockHost) CountCalls(op string) int {
	n := 0
	for _, c := range h.Calls() {
		if len(c) > len(op) && c[:len(op)+1] == op+":" {
			n++
		}
	}
	return n
}

// MutatingCalls returns the recorded calls that change container state.
func (h *MockHost) MutatingCalls() []string {
	var out []string
	for _, c := range h.Calls() {
		for _, op := range []string{"start", "restart", "stop", "pause", "unpause", "remove"} {
			if len(c) > len(op) && c[:len(op)+1] == op+":" {
				out = append(out, c)
			}
		}
	}
	return out
}

// Closed reports how many times Close was called.
func (h *MockHost) Closed() int { return int(h.closed.Load()) }

func (h *MockHost) Name() string { return h.HostName }

// Container binds id. Unknown ids get a handle whose Inspect reports the
// container as missing.
func (h *MockHost) Container(id string) ports.Container {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.containers[id]; ok {
		return c
	}
	return &MockContainer{host: h, id: id, missing: true, errors: make(map[string]error)}
}

func (h *MockHost) List(ctx context.Context) ([]domain.ContainerSummary, error) {
	if h.ListErr != nil {
		return nil, h.ListErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.ContainerSummary, len(h.summaries))
	copy(out, h.summaries)
	return out, nil
}

func (h *MockHost) Ping(ctx context.Context) error { return h.PingErr }

func (h *MockHost) Close() error {
	h.closed.Add(1)
	return nil
}

// MockContainer is an in-memory ports.Container.
type MockContainer struct {
	host *MockHost
	id   string

	mu      sync.Mutex
	status  string
	missing bool
	errors  map[string]error

	// TTY containers stream raw logs; others are framed like the Docker
	// multiplexed stream.
	TTY bool
	// LogChunks are served in order by every log subscription.
	LogChunks []string
	// StatsSamples are served in order by every stats subscription.
	StatsSamples []domain.StatsSample
	// Hold keeps subscriptions open after their data is served, until closed.
	Hold bool

	streams []*MockStream
	feeds   []*MockStatsFeed
}

var _ ports.Container = (*MockContainer)(nil)

// SetError makes op fail with err.
func (c *MockContainer) SetError(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[op] = err
}

// Status returns the current raw status.
func (c *MockContainer) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Streams returns every log subscription opened so far.
func (c *MockContainer) Streams() []*MockStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*MockStream(nil), c.streams...)
}

// Feeds returns every stats subscription opened so far.
func (c *MockContainer) Feeds() []*MockStatsFeed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*MockStatsFeed(nil), c.feeds...)
}

func (c *MockContainer) ID() string { return c.id }

func (c *MockContainer) Inspect(ctx context.Context) (domain.Snapshot, error) {
	c.host.record("inspect", c.id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errors["inspect"]; err != nil {
		return domain.Snapshot{}, err
	}
	if c.missing {
		return domain.Snapshot{}, domain.ContainerNotFound(c.id, errdefs.NotFound(errors.New("No such container: "+c.id)))
	}
	return domain.Snapshot{
		ID:        c.id,
		Name:      c.id,
		Status:    domain.ParseStatus(c.status),
		RawStatus: c.status,
		TTY:       c.TTY,
	}, nil
}

// apply records op and, when it succeeds, moves the container to next.
func (c *MockContainer) apply(op, next string) error {
	c.host.record(op, c.id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errors[op]; err != nil {
		return err
	}
	if next == "" {
		c.missing = true
		return nil
	}
	c.status = next
	return nil
}

func (c *MockContainer) Start(ctx context.Context) error   { return c.apply("start", "running") }
func (c *MockContainer) Restart(ctx context.Context) error { return c.apply("restart", "running") }
func (c *MockContainer) Stop(ctx context.Context) error    { return c.apply("stop", "exited") }
func (c *MockContainer) Pause(ctx context.Context) error   { return c.apply("pause", "paused") }
func (c *MockContainer) Unpause(ctx context.Context) error { return c.apply("unpause", "running") }
func (c *MockContainer) Remove(ctx context.Context) error  { return c.apply("remove", "") }

func (c *MockContainer) Logs(ctx context.Context) (io.ReadCloser, error) {
	c.host.record("logs", c.id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errors["logs"]; err != nil {
		return nil, err
	}
	chunks := make([][]byte, 0, len(c.LogChunks))
	for i, data := range c.LogChunks {
		if c.TTY {
			chunks = append(chunks, []byte(data))
			continue
		}
		// Alternate stdout and stderr frames the way a daemon interleaves them.
		var buf bytes.Buffer
		stream := stdcopy.Stdout
		if i%2 == 1 {
			stream = stdcopy.Stderr
		}
		_, _ = stdcopy.NewStdWriter(&buf, stream).Write([]byte(data))
		chunks = append(chunks, buf.Bytes())
	}
	s := NewMockStream(c.Hold, chunks...)
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *MockContainer) Stats(ctx context.Context) (ports.StatsFeed, error) {
	c.host.record("stats", c.id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errors["stats"]; err != nil {
		return nil, err
	}
	f := &MockStatsFeed{samples: append([]domain.StatsSample(nil), c.StatsSamples...), hold: c.Hold, closed: make(chan struct{})}
	c.feeds = append(c.feeds, f)
	return f, nil
}

// MockStream is an upstream byte stream. Once its chunks are consumed it
// either ends with io.EOF or, when held, blocks until closed.
type MockStream struct {
	mu         sync.Mutex
	chunks     [][]byte
	hold       bool
	closed     chan struct{}
	closeOnce  sync.Once
	closeCount atomic.Int32
}

// NewMockStream creates a stream serving chunks in order.
func NewMockStream(hold bool, chunks ...[]byte) *MockStream {
	return &MockStream{chunks: chunks, hold: hold, closed: make(chan struct{})}
}

func (s *MockStream) Read(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	s.mu.Lock()
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		n := copy(p, c)
		if n < len(c) {
			s.chunks[0] = c[n:]
		} else {
			s.chunks = s.chunks[1:]
		}
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()
	if !s.hold {
		return 0, io.EOF
	}
	<-s.closed
	return 0, io.ErrClosedPipe
}

// Close terminates the stream. Every call is counted.
func (s *MockStream) Close() error {
	s.closeCount.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// CloseCount returns how many times Close was called.
func (s *MockStream) CloseCount() int { return int(s.closeCount.Load()) }

// MockStatsFeed is an upstream stats subscription.
type MockStatsFeed struct {
	mu         sync.Mutex
	samples    []domain.StatsSample
	hold       bool
	closed     chan struct{}
	closeOnce  sync.Once
	closeCount atomic.Int32
}

func (f *MockStatsFeed) Next() (domain.StatsSample, error) {
	select {
	case <-f.closed:
		return domain.StatsSample{}, io.ErrClosedPipe
	default:
	}
	f.mu.Lock()
	if len(f.samples) > 0 {
		s := f.samples[0]
		f.samples = f.samples[1:]
		f.mu.Unlock()
		return s, nil
	}
	f.mu.Unlock()
	if !f.hold {
		return domain.StatsSample{}, io.EOF
	}
	<-f.closed
	return domain.StatsSample{}, io.ErrClosedPipe
}

func (f *MockStatsFeed) Close() error {
	f.closeCount.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// CloseCount returns how many times Close was called.
func (f *MockStatsFeed) CloseCount() int { return int(f.closeCount.Load()) }
