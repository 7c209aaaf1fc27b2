package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/melih/lighthouse-ctl/internal/core/domain"
	"github.com/melih/lighthouse-ctl/internal/testutil"
)

func runAsync(s *Session, sink Sink) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(sink) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestOpenLogsDemultiplexes(t *testing.T) {
	h := testutil.NewMockHost("edge-1")
	c := h.AddContainer("web", "running")
	c.LogChunks = []string{"starting\n", "warning: low disk\n", "ready\n"}
	relay := NewRelay(newTestRegistry(t, h), RelayOptions{})

	s, err := relay.OpenLogs(context.Background(), "edge-1", "web")
	if err != nil {
		t.Fatalf("OpenLogs() error = %v", err)
	}
	if relay.Active() != 1 {
		t.Errorf("Active() = %d, want 1", relay.Active())
	}
	sink := newRecordingSink()
	if err := s.Run(sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got, want := string(sink.joined()), "starting\nwarning: low disk\nready\n"; got != want {
		t.Errorf("forwarded %q, want %q", got, want)
	}
	streams := c.Streams()
	if len(streams) != 1 || streams[0].CloseCount() != 1 {
		t.Errorf("upstream subscriptions = %d, want 1 closed once", len(streams))
	}
	if relay.Active() != 0 {
		t.Errorf("Active() = %d after end, want 0", relay.Active())
	}
}

func TestOpenLogsTTYIsRaw(t *testing.T) {
	h := testutil.NewMockHost("edge-1")
	c := h.AddContainer("shell", "running")
	c.TTY = true
	c.LogChunks = []string{"\x01\x00\x00\x00raw", " bytes"}
	relay := NewRelay(newTestRegistry(t, h), RelayOptions{})

	s, err := relay.OpenLogs(context.Background(), "edge-1", "shell")
	if err != nil {
		t.Fatalf("OpenLogs() error = %v", err)
	}
	sink := newRecordingSink()
	if err := s.Run(sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := string(sink.joined()); got != "\x01\x00\x00\x00raw bytes" {
		t.Errorf("forwarded %q", got)
	}
}

func TestDemuxInterleavesChannels(t *testing.T) {
	var framed bytes.Buffer
	stdout := stdcopy.NewStdWriter(&framed, stdcopy.Stdout)
	stderr := stdcopy.NewStdWriter(&framed, stdcopy.Stderr)
	_, _ = stdout.Write([]byte("out-1 "))
	_, _ = stderr.Write([]byte("err-1 "))
	_, _ = stdout.Write([]byte("out-2"))

	body := testutil.NewMockStream(false, framed.Bytes())
	r := demux(body)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "out-1 err-1 out-2" {
		t.Errorf("demuxed %q", got)
	}
	_ = r.Close()
	if body.CloseCount() != 1 {
		t.Errorf("body closed %d times, want 1", body.CloseCount())
	}
}

func TestOpenStatsEncodesSamples(t *testing.T) {
	h := testutil.NewMockHost("edge-1")
	c := h.AddContainer("db", "running")
	c.StatsSamples = []domain.StatsSample{
		{CPUPercent: 12.5, MemoryUsage: 100},
		{CPUPercent: 30, MemoryUsage: 150},
	}
	relay := NewRelay(newTestRegistry(t, h), RelayOptions{})

	s, err := relay.OpenStats(context.Background(), "edge-1", "db")
	if err != nil {
		t.Fatalf("OpenStats() error = %v", err)
	}
	sink := newRecordingSink()
	if err := s.Run(sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("events = %d, want 2", len(sink.events))
	}
	for i, ev := range sink.events {
		var got domain.StatsSample
		if err := json.Unmarshal(ev, &got); err != nil {
			t.Fatalf("event %d is not a sample: %v", i, err)
		}
		if got.CPUPercent != c.StatsSamples[i].CPUPercent {
			t.Errorf("event %d cpu = %v, want %v", i, got.CPUPercent, c.StatsSamples[i].CPUPercent)
		}
	}
	if feeds := c.Feeds(); len(feeds) != 1 || feeds[0].CloseCount() != 1 {
		t.Errorf("stats feed not closed exactly once")
	}
}

func TestOpenSetupFailures(t *testing.T) {
	h := testutil.NewMockHost("edge-1")
	h.AddContainer("web", "running")
	broken := h.AddContainer("broken", "running")
	broken.SetError("logs", domain.RuntimeOperationFailed(http.StatusServiceUnavailable, errors.New("daemon busy")))
	broken.SetError("stats", errdefs.Unavailable(errors.New("daemon busy")))
	relay := NewRelay(newTestRegistry(t, h), RelayOptions{})
	ctx := context.Background()

	tests := []struct {
		name   string
		open   func() (*Session, error)
		status int
		kind   domain.Kind
	}{
		{"unknown host", func() (*Session, error) { return relay.OpenLogs(ctx, "edge-9", "web") }, http.StatusNotFound, domain.KindHostNotFound},
		{"missing container", func() (*Session, error) { return relay.OpenStats(ctx, "edge-1", "gone") }, http.StatusBadRequest, domain.KindStreamSetupFailed},
		{"logs refused", func() (*Session, error) { return relay.OpenLogs(ctx, "edge-1", "broken") }, http.StatusServiceUnavailable, domain.KindStreamSetupFailed},
		{"stats refused", func() (*Session, error) { return relay.OpenStats(ctx, "edge-1", "broken") }, http.StatusBadRequest, domain.KindStreamSetupFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.open()
			if err == nil {
				t.Fatalf("open succeeded with session %d", s.ID)
			}
			if got := domain.StatusOf(err); got != tt.status {
				t.Errorf("status = %d, want %d", got, tt.status)
			}
			if !domain.IsKind(err, tt.kind) {
				t.Errorf("kind = %v, want %v", domain.KindOf(err), tt.kind)
			}
		})
	}
	if relay.Active() != 0 {
		t.Errorf("Active() = %d, want 0", relay.Active())
	}
	if n := h.CountCalls("logs") + h.CountCalls("stats"); n != 2 {
		t.Errorf("subscriptions attempted = %d, want 2", n)
	}
}

func TestDownstreamDisconnectClosesUpstreamOnce(t *testing.T) {
	h := testutil.NewMockHost("edge-1")
	c := h.AddContainer("web", "running")
	c.LogChunks = []string{"a", "b", "c", "d"}
	c.Hold = true
	relay := NewRelay(newTestRegistry(t, h), RelayOptions{})

	s, err := relay.OpenLogs(context.Background(), "edge-1", "web")
	if err != nil {
		t.Fatalf("OpenLogs() error = %v", err)
	}
	sink := newRecordingSink()
	sink.failSendAfter = 2
	if err := waitRun(t, runAsync(s, sink)); err != nil {
		t.Errorf("Run() error = %v, want nil for a disconnect", err)
	}

	_ = s.Close()
	if got := c.Streams()[0].CloseCount(); got != 1 {
		t.Errorf("upstream closed %d times, want 1", got)
	}
	if sink.finished != 1 {
		t.Errorf("Finish called %d times, want 1", sink.finished)
	}
	if relay.Active() != 0 {
		t.Errorf("Active() = %d, want 0", relay.Active())
	}
}

func TestCloseIdleSession(t *testing.T) {
	h := testutil.NewMockHost("edge-1")
	c := h.AddContainer("web", "running")
	c.Hold = true
	relay := NewRelay(newTestRegistry(t, h), RelayOptions{})

	s, err := relay.OpenStats(context.Background(), "edge-1", "web")
	if err != nil {
		t.Fatalf("OpenStats() error = %v", err)
	}
	sink := newRecordingSink()
	done := runAsync(s, sink)

	_ = s.Close()
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if got := c.Feeds()[0].CloseCount(); got != 1 {
		t.Errorf("upstream closed %d times, want 1", got)
	}
	if s.State() != SessionClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
}

func TestSubscriptionsAreOnePerSession(t *testing.T) {
	h := testutil.NewMockHost("edge-1")
	c := h.AddContainer("web", "running")
	c.LogChunks = []string{"line\n"}
	c.Hold = true
	relay := NewRelay(newTestRegistry(t, h), RelayOptions{})

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := relay.OpenLogs(context.Background(), "edge-1", "web")
		if err != nil {
			t.Fatalf("OpenLogs() error = %v", err)
		}
		sessions = append(sessions, s)
	}
	if got := len(c.Streams()); got != 3 {
		t.Fatalf("upstream subscriptions = %d, want 3", got)
	}

	// Closing one session leaves the others' upstreams open.
	_ = sessions[1].Close()
	streams := c.Streams()
	want := []int{0, 1, 0}
	for i, st := range streams {
		if st.CloseCount() != want[i] {
			t.Errorf("stream %d closed %d times, want %d", i, st.CloseCount(), want[i])
		}
	}
	if relay.Active() != 2 {
		t.Errorf("Active() = %d, want 2", relay.Active())
	}
	relay.Shutdown()
}

func TestConcurrentSessionsDoNotInterleave(t *testing.T) {
	h := testutil.NewMockHost("edge-1")
	want := map[string]string{}
	for _, id := range []string{"alpha", "beta", "gamma"} {
		c := h.AddContainer(id, "running")
		var all strings.Builder
		for i := 0; i < 50; i++ {
			line := fmt.Sprintf("%s line %02d\n", id, i)
			c.LogChunks = append(c.LogChunks, line)
			all.WriteString(line)
		}
		want[id] = all.String()
	}
	relay := NewRelay(newTestRegistry(t, h), RelayOptions{ChunkSize: 7})

	var wg sync.WaitGroup
	got := make(map[string]string)
	var mu sync.Mutex
	for id := range want {
		s, err := relay.OpenLogs(context.Background(), "edge-1", id)
		if err != nil {
			t.Fatalf("OpenLogs(%s) error = %v", id, err)
		}
		wg.Add(1)
		go func(id string, s *Session) {
			defer wg.Done()
			sink := newRecordingSink()
			if err := s.Run(sink); err != nil {
				t.Errorf("Run(%s) error = %v", id, err)
			}
			mu.Lock()
			got[id] = string(sink.joined())
			mu.Unlock()
		}(id, s)
	}
	wg.Wait()

	for id, w := range want {
		if got[id] != w {
			t.Errorf("%s forwarded %q, want %q", id, got[id], w)
		}
	}
}

func TestShutdownClosesLiveSessions(t *testing.T) {
	h := testutil.NewMockHost("edge-1")
	c := h.AddContainer("web", "running")
	c.LogChunks = []string{"hello\n"}
	c.Hold = true
	relay := NewRelay(newTestRegistry(t, h), RelayOptions{})

	var runs []<-chan error
	var sinks []*recordingSink
	for i := 0; i < 2; i++ {
		s, err := relay.OpenLogs(context.Background(), "edge-1", "web")
		if err != nil {
			t.Fatalf("OpenLogs() error = %v", err)
		}
		sink := newRecordingSink()
		sinks = append(sinks, sink)
		runs = append(runs, runAsync(s, sink))
	}
	for _, sink := range sinks {
		select {
		case <-sink.firstEventReady:
		case <-time.After(2 * time.Second):
			t.Fatal("first chunk never arrived")
		}
	}

	relay.Shutdown()
	for _, done := range runs {
		if err := waitRun(t, done); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}
	for i, st := range c.Streams() {
		if st.CloseCount() != 1 {
			t.Errorf("stream %d closed %d times, want 1", i, st.CloseCount())
		}
	}
	if relay.Active() != 0 {
		t.Errorf("Active() = %d, want 0", relay.Active())
	}

	_, err := relay.OpenLogs(context.Background(), "edge-1", "web")
	if domain.StatusOf(err) != http.StatusServiceUnavailable {
		t.Errorf("open after shutdown error = %v, want 503", err)
	}
	if got := len(c.Streams()); got != 3 {
		t.Fatalf("subscriptions = %d, want 3", got)
	}
	if c.Streams()[2].CloseCount() != 1 {
		t.Error("subscription refused at shutdown was not closed")
	}
}

func TestSessionOutlivesOpeningContext(t *testing.T) {
	h := testutil.NewMockHost("edge-1")
	c := h.AddContainer("web", "running")
	c.LogChunks = []string{"a", "b"}
	relay := NewRelay(newTestRegistry(t, h), RelayOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := relay.OpenLogs(ctx, "edge-1", "web")
	if err != nil {
		t.Fatalf("OpenLogs() error = %v", err)
	}
	cancel()

	sink := newRecordingSink()
	if err := s.Run(sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := string(sink.joined()); got != "ab" {
		t.Errorf("forwarded %q", got)
	}
}
