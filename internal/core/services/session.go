package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/melih/lighthouse-ctl/internal/core/ports"
	"github.com/melih/lighthouse-ctl/internal/logging"
	"github.com/melih/lighthouse-ctl/internal/metrics"
)

// StreamKind names what a session carries.
type StreamKind string

const (
	StreamLogs  StreamKind = "logs"
	StreamStats StreamKind = "stats"
)

// SessionState is the lifecycle position of a stream session.
type SessionState int32

const (
	SessionOpening SessionState = iota
	SessionStreaming
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionOpening:
		return "opening"
	case SessionStreaming:
		return "streaming"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Sink is the downstream side of a session. A write error from any method
// means the client is gone.
type Sink interface {
	// Send delivers one upstream chunk as one event.
	Send(data []byte) error
	// Heartbeat writes a keep-alive that carries no data.
	Heartbeat() error
	// Finish writes the terminal sentinel.
	Finish() error
}

// source is the upstream side of a session.
type source interface {
	next() ([]byte, error)
	close() error
}

// readerSource yields raw chunks of a byte stream.
type readerSource struct {
	r    io.ReadCloser
	size int
}

func (s *readerSource) next() ([]byte, error) {
	buf := make([]byte, s.size)
	n, err := s.r.Read(buf)
	return buf[:n], err
}

func (s *readerSource) close() error { return s.r.Close() }

// statsSource yields one JSON document per stats sample.
type statsSource struct {
	feed ports.StatsFeed
}

func (s *statsSource) next() ([]byte, error) {
	sample, err := s.feed.Next()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stats sample: %w", err)
	}
	return b, nil
}

func (s *statsSource) close() error { return s.feed.Close() }

// Session couples one upstream subscription to one downstream sink. Closing
// it always terminates the upstream, exactly once.
type Session struct {
	ID        uint64
	Kind      StreamKind
	Host      string
	Container string

	src       source
	cancel    context.CancelFunc
	heartbeat time.Duration
	onClose   func(*Session)

	state     atomic.Int32
	running   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	opened    time.Time
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Run forwards upstream chunks to sink in arrival order until the upstream
// ends, the sink fails, or the session is closed. It then terminates the
// upstream, waits for the reader to exit and writes the sentinel. A client
// disconnect is a normal end and returns nil.
func (s *Session) Run(sink Sink) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session is already running")
	}
	log := logging.Get().With().
		Uint64("session", s.ID).
		Str("kind", string(s.Kind)).
		Str("host", s.Host).
		Str("container", s.Container).
		Logger()

	chunks := make(chan []byte)
	var readErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(chunks)
		for {
			b, err := s.src.next()
			if len(b) > 0 {
				select {
				case chunks <- b:
				case <-s.done:
					return
				}
			}
			if err != nil {
				readErr = err
				return
			}
		}
	}()

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		t := time.NewTicker(s.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	var sinkErr error
	forwarded := 0
loop:
	for {
		select {
		case b, ok := <-chunks:
			if !ok {
				break loop
			}
			if s.State() >= SessionClosing {
				break loop
			}
			if err := sink.Send(b); err != nil {
				sinkErr = err
				break loop
			}
			forwarded++
			metrics.IncChunk(string(s.Kind))
		case <-tick:
			if err := sink.Heartbeat(); err != nil {
				sinkErr = err
				break loop
			}
		case <-s.done:
			break loop
		}
	}

	closedByUs := s.State() >= SessionClosing
	_ = s.Close()
	wg.Wait()
	_ = sink.Finish()
	s.state.Store(int32(SessionClosed))

	ev := log.Info().Int("chunks", forwarded).Dur("duration", time.Since(s.opened))
	switch {
	case sinkErr != nil:
		ev.Str("reason", "client disconnected").Msg("stream session closed")
		return nil
	case closedByUs:
		ev.Str("reason", "closed").Msg("stream session closed")
		return nil
	case readErr == nil || errors.Is(readErr, io.EOF):
		ev.Str("reason", "upstream ended").Msg("stream session closed")
		return nil
	default:
		log.Warn().Err(readErr).Int("chunks", forwarded).Msg("stream session upstream failed")
		return fmt.Errorf("upstream %s stream failed: %w", s.Kind, readErr)
	}
}

// Close terminates the upstream subscription and stops forwarding. It is
// safe to call any number of times; only the first call has an effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(SessionClosing))
		close(s.done)
		s.cancel()
		s.closeErr = s.src.close()
		if s.onClose != nil {
			s.onClose(s)
		}
		if !s.running.Load() {
			s.state.Store(int32(SessionClosed))
		}
	})
	return s.closeErr
}
