package http

import (
	"bufio"
	"bytes"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
)

const (
	sseHeartbeat = ": keep-alive\n\n"
	sseDone      = "event: done\ndata: end\n\n"
)

// setStreamHeaders marks the response as an unbuffered event stream.
func setStreamHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream;charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache, no-transform")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set("X-Accel-Buffering", "no")
}

// sseSink writes session output as server-sent events. fasthttp only
// reports a gone client through a failed write, so every event is flushed.
type sseSink struct {
	w *bufio.Writer
	// pending holds the tail of the last chunk that cannot be framed yet: an
	// incomplete UTF-8 sequence or a CR that may be the first half of a CRLF.
	pending []byte
}

func newSSESink(w *bufio.Writer) *sseSink {
	return &sseSink{w: w}
}

// Send frames one chunk as one event, one data field per line. CRLF, CR and
// LF all end a line, so the client receives the text with LF line endings.
func (s *sseSink) Send(data []byte) error {
	buf := append(s.pending, data...)
	buf, s.pending = splitTail(buf)
	if len(buf) == 0 {
		return nil
	}
	return s.writeEvent(buf)
}

func (s *sseSink) writeEvent(data []byte) error {
	for {
		line, rest, more := cutLine(data)
		if _, err := s.w.WriteString("data: "); err != nil {
			return err
		}
		if _, err := s.w.Write(line); err != nil {
			return err
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return err
		}
		if !more {
			break
		}
		data = rest
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

// cutLine returns the text before the first line ending and what follows it.
func cutLine(b []byte) (line, rest []byte, found bool) {
	i := bytes.IndexAny(b, "\r\n")
	if i < 0 {
		return b, nil, false
	}
	if b[i] == '\r' && i+1 < len(b) && b[i+1] == '\n' {
		return b[:i], b[i+2:], true
	}
	return b[:i], b[i+1:], true
}

// splitTail separates a trailing CR or incomplete UTF-8 sequence from the
// part of b that can be sent now.
func splitTail(b []byte) (ready, tail []byte) {
	n := len(b)
	if n > 0 && b[n-1] == '\r' {
		return b[:n-1], []byte{'\r'}
	}
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], append([]byte(nil), b[i:]...)
		}
		break
	}
	return b, nil
}

func (s *sseSink) Heartbeat() error {
	if _, err := s.w.WriteString(sseHeartbeat); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *sseSink) Finish() error {
	if len(s.pending) > 0 {
		tail := s.pending
		s.pending = nil
		if err := s.writeEvent(tail); err != nil {
			return err
		}
	}
	if _, err := s.w.WriteString(sseDone); err != nil {
		return err
	}
	return s.w.Flush()
}
