package services

import (
	"io"

	"github.com/docker/docker/pkg/stdcopy"
)

// demuxed is a multiplexed stdout/stderr stream flattened into one byte
// stream in arrival order.
type demuxed struct {
	*io.PipeReader
	body io.ReadCloser
}

// demux strips the runtime's stream framing from body. Both channels are
// written to the same pipe, so the consumer sees one interleaved stream.
func demux(body io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, body)
		pw.CloseWithError(err)
	}()
	return &demuxed{PipeReader: pr, body: body}
}

// Close terminates the upstream body first; the copy goroutine then fails
// its next read and exits.
func (d *demuxed) Close() error {
	err := d.body.Close()
	_ = d.PipeReader.Close()
	return err
}
