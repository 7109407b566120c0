package hub

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mailpulse/mailpulse/internal/events"
)

// Flusher is the subset of http.Flusher the stream writer needs. Transports
// without flushing (plain buffers in tests) can pass a no-op.
type Flusher interface {
	Flush()
}

// StreamWriter serializes envelopes into SSE wire framing for one subscriber:
// an "event:" line naming the kind, a "data:" line with the JSON payload and
// a blank terminator. Every write flushes immediately so keepalives are never
// starved by buffering. Any write error means the connection is dead; the
// caller deregisters it, there is no retry at this layer.
type StreamWriter struct {
	w io.Writer
	f Flusher
}

// NewStreamWriter wraps a transport writer. f may be nil.
func NewStreamWriter(w io.Writer, f Flusher) *StreamWriter {
	return &StreamWriter{w: w, f: f}
}

// Write frames and flushes one envelope.
func (s *StreamWriter) Write(e events.Envelope) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", e.Kind, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Comment writes an SSE comment line, used for keepalive pings.
func (s *StreamWriter) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *StreamWriter) flush() {
	if s.f != nil {
		s.f.Flush()
	}
}
