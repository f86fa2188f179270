package runtime

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxFrameBytes = 1024 * 1024

// ErrStreamBroken marks a turn stream that ended without a clean EOF.
var ErrStreamBroken = errors.New("agent runtime stream broken")

// Frame is one server-sent event.
type Frame struct {
	Event string
	Data  string
	ID    string
}

// IsMessage reports whether f carries the default "message" event type.
func (f Frame) IsMessage() bool {
	return f.Event == "" || f.Event == "message"
}

// Stream is a single-pass sequence of turn frames. Next returns io.EOF at a
// clean end of stream and an error wrapping ErrStreamBroken when the
// transport fails.
type Stream interface {
	Next() (Frame, error)
	Close() error
}

// SSEReader parses a text/event-stream body into frames.
type SSEReader struct {
	scanner *bufio.Scanner
	body    io.Closer
	done    bool
}

// NewSSEReader reads frames from body. Close closes body.
func NewSSEReader(body io.ReadCloser) *SSEReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameBytes)
	return &SSEReader{scanner: scanner, body: body}
}

// Next returns the next frame with data. Comments and retry hints are
// skipped; a final frame without a trailing blank line is still returned.
func (r *SSEReader) Next() (Frame, error) {
	if r == nil || r.done {
		return Frame{}, io.EOF
	}

	var (
		frame Frame
		data  []string
	)
	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" {
			if len(data) == 0 {
				frame = Frame{}
				continue
			}
			frame.Data = strings.Join(data, "\n")
			return frame, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			frame.Event = value
		case "id":
			frame.ID = value
		}
	}

	r.done = true
	if err := r.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrStreamBroken, err)
	}
	if len(data) > 0 {
		frame.Data = strings.Join(data, "\n")
		return frame, nil
	}
	return Frame{}, io.EOF
}

// Close releases the underlying body.
func (r *SSEReader) Close() error {
	if r == nil || r.body == nil {
		return nil
	}
	r.done = true
	return r.body.Close()
}

// sliceStream replays the events of a blocking run.
type sliceStream struct {
	frames []Frame
	pos    int
}

func newSliceStream(frames []Frame) *sliceStream {
	return &sliceStream{frames: frames}
}

func (s *sliceStream) Next() (Frame, error) {
	if s.pos >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceStream) Close() error { return nil }
