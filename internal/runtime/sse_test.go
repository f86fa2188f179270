package runtime

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type brokenReader struct {
	r io.Reader
}

func (b *brokenReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

func (b *brokenReader) Close() error { return nil }

func drain(t *testing.T, s Stream) ([]Frame, error) {
	t.Helper()
	var frames []Frame
	for {
		f, err := s.Next()
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

func TestSSEReader_Frames(t *testing.T) {
	t.Parallel()

	body := ": keepalive\n" +
		"data: {\"a\":1}\n\n" +
		"event: message\nid: 7\ndata: line one\ndata: line two\n\n" +
		"retry: 1000\n\n" +
		"event: ping\ndata: x\r\n\r\n" +
		"data: tail"

	frames, err := drain(t, NewSSEReader(io.NopCloser(strings.NewReader(body))))
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if len(frames) != 4 {
		t.Fatalf("frames = %d, want 4: %+v", len(frames), frames)
	}
	if frames[0].Data != `{"a":1}` || !frames[0].IsMessage() {
		t.Errorf("frames[0] = %+v", frames[0])
	}
	if frames[1].Data != "line one\nline two" || frames[1].ID != "7" {
		t.Errorf("frames[1] = %+v", frames[1])
	}
	if frames[2].Event != "ping" || frames[2].IsMessage() {
		t.Errorf("frames[2] = %+v, want ping event", frames[2])
	}
	if frames[3].Data != "tail" {
		t.Errorf("frames[3].Data = %q, want %q", frames[3].Data, "tail")
	}
}

func TestSSEReader_BreakIsNotEOF(t *testing.T) {
	t.Parallel()

	body := &brokenReader{r: strings.NewReader("data: one\n\ndata: partial")}
	reader := NewSSEReader(body)

	f, err := reader.Next()
	if err != nil || f.Data != "one" {
		t.Fatalf("Next() = %+v, %v", f, err)
	}
	_, err = reader.Next()
	if !errors.Is(err, ErrStreamBroken) {
		t.Fatalf("err = %v, want ErrStreamBroken", err)
	}
	if errors.Is(err, io.EOF) {
		t.Fatalf("broken stream must not look like EOF")
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("after break err = %v, want io.EOF", err)
	}
}

func TestSSEReader_OversizedFrame(t *testing.T) {
	t.Parallel()

	body := "data: " + strings.Repeat("x", maxFrameBytes+1) + "\n\n"
	_, err := drain(t, NewSSEReader(io.NopCloser(strings.NewReader(body))))
	if !errors.Is(err, ErrStreamBroken) {
		t.Fatalf("err = %v, want ErrStreamBroken", err)
	}
}

func TestSSEReader_NilAndClosed(t *testing.T) {
	t.Parallel()

	var nilReader *SSEReader
	if _, err := nilReader.Next(); err != io.EOF {
		t.Fatalf("nil Next() err = %v, want io.EOF", err)
	}
	reader := NewSSEReader(io.NopCloser(strings.NewReader("data: x\n\n")))
	if err := reader.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("closed Next() err = %v, want io.EOF", err)
	}
}
