package httpiface

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	domain "chat-relay/domain/chat"
)

var (
	readyFrame     = []byte("event: ready\ndata: {\"ok\":true}\n\n")
	closeFrame     = []byte("event: close\ndata: {}\n\n")
	heartbeatFrame = []byte(": ping\n\n")
)

type deltaPayload struct {
	Delta string `json:"delta"`
}

type errorPayload struct {
	Error string `json:"error"`
}

type donePayload struct {
	Done bool   `json:"done"`
	Text string `json:"text"`
}

// setSSEHeaders disables caching and transforms and asks reverse proxies
// not to buffer the response.
func setSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// sseWriter implements relay.Sink over a flushable response writer.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) WriteFrame(frame domain.Frame) error {
	data, err := encodeFrame(frame)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *sseWriter) WriteHeartbeat() error {
	return s.write(heartbeatFrame)
}

func (s *sseWriter) write(data []byte) error {
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// encodeFrame renders one frame in wire form, blank-line terminated.
func encodeFrame(frame domain.Frame) ([]byte, error) {
	var payload any
	switch frame.Kind {
	case domain.FrameReady:
		return readyFrame, nil
	case domain.FrameClose:
		return closeFrame, nil
	case domain.FrameDelta:
		payload = deltaPayload{Delta: frame.Text}
	case domain.FrameError:
		payload = errorPayload{Error: frame.Text}
	case domain.FrameDone:
		payload = donePayload{Done: true, Text: frame.Text}
	default:
		return nil, fmt.Errorf("unknown frame kind %d", frame.Kind)
	}

	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", frame.Kind, err)
	}
	// Encode appends one newline; the frame needs a blank line after it.
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
