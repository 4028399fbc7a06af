// Package relay turns an upstream token stream into the outward frame
// sequence of a streamed chat response.
//
// A run always begins with a ready frame and, unless the client goes away,
// ends with a close frame. Every text delta is forwarded in arrival order and
// accumulated so the done frame carries the concatenation of all deltas.
// Provider errors reported mid-stream become error frames without ending the
// run. Heartbeat comments are written on a fixed interval while streaming and
// the heartbeat ticker is released on every exit path.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-relay/domain/chat"

	"github.com/sirupsen/logrus"
)

// DefaultHeartbeatInterval keeps idle proxies from dropping the connection.
const DefaultHeartbeatInterval = 15 * time.Second

// Sink receives the frames of one streamed response.
type Sink interface {
	WriteFrame(frame chat.Frame) error
	// WriteHeartbeat writes a transport-level keepalive that carries no frame.
	WriteHeartbeat() error
}

type state int

const (
	stateInit state = iota
	stateStreaming
	stateTerminating
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateStreaming:
		return "streaming"
	case stateTerminating:
		return "terminating"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Result summarizes a finished run.
type Result struct {
	Text       string
	Deltas     int
	Errors     int
	Heartbeats int
	Completed  bool // done frame written
	Aborted    bool // client went away before close
}

// Relay runs the streaming state machine. It holds no per-request state and
// is safe for concurrent use.
type Relay struct {
	heartbeatInterval time.Duration
}

// New creates a relay; a non-positive interval disables heartbeats.
func New(heartbeatInterval time.Duration) *Relay {
	return &Relay{heartbeatInterval: heartbeatInterval}
}

// run is the per-request state of one relay invocation.
type run struct {
	sink   Sink
	stream chat.EventStream
	state  state
	acc    strings.Builder
	result Result
	// transportErr is set once a write fails; no write is attempted afterwards.
	transportErr error
}

// Run drains stream into sink. It returns an error wrapping chat.ErrTransport
// when the client disconnected, or the upstream session error after it has
// been reported in-stream. The stream is closed before Run returns.
func (r *Relay) Run(ctx context.Context, stream chat.EventStream, sink Sink) (Result, error) {
	ru := &run{sink: sink, stream: stream, state: stateInit}

	hb := startHeartbeat(r.heartbeatInterval)
	defer ru.cleanup(hb)

	if !ru.write(chat.ReadyFrame()) {
		return ru.result, ru.transportErr
	}
	ru.state = stateStreaming

	events := stream.Events()
	for ru.state == stateStreaming {
		select {
		case <-ctx.Done():
			ru.result.Aborted = true
			ru.state = stateTerminating
			return ru.result, fmt.Errorf("%w: %v", chat.ErrTransport, ctx.Err())

		case <-hb.C():
			if err := sink.WriteHeartbeat(); err != nil {
				ru.fail(err)
				return ru.result, ru.transportErr
			}
			ru.result.Heartbeats++

		case ev, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil {
					return ru.result, ru.sessionFailed(err)
				}
				// Producer finished without an explicit end marker.
				ru.finish()
				return ru.result, ru.transportErr
			}
			if !ru.handle(ev) {
				return ru.result, ru.transportErr
			}
		}
	}
	return ru.result, ru.transportErr
}

// handle applies one upstream event. It reports false once the run is over.
func (ru *run) handle(ev chat.UpstreamEvent) bool {
	switch ev.Kind {
	case chat.EventTextDelta:
		if ev.Text == "" {
			return true
		}
		ru.acc.WriteString(ev.Text)
		ru.result.Deltas++
		return ru.write(chat.DeltaFrame(ev.Text))
	case chat.EventProviderError:
		ru.result.Errors++
		return ru.write(chat.ErrorFrame(ev.Message))
	case chat.EventStreamEnd:
		ru.finish()
		return false
	default:
		logrus.WithField("kind", ev.Kind).Debug("Ignoring unknown upstream event")
		return true
	}
}

func (ru *run) finish() {
	ru.state = stateTerminating
	ru.result.Text = ru.acc.String()
	if ru.write(chat.DoneFrame(ru.result.Text)) {
		ru.result.Completed = true
		ru.write(chat.CloseFrame())
	}
}

func (ru *run) sessionFailed(err error) error {
	ru.state = stateTerminating
	ru.result.Errors++
	ru.result.Text = ru.acc.String()
	if ru.write(chat.ErrorFrame(failureText(err))) {
		ru.write(chat.CloseFrame())
	}
	if ru.transportErr != nil {
		return ru.transportErr
	}
	return fmt.Errorf("upstream session: %w", err)
}

func (ru *run) write(frame chat.Frame) bool {
	if ru.transportErr != nil {
		return false
	}
	if err := ru.sink.WriteFrame(frame); err != nil {
		ru.fail(err)
		return false
	}
	return true
}

func (ru *run) fail(err error) {
	ru.state = stateTerminating
	ru.result.Aborted = true
	ru.transportErr = fmt.Errorf("%w: %v", chat.ErrTransport, err)
}

func (ru *run) cleanup(hb *heartbeat) {
	hb.stop()
	if err := ru.stream.Close(); err != nil {
		logrus.WithError(err).Debug("Failed to release upstream session")
	}
	ru.state = stateClosed
}

func failureText(err error) string {
	var failure *chat.ChatFailure
	if errors.As(err, &failure) {
		return failure.Message
	}
	return err.Error()
}
