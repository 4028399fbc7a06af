package chat

// EventKind tags an UpstreamEvent.
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventProviderError
	EventStreamEnd
)

func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventProviderError:
		return "provider_error"
	case EventStreamEnd:
		return "stream_end"
	default:
		return "unknown"
	}
}

// UpstreamEvent is one notification from a provider streaming session.
type UpstreamEvent struct {
	Kind    EventKind
	Text    string // TextDelta payload
	Message string // ProviderError payload
}

func TextDelta(text string) UpstreamEvent {
	return UpstreamEvent{Kind: EventTextDelta, Text: text}
}

func ProviderError(message string) UpstreamEvent {
	return UpstreamEvent{Kind: EventProviderError, Message: message}
}

func StreamEnd() UpstreamEvent {
	return UpstreamEvent{Kind: EventStreamEnd}
}

// EventStream is a finite, single-use sequence of upstream events.
//
// Events is closed by the producer once the session finishes. Err reports a
// session failure and is only meaningful after Events is closed. Close
// releases the session and may be called more than once.
type EventStream interface {
	Events() <-chan UpstreamEvent
	Err() error
	Close() error
}

// FrameKind tags a StreamFrame.
type FrameKind int

const (
	FrameReady FrameKind = iota
	FrameDelta
	FrameError
	FrameDone
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameReady:
		return "ready"
	case FrameDelta:
		return "delta"
	case FrameError:
		return "error"
	case FrameDone:
		return "done"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame is one outward event of a streamed response.
type Frame struct {
	Kind FrameKind
	Text string // delta text, error message or full text for done
}

func ReadyFrame() Frame { return Frame{Kind: FrameReady} }
func DeltaFrame(text string) Frame { return Frame{Kind: FrameDelta, Text: text} }
func ErrorFrame(message string) Frame { return Frame{Kind: FrameError, Text: message} }
func DoneFrame(fullText string) Frame { return Frame{Kind: FrameDone, Text: fullText} }
func CloseFrame() Frame { return Frame{Kind: FrameClose} }
