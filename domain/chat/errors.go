package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a missing or malformed request body.
	ErrValidation = errors.New("invalid request")
	// ErrUpstream marks a failed call to the model provider.
	ErrUpstream = errors.New("upstream provider failure")
	// ErrContextRetrieval marks an unreachable or empty context source.
	ErrContextRetrieval = errors.New("context retrieval failure")
	// ErrTransport marks a client that went away mid-stream.
	ErrTransport = errors.New("transport closed")
)

// GenericFailureMessage is reported when the provider gives no usable message.
const GenericFailureMessage = "Failed to get response from AI."

// ChatFailure is an upstream failure carrying a client-presentable message.
type ChatFailure struct {
	Message string
	Err     error
}

// NewChatFailure wraps err; an empty message falls back to the generic one.
func NewChatFailure(message string, err error) *ChatFailure {
	if message == "" {
		message = GenericFailureMessage
	}
	return &ChatFailure{Message: message, Err: err}
}

func (f *ChatFailure) Error() string {
	if f.Err == nil {
		return f.Message
	}
	return fmt.Sprintf("%s: %v", f.Message, f.Err)
}

func (f *ChatFailure) Unwrap() []error {
	if f.Err == nil {
		return []error{ErrUpstream}
	}
	return []error{ErrUpstream, f.Err}
}

// FailureMessage extracts the client-facing message from err.
func FailureMessage(err error) string {
	var failure *ChatFailure
	if errors.As(err, &failure) {
		return failure.Message
	}
	return GenericFailureMessage
}
