package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Message
	}{
		{
			name:     "basic message",
			input:    `{"role":"user","content":"Hello, world!"}`,
			expected: Message{Role: "user", Content: "Hello, world!"},
		},
		{
			name:     "numeric content without role",
			input:    `{"content":42}`,
			expected: Message{Role: "", Content: "42"},
		},
		{
			name:     "missing content",
			input:    `{"role":"assistant"}`,
			expected: Message{Role: "assistant", Content: ""},
		},
		{
			name:     "null content",
			input:    `{"role":"user","content":null}`,
			expected: Message{Role: "user", Content: ""},
		},
		{
			name:     "boolean content and numeric role",
			input:    `{"role":7,"content":true}`,
			expected: Message{Role: "", Content: "true"},
		},
		{
			name:     "content parts",
			input:    `{"role":"user","content":[{"type":"text","text":"Hel"},{"type":"text","text":"lo"}]}`,
			expected: Message{Role: "user", Content: "Hello"},
		},
		{
			name:     "object content",
			input:    `{"role":"user","content":{"a": 1}}`,
			expected: Message{Role: "user", Content: `{"a":1}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			require.NoError(t, json.Unmarshal([]byte(tt.input), &msg))
			assert.Equal(t, tt.expected, msg)
		})
	}
}

func TestMessage_UnmarshalJSON_NotAnObject(t *testing.T) {
	var msg Message
	assert.Error(t, json.Unmarshal([]byte(`"hello"`), &msg))
}

func TestRequest_LastUserContent(t *testing.T) {
	req := Request{Messages: []Message{
		{Role: "system", Content: "preamble"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Content: "second"},
		{Role: "assistant", Content: "reply again"},
	}}
	assert.Equal(t, "second", req.LastUserContent())

	empty := Request{Messages: []Message{{Role: "system", Content: "only"}}}
	assert.Empty(t, empty.LastUserContent())
}

func TestErrorResponse_JSONMarshaling(t *testing.T) {
	data, err := json.Marshal(ErrorResponse{Error: "Invalid API key"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Invalid API key"}`, string(data))
}

func TestChatFailure(t *testing.T) {
	cause := errors.New("401 unauthorized")
	failure := NewChatFailure("", cause)

	assert.Equal(t, GenericFailureMessage, failure.Message)
	assert.True(t, errors.Is(failure, ErrUpstream))
	assert.True(t, errors.Is(failure, cause))

	wrapped := fmt.Errorf("complete: %w", NewChatFailure("quota exceeded", cause))
	assert.Equal(t, "quota exceeded", FailureMessage(wrapped))
	assert.Equal(t, GenericFailureMessage, FailureMessage(errors.New("plain")))
}
