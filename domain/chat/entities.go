package chat

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Core chat entities independent of frameworks and vendors

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn as posted by the widget.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON accepts loosely typed turns: a non-string role decodes as
// empty and content of any JSON type is coerced to text.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    json.RawMessage `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var role string
	if err := json.Unmarshal(raw.Role, &role); err != nil {
		role = ""
	}
	m.Role = role
	m.Content = coerceText(raw.Content)
	return nil
}

// coerceText renders an arbitrary JSON value as plain text. Strings are
// unquoted, scalars keep their literal form, content-part arrays are joined
// by their "text" fields, and null or absent values become "".
func coerceText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	case '[':
		var parts []struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(trimmed, &parts); err == nil {
			var sb strings.Builder
			found := false
			for _, p := range parts {
				if p.Text != nil {
					sb.WriteString(*p.Text)
					found = true
				}
			}
			if found {
				return sb.String()
			}
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err == nil {
		return compact.String()
	}
	return string(trimmed)
}

// Request is the body of /api/chat and /api/chat-stream.
type Request struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model,omitempty"`
}

// LastUserContent returns the most recent user utterance, or "" if none.
func (r *Request) LastUserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if NormalizeRole(r.Messages[i].Role) == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Response is the non-streaming /api/chat result.
type Response struct {
	Text string `json:"text"`
}

// AskRequest is the single-shot /ask-ai body.
type AskRequest struct {
	Prompt string `json:"prompt"`
}

// AskResponse is the single-shot /ask-ai result.
type AskResponse struct {
	Answer string `json:"answer"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
