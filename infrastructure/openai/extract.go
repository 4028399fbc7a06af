package openai

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractText pulls the assistant text out of a completion body. It accepts
// the Responses shape (output_text, or output[].content[].text) as well as
// the chat completions shape, and returns "" when none is present.
func ExtractText(raw string) string {
	if !gjson.Valid(raw) {
		return ""
	}

	if v := gjson.Get(raw, "output_text"); v.Type == gjson.String {
		return v.String()
	}

	if output := gjson.Get(raw, "output"); output.IsArray() {
		var sb strings.Builder
		output.ForEach(func(_, item gjson.Result) bool {
			item.Get("content").ForEach(func(_, part gjson.Result) bool {
				if t := part.Get("text"); t.Type == gjson.String {
					sb.WriteString(t.String())
				}
				return true
			})
			return true
		})
		if sb.Len() > 0 {
			return sb.String()
		}
	}

	content := gjson.Get(raw, "choices.0.message.content")
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		var sb strings.Builder
		content.ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text"); t.Type == gjson.String {
				sb.WriteString(t.String())
			}
			return true
		})
		return sb.String()
	}
	return ""
}

// ExtractErrorMessage finds a provider error message inside raw, which may
// carry leading text before the JSON object.
func ExtractErrorMessage(raw string) string {
	if i := strings.IndexByte(raw, '{'); i > 0 {
		raw = raw[i:]
	}
	if !gjson.Valid(raw) {
		return ""
	}
	for _, path := range []string{"error.message", "message", "error"} {
		if v := gjson.Get(raw, path); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}
