package chat

import "strings"

// Content block types understood by the upstream provider.
const (
	BlockInputText  = "input_text"
	BlockOutputText = "output_text"
)

// ContentBlock is one typed piece of a normalized turn.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// InputItem is a turn in the provider's input shape.
type InputItem struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Text joins the item's content blocks.
func (i InputItem) Text() string {
	if len(i.Content) == 1 {
		return i.Content[0].Text
	}
	var sb strings.Builder
	for _, b := range i.Content {
		sb.WriteString(b.Text)
	}
	return sb.String()
}

// NormalizeRole maps a raw role onto system, user or assistant.
// Anything unrecognized is treated as user input.
func NormalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleSystem:
		return RoleSystem
	case RoleAssistant:
		return RoleAssistant
	default:
		return RoleUser
	}
}

// Normalize converts chat turns into provider input items, preserving order.
// Assistant turns are tagged as prior output; all others as input.
func Normalize(messages []Message) []InputItem {
	items := make([]InputItem, 0, len(messages))
	for _, msg := range messages {
		role := NormalizeRole(msg.Role)
		blockType := BlockInputText
		if role == RoleAssistant {
			blockType = BlockOutputText
		}
		items = append(items, InputItem{
			Role:    role,
			Content: []ContentBlock{{Type: blockType, Text: msg.Content}},
		})
	}
	return items
}
