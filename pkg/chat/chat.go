package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message represents a Minecraft JSON chat message.
type Message struct {
	Text          string    `json:"text"`
	Bold          bool      `json:"bold,omitempty"`
	Italic        bool      `json:"italic,omitempty"`
	Underlined    bool      `json:"underlined,omitempty"`
	Strikethrough bool      `json:"strikethrough,omitempty"`
	Obfuscated    bool      `json:"obfuscated,omitempty"`
	Color         string    `json:"color,omitempty"`
	Extra         []Message `json:"extra,omitempty"`
}

// String serializes the message to JSON.
func (m Message) String() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// Plain returns the text of the message and its extras without styling.
func (m Message) Plain() string {
	var sb strings.Builder
	m.plain(&sb)
	return sb.String()
}

func (m Message) plain(sb *strings.Builder) {
	sb.WriteString(m.Text)
	for _, e := range m.Extra {
		e.plain(sb)
	}
}

// Parse decodes a JSON chat component. A bare JSON string is accepted as
// plain text, as clients send both forms.
func Parse(s string) (Message, error) {
	var m Message
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, `"`) {
		if err := json.Unmarshal([]byte(trimmed), &m.Text); err != nil {
			return Message{}, fmt.Errorf("chat: %w", err)
		}
		return m, nil
	}
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return Message{}, fmt.Errorf("chat: %w", err)
	}
	return m, nil
}

// Text creates a simple text message.
func Text(text string) Message {
	return Message{Text: text}
}

// Colored creates a colored text message.
func Colored(text, color string) Message {
	return Message{Text: text, Color: color}
}

// Translatef creates a simple formatted message.
func Translatef(format string, args ...Message) Message {
	msg := Message{Text: format}
	if len(args) > 0 {
		msg.Extra = args
	}
	return msg
}

// Player formats a chat line as "<name> text".
func Player(name, text string) Message {
	return Translatef("", Text("<"+name+"> "), Text(text))
}
