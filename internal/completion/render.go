package completion

import "strings"

// separator delimits rendered messages.
const separator = "<|endoftext|>"

func (m Message) render() string {
	if m.Text == "" {
		return m.Author + ":"
	}
	return m.Author + ": " + m.Text
}

// Render joins the conversation's messages as "Author: text" lines.
func (c Conversation) Render() string {
	parts := make([]string, len(c.Messages))
	for i, m := range c.Messages {
		parts[i] = m.render()
	}
	return strings.Join(parts, "\n"+separator)
}

// Render produces the full text prompt: instructions, the example
// conversations, then the live conversation ending in an open bot line.
// Reply moderation classifies the tail of this text.
func Render(id *Identity, convo Conversation) string {
	live := Conversation{Messages: append(append([]Message(nil), convo.Messages...),
		Message{Role: RoleAssistant, Author: id.BotName()})}

	parts := []string{
		id.Header().render(),
		Message{Author: "System", Text: "Example conversations:"}.render(),
	}
	for _, ex := range id.examples {
		parts = append(parts, ex.Render())
	}
	parts = append(parts,
		Message{Author: "System", Text: "Now, you will work with the actual current conversation."}.render(),
		live.Render(),
	)
	return strings.Join(parts, "\n"+separator)
}

// BuildChat produces the role-tagged provider messages: the system prompt,
// the example conversations, then the live conversation.
func BuildChat(id *Identity, convo Conversation) []ChatMessage {
	out := []ChatMessage{{Role: RoleSystem, Content: id.SystemPrompt()}}
	for _, ex := range id.examples {
		for _, m := range ex.Messages {
			out = append(out, ChatMessage{Role: m.Role, Content: m.Text})
		}
	}
	for _, m := range convo.Messages {
		if IsMentionOnly(m.Text) {
			continue
		}
		out = append(out, ChatMessage{Role: m.Role, Content: m.Text})
	}
	return out
}
