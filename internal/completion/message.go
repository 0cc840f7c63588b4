// Package completion builds role-tagged transcripts from thread history,
// calls the completion provider for the selected tier, and classifies the
// outcome into a Result.
package completion

import (
	"strings"

	"github.com/zulandar/switchboard/internal/gateway"
)

// Role is the author role sent to the completion provider.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Origin records how a message came to exist in a thread.
type Origin int

const (
	HumanTyped Origin = iota
	BotGenerated
	MentionOnly
)

// mentionMarker prefixes platform mention artifacts.
const mentionMarker = "<@"

// IsMentionOnly reports whether text is a mention artifact that must never
// reach a transcript.
func IsMentionOnly(text string) bool {
	return strings.HasPrefix(text, mentionMarker)
}

// Message is one immutable transcript line.
type Message struct {
	Role   Role
	Author string
	Text   string
	Origin Origin
}

// Conversation is a thread's transcript, oldest first.
type Conversation struct {
	Messages []Message
}

// FromHistory rebuilds a Conversation from thread history given most recent
// first. At most max messages are considered; mention artifacts and messages
// without text (embed-only notices) are dropped.
func FromHistory(id *Identity, history []gateway.HistoryMessage, max int) Conversation {
	if max > 0 && len(history) > max {
		history = history[:max]
	}
	msgs := make([]Message, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if h.Text == "" || IsMentionOnly(h.Text) {
			continue
		}
		m := Message{
			Author: h.Author.Name,
			Text:   h.Text,
			Origin: HumanTyped,
		}
		if h.Author.ID == id.BotID() {
			m.Author = id.BotName()
			m.Origin = BotGenerated
		}
		m.Role = id.RoleFor(m.Author)
		msgs = append(msgs, m)
	}
	return Conversation{Messages: msgs}
}
