package completion

import (
	"fmt"
	"strings"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/gateway"
)

// Identity is the assistant persona. It is built once the platform handshake
// has revealed the bot's name and never changes afterwards.
type Identity struct {
	botID        string
	botName      string
	aliases      map[string]bool
	instructions string
	systemPrompt string
	examples     []Conversation
}

// NewIdentity creates the persona for bot. Example lines authored by one of
// the configured aliases are attributed to the bot's real name.
func NewIdentity(bot gateway.User, cfg config.AssistantConfig) (*Identity, error) {
	if bot.Name == "" {
		return nil, fmt.Errorf("completion: bot name is required")
	}
	id := &Identity{
		botID:        bot.ID,
		botName:      bot.Name,
		aliases:      make(map[string]bool, len(cfg.Aliases)),
		instructions: strings.TrimSpace(cfg.Instructions),
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
	}
	for _, a := range cfg.Aliases {
		id.aliases[a] = true
	}
	for _, ex := range cfg.Examples {
		var convo Conversation
		for _, m := range ex.Messages {
			author := m.User
			if id.aliases[author] {
				author = id.botName
			}
			convo.Messages = append(convo.Messages, Message{
				Role:   id.RoleFor(author),
				Author: author,
				Text:   m.Text,
			})
		}
		id.examples = append(id.examples, convo)
	}
	return id, nil
}

// BotID returns the bot's platform user id.
func (id *Identity) BotID() string { return id.botID }

// BotName returns the bot's display name.
func (id *Identity) BotName() string { return id.botName }

// RoleFor maps a transcript author to a provider role.
func (id *Identity) RoleFor(author string) Role {
	switch {
	case author == id.botName || id.aliases[author]:
		return RoleAssistant
	case author == string(RoleSystem):
		return RoleSystem
	default:
		return RoleUser
	}
}

// Header is the instruction line that opens every rendered prompt.
func (id *Identity) Header() Message {
	return Message{
		Role:   RoleSystem,
		Author: "System",
		Text:   fmt.Sprintf("Instructions for %s: %s", id.botName, id.instructions),
	}
}

// SystemPrompt is the provider system message. It falls back to the header
// text when no dedicated prompt is configured.
func (id *Identity) SystemPrompt() string {
	if id.systemPrompt != "" {
		return id.systemPrompt
	}
	return id.Header().Text
}

// Examples returns the example conversations.
func (id *Identity) Examples() []Conversation {
	return append([]Conversation(nil), id.examples...)
}
