// Package gateway defines the chat-platform boundary: inbound events from the
// platform and the thread operations the assistant performs on it.
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when the bot lacks the platform
	// permission for an operation (e.g. deleting another user's message).
	ErrPermissionDenied = errors.New("gateway: permission denied")
	// ErrNotConnected is returned by operations invoked before Connect.
	ErrNotConnected = errors.New("gateway: not connected")
)

// Gateway is the interface platform-specific implementations must satisfy.
type Gateway interface {
	// Connect establishes the platform connection. After Connect returns,
	// Self reports the bot's identity.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events. The channel is closed
	// when the gateway is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// Self returns the bot's own user.
	Self() User

	// RegisterCommands installs the operator-facing commands.
	RegisterCommands(ctx context.Context, cmds []CommandSpec) error

	// Defer acknowledges a command whose answer takes longer than the
	// platform's response deadline. A later Respond replaces the placeholder,
	// and its visibility is fixed here rather than by the later message.
	Defer(ctx context.Context, inv *CommandInvocation, ephemeral bool) error

	// Respond answers a command invocation.
	Respond(ctx context.Context, inv *CommandInvocation, msg OutboundMessage) error

	// CreateThread opens a conversation thread under a parent channel.
	CreateThread(ctx context.Context, parentChannelID, name string) (Thread, error)

	// Thread fetches the current state of a thread.
	Thread(ctx context.Context, threadID string) (Thread, error)

	// Send delivers a message and returns a handle to it.
	Send(ctx context.Context, msg OutboundMessage) (Handle, error)

	// Delete removes a message. Returns ErrPermissionDenied when the bot is
	// not allowed to.
	Delete(ctx context.Context, channelID, messageID string) error

	// Archive renames a thread and marks it archived and locked.
	Archive(ctx context.Context, threadID, name string) error

	// History returns up to limit messages of a thread, most recent first.
	History(ctx context.Context, threadID string, limit int) ([]HistoryMessage, error)

	// Typing shows a typing indicator in a channel for a few seconds.
	Typing(ctx context.Context, channelID string) error

	// Close gracefully shuts down the connection.
	Close() error
}

// User identifies a platform account.
type User struct {
	ID   string
	Name string
	Bot  bool
}

// Event is a single inbound platform event. Exactly one field is set.
type Event struct {
	Message *InboundMessage
	Command *CommandInvocation
}

// InboundMessage represents a message received from the platform.
type InboundMessage struct {
	ID        string
	GuildID   string
	ChannelID string // thread ID when InThread is true
	ParentID  string // parent channel of the thread
	InThread  bool
	Author    User
	Text      string
	JumpURL   string
	Timestamp time.Time
}

// ChannelKind classifies where a command was invoked.
type ChannelKind int

const (
	ChannelOther ChannelKind = iota
	ChannelText
	ChannelThread
)

// CommandInvocation is an operator or user invoking a registered command.
type CommandInvocation struct {
	ID          string
	Token       string
	Name        string
	Options     map[string]string
	User        User
	GuildID     string
	ChannelID   string
	ChannelKind ChannelKind
	Deferred    bool // set by Defer
}

// Option returns a named option value, or "" when absent.
func (c *CommandInvocation) Option(name string) string {
	if c.Options == nil {
		return ""
	}
	return c.Options[name]
}

// CommandSpec describes a command to register with the platform.
type CommandSpec struct {
	Name        string
	Description string
	Options     []CommandOption
	ModOnly     bool // restrict to members with moderation permission
}

// CommandOption is a string argument of a command.
type CommandOption struct {
	Name        string
	Description string
	Required    bool
}

// Thread is the platform view of a conversation thread.
type Thread struct {
	ID           string
	GuildID      string
	ParentID     string
	OwnerID      string
	Name         string
	Archived     bool
	Locked       bool
	MessageCount int
	CreatedAt    time.Time
}

// HistoryMessage is one message of a thread's history.
type HistoryMessage struct {
	ID        string
	Author    User
	Text      string
	Timestamp time.Time
}

// OutboundMessage is a message to be sent to the platform.
type OutboundMessage struct {
	ChannelID string
	GuildID   string // used to build jump URLs
	Text      string
	Embeds    []Embed
	Ephemeral bool // only meaningful for command responses
}

// Embed is a rich message block.
type Embed struct {
	Title       string
	Description string
	Color       string // hex, e.g. "#2ecc71"
	Fields      []Field
}

// Field is a name/value pair displayed in an embed.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Handle references a sent message.
type Handle struct {
	ID        string
	ChannelID string
	JumpURL   string
}

// Embed colors.
const (
	ColorGreen  = "#2ecc71"
	ColorYellow = "#f1c40f"
	ColorRed    = "#e74c3c"
	ColorBlue   = "#3498db"
)
