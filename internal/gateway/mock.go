package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockGateway implements Gateway for testing. It keeps threads and their
// history in memory, records everything sent, and lets tests inject inbound
// events via SimulateMessage and SimulateCommand.
type MockGateway struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	events    chan Event
	self      User
	threads   map[string]*Thread
	history   map[string][]HistoryMessage // oldest first
	sent      []OutboundMessage
	responses []CommandResponse
	deferred  []*CommandInvocation
	commands  []CommandSpec
	deleted   []string
	archived  []string
	typing    int
	counter   int

	// DeleteErr, when set, is returned by Delete.
	DeleteErr error
	// SendErr, when set, is returned by Send.
	SendErr error
}

// CommandResponse records a Respond call.
type CommandResponse struct {
	Invocation *CommandInvocation
	Message    OutboundMessage
}

// NewMockGateway creates a MockGateway whose bot user is self.
func NewMockGateway(self User) *MockGateway {
	self.Bot = true
	return &MockGateway{
		events:  make(chan Event, 100),
		self:    self,
		threads: make(map[string]*Thread),
		history: make(map[string][]HistoryMessage),
	}
}

// Connect marks the gateway as connected.
func (m *MockGateway) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock gateway: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockGateway) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	return m.events, nil
}

// Self returns the configured bot user.
func (m *MockGateway) Self() User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// RegisterCommands records the registered commands.
func (m *MockGateway) RegisterCommands(ctx context.Context, cmds []CommandSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append([]CommandSpec(nil), cmds...)
	return nil
}

// Defer records the deferral and marks the invocation deferred.
func (m *MockGateway) Defer(ctx context.Context, inv *CommandInvocation, ephemeral bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.Deferred {
		return fmt.Errorf("mock gateway: interaction %s already deferred", inv.ID)
	}
	inv.Deferred = true
	m.deferred = append(m.deferred, inv)
	return nil
}

// Respond records the command response.
func (m *MockGateway) Respond(ctx context.Context, inv *CommandInvocation, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, CommandResponse{Invocation: inv, Message: msg})
	return nil
}

// CreateThread creates an in-memory thread owned by the bot.
func (m *MockGateway) CreateThread(ctx context.Context, parentChannelID, name string) (Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return Thread{}, ErrNotConnected
	}
	m.counter++
	th := &Thread{
		ID:        fmt.Sprintf("thread-%d", m.counter),
		ParentID:  parentChannelID,
		OwnerID:   m.self.ID,
		Name:      name,
		CreatedAt: time.Now(),
	}
	m.threads[th.ID] = th
	return *th, nil
}

// Thread returns the current state of a thread.
func (m *MockGateway) Thread(ctx context.Context, threadID string) (Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[threadID]
	if !ok {
		return Thread{}, fmt.Errorf("mock gateway: unknown thread %s", threadID)
	}
	return *th, nil
}

// Send records the message. Messages sent into a known thread are appended
// to its history as authored by the bot.
func (m *MockGateway) Send(ctx context.Context, msg OutboundMessage) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return Handle{}, ErrNotConnected
	}
	if m.SendErr != nil {
		return Handle{}, m.SendErr
	}
	m.counter++
	id := fmt.Sprintf("msg-%d", m.counter)
	m.sent = append(m.sent, msg)
	if th, ok := m.threads[msg.ChannelID]; ok {
		th.MessageCount++
		m.history[msg.ChannelID] = append(m.history[msg.ChannelID], HistoryMessage{
			ID:        id,
			Author:    m.self,
			Text:      msg.Text,
			Timestamp: time.Now(),
		})
	}
	return Handle{
		ID:        id,
		ChannelID: msg.ChannelID,
		JumpURL:   fmt.Sprintf("https://discord.com/channels/%s/%s/%s", msg.GuildID, msg.ChannelID, id),
	}, nil
}

// Delete records the deletion, or returns DeleteErr.
func (m *MockGateway) Delete(ctx context.Context, channelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.deleted = append(m.deleted, messageID)
	return nil
}

// Archive renames the thread and marks it archived and locked.
func (m *MockGateway) Archive(ctx context.Context, threadID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[threadID]
	if !ok {
		return fmt.Errorf("mock gateway: unknown thread %s", threadID)
	}
	th.Name = name
	th.Archived = true
	th.Locked = true
	m.archived = append(m.archived, threadID)
	return nil
}

// History returns up to limit messages, most recent first.
func (m *MockGateway) History(ctx context.Context, threadID string, limit int) ([]HistoryMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.history[threadID]
	out := make([]HistoryMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Typing counts typing indicator calls.
func (m *MockGateway) Typing(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
	return nil
}

// Close shuts down the mock gateway and closes the event channel.
func (m *MockGateway) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.events)
	return nil
}

// --- Test helpers ---

// AddThread registers a thread. A zero OwnerID defaults to the bot.
func (m *MockGateway) AddThread(th Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if th.OwnerID == "" {
		th.OwnerID = m.self.ID
	}
	m.threads[th.ID] = &th
}

// PostMessage appends a user message to a thread's history as if it had
// been typed on the platform, and returns the corresponding InboundMessage.
// No event is emitted.
func (m *MockGateway) PostMessage(threadID string, author User, text string) InboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	id := fmt.Sprintf("msg-%d", m.counter)
	now := time.Now()
	m.history[threadID] = append(m.history[threadID], HistoryMessage{
		ID: id, Author: author, Text: text, Timestamp: now,
	})
	msg := InboundMessage{
		ID:        id,
		ChannelID: threadID,
		Author:    author,
		Text:      text,
		Timestamp: now,
		JumpURL:   fmt.Sprintf("https://discord.com/channels/@me/%s/%s", threadID, id),
	}
	if th, ok := m.threads[threadID]; ok {
		th.MessageCount++
		msg.InThread = true
		msg.GuildID = th.GuildID
		msg.ParentID = th.ParentID
	}
	return msg
}

// SimulateMessage emits an inbound message event. Safe from any goroutine.
func (m *MockGateway) SimulateMessage(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.events <- Event{Message: &msg}
}

// SimulateCommand emits a command invocation event.
func (m *MockGateway) SimulateCommand(inv CommandInvocation) {
	m.events <- Event{Command: &inv}
}

// AllSent returns a copy of all sent messages.
func (m *MockGateway) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the messages sent to one channel, in order.
func (m *MockGateway) SentTo(channelID string) []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboundMessage
	for _, msg := range m.sent {
		if msg.ChannelID == channelID {
			out = append(out, msg)
		}
	}
	return out
}

// Deferrals returns the invocations passed to Defer.
func (m *MockGateway) Deferrals() []*CommandInvocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*CommandInvocation, len(m.deferred))
	copy(out, m.deferred)
	return out
}

// Responses returns a copy of all command responses.
func (m *MockGateway) Responses() []CommandResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CommandResponse, len(m.responses))
	copy(out, m.responses)
	return out
}

// Commands returns the registered command specs.
func (m *MockGateway) Commands() []CommandSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CommandSpec(nil), m.commands...)
}

// Deleted returns the IDs of deleted messages.
func (m *MockGateway) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// ArchivedThreads returns the IDs of archived threads, in order.
func (m *MockGateway) ArchivedThreads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.archived...)
}

// TypingCount returns how many typing indicators were sent.
func (m *MockGateway) TypingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing
}
