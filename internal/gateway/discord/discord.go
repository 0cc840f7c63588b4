// Package discord implements the gateway.Gateway for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/switchboard/internal/gateway"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// defaultPageSize is the default number of messages per page for history.
	defaultPageSize = 100
	// threadArchiveMinutes is the auto-archive duration of new threads.
	threadArchiveMinutes = 60
	// threadSlowmodeSeconds is the per-user slowmode of new threads.
	threadSlowmodeSeconds = 1
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ThreadStartComplex(channelID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }

// Channel consults the state cache first and falls back to REST.
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := r.s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return r.s.Channel(channelID)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelMessageDelete(channelID, messageID, options...)
}
func (r *realSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	return r.s.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}
func (r *realSession) ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelEditComplex(channelID, data, options...)
}
func (r *realSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelTyping(channelID, options...)
}
func (r *realSession) ThreadStartComplex(channelID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ThreadStartComplex(channelID, data, options...)
}
func (r *realSession) ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	return r.s.ApplicationCommandBulkOverwrite(appID, guildID, commands, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}

func (r *realSession) InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.InteractionResponseEdit(interaction, newresp, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements gateway.Gateway for Discord via the Gateway WebSocket.
type Adapter struct {
	sess        session
	botToken    string
	guildID     string // commands are registered here; empty registers globally
	mu          sync.Mutex
	self        gateway.User
	appID       string
	connected   bool
	closed      bool
	inbound     chan gateway.Event
	done        chan struct{}  // closed by Close to release blocked emitters
	senders     sync.WaitGroup // emits in flight; inbound closes after they drain
	removers    []func()
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	GuildID  string // guild for command registration
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	return &Adapter{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		guildID:     opts.GuildID,
		inbound:     make(chan gateway.Event, 100),
		done:        make(chan struct{}),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Ready fires on connect and reconnect and carries the bot identity.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.handleReady(r)
	})
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Warn().Msg("discord: gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		log.Info().Msg("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	// The state cache holds the READY payload once Open returns, before the
	// Ready handler has necessarily run.
	if rs, ok := a.sess.(readyStater); ok {
		a.applyReady(rs.ReadyState())
	}
	a.connected = true
	return nil
}

// readyStater exposes the READY payload cached by the session state.
type readyStater interface {
	ReadyState() *discordgo.Ready
}

func (r *realSession) ReadyState() *discordgo.Ready {
	if r.s.State == nil {
		return nil
	}
	return &r.s.State.Ready
}

func (a *Adapter) handleReady(r *discordgo.Ready) {
	a.mu.Lock()
	a.applyReady(r)
	a.mu.Unlock()
	if r != nil && r.User != nil {
		log.Info().Str("user", r.User.Username).Str("id", r.User.ID).Msg("discord: connected")
	}
}

// applyReady records the bot identity. Callers hold a.mu.
func (a *Adapter) applyReady(r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}
	a.self = gateway.User{ID: r.User.ID, Name: r.User.Username, Bot: true}
	if r.Application != nil {
		a.appID = r.Application.ID
	}
}

// Listen returns a channel of inbound events. Registers message and
// interaction handlers on the Gateway session. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan gateway.Event, error) {
	if !a.isConnected() {
		return nil, gateway.ErrNotConnected
	}

	removeMsg := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	removeCmd := a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		a.handleInteraction(i)
	})
	a.mu.Lock()
	a.removers = append(a.removers, removeMsg, removeCmd)
	a.mu.Unlock()

	return a.inbound, nil
}

// Self returns the bot user captured from the Ready event.
func (a *Adapter) Self() gateway.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self
}

// SetSelf sets the bot user (used for self-message filtering).
func (a *Adapter) SetSelf(u gateway.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.self = u
}

// SetApplicationID sets the application ID used for command registration.
func (a *Adapter) SetApplicationID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appID = id
}

// RegisterCommands overwrites the application's slash commands.
func (a *Adapter) RegisterCommands(ctx context.Context, cmds []gateway.CommandSpec) error {
	if !a.isConnected() {
		return gateway.ErrNotConnected
	}
	a.mu.Lock()
	appID := a.appID
	a.mu.Unlock()
	if appID == "" {
		return fmt.Errorf("discord: register commands: application id unknown")
	}

	var defs []*discordgo.ApplicationCommand
	for _, c := range cmds {
		defs = append(defs, commandDefinition(c))
	}
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ApplicationCommandBulkOverwrite(appID, a.guildID, defs)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	return nil
}

// Defer acknowledges an interaction with a "thinking" placeholder. Discord
// drops interactions not acknowledged within three seconds.
func (a *Adapter) Defer(ctx context.Context, inv *gateway.CommandInvocation, ephemeral bool) error {
	if !a.isConnected() {
		return gateway.ErrNotConnected
	}
	if inv.Deferred {
		return fmt.Errorf("discord: interaction %s already deferred", inv.ID)
	}
	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if ephemeral {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.InteractionRespond(&discordgo.Interaction{ID: inv.ID, Token: inv.Token}, resp)
	})
	if err != nil {
		return fmt.Errorf("discord: defer %s: %w", inv.Name, err)
	}
	inv.Deferred = true
	return nil
}

// Respond answers an interaction with a channel message, or edits the
// placeholder when the interaction was deferred.
func (a *Adapter) Respond(ctx context.Context, inv *gateway.CommandInvocation, msg gateway.OutboundMessage) error {
	if !a.isConnected() {
		return gateway.ErrNotConnected
	}
	if inv.Deferred {
		return a.editResponse(ctx, inv, msg)
	}
	data := &discordgo.InteractionResponseData{
		Content: msg.Text,
		Embeds:  buildEmbeds(msg.Embeds),
	}
	if msg.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.InteractionRespond(
			&discordgo.Interaction{ID: inv.ID, Token: inv.Token},
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: data,
			})
	})
	if err != nil {
		return fmt.Errorf("discord: respond to %s: %w", inv.Name, err)
	}
	return nil
}

func (a *Adapter) editResponse(ctx context.Context, inv *gateway.CommandInvocation, msg gateway.OutboundMessage) error {
	a.mu.Lock()
	appID := a.appID
	a.mu.Unlock()

	edit := &discordgo.WebhookEdit{}
	if msg.Text != "" {
		edit.Content = &msg.Text
	}
	if embeds := buildEmbeds(msg.Embeds); len(embeds) > 0 {
		edit.Embeds = &embeds
	}
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.InteractionResponseEdit(
			&discordgo.Interaction{AppID: appID, ID: inv.ID, Token: inv.Token}, edit)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit response to %s: %w", inv.Name, err)
	}
	return nil
}

// CreateThread starts a private, invitable thread under a text channel.
func (a *Adapter) CreateThread(ctx context.Context, parentChannelID, name string) (gateway.Thread, error) {
	if !a.isConnected() {
		return gateway.Thread{}, gateway.ErrNotConnected
	}
	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.ThreadStartComplex(parentChannelID, &discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: threadArchiveMinutes,
			Type:                discordgo.ChannelTypeGuildPrivateThread,
			Invitable:           true,
			RateLimitPerUser:    threadSlowmodeSeconds,
		})
		return apiErr
	})
	if err != nil {
		return gateway.Thread{}, fmt.Errorf("discord: create thread: %w", err)
	}
	return toThread(ch), nil
}

// Thread fetches a thread channel.
func (a *Adapter) Thread(ctx context.Context, threadID string) (gateway.Thread, error) {
	if !a.isConnected() {
		return gateway.Thread{}, gateway.ErrNotConnected
	}
	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.Channel(threadID)
		return apiErr
	})
	if err != nil {
		return gateway.Thread{}, fmt.Errorf("discord: fetch thread: %w", err)
	}
	if !ch.IsThread() {
		return gateway.Thread{}, fmt.Errorf("discord: channel %s is not a thread", threadID)
	}
	return toThread(ch), nil
}

// Send delivers a message to Discord. Embeds are translated to Discord Embeds.
func (a *Adapter) Send(ctx context.Context, msg gateway.OutboundMessage) (gateway.Handle, error) {
	if !a.isConnected() {
		return gateway.Handle{}, gateway.ErrNotConnected
	}
	if msg.ChannelID == "" {
		return gateway.Handle{}, fmt.Errorf("discord: no channel specified")
	}

	data := buildMessageSend(msg)
	var sent *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		sent, apiErr = a.sess.ChannelMessageSendComplex(msg.ChannelID, data)
		return apiErr
	})
	if err != nil {
		return gateway.Handle{}, fmt.Errorf("discord: send message: %w", err)
	}

	guildID := msg.GuildID
	if guildID == "" {
		guildID = sent.GuildID
	}
	return gateway.Handle{
		ID:        sent.ID,
		ChannelID: msg.ChannelID,
		JumpURL:   jumpURL(guildID, msg.ChannelID, sent.ID),
	}, nil
}

// Delete removes a message. A 403 maps to gateway.ErrPermissionDenied.
func (a *Adapter) Delete(ctx context.Context, channelID, messageID string) error {
	if !a.isConnected() {
		return gateway.ErrNotConnected
	}
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.ChannelMessageDelete(channelID, messageID)
	})
	if isStatus(err, http.StatusForbidden) {
		return fmt.Errorf("discord: delete message: %w", gateway.ErrPermissionDenied)
	}
	if err != nil {
		return fmt.Errorf("discord: delete message: %w", err)
	}
	return nil
}

// Archive renames a thread and marks it archived and locked in one edit.
func (a *Adapter) Archive(ctx context.Context, threadID, name string) error {
	if !a.isConnected() {
		return gateway.ErrNotConnected
	}
	archived, locked := true, true
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelEditComplex(threadID, &discordgo.ChannelEdit{
			Name:     name,
			Archived: &archived,
			Locked:   &locked,
		})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: archive thread: %w", err)
	}
	return nil
}

// History retrieves up to limit messages from a thread, most recent first.
func (a *Adapter) History(ctx context.Context, threadID string, limit int) ([]gateway.HistoryMessage, error) {
	if !a.isConnected() {
		return nil, gateway.ErrNotConnected
	}

	var all []gateway.HistoryMessage
	beforeID := ""
	pageSize := defaultPageSize
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	for {
		var msgs []*discordgo.Message
		err := a.retryOnRateLimit(ctx, func() error {
			var apiErr error
			msgs, apiErr = a.sess.ChannelMessages(threadID, pageSize, beforeID, "", "")
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: channel messages: %w", err)
		}
		if len(msgs) == 0 {
			break
		}

		for _, m := range msgs {
			hm := gateway.HistoryMessage{
				ID:        m.ID,
				Text:      m.Content,
				Timestamp: m.Timestamp,
			}
			if m.Author != nil {
				hm.Author = gateway.User{ID: m.Author.ID, Name: m.Author.Username, Bot: m.Author.Bot}
			}
			all = append(all, hm)
		}

		if limit > 0 && len(all) >= limit {
			all = all[:limit]
			break
		}

		// Paginate backwards: the last message ID is the "before" cursor.
		beforeID = msgs[len(msgs)-1].ID
		if len(msgs) < pageSize {
			break
		}
	}
	return all, nil
}

// Typing triggers the typing indicator.
func (a *Adapter) Typing(ctx context.Context, channelID string) error {
	if !a.isConnected() {
		return gateway.ErrNotConnected
	}
	if err := a.sess.ChannelTyping(channelID); err != nil {
		return fmt.Errorf("discord: typing: %w", err)
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	removers := a.removers
	a.removers = nil
	close(a.done)
	a.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	a.senders.Wait()
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// emit forwards an event unless the adapter has been closed. The send
// happens outside mu so a full buffer never stalls Self or Close.
func (a *Adapter) emit(evt gateway.Event) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.senders.Add(1)
	a.mu.Unlock()
	defer a.senders.Done()

	select {
	case a.inbound <- evt:
	case <-a.done:
		log.Debug().Msg("discord: adapter closed, dropping inbound event")
	}
}

// handleMessage converts a Discord message event to an InboundMessage.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	self := a.Self()
	if m.Author.ID == self.ID || m.Author.Bot {
		return
	}

	msg := gateway.InboundMessage{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Author:    gateway.User{ID: m.Author.ID, Name: m.Author.Username},
		Text:      m.Content,
		JumpURL:   jumpURL(m.GuildID, m.ChannelID, m.ID),
	}
	// In Discord, threads are channels. The state cache tells us whether the
	// message's channel is a thread and which channel it hangs off.
	if ch, err := a.sess.Channel(m.ChannelID); err == nil && ch.IsThread() {
		msg.InThread = true
		msg.ParentID = ch.ParentID
	}
	msg.Timestamp, _ = discordgo.SnowflakeTimestamp(m.ID)

	a.emit(gateway.Event{Message: &msg})
}

// handleInteraction converts a slash command interaction to a CommandInvocation.
func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	inv := gateway.CommandInvocation{
		ID:        i.ID,
		Token:     i.Token,
		Name:      data.Name,
		Options:   make(map[string]string),
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
	}
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			inv.Options[opt.Name] = opt.StringValue()
		}
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		inv.User = gateway.User{ID: i.Member.User.ID, Name: i.Member.User.Username}
	case i.User != nil:
		inv.User = gateway.User{ID: i.User.ID, Name: i.User.Username}
	}
	if ch, err := a.sess.Channel(i.ChannelID); err == nil {
		inv.ChannelKind = channelKind(ch)
	}

	a.emit(gateway.Event{Command: &inv})
}

func channelKind(ch *discordgo.Channel) gateway.ChannelKind {
	switch {
	case ch.IsThread():
		return gateway.ChannelThread
	case ch.Type == discordgo.ChannelTypeGuildText:
		return gateway.ChannelText
	default:
		return gateway.ChannelOther
	}
}

func toThread(ch *discordgo.Channel) gateway.Thread {
	th := gateway.Thread{
		ID:           ch.ID,
		GuildID:      ch.GuildID,
		ParentID:     ch.ParentID,
		OwnerID:      ch.OwnerID,
		Name:         ch.Name,
		MessageCount: ch.MessageCount,
	}
	if ch.ThreadMetadata != nil {
		th.Archived = ch.ThreadMetadata.Archived
		th.Locked = ch.ThreadMetadata.Locked
	}
	th.CreatedAt, _ = discordgo.SnowflakeTimestamp(ch.ID)
	return th
}

func commandDefinition(c gateway.CommandSpec) *discordgo.ApplicationCommand {
	def := &discordgo.ApplicationCommand{
		Name:        c.Name,
		Description: c.Description,
	}
	if c.ModOnly {
		perm := int64(discordgo.PermissionManageMessages)
		def.DefaultMemberPermissions = &perm
	}
	for _, o := range c.Options {
		def.Options = append(def.Options, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        o.Name,
			Description: o.Description,
			Required:    o.Required,
		})
	}
	return def
}

func jumpURL(guildID, channelID, messageID string) string {
	if guildID == "" {
		guildID = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// buildMessageSend translates an OutboundMessage into a Discord MessageSend.
func buildMessageSend(msg gateway.OutboundMessage) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content: msg.Text,
		Embeds:  buildEmbeds(msg.Embeds),
	}
}

func buildEmbeds(embeds []gateway.Embed) []*discordgo.MessageEmbed {
	var out []*discordgo.MessageEmbed
	for _, e := range embeds {
		out = append(out, toEmbed(e))
	}
	return out
}

// toEmbed converts a gateway.Embed to a Discord Embed.
func toEmbed(e gateway.Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
	}
	if e.Color != "" {
		embed.Color = parseHexColor(e.Color)
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

func isStatus(err error, code int) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == code
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isStatus(err, http.StatusTooManyRequests) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Warn().Int("attempt", attempt+1).Int("max", maxRetries).Dur("wait", wait).
			Msg("discord: rate limited, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
