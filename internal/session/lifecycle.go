package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/switchboard/internal/completion"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/models"
)

// maxNameRunes bounds the user name part of a thread name.
const maxNameRunes = 20

// commandPrefix marks slash-command text typed into a thread.
const commandPrefix = "/"

// Registry is the storage the lifecycle consults and appends to.
type Registry interface {
	IsBlocked(ctx context.Context, userID string) (bool, error)
	RecentCreations(ctx context.Context, userID string, since time.Time) ([]models.ThreadCreation, error)
	RecordCreation(ctx context.Context, rec *models.ThreadCreation) error
}

// Policy holds the lifecycle's tuning parameters.
type Policy struct {
	AllowedGuilds     []string // empty allows every guild
	ThreadPrefix      string
	ClosedPrefix      string
	MaxThreadMessages int
	CreationWindow    time.Duration
	MaxCreations      int
	NewChatHint       string
}

// Lifecycle admits thread-creation requests and per-message turns and
// closes threads on terminal conditions.
type Lifecycle struct {
	gw       gateway.Gateway
	registry Registry
	policy   Policy
	allowed  map[string]bool
	now      func() time.Time

	mu      sync.Mutex
	closing map[string]bool // threads with a Close in progress
}

// LifecycleOpts holds parameters for creating a Lifecycle.
type LifecycleOpts struct {
	Gateway  gateway.Gateway
	Registry Registry
	Policy   Policy
	Now      func() time.Time // defaults to time.Now
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(opts LifecycleOpts) (*Lifecycle, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("session: gateway is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("session: registry is required")
	}
	if opts.Policy.ThreadPrefix == "" {
		return nil, fmt.Errorf("session: thread prefix is required")
	}
	if opts.Policy.CreationWindow <= 0 {
		return nil, fmt.Errorf("session: creation window must be positive")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	allowed := make(map[string]bool, len(opts.Policy.AllowedGuilds))
	for _, g := range opts.Policy.AllowedGuilds {
		allowed[g] = true
	}
	return &Lifecycle{
		gw:       opts.Gateway,
		registry: opts.Registry,
		policy:   opts.Policy,
		allowed:  allowed,
		now:      now,
		closing:  make(map[string]bool),
	}, nil
}

// Policy returns the lifecycle's policy.
func (l *Lifecycle) Policy() Policy { return l.policy }

// GuildAllowed reports whether the assistant serves guildID.
func (l *Lifecycle) GuildAllowed(guildID string) bool {
	return len(l.allowed) == 0 || l.allowed[guildID]
}

// CreateRequest is a user's request to open a conversation thread.
type CreateRequest struct {
	User        gateway.User
	GuildID     string
	ChannelID   string
	ChannelKind gateway.ChannelKind
	// OnAdmit, when set, runs once the request passes every check and
	// before the thread is created. An error aborts the request.
	OnAdmit func(ctx context.Context) error
}

// RequestCreate admits or rejects a thread-creation request. A refused
// request returns a *Rejection. On admission the thread is created and a
// pending creation record is appended, then the user is mentioned in it and
// the onboarding notice is posted.
func (l *Lifecycle) RequestCreate(ctx context.Context, req CreateRequest) (*Session, error) {
	if !l.GuildAllowed(req.GuildID) {
		return nil, reject(ReasonGuildNotAllowed)
	}
	if req.ChannelKind != gateway.ChannelText {
		return nil, reject(ReasonNotTextChannel)
	}

	blocked, err := l.registry.IsBlocked(ctx, req.User.ID)
	if err != nil {
		return nil, fmt.Errorf("session: check block: %w", err)
	}
	if blocked {
		return nil, reject(ReasonBlocked)
	}

	limited, err := l.rateLimited(ctx, req.User.ID)
	if err != nil {
		return nil, err
	}
	if limited {
		return nil, reject(ReasonRateLimited)
	}
	if req.OnAdmit != nil {
		if err := req.OnAdmit(ctx); err != nil {
			return nil, fmt.Errorf("session: admit: %w", err)
		}
	}

	th, err := l.gw.CreateThread(ctx, req.ChannelID, l.threadName(req.User.Name))
	if err != nil {
		return nil, fmt.Errorf("session: create thread: %w", err)
	}
	if th.GuildID == "" {
		th.GuildID = req.GuildID
	}
	// The thread exists from here on, so it counts against the rate limit
	// even if the messages below fail.
	if err := l.registry.RecordCreation(ctx, &models.ThreadCreation{
		UserID:    req.User.ID,
		ThreadID:  th.ID,
		Approval:  models.ApprovalPending,
		CreatedAt: l.now(),
	}); err != nil {
		log.Error().Err(err).Str("user", req.User.ID).Msg("session: creation not recorded")
	}

	if _, err := l.gw.Send(ctx, gateway.OutboundMessage{
		ChannelID: th.ID,
		GuildID:   th.GuildID,
		Text:      mention(req.User.ID),
	}); err != nil {
		return nil, fmt.Errorf("session: mention user: %w", err)
	}
	if _, err := l.gw.Send(ctx, gateway.OutboundMessage{
		ChannelID: th.ID,
		GuildID:   th.GuildID,
		Embeds:    []gateway.Embed{l.onboarding()},
	}); err != nil {
		log.Error().Err(err).Str("thread", th.ID).Msg("session: onboarding notice failed")
	}

	log.Info().Str("thread", th.ID).Str("user", req.User.ID).Msg("session: thread opened")
	return fromThread(th, l.policy.ClosedPrefix), nil
}

// rateLimited reports whether the user opened more than MaxCreations threads
// within the window. A moderator allow inside the window resets the count.
func (l *Lifecycle) rateLimited(ctx context.Context, userID string) (bool, error) {
	recent, err := l.registry.RecentCreations(ctx, userID, l.now().Add(-l.policy.CreationWindow))
	if err != nil {
		return false, fmt.Errorf("session: recent creations: %w", err)
	}
	for _, rec := range recent {
		if rec.Approval == models.ApprovalAllowed {
			return false, nil
		}
	}
	return len(recent) > l.policy.MaxCreations, nil
}

func (l *Lifecycle) threadName(userName string) string {
	name := []rune(userName)
	if len(name) > maxNameRunes {
		name = name[:maxNameRunes]
	}
	return l.policy.ThreadPrefix + " " + string(name)
}

func (l *Lifecycle) onboarding() gateway.Embed {
	fields := []gateway.Field{
		{Name: "⚠️ Be sure not to spam!", Value: "We do not save your questions but we do monitor user interactions and costs"},
	}
	if l.policy.NewChatHint != "" {
		fields = append(fields, gateway.Field{Name: "✅ Start new /chat:", Value: l.policy.NewChatHint})
	}
	fields = append(fields, gateway.Field{
		Name: "🚫 Our Restrictions",
		Value: fmt.Sprintf("We allow users to create up to %d new threads every %s",
			l.policy.MaxCreations+1, FormatWindow(l.policy.CreationWindow)),
	})
	return gateway.Embed{
		Title:  "Be advised with instructions:",
		Color:  gateway.ColorGreen,
		Fields: fields,
	}
}

// AdmitTurn decides whether an inbound message starts a turn. Ignored
// messages return a *Rejection. A thread over the message cap is closed
// before the rejection is returned, and a blocked user is told so.
func (l *Lifecycle) AdmitTurn(ctx context.Context, msg gateway.InboundMessage) (*Session, error) {
	switch {
	case msg.Author.ID == l.gw.Self().ID:
		return nil, reject(ReasonSelf)
	case msg.Author.Bot:
		return nil, reject(ReasonBotAuthor)
	case completion.IsMentionOnly(msg.Text):
		return nil, reject(ReasonMentionOnly)
	case strings.HasPrefix(msg.Text, commandPrefix):
		return nil, reject(ReasonCommand)
	case !l.GuildAllowed(msg.GuildID):
		return nil, reject(ReasonGuildNotAllowed)
	case !msg.InThread:
		return nil, reject(ReasonNotThread)
	}

	th, err := l.gw.Thread(ctx, msg.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("session: fetch thread: %w", err)
	}
	s := fromThread(th, l.policy.ClosedPrefix)
	switch {
	case th.OwnerID != l.gw.Self().ID:
		return nil, reject(ReasonForeignThread)
	case !strings.HasPrefix(th.Name, l.policy.ThreadPrefix):
		return nil, reject(ReasonInactive)
	case s.State != Open:
		return nil, reject(ReasonNotOpen)
	}

	blocked, err := l.registry.IsBlocked(ctx, msg.Author.ID)
	if err != nil {
		return nil, fmt.Errorf("session: check block: %w", err)
	}
	if blocked {
		l.notifyBlocked(ctx, s, msg.Author)
		return nil, reject(ReasonBlocked)
	}

	if l.policy.MaxThreadMessages > 0 && s.MessageCount > l.policy.MaxThreadMessages {
		if err := l.Close(ctx, s); err != nil {
			log.Error().Err(err).Str("thread", s.ID).Msg("session: close over cap failed")
		}
		return nil, reject(ReasonOverCap)
	}
	return s, nil
}

func (l *Lifecycle) notifyBlocked(ctx context.Context, s *Session, user gateway.User) {
	_, err := l.gw.Send(ctx, gateway.OutboundMessage{
		ChannelID: s.ID,
		GuildID:   s.GuildID,
		Embeds: []gateway.Embed{{
			Title:       "🤖💬 Seems like you have been blocked from using /chat command.",
			Description: mention(user.ID) + " please contact moderators! ",
			Color:       gateway.ColorGreen,
		}},
	})
	if err != nil {
		log.Error().Err(err).Str("thread", s.ID).Msg("session: blocked notice failed")
	}
}

// Close renames the thread with the closed prefix, posts the closing notice,
// then archives and locks it. Closing a session that is already closed on the
// platform is a no-op, as is a Close racing another Close of the same thread.
func (l *Lifecycle) Close(ctx context.Context, s *Session) error {
	l.mu.Lock()
	if s.State == Closed || l.closing[s.ID] {
		l.mu.Unlock()
		return nil
	}
	l.closing[s.ID] = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.closing, s.ID)
		l.mu.Unlock()
	}()

	// The snapshot may predate a Close that already finished.
	if th, err := l.gw.Thread(ctx, s.ID); err == nil {
		if cur := fromThread(th, l.policy.ClosedPrefix); cur.State == Closed {
			s.Name = cur.Name
			s.State = Closed
			return nil
		}
	}

	if _, err := l.gw.Send(ctx, gateway.OutboundMessage{
		ChannelID: s.ID,
		GuildID:   s.GuildID,
		Embeds: []gateway.Embed{{
			Description: "**Thread closed** - Context limit reached, closing...",
			Color:       gateway.ColorBlue,
		}},
	}); err != nil {
		log.Error().Err(err).Str("thread", s.ID).Msg("session: close notice failed")
	}

	name := l.closedName(s.Name)
	if err := l.gw.Archive(ctx, s.ID, name); err != nil {
		return fmt.Errorf("session: archive %s: %w", s.ID, err)
	}
	s.Name = name
	s.State = Closed
	log.Info().Str("thread", s.ID).Msg("session: thread closed")
	return nil
}

func (l *Lifecycle) closedName(name string) string {
	rest := strings.TrimSpace(strings.TrimPrefix(name, l.policy.ThreadPrefix))
	prefix := l.policy.ClosedPrefix
	if prefix == "" {
		return name
	}
	if rest == "" {
		return prefix
	}
	return prefix + " " + rest
}

// IsStale reports whether a newer message from someone other than the bot
// has superseded msgID in the thread.
func (l *Lifecycle) IsStale(ctx context.Context, threadID, msgID string) (bool, error) {
	latest, err := l.gw.History(ctx, threadID, 1)
	if err != nil {
		return false, fmt.Errorf("session: latest message: %w", err)
	}
	if len(latest) == 0 {
		return false, nil
	}
	last := latest[0]
	return last.ID != msgID && last.Author.ID != l.gw.Self().ID, nil
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

// FormatWindow renders a policy window as "10 minutes" or "1 hour".
func FormatWindow(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
