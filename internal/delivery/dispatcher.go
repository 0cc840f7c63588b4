package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/switchboard/internal/completion"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/moderation"
	"github.com/zulandar/switchboard/internal/session"
)

// User-facing notices. Provider error text is never shown.
const (
	GenericFailure = "Oops, an error occurred while processing your request. Please try again and if the error persists, reach out to moderators. You can add them to the thread by mentioning them with @."

	emptyReplyNotice     = "**Invalid response** - empty response"
	invalidRequestNotice = "**Invalid request** - " + GenericFailure
	errorNotice          = "**Error** - " + GenericFailure
	flaggedReplyBanner   = "⚠️ **This conversation has been flagged by moderation.**"
	blockedReplyBanner   = "❌ **The response has been blocked by moderation.**"
)

// Closer closes a conversation thread.
type Closer interface {
	Close(ctx context.Context, s *session.Session) error
}

// Dispatcher delivers completion results into conversation threads.
type Dispatcher struct {
	gw       gateway.Gateway
	notifier *moderation.Notifier
	closer   Closer
	limit    int
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Gateway  gateway.Gateway
	Notifier *moderation.Notifier
	Closer   Closer
	Limit    int // max chunk bytes, defaults to DefaultLimit
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("delivery: gateway is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("delivery: notifier is required")
	}
	if opts.Closer == nil {
		return nil, fmt.Errorf("delivery: closer is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Dispatcher{
		gw:       opts.Gateway,
		notifier: opts.Notifier,
		closer:   opts.Closer,
		limit:    limit,
	}, nil
}

// Deliver posts the outcome of a turn into the session's thread.
func (d *Dispatcher) Deliver(ctx context.Context, s *session.Session, user gateway.User, res completion.Result) error {
	switch res.Status {
	case completion.StatusOK:
		if strings.TrimSpace(res.Reply) == "" {
			return d.notice(ctx, s, emptyReplyNotice, gateway.ColorYellow)
		}
		_, err := d.sendReply(ctx, s, res.Reply)
		return err

	case completion.StatusModerationFlagged:
		url := moderation.NoURL
		if strings.TrimSpace(res.Reply) != "" {
			first, err := d.sendReply(ctx, s, res.Reply)
			if err != nil {
				return err
			}
			if first.JumpURL != "" {
				url = first.JumpURL
			}
		}
		if err := d.notifier.Flagged(ctx, moderation.Report{
			GuildID:    s.GuildID,
			User:       user,
			Categories: res.Categories,
			Text:       res.Reply,
			URL:        url,
		}); err != nil {
			log.Error().Err(err).Str("thread", s.ID).Msg("delivery: flagged report failed")
		}
		return d.notice(ctx, s, flaggedReplyBanner, gateway.ColorYellow)

	case completion.StatusModerationBlocked:
		if err := d.notifier.Blocked(ctx, moderation.Report{
			GuildID:    s.GuildID,
			User:       user,
			Categories: res.Categories,
			Text:       res.Reply,
		}); err != nil {
			log.Error().Err(err).Str("thread", s.ID).Msg("delivery: blocked report failed")
		}
		return d.notice(ctx, s, blockedReplyBanner, gateway.ColorRed)

	case completion.StatusTooLong:
		return d.closer.Close(ctx, s)

	case completion.StatusInvalidRequest:
		return d.notice(ctx, s, invalidRequestNotice, gateway.ColorYellow)

	default:
		return d.notice(ctx, s, errorNotice, gateway.ColorYellow)
	}
}

// sendReply posts the reply in order and returns the handle of the first
// chunk sent. Whitespace-only chunks are not posted.
func (d *Dispatcher) sendReply(ctx context.Context, s *session.Session, reply string) (gateway.Handle, error) {
	var first gateway.Handle
	for _, chunk := range Split(reply, d.limit) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		h, err := d.gw.Send(ctx, gateway.OutboundMessage{
			ChannelID: s.ID,
			GuildID:   s.GuildID,
			Text:      chunk,
		})
		if err != nil {
			return first, fmt.Errorf("delivery: send reply: %w", err)
		}
		if first.ID == "" {
			first = h
		}
	}
	return first, nil
}

func (d *Dispatcher) notice(ctx context.Context, s *session.Session, text, color string) error {
	_, err := d.gw.Send(ctx, gateway.OutboundMessage{
		ChannelID: s.ID,
		GuildID:   s.GuildID,
		Embeds:    []gateway.Embed{{Description: text, Color: color}},
	})
	if err != nil {
		return fmt.Errorf("delivery: send notice: %w", err)
	}
	return nil
}
