package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/switchboard/internal/gateway"
)

// DefaultTailChars bounds how much of the prompt and reply is re-classified.
const DefaultTailChars = 500

// Outcome is what the Gate decided for an inbound message.
type Outcome int

const (
	// Allowed lets the turn proceed silently.
	Allowed Outcome = iota
	// Flagged lets the turn proceed after warning the thread.
	Flagged
	// Blocked stops the turn; the message has been removed or reported.
	Blocked
)

func (o Outcome) String() string {
	switch o {
	case Flagged:
		return "flagged"
	case Blocked:
		return "blocked"
	default:
		return "allowed"
	}
}

// Gate applies moderation policy to thread content.
type Gate struct {
	classifier Classifier
	gw         gateway.Gateway
	notifier   *Notifier
	tailChars  int
}

// GateOpts holds parameters for creating a Gate.
type GateOpts struct {
	Classifier Classifier
	Gateway    gateway.Gateway
	Notifier   *Notifier
	TailChars  int // defaults to DefaultTailChars
}

// NewGate creates a Gate.
func NewGate(opts GateOpts) (*Gate, error) {
	if opts.Classifier == nil {
		return nil, fmt.Errorf("moderation: classifier is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("moderation: gateway is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("moderation: notifier is required")
	}
	tail := opts.TailChars
	if tail <= 0 {
		tail = DefaultTailChars
	}
	return &Gate{
		classifier: opts.Classifier,
		gw:         opts.Gateway,
		notifier:   opts.Notifier,
		tailChars:  tail,
	}, nil
}

// Notifier returns the gate's moderation-channel notifier.
func (g *Gate) Notifier() *Notifier { return g.notifier }

// ScreenInbound classifies a user's thread message. Blocked messages are
// deleted (or reported as undeletable) and flagged messages get a warning
// banner; moderators are notified either way. A classifier error is returned
// as-is and nothing is posted.
func (g *Gate) ScreenInbound(ctx context.Context, msg gateway.InboundMessage) (Outcome, error) {
	v, err := g.classifier.Classify(ctx, msg.Text)
	if err != nil {
		return Allowed, err
	}

	report := Report{
		GuildID:    msg.GuildID,
		User:       msg.Author,
		Categories: v.Categories(),
		Text:       msg.Text,
	}
	switch {
	case v.IsBlocked():
		if err := g.notifier.Blocked(ctx, report); err != nil {
			log.Error().Err(err).Str("thread", msg.ChannelID).Msg("moderation: blocked report failed")
		}
		notice := fmt.Sprintf("❌ **%s's message has been deleted by moderation.**", msg.Author.Name)
		if err := g.gw.Delete(ctx, msg.ChannelID, msg.ID); err != nil {
			if !errors.Is(err, gateway.ErrPermissionDenied) {
				log.Error().Err(err).Str("message", msg.ID).Msg("moderation: delete failed")
			}
			notice = fmt.Sprintf("❌ **%s's message has been blocked by moderation but could not be deleted. Missing Manage Messages permission in this Channel.**", msg.Author.Name)
		}
		g.banner(ctx, msg.ChannelID, msg.GuildID, notice, gateway.ColorRed)
		return Blocked, nil

	case v.IsFlagged():
		report.URL = msg.JumpURL
		if err := g.notifier.Flagged(ctx, report); err != nil {
			log.Error().Err(err).Str("thread", msg.ChannelID).Msg("moderation: flagged report failed")
		}
		g.banner(ctx, msg.ChannelID, msg.GuildID,
			fmt.Sprintf("⚠️ **%s's message has been flagged by moderation.**", msg.Author.Name),
			gateway.ColorYellow)
		return Flagged, nil
	}
	return Allowed, nil
}

// ScreenReply classifies the tail of the rendered prompt followed by the
// generated reply, so the reply is judged together with its immediate context.
func (g *Gate) ScreenReply(ctx context.Context, rendered, reply string) (Verdict, error) {
	return g.classifier.Classify(ctx, Tail(rendered+reply, g.tailChars))
}

func (g *Gate) banner(ctx context.Context, channelID, guildID, text, color string) {
	_, err := g.gw.Send(ctx, gateway.OutboundMessage{
		ChannelID: channelID,
		GuildID:   guildID,
		Embeds:    []gateway.Embed{{Description: text, Color: color}},
	})
	if err != nil {
		log.Error().Err(err).Str("thread", channelID).Msg("moderation: banner failed")
	}
}
