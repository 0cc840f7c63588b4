package moderation

import (
	"context"
	"fmt"

	"github.com/zulandar/switchboard/internal/gateway"
)

// NoURL is reported to moderators when flagged content has no message link.
const NoURL = "no url"

// maxFieldLen is the longest embed field value Discord accepts.
const maxFieldLen = 1024

// Notifier posts moderation reports to the moderators' channel. A Notifier
// without a channel drops every report.
type Notifier struct {
	gw        gateway.Gateway
	channelID string
}

// NewNotifier creates a Notifier posting to channelID.
func NewNotifier(gw gateway.Gateway, channelID string) (*Notifier, error) {
	if gw == nil {
		return nil, fmt.Errorf("moderation: gateway is required")
	}
	return &Notifier{gw: gw, channelID: channelID}, nil
}

// Report describes content that tripped moderation.
type Report struct {
	GuildID    string
	User       gateway.User
	Categories string
	Text       string
	URL        string // jump link; empty for deleted or undelivered content
}

// Flagged reports flagged content with a link to it.
func (n *Notifier) Flagged(ctx context.Context, r Report) error {
	url := r.URL
	if url == "" {
		url = NoURL
	}
	return n.post(ctx, r.GuildID, gateway.Embed{
		Title:       "⚠️ Flagged content",
		Description: fmt.Sprintf("Content from **%s** was flagged.", r.User.Name),
		Color:       gateway.ColorYellow,
		Fields:      append(reportFields(r), gateway.Field{Name: "Link", Value: url}),
	})
}

// Blocked reports blocked content.
func (n *Notifier) Blocked(ctx context.Context, r Report) error {
	return n.post(ctx, r.GuildID, gateway.Embed{
		Title:       "❌ Blocked content",
		Description: fmt.Sprintf("Content from **%s** was blocked.", r.User.Name),
		Color:       gateway.ColorRed,
		Fields:      reportFields(r),
	})
}

func reportFields(r Report) []gateway.Field {
	text := r.Text
	if text == "" {
		text = "(empty)"
	}
	return []gateway.Field{
		{Name: "User", Value: fmt.Sprintf("%s (%s)", r.User.Name, r.User.ID), Inline: true},
		{Name: "Categories", Value: r.Categories, Inline: true},
		{Name: "Message", Value: truncate(text, maxFieldLen)},
	}
}

func (n *Notifier) post(ctx context.Context, guildID string, embed gateway.Embed) error {
	if n.channelID == "" {
		return nil
	}
	_, err := n.gw.Send(ctx, gateway.OutboundMessage{
		ChannelID: n.channelID,
		GuildID:   guildID,
		Embeds:    []gateway.Embed{embed},
	})
	if err != nil {
		return fmt.Errorf("moderation: notify: %w", err)
	}
	return nil
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
