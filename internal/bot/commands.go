package bot

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/session"
)

// Slash command names.
const (
	cmdChat  = "chat"
	cmdDeny  = "deny"
	cmdAllow = "allow"
	cmdCosts = "costs"

	optUserID = "user_id"
)

// costRows caps the per-user rows of a cost breakdown.
const costRows = 20

const startFailure = "Failed to start chat, please try again. If the error continues reach out to moderators with specifications of when the error occurred."

func commandSpecs() []gateway.CommandSpec {
	userOpt := []gateway.CommandOption{{Name: optUserID, Description: "Discord user ID", Required: true}}
	return []gateway.CommandSpec{
		{Name: cmdChat, Description: "Start a private conversation thread with the assistant"},
		{Name: cmdDeny, Description: "Block a user from the assistant", Options: userOpt, ModOnly: true},
		{Name: cmdAllow, Description: "Unblock a user and reset their thread limit", Options: userOpt, ModOnly: true},
		{Name: cmdCosts, Description: "Show the cost breakdown by user", ModOnly: true},
	}
}

// handleCommand serves one slash command invocation.
func (d *Daemon) handleCommand(ctx context.Context, inv *gateway.CommandInvocation) {
	logger := log.With().Str("command", inv.Name).Str("user", inv.User.ID).Logger()
	logger.Info().Msg("bot: command")

	var err error
	switch inv.Name {
	case cmdChat:
		err = d.cmdChat(ctx, inv)
	case cmdDeny, cmdAllow, cmdCosts:
		err = d.cmdModerator(ctx, inv)
	default:
		err = d.respondEphemeral(ctx, inv, fmt.Sprintf("Unknown command `/%s`.", inv.Name))
	}
	if err != nil {
		logger.Error().Err(err).Msg("bot: command failed")
	}
}

func (d *Daemon) cmdChat(ctx context.Context, inv *gateway.CommandInvocation) error {
	s, err := d.lifecycle.RequestCreate(ctx, session.CreateRequest{
		User:        inv.User,
		GuildID:     inv.GuildID,
		ChannelID:   inv.ChannelID,
		ChannelKind: inv.ChannelKind,
		// Thread creation and onboarding can outlast the interaction deadline.
		OnAdmit: func(ctx context.Context) error { return d.gw.Defer(ctx, inv, false) },
	})
	var rej *session.Rejection
	switch {
	case errors.As(err, &rej):
		return d.respondRejection(ctx, inv, rej.Reason)
	case err != nil:
		if rerr := d.respondEphemeral(ctx, inv, startFailure); rerr != nil {
			log.Error().Err(rerr).Msg("bot: respond")
		}
		return err
	}

	return d.gw.Respond(ctx, inv, gateway.OutboundMessage{
		Embeds: []gateway.Embed{{
			Title:       fmt.Sprintf("🤖💬 %s response will be sent on private thread!", d.gw.Self().Name),
			Description: fmt.Sprintf("%s be sure not to spam! Your thread: <#%s>", mention(inv.User.ID), s.ID),
			Color:       gateway.ColorGreen,
		}},
	})
}

func (d *Daemon) respondRejection(ctx context.Context, inv *gateway.CommandInvocation, reason session.Reason) error {
	switch reason {
	case session.ReasonRateLimited:
		return d.gw.Respond(ctx, inv, gateway.OutboundMessage{
			Embeds: []gateway.Embed{{
				Title: "🚫⚠️Limit reached⚠️",
				Description: fmt.Sprintf("%s Seems like you reached the limit of new threads. Please wait %s and try /chat again.",
					mention(inv.User.ID), session.FormatWindow(d.lifecycle.Policy().CreationWindow)),
				Color: gateway.ColorRed,
			}},
		})
	case session.ReasonBlocked:
		return d.gw.Respond(ctx, inv, gateway.OutboundMessage{
			Ephemeral: true,
			Embeds: []gateway.Embed{{
				Title:       "🤖💬 Seems like you have been blocked from using /chat command.",
				Description: mention(inv.User.ID) + " please contact moderators! ",
				Color:       gateway.ColorGreen,
			}},
		})
	case session.ReasonNotTextChannel:
		return d.respondEphemeral(ctx, inv, "/chat can only be used in a text channel.")
	default:
		return d.respondEphemeral(ctx, inv, "/chat is not available here.")
	}
}

// cmdModerator serves /deny, /allow and /costs. They only work inside a
// thread of an allowed guild; moderator permission is enforced by the
// platform through the command's default member permissions.
func (d *Daemon) cmdModerator(ctx context.Context, inv *gateway.CommandInvocation) error {
	if inv.ChannelKind != gateway.ChannelThread {
		return d.respondEphemeral(ctx, inv, fmt.Sprintf("/%s can only be used inside a thread.", inv.Name))
	}
	if !d.lifecycle.GuildAllowed(inv.GuildID) {
		return d.respondEphemeral(ctx, inv, fmt.Sprintf("/%s is not available here.", inv.Name))
	}

	if inv.Name == cmdCosts {
		return d.cmdCosts(ctx, inv)
	}

	target, err := parseUserID(inv.Option(optUserID))
	if err != nil {
		return d.respondEphemeral(ctx, inv, fmt.Sprintf("`%s` is not a valid user ID.", inv.Option(optUserID)))
	}

	var verb string
	switch inv.Name {
	case cmdDeny:
		err = d.store.Block(ctx, inv.User.ID, inv.User.Name, target)
		verb = "blocked"
	case cmdAllow:
		err = d.store.Unblock(ctx, inv.User.ID, inv.User.Name, target)
		if err == nil {
			err = d.store.AllowLatestCreation(ctx, target)
		}
		verb = "unblocked"
	}
	if err != nil {
		if rerr := d.respondEphemeral(ctx, inv, fmt.Sprintf("/%s failed, please try again.", inv.Name)); rerr != nil {
			log.Error().Err(rerr).Msg("bot: respond")
		}
		return err
	}

	log.Info().Str("moderator", inv.User.ID).Str("target", target).Str("action", inv.Name).Msg("bot: block list updated")
	if err := d.gw.Respond(ctx, inv, gateway.OutboundMessage{
		Text: fmt.Sprintf("/%s by %s", inv.Name, mention(inv.User.ID)),
	}); err != nil {
		return err
	}
	_, err = d.gw.Send(ctx, gateway.OutboundMessage{
		ChannelID: inv.ChannelID,
		GuildID:   inv.GuildID,
		Text:      fmt.Sprintf("%s %s UserID \"%s\"", mention(inv.User.ID), verb, target),
	})
	return err
}

func (d *Daemon) cmdCosts(ctx context.Context, inv *gateway.CommandInvocation) error {
	rows, total, err := d.store.CostBreakdown(ctx)
	if err != nil {
		if rerr := d.respondEphemeral(ctx, inv, "/costs failed, please try again."); rerr != nil {
			log.Error().Err(rerr).Msg("bot: respond")
		}
		return err
	}
	if err := d.gw.Respond(ctx, inv, gateway.OutboundMessage{
		Text: fmt.Sprintf("/costs by %s", mention(inv.User.ID)),
	}); err != nil {
		return err
	}
	_, err = d.gw.Send(ctx, gateway.OutboundMessage{
		ChannelID: inv.ChannelID,
		GuildID:   inv.GuildID,
		Embeds:    []gateway.Embed{costEmbed("These are the costs with breakdown", rows, total)},
	})
	return err
}

// costEmbed renders the top spenders followed by the grand total.
func costEmbed(title string, rows []models.UserSpend, total float64) gateway.Embed {
	if len(rows) > costRows {
		rows = rows[:costRows]
	}
	fields := make([]gateway.Field, 0, len(rows)+1)
	for _, r := range rows {
		fields = append(fields, gateway.Field{
			Name:  fmt.Sprintf("%s with UserID: %s", r.DisplayName, r.UserID),
			Value: formatCost(r.Total),
		})
	}
	fields = append(fields, gateway.Field{Name: "Grand Total", Value: formatCost(total)})
	return gateway.Embed{Title: title, Color: gateway.ColorGreen, Fields: fields}
}

func formatCost(v float64) string {
	return fmt.Sprintf("%.4f", math.Round(v*10000)/10000)
}

func (d *Daemon) respondEphemeral(ctx context.Context, inv *gateway.CommandInvocation, text string) error {
	return d.gw.Respond(ctx, inv, gateway.OutboundMessage{Text: text, Ephemeral: true})
}

// parseUserID validates a platform user id.
func parseUserID(s string) (string, error) {
	id, err := snowflake.ParseString(s)
	if err != nil || id <= 0 {
		return "", fmt.Errorf("bot: invalid user id %q", s)
	}
	return id.String(), nil
}

func mention(userID string) string {
	return "<@" + userID + ">"
}
