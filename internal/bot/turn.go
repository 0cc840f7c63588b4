package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/switchboard/internal/completion"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/moderation"
	"github.com/zulandar/switchboard/internal/session"
)

// handleMessage runs one turn: admission, inbound moderation, coalescing,
// completion and delivery. Every path ends in a delivered notice, a reply,
// or a silently dropped turn.
func (d *Daemon) handleMessage(ctx context.Context, msg gateway.InboundMessage) {
	logger := log.With().
		Str("turn", uuid.NewString()).
		Str("thread", msg.ChannelID).
		Str("user", msg.Author.ID).
		Logger()

	s, err := d.lifecycle.AdmitTurn(ctx, msg)
	if err != nil {
		var rej *session.Rejection
		if errors.As(err, &rej) {
			logger.Debug().Str("reason", string(rej.Reason)).Msg("bot: message ignored")
			return
		}
		logger.Error().Err(err).Msg("bot: admit turn")
		return
	}

	outcome, err := d.gate.ScreenInbound(ctx, msg)
	if err != nil {
		logger.Error().Err(err).Msg("bot: inbound moderation failed")
		d.deliver(ctx, logger, s, msg.Author, completion.Result{
			Status: completion.StatusProviderError,
			Detail: err.Error(),
		})
		return
	}
	if outcome == moderation.Blocked {
		logger.Info().Msg("bot: inbound message blocked")
		return
	}

	if delay := d.cfg.Policy.CoalesceDelay; delay > 0 {
		if err := d.sleep(ctx, delay); err != nil {
			return
		}
		if d.stale(ctx, logger, s.ID, msg.ID) {
			logger.Debug().Msg("bot: superseded during coalescing")
			return
		}
	}

	history, err := d.gw.History(ctx, s.ID, d.cfg.Policy.MaxThreadMessages)
	if err != nil {
		logger.Error().Err(err).Msg("bot: fetch history")
		d.deliver(ctx, logger, s, msg.Author, completion.Result{
			Status: completion.StatusProviderError,
			Detail: err.Error(),
		})
		return
	}
	convo := completion.FromHistory(d.orch.Identity(), history, d.cfg.Policy.MaxThreadMessages)

	tier := d.selector.Choose(ctx, msg.Author.ID)
	logger.Info().Str("tier", tier.Name).Str("model", tier.Model).Int("messages", len(convo.Messages)).Msg("bot: completing")

	stopTyping := d.keepTyping(ctx, s.ID)
	res := d.orch.Complete(ctx, completion.Request{
		User:         msg.Author,
		Tier:         tier,
		Conversation: convo,
	})
	stopTyping()

	logger.Info().
		Str("status", res.Status.String()).
		Float64("cost", res.Cost).
		Str("detail", res.Detail).
		Msg("bot: completion finished")

	if d.stale(ctx, logger, s.ID, msg.ID) {
		logger.Info().Msg("bot: stale turn dropped")
		return
	}
	d.deliver(ctx, logger, s, msg.Author, res)
}

func (d *Daemon) deliver(ctx context.Context, logger zerolog.Logger, s *session.Session, user gateway.User, res completion.Result) {
	if err := d.dispatcher.Deliver(ctx, s, user, res); err != nil {
		logger.Error().Err(err).Str("status", res.Status.String()).Msg("bot: deliver")
	}
}

// stale reports whether msgID has been superseded. A failed check is logged
// and treated as fresh.
func (d *Daemon) stale(ctx context.Context, logger zerolog.Logger, threadID, msgID string) bool {
	stale, err := d.lifecycle.IsStale(ctx, threadID, msgID)
	if err != nil {
		logger.Warn().Err(err).Msg("bot: staleness check failed")
		return false
	}
	return stale
}

// keepTyping shows the typing indicator until the returned stop func is
// called.
func (d *Daemon) keepTyping(ctx context.Context, channelID string) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.typingInterval)
		defer ticker.Stop()
		for {
			if err := d.gw.Typing(ctx, channelID); err != nil {
				log.Debug().Err(err).Str("thread", channelID).Msg("bot: typing indicator")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
