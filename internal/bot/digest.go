package bot

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/gateway"
)

const digestTitle = "Daily cost digest"

// nextCronDuration returns the duration from now until the next fire time of
// a 5-field cron expression. Returns 0 on parse error.
func nextCronDuration(expr string, now time.Time) time.Duration {
	sched, err := config.CronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// runDigestScheduler posts the cost breakdown to the digest channel on the
// configured schedule. It returns immediately if the digest is disabled.
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	cfg := d.cfg.Digest
	if !cfg.Enabled || cfg.ChannelID == "" {
		return
	}
	wait := nextCronDuration(cfg.Cron, d.now())
	if wait <= 0 {
		log.Warn().Str("cron", cfg.Cron).Msg("bot: digest schedule invalid, digest disabled")
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	log.Info().Str("cron", cfg.Cron).Dur("next", wait).Msg("bot: digest scheduled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.postDigest(ctx)
			if wait := nextCronDuration(cfg.Cron, d.now()); wait > 0 {
				timer.Reset(wait)
			}
		}
	}
}

// postDigest sends a single digest. Failures are logged.
func (d *Daemon) postDigest(ctx context.Context) {
	rows, total, err := d.store.CostBreakdown(ctx)
	if err != nil {
		log.Error().Err(err).Msg("bot: digest cost breakdown")
		return
	}
	if _, err := d.gw.Send(ctx, gateway.OutboundMessage{
		ChannelID: d.cfg.Digest.ChannelID,
		Embeds:    []gateway.Embed{costEmbed(digestTitle, rows, total)},
	}); err != nil {
		log.Error().Err(err).Msg("bot: send digest")
	}
}
