// Package bot runs the assistant: it connects the gateway, wires the
// session, moderation, billing, completion and delivery components, and
// pumps inbound events into turns and operator commands.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/switchboard/internal/billing"
	"github.com/zulandar/switchboard/internal/completion"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/delivery"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/moderation"
	"github.com/zulandar/switchboard/internal/session"
	"github.com/zulandar/switchboard/internal/store"
)

// DefaultTypingInterval is how often the typing indicator is refreshed while
// a completion is pending. The platform shows it for about ten seconds.
const DefaultTypingInterval = 8 * time.Second

// Daemon is the main bot process.
type Daemon struct {
	cfg            *config.Config
	store          *store.Store
	gw             gateway.Gateway
	classifier     moderation.Classifier
	providers      *completion.Providers
	counter        completion.TokenCounter
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
	typingInterval time.Duration

	// Built once the gateway handshake has identified the bot.
	lifecycle  *session.Lifecycle
	gate       *moderation.Gate
	ledger     *billing.Ledger
	selector   *billing.Selector
	orch       *completion.Orchestrator
	dispatcher *delivery.Dispatcher

	turns sync.WaitGroup
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	Config     *config.Config
	Store      *store.Store
	Gateway    gateway.Gateway
	Classifier moderation.Classifier
	Providers  *completion.Providers
	Counter    completion.TokenCounter // optional pre-flight size check

	// Sleep waits out the coalescing delay; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now defaults to time.Now.
	Now func() time.Time
	// TypingInterval defaults to DefaultTypingInterval.
	TypingInterval time.Duration
}

// NewDaemon creates a Daemon.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("bot: config is required")
	case opts.Store == nil:
		return nil, fmt.Errorf("bot: store is required")
	case opts.Gateway == nil:
		return nil, fmt.Errorf("bot: gateway is required")
	case opts.Classifier == nil:
		return nil, fmt.Errorf("bot: classifier is required")
	case opts.Providers == nil:
		return nil, fmt.Errorf("bot: providers are required")
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	typing := opts.TypingInterval
	if typing <= 0 {
		typing = DefaultTypingInterval
	}
	return &Daemon{
		cfg:            opts.Config,
		store:          opts.Store,
		gw:             opts.Gateway,
		classifier:     opts.Classifier,
		providers:      opts.Providers,
		counter:        opts.Counter,
		sleep:          sleep,
		now:            now,
		typingInterval: typing,
	}, nil
}

// Run connects the gateway, builds the turn pipeline, registers commands and
// pumps events until ctx is cancelled or the gateway closes its event
// stream. In-flight turns are awaited before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.setup(ctx); err != nil {
		return err
	}

	events, err := d.gw.Listen(ctx)
	if err != nil {
		d.gw.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	digestDone := make(chan struct{})
	go func() {
		defer close(digestDone)
		d.runDigestScheduler(ctx)
	}()

	log.Info().Str("bot", d.gw.Self().Name).Msg("bot: online")

	defer func() {
		d.turns.Wait()
		<-digestDone
		if err := d.gw.Close(); err != nil {
			log.Error().Err(err).Msg("bot: close gateway")
		}
		log.Info().Msg("bot: stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("bot: shutting down")
			return nil
		case ev, ok := <-events:
			if !ok {
				log.Warn().Msg("bot: event stream closed")
				return nil
			}
			d.dispatch(ctx, ev)
		}
	}
}

// dispatch routes one event. Message turns run concurrently; commands are
// handled inline because the platform expects a prompt response.
func (d *Daemon) dispatch(ctx context.Context, ev gateway.Event) {
	switch {
	case ev.Message != nil:
		msg := *ev.Message
		d.turns.Add(1)
		go func() {
			defer d.turns.Done()
			d.handleMessage(ctx, msg)
		}()
	case ev.Command != nil:
		d.handleCommand(ctx, ev.Command)
	}
}

// setup connects the gateway and builds every component that depends on the
// bot's identity.
func (d *Daemon) setup(ctx context.Context) error {
	log.Info().Msg("bot: connecting")
	if err := d.gw.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}
	if err := d.build(); err != nil {
		d.gw.Close()
		return err
	}
	if err := d.gw.RegisterCommands(ctx, commandSpecs()); err != nil {
		d.gw.Close()
		return fmt.Errorf("bot: register commands: %w", err)
	}
	return nil
}

func (d *Daemon) build() error {
	cfg := d.cfg
	self := d.gw.Self()

	identity, err := completion.NewIdentity(self, cfg.Assistant)
	if err != nil {
		return fmt.Errorf("bot: identity: %w", err)
	}

	d.lifecycle, err = session.NewLifecycle(session.LifecycleOpts{
		Gateway:  d.gw,
		Registry: d.store,
		Now:      d.now,
		Policy: session.Policy{
			AllowedGuilds:     cfg.Discord.AllowedGuilds,
			ThreadPrefix:      cfg.Discord.ThreadPrefix,
			ClosedPrefix:      cfg.Discord.ClosedPrefix,
			MaxThreadMessages: cfg.Policy.MaxThreadMessages,
			CreationWindow:    cfg.Policy.CreationWindow,
			MaxCreations:      cfg.Policy.MaxCreations,
			NewChatHint:       cfg.Discord.NewChatHint,
		},
	})
	if err != nil {
		return fmt.Errorf("bot: lifecycle: %w", err)
	}

	notifier, err := moderation.NewNotifier(d.gw, cfg.Moderation.ChannelID)
	if err != nil {
		return fmt.Errorf("bot: notifier: %w", err)
	}
	d.gate, err = moderation.NewGate(moderation.GateOpts{
		Classifier: d.classifier,
		Gateway:    d.gw,
		Notifier:   notifier,
		TailChars:  cfg.Moderation.TailChars,
	})
	if err != nil {
		return fmt.Errorf("bot: moderation gate: %w", err)
	}

	d.ledger, err = billing.NewLedger(d.store, billing.RateTableFromConfig(cfg.Tiers))
	if err != nil {
		return fmt.Errorf("bot: ledger: %w", err)
	}
	d.selector, err = billing.NewSelector(billing.SelectorOpts{
		Spend:     d.ledger,
		Premium:   billing.TierFromConfig(config.TierPremium, cfg.Tiers[config.TierPremium]),
		Economy:   billing.TierFromConfig(config.TierEconomy, cfg.Tiers[config.TierEconomy]),
		Pinned:    cfg.Policy.PinnedUsers,
		Window:    cfg.Policy.SpendWindow,
		Threshold: cfg.Policy.SpendThreshold,
	})
	if err != nil {
		return fmt.Errorf("bot: selector: %w", err)
	}

	d.orch, err = completion.NewOrchestrator(completion.OrchestratorOpts{
		Identity:  identity,
		Providers: d.providers,
		Ledger:    d.ledger,
		Screener:  d.gate,
		Counter:   d.counter,
	})
	if err != nil {
		return fmt.Errorf("bot: orchestrator: %w", err)
	}

	d.dispatcher, err = delivery.NewDispatcher(delivery.DispatcherOpts{
		Gateway:  d.gw,
		Notifier: d.gate.Notifier(),
		Closer:   d.lifecycle,
		Limit:    cfg.Policy.MaxReplyChars,
	})
	if err != nil {
		return fmt.Errorf("bot: dispatcher: %w", err)
	}
	return nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
