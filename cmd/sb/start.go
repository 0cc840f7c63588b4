package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/bot"
	"github.com/zulandar/switchboard/internal/completion"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/dashboard"
	"github.com/zulandar/switchboard/internal/gateway/discord"
	"github.com/zulandar/switchboard/internal/moderation"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Switchboard bot",
		Long:  "Connects to Discord, serves /chat threads and, when admin.port is set, the admin API. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Logging.Level, os.Stderr)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	gw, err := discord.New(discord.AdapterOpts{
		BotToken: cfg.Discord.BotToken,
		GuildID:  cfg.Discord.GuildID,
	})
	if err != nil {
		return err
	}

	classifier, err := moderation.NewOpenAIClassifier(moderation.OpenAIClassifierOpts{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.Moderation.Model,
		Thresholds: moderation.Thresholds{
			Flag:  cfg.Moderation.FlagThresholds,
			Block: cfg.Moderation.BlockThresholds,
		},
	})
	if err != nil {
		return err
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	d, err := bot.NewDaemon(bot.DaemonOpts{
		Config:     cfg,
		Store:      st,
		Gateway:    gw,
		Classifier: classifier,
		Providers:  providers,
		Counter:    completion.NewTiktokenCounter(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Admin.Port > 0 {
		go func() {
			if err := dashboard.Start(ctx, dashboard.StartOpts{
				Queries:     st,
				Port:        cfg.Admin.Port,
				Out:         cmd.OutOrStdout(),
				SpendWindow: cfg.Policy.SpendWindow,
			}); err != nil {
				log.Error().Err(err).Msg("admin api stopped")
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Switchboard starting (config: %s)\n", configPath)
	return d.Run(ctx)
}

// buildProviders creates the default OpenAI provider and a dedicated one for
// every tier that overrides the endpoint or key.
func buildProviders(cfg *config.Config) (*completion.Providers, error) {
	def, err := completion.NewOpenAIProvider(completion.OpenAIProviderOpts{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	providers, err := completion.NewProviders(def)
	if err != nil {
		return nil, err
	}
	for name, tc := range cfg.Tiers {
		if tc.BaseURL == "" && tc.APIKey == "" {
			continue
		}
		opts := completion.OpenAIProviderOpts{APIKey: tc.APIKey, BaseURL: tc.BaseURL}
		if opts.APIKey == "" {
			opts.APIKey = cfg.OpenAI.APIKey
		}
		if opts.BaseURL == "" {
			opts.BaseURL = cfg.OpenAI.BaseURL
		}
		prov, err := completion.NewOpenAIProvider(opts)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", name, err)
		}
		providers.Set(name, prov)
	}
	return providers, nil
}
