package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
)

// cliModeratorID marks block entries made from the command line.
const cliModeratorID = "cli"

func newDenyCmd() *cobra.Command {
	return newModerateCmd("deny <user-id>", "Block a user from the assistant", true)
}

func newAllowCmd() *cobra.Command {
	return newModerateCmd("allow <user-id>", "Unblock a user and reset their thread limit", false)
}

func newModerateCmd(use, short string, block bool) *cobra.Command {
	var (
		configPath string
		moderator  string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModerate(cmd, configPath, moderator, args[0], block)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&moderator, "moderator", "", "moderator name recorded with the entry")
	return cmd
}

func runModerate(cmd *cobra.Command, configPath, moderator, rawID string, block bool) error {
	id, err := snowflake.ParseString(rawID)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid user id %q", rawID)
	}
	target := id.String()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if block {
		if err := st.Block(ctx, cliModeratorID, moderator, target); err != nil {
			return err
		}
		fmt.Fprintf(out, "Blocked user %s\n", target)
		return nil
	}
	if err := st.Unblock(ctx, cliModeratorID, moderator, target); err != nil {
		return err
	}
	if err := st.AllowLatestCreation(ctx, target); err != nil {
		return err
	}
	fmt.Fprintf(out, "Unblocked user %s\n", target)
	return nil
}
