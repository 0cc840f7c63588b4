package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
)

func newCostsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show the cost breakdown by user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCosts(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runCosts(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	rows, total, err := st.CostBreakdown(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No costs recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER ID\tNAME\tCALLS\tTOTAL")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.4f\n", r.UserID, r.DisplayName, r.Calls, r.Total)
	}
	fmt.Fprintf(w, "\t\t\t%.4f\n", total)
	return w.Flush()
}
