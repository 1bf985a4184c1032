package main

import (
	"fmt"

	"blackhole/pkg/config"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func newCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and compile every rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			sets, err := cfg.RuleSets()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, client := range cfg.Clients() {
				_, _ = fmt.Fprintf(out, "%-40s %d rules\n", client, sets[client].Len())
			}
			_, _ = fmt.Fprintf(out, "%s: ok (%d clients)\n", *configPath, len(sets))
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for api.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
				return fmt.Errorf("cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return fmt.Errorf("generate hash: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "# Copy this into your config.yml:")
			_, _ = fmt.Fprintln(out, "api:")
			_, _ = fmt.Fprintln(out, `  username: "admin"`)
			_, _ = fmt.Fprintf(out, "  password_hash: %q\n", string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 12, "bcrypt cost (10-14 recommended)")
	return cmd
}
