package main

import (
	"github.com/spf13/cobra"
)

// configFile is the optional YAML settings path shared by every subcommand.
var configFile string

// NewRootCmd creates the root command for the authcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "authcore - accounts and tokens for the notes service",
		Long: `authcore registers accounts, verifies passwords, issues signed access
and refresh tokens, and resolves bearer tokens to callers.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewHashPasswordCmd())

	return cmd
}
