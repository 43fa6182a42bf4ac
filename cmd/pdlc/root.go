package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "pdlc",
		Short:         "pdlc runs the product development lifecycle agents",
		Long:          `pdlc serves the SDE, QA and Coordinator agents over HTTP or runs single turns against them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (.toml, .yaml or .yml)")
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "Env files to load (default .env when present)")

	cmd.AddCommand(newServeCmd(flags), newInvokeCmd(flags))

	return cmd
}
