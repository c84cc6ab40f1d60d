package main

import (
	"fmt"
	"os"

	"scarlet/internal/config"

	"github.com/spf13/cobra"
)

var (
	envFile  string
	logLevel string
	cfg      config.Config
)

var rootCmd = &cobra.Command{
	Use:   "scarlet",
	Short: "Remote portal login relay and its terminal client",
	Long: `scarlet runs a relay that streams a remote browser to the user while they
log in to the student portal, then extracts their class schedule.

Examples:
  scarlet serve --addr :8000 --scenario scenario.yaml
  scarlet connect --relay http://localhost:8000`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(envFile)
		if err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		cfg = c
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error (overrides LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
