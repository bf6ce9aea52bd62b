// Package cmd holds the snapsched command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.json"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "snapsched",
	Short: "Daily image snapshot schedules for compute resources",
	Long: `snapsched keeps a per-server image snapshot schedule in step with an
external recurring-task scheduler and exposes it over REST.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file (.json, .yaml, .yml)")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
