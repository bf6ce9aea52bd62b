package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"snapsched/internal/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Parse and validate the config file",
	Long: `Parse and validate the config file, then print the effective settings.

Exits non-zero when the file is unreadable, has unknown keys or fails validation.`,
	Args: cobra.NoArgs,
	RunE: runCheckConfig,
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewConfigManager(configPath).Load()
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), configPath, cfg)
	return nil
}

func printSummary(w io.Writer, path string, cfg *config.Config) {
	ss := cfg.SchedulerService
	fmt.Fprintf(w, "config OK: %s\n", path)
	fmt.Fprintf(w, "  http.addr:            %s\n", cfg.HTTP.Addr)
	fmt.Fprintf(w, "  scheduler_service:    %s://%s:%d\n", ss.Scheme, ss.Host, ss.Port)
	fmt.Fprintf(w, "  schedule:             max_retention=%d trigger_on_update=%s delete_policy=%s\n",
		cfg.Schedule.MaxRetention, cfg.Schedule.TriggerOnUpdate, cfg.Schedule.DeletePolicy)
	fmt.Fprintf(w, "  registry:             driver=%s path=%s\n", cfg.Registry.Driver, cfg.Registry.Path)
	fmt.Fprintf(w, "  metrics:              enabled=%t path=%s\n", cfg.Metrics.Enabled, cfg.Metrics.Path)
}
