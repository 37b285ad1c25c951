package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"activityd/internal/config"
	"activityd/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded by the persistent pre-run for every subcommand.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "activityd",
	Short: "activityd - cross-process activity collection daemon",
	Long: `activityd watches the focused window, resolves a collection strategy per
focus session and aggregates the captured assets and snapshots into a
timeline.

Browsers are covered by a push pipeline: a native-messaging host (the "host"
subcommand, launched by the browser) forwards extension events over gRPC to
the daemon's bridge hub. Everything else falls back to pull strategies polled
on an interval.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logCfg := cfg.Logging
		if verbose {
			logCfg.DebugMode = true
		}
		// The host talks length-prefixed frames on stdout; keep its logs on
		// stderr/files only, which the category logger already guarantees.
		return logging.Init(logCfg)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "activityd.yaml"
	}
	return filepath.Join(base, "activityd", "config.yaml")
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: <user config dir>/activityd/config.yaml)")

	hostCmd.Flags().Int32Var(&hostBrowserPID, "browser-pid", 0, "Browser process id to register as (default: parent pid)")
	timelineCmd.Flags().IntVarP(&timelineLimit, "limit", "n", 20, "Number of activities to list")
	statusCmd.Flags().Int32Var(&statusBrowserPID, "browser-pid", 0, "Also check bridge registration for this browser pid")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
