package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/keywatch/am"
	"github.com/teranos/keywatch/cmd/keywatch/commands"
	"github.com/teranos/keywatch/logger"
)

var rootCmd = &cobra.Command{
	Use:   "keywatch",
	Short: "keywatch - recurring keyword reports",
	Long: `keywatch - recurring keyword reports.

keywatch watches keywords on Reddit and Hacker News on a schedule, drafts a
report from what it finds and notifies the schedule owner.

Available commands:
  pulse    - Run the scheduler daemon (ticker + HTTP API)
  schedule - Create and manage report schedules
  report   - Read generated reports
  db       - Manage the keywatch database
  am       - Show and edit configuration
  server   - Serve the HTTP API without the scheduler

Examples:
  keywatch schedule add rust --owner alice --every 1440 --reports 7
  keywatch pulse start            # Start the scheduler and API
  keywatch schedule ls --owner alice
  keywatch am show                # Show current configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath != "" {
			if _, err := am.LoadFromFile(configPath); err != nil {
				return err
			}
		}

		// Config problems surface in the command itself; logging falls back to the console
		jsonLogs := false
		if cfg, err := am.Load(); err == nil {
			jsonLogs = cfg.Log.JSON
		}
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logger.SetVerbosity(verbosity)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./am.toml, then ~/.keywatch/am.toml)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v, -vv)")

	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.ReportCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
