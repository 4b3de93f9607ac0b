package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/keywatch/logger"
	"github.com/teranos/keywatch/sym"
)

// PulseCmd represents the pulse command - the scheduler daemon
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the keywatch scheduler",
	Long: sym.Pulse + ` Pulse - the keywatch scheduler.

Every tick Pulse lists the schedules that are due, takes each one's
execution lock and runs a cycle for it: collect posts, draft a report,
store it, advance the schedule and notify the owner.

Several Pulse processes may share one Postgres database; the execution
lock keeps a schedule from running twice at once.

Example:
  keywatch pulse start               # Scheduler + HTTP API in foreground
  keywatch pulse start --no-server   # Scheduler only
  keywatch pulse once                # One pass, wait for it, exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the Pulse daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Long: `Start the Pulse daemon in foreground mode.

The daemon will:
- Clear execution locks abandoned by a previous run (pulse.recover_on_startup)
- Tick every pulse.tick_interval_seconds and run due schedules
- Serve the HTTP API and the /ws/pulse execution feed
- On Ctrl+C stop ticking and wait for in-flight executions`,
	RunE: runPulseStart,
}

// PulseOnceCmd runs a single scheduling pass
var PulseOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run one scheduling pass and wait for it",
	Long: `Run due schedules once and exit when their executions finish.

Abandoned locks are not recovered: another daemon may own them.
Useful from cron when no daemon runs.`,
	RunE: runPulseOnce,
}

var (
	pulseNoServer    bool
	pulseGraceWindow time.Duration
)

func init() {
	PulseStartCmd.Flags().BoolVar(&pulseNoServer, "no-server", false, "Run the scheduler without the HTTP API")
	PulseStartCmd.Flags().DurationVar(&pulseGraceWindow, "grace", 2*time.Minute, "How long shutdown waits for in-flight executions")
	PulseCmd.AddCommand(PulseStartCmd)
	PulseCmd.AddCommand(PulseOnceCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.Logger
	d, err := buildDaemon(ctx, cfg, !pulseNoServer, log)
	if err != nil {
		return err
	}

	fmt.Printf("%s Starting Pulse daemon...\n", sym.Pulse)
	if err := d.ticker.Start(); err != nil {
		d.close()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	serverErr := make(chan error, 1)
	if d.server != nil {
		go func() { serverErr <- d.server.Start() }()
	}

	fmt.Printf("%s Pulse daemon started\n", sym.PulseOpen)
	fmt.Printf("  Database:     %s\n", describeDatabase(cfg))
	fmt.Printf("  Tick:         %v\n", cfg.TickInterval())
	fmt.Printf("  Attempts:     %d (every %v)\n", cfg.Pulse.MaxAttempts, cfg.RetryDelay())
	fmt.Printf("  Sources:      %s\n", strings.Join(d.sources, ", "))
	fmt.Printf("  Model:        %s\n", cfg.OpenRouter.Model)
	if d.publisher != nil {
		fmt.Printf("  Notify:       redis %s (stream %s)\n", cfg.Redis.Addr, cfg.Redis.Stream)
	}
	if d.server != nil {
		fmt.Printf("  API:          http://localhost%s\n", cfg.ServerAddr())
	}
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-sigChan:
	case err := <-serverErr:
		// Server died on its own (port taken); stop the scheduler with it
		runErr = err
	}

	fmt.Printf("\n%s Shutting down, waiting for in-flight executions...\n", sym.Pulse)
	d.shutdown(pulseGraceWindow, log)
	fmt.Printf("%s Pulse daemon stopped\n", sym.PulseClose)
	return runErr
}

func runPulseOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := buildDaemon(ctx, cfg, false, logger.Logger)
	if err != nil {
		return err
	}
	defer d.close()

	if err := d.ticker.Tick(time.Now()); err != nil {
		return err
	}
	d.ticker.Wait()

	stats := d.ticker.GetStats()
	fmt.Printf("%s dispatched %v, succeeded %v, exhausted %v, skipped %v\n",
		sym.Pulse, stats["dispatched"], stats["succeeded"], stats["exhausted"], stats["skipped"])
	return nil
}
