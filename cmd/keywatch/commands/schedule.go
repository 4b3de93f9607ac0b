package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/keywatch/pulse/schedule"
	"github.com/teranos/keywatch/sym"
)

// ScheduleCmd manages report schedules
var ScheduleCmd = &cobra.Command{
	Use:     "schedule",
	Aliases: []string{"sched"},
	Short:   sym.Pulse + " Create and manage report schedules",
	Long: sym.Pulse + ` schedule - Create and manage report schedules

A schedule reruns a keyword every interval until it has produced its
total number of reports, then completes.

Examples:
  keywatch schedule add "rust async" --owner alice --every 1440 --reports 7
  keywatch schedule ls --owner alice
  keywatch schedule pause <id>
  keywatch schedule rm <id>            # cancel; run again to delete
  keywatch schedule prune --owner alice`,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <keyword>",
	Short: "Create a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleAdd,
}

var scheduleLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List an owner's schedules, newest first",
	RunE:    runScheduleLs,
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one schedule as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleShow,
}

var schedulePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete an owner's cancelled schedules",
	RunE:  runSchedulePrune,
}

var scheduleRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Cancel a schedule, or delete it when already cancelled",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRm,
}

var (
	scheduleOwner   string
	scheduleEvery   int
	scheduleReports int
	scheduleLength  string
	scheduleNotify  bool
	scheduleForce   bool
)

func init() {
	scheduleAddCmd.Flags().StringVar(&scheduleOwner, "owner", "", "Schedule owner (required)")
	scheduleAddCmd.Flags().IntVar(&scheduleEvery, "every", 0, "Interval in minutes (default pulse.default_interval_minutes)")
	scheduleAddCmd.Flags().IntVar(&scheduleReports, "reports", 1, "Total number of reports to produce")
	scheduleAddCmd.Flags().StringVar(&scheduleLength, "length", string(schedule.ReportModerate), "Report length: simple, moderate, detailed")
	scheduleAddCmd.Flags().BoolVar(&scheduleNotify, "notify", false, "Notify the owner after each execution")
	_ = scheduleAddCmd.MarkFlagRequired("owner")

	scheduleLsCmd.Flags().StringVar(&scheduleOwner, "owner", "", "Schedule owner (required)")
	_ = scheduleLsCmd.MarkFlagRequired("owner")

	schedulePruneCmd.Flags().StringVar(&scheduleOwner, "owner", "", "Schedule owner (required)")
	_ = schedulePruneCmd.MarkFlagRequired("owner")

	scheduleRmCmd.Flags().BoolVar(&scheduleForce, "force", false, "Delete even when not cancelled")

	ScheduleCmd.AddCommand(scheduleAddCmd)
	ScheduleCmd.AddCommand(scheduleLsCmd)
	ScheduleCmd.AddCommand(scheduleShowCmd)
	ScheduleCmd.AddCommand(newStatusCmd("pause", "Pause an active schedule", schedule.StatusPaused))
	ScheduleCmd.AddCommand(newStatusCmd("resume", "Resume a paused schedule; the next run is one interval from now", schedule.StatusActive))
	ScheduleCmd.AddCommand(newStatusCmd("cancel", "Cancel a schedule", schedule.StatusCancelled))
	ScheduleCmd.AddCommand(scheduleRmCmd)
	ScheduleCmd.AddCommand(schedulePruneCmd)
}

// withSchedules opens the configured store for the duration of fn
func withSchedules(fn func(ctx context.Context, store *schedule.SQLStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, schedule.NewStore(conn))
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	every := scheduleEvery
	if every == 0 {
		every = cfg.Pulse.DefaultIntervalMinutes
	}

	sched := &schedule.Schedule{
		Owner:               scheduleOwner,
		Keyword:             args[0],
		IntervalMinutes:     every,
		ReportLength:        schedule.ReportLength(scheduleLength),
		TotalReports:        scheduleReports,
		NotificationEnabled: scheduleNotify,
	}
	return withSchedules(func(ctx context.Context, store *schedule.SQLStore) error {
		if err := store.Create(ctx, sched); err != nil {
			return err
		}
		pterm.Printf("%s %s %s\n", pterm.LightGreen("✓ Created schedule"), pterm.Yellow(sched.ID), pterm.Gray("("+sched.Keyword+")"))
		pterm.Printf("  %s %s\n", pterm.Gray("first run:"), formatNextRun(sched, time.Now()))
		return nil
	})
}

func runScheduleLs(cmd *cobra.Command, args []string) error {
	return withSchedules(func(ctx context.Context, store *schedule.SQLStore) error {
		schedules, err := store.ListByOwner(ctx, scheduleOwner)
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			pterm.Info.Printf("No schedules for %s\n", scheduleOwner)
			return nil
		}
		return pterm.DefaultTable.WithHasHeader().WithData(scheduleTable(schedules, time.Now())).Render()
	})
}

func runScheduleShow(cmd *cobra.Command, args []string) error {
	return withSchedules(func(ctx context.Context, store *schedule.SQLStore) error {
		sched, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(sched, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	})
}

func newStatusCmd(use, short string, to schedule.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSchedules(func(ctx context.Context, store *schedule.SQLStore) error {
				sched, err := store.UpdateStatus(ctx, args[0], to)
				if err != nil {
					return err
				}
				pterm.Printf("%s %s %s\n", sym.StatusGlyph(string(sched.Status)), pterm.Yellow(sched.ID), sched.Status)
				return nil
			})
		},
	}
}

func runScheduleRm(cmd *cobra.Command, args []string) error {
	return withSchedules(func(ctx context.Context, store *schedule.SQLStore) error {
		deleted, err := store.Delete(ctx, args[0], scheduleForce)
		if err != nil {
			return err
		}
		if deleted {
			pterm.Printf("%s %s\n", pterm.LightGreen("✓ Deleted"), pterm.Yellow(args[0]))
		} else {
			pterm.Printf("%s %s %s\n", sym.StatusGlyph(string(schedule.StatusCancelled)), pterm.Yellow(args[0]),
				pterm.Gray("cancelled (run rm again to delete)"))
		}
		return nil
	})
}

func runSchedulePrune(cmd *cobra.Command, args []string) error {
	return withSchedules(func(ctx context.Context, store *schedule.SQLStore) error {
		n, err := store.DeleteCancelled(ctx, scheduleOwner)
		if err != nil {
			return err
		}
		pterm.Printf("%s %d cancelled schedule(s)\n", pterm.LightGreen("✓ Deleted"), n)
		return nil
	})
}

// scheduleTable renders schedules as table rows, header first
func scheduleTable(schedules []*schedule.Schedule, now time.Time) [][]string {
	rows := [][]string{{"", "ID", "KEYWORD", "EVERY", "PROGRESS", "LENGTH", "NEXT RUN"}}
	for _, s := range schedules {
		rows = append(rows, []string{
			sym.StatusGlyph(string(s.Status)),
			shortScheduleID(s.ID),
			s.Keyword,
			formatInterval(s.IntervalMinutes),
			fmt.Sprintf("%d/%d", s.CompletedReports, s.TotalReports),
			string(s.ReportLength),
			formatNextRun(s, now),
		})
	}
	return rows
}

func shortScheduleID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatInterval renders minutes as the largest whole unit
func formatInterval(minutes int) string {
	switch {
	case minutes > 0 && minutes%1440 == 0:
		return fmt.Sprintf("%dd", minutes/1440)
	case minutes > 0 && minutes%60 == 0:
		return fmt.Sprintf("%dh", minutes/60)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

func formatNextRun(s *schedule.Schedule, now time.Time) string {
	if s.IsExecuting {
		return "running"
	}
	if s.NextRunAt == nil {
		return "-"
	}
	until := s.NextRunAt.Sub(now)
	if until <= 0 {
		return "due"
	}
	return "in " + until.Round(time.Minute).String()
}
