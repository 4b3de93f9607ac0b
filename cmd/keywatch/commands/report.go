package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/keywatch/report"
	"github.com/teranos/keywatch/sym"
)

// ReportCmd reads generated reports
var ReportCmd = &cobra.Command{
	Use:   "report",
	Short: sym.Report + " Read generated reports",
	Long: sym.Report + ` report - Read generated reports

Examples:
  keywatch report ls --owner alice
  keywatch report show <id>
  keywatch report rm <id> --owner alice`,
}

var reportLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List an owner's reports, newest first",
	RunE:    runReportLs,
}

var reportShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a report with its sources",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportShow,
}

var reportRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a report and its links",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportRm,
}

var (
	reportOwner string
	reportLimit int
)

func init() {
	reportLsCmd.Flags().StringVar(&reportOwner, "owner", "", "Report owner (required)")
	reportLsCmd.Flags().IntVar(&reportLimit, "limit", report.DefaultListLimit, "Maximum reports to list")
	_ = reportLsCmd.MarkFlagRequired("owner")

	reportRmCmd.Flags().StringVar(&reportOwner, "owner", "", "Report owner (required)")
	_ = reportRmCmd.MarkFlagRequired("owner")

	ReportCmd.AddCommand(reportLsCmd)
	ReportCmd.AddCommand(reportShowCmd)
	ReportCmd.AddCommand(reportRmCmd)
}

func withReports(fn func(ctx context.Context, store *report.Store) error) error {
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
	return fn(ctx, report.NewStore(conn))
}

func runReportLs(cmd *cobra.Command, args []string) error {
	return withReports(func(ctx context.Context, store *report.Store) error {
		reports, err := store.ListByOwner(ctx, reportOwner, reportLimit)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			pterm.Info.Printf("No reports for %s\n", reportOwner)
			return nil
		}

		rows := [][]string{{"ID", "KEYWORD", "LENGTH", "POSTS", "CREATED", "SUMMARY"}}
		for _, r := range reports {
			rows = append(rows, []string{
				shortScheduleID(r.ID),
				r.Query,
				r.ReportLength,
				fmt.Sprintf("%d", r.Metadata.PostCount),
				r.CreatedAt.Local().Format("2006-01-02 15:04"),
				clip(r.Summary, 60),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	})
}

func runReportShow(cmd *cobra.Command, args []string) error {
	return withReports(func(ctx context.Context, store *report.Store) error {
		r, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}

		pterm.DefaultSection.Printf("%s %s", sym.Report, r.Query)
		pterm.Printf("%s %s  %s %s  %s %d\n\n",
			pterm.Gray("created"), r.CreatedAt.Local().Format(time.RFC1123),
			pterm.Gray("length"), r.ReportLength,
			pterm.Gray("posts"), r.Metadata.PostCount)
		pterm.Println(r.FullReport)

		if len(r.Links) > 0 {
			pterm.Println()
			pterm.DefaultSection.WithLevel(2).Println("Sources")
			for _, l := range r.Links {
				pterm.Printf("  %s %s %s\n", pterm.Yellow(fmt.Sprintf("[%d]", l.Footnote)), l.Title, pterm.Gray(l.URL))
			}
		}
		return nil
	})
}

func runReportRm(cmd *cobra.Command, args []string) error {
	return withReports(func(ctx context.Context, store *report.Store) error {
		if err := store.Delete(ctx, args[0], reportOwner); err != nil {
			return err
		}
		pterm.Printf("%s %s\n", pterm.LightGreen("✓ Deleted report"), pterm.Yellow(args[0]))
		return nil
	})
}

// clip shortens s to n runes with an ellipsis
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
