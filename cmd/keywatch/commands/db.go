package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/keywatch/db"
	"github.com/teranos/keywatch/pulse/schedule"
	"github.com/teranos/keywatch/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the keywatch database",
	Long: sym.DB + ` db - Manage the keywatch database

Examples:
  keywatch db migrate             # Apply pending migrations
  keywatch db stats               # Show schedule, report and notification counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("%s Database %s is up to date\n", sym.DB, describeDatabase(cfg))
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
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

	byStatus := map[schedule.Status]int{}
	rows, err := conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM schedules GROUP BY status`)
	if err != nil {
		return db.Classify(err, "failed to count schedules")
	}
	defer rows.Close()
	for rows.Next() {
		var status schedule.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return db.Classify(err, "failed to scan schedule count")
		}
		byStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return db.Classify(err, "failed to iterate schedule counts")
	}

	var executing, reports, links, notifications, unread int
	counts := []struct {
		dest  *int
		query string
		args  []interface{}
	}{
		{&executing, `SELECT COUNT(*) FROM schedules WHERE is_executing = ?`, []interface{}{true}},
		{&reports, `SELECT COUNT(*) FROM reports`, nil},
		{&links, `SELECT COUNT(*) FROM report_links`, nil},
		{&notifications, `SELECT COUNT(*) FROM notifications`, nil},
		{&unread, `SELECT COUNT(*) FROM notifications WHERE is_read = ?`, []interface{}{false}},
	}
	for _, c := range counts {
		if err := conn.QueryRowContext(ctx, conn.Rebind(c.query), c.args...).Scan(c.dest); err != nil {
			return db.Classify(err, fmt.Sprintf("failed to run %q", c.query))
		}
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database:       %s (%s)\n", describeDatabase(cfg), conn.Dialect)
	fmt.Printf("Schedules:\n")
	for _, st := range []schedule.Status{schedule.StatusActive, schedule.StatusPaused, schedule.StatusCompleted, schedule.StatusCancelled} {
		fmt.Printf("  %s %-10s %d\n", sym.StatusGlyph(string(st)), st, byStatus[st])
	}
	fmt.Printf("  executing now  %d\n", executing)
	fmt.Printf("Reports:        %d (%d links)\n", reports, links)
	fmt.Printf("Notifications:  %d (%d unread)\n", notifications, unread)
	return nil
}
