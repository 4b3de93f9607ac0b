package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/keywatch/am"
	"github.com/teranos/keywatch/pulse/schedule"
)

// useConfig pins the am config to a temp file pointing at a fresh database
func useConfig(t *testing.T, extra string) *am.Config {
	t.Helper()
	am.Reset()
	t.Cleanup(am.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "am.toml")
	content := fmt.Sprintf("[database]\npath = %q\n%s", filepath.Join(dir, "kw.db"), extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := am.LoadFromFile(path)
	require.NoError(t, err)
	return cfg
}

func TestFormatInterval(t *testing.T) {
	assert.Equal(t, "1d", formatInterval(1440))
	assert.Equal(t, "3d", formatInterval(4320))
	assert.Equal(t, "2h", formatInterval(120))
	assert.Equal(t, "90m", formatInterval(90))
	assert.Equal(t, "0m", formatInterval(0))
}

func TestFormatNextRun(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(90 * time.Minute)
	past := now.Add(-time.Minute)

	assert.Equal(t, "-", formatNextRun(&schedule.Schedule{Status: schedule.StatusPaused}, now))
	assert.Equal(t, "in 1h30m0s", formatNextRun(&schedule.Schedule{NextRunAt: &later}, now))
	assert.Equal(t, "due", formatNextRun(&schedule.Schedule{NextRunAt: &past}, now))
	assert.Equal(t, "running", formatNextRun(&schedule.Schedule{NextRunAt: &past, IsExecuting: true}, now))
}

func TestScheduleTable(t *testing.T) {
	now := time.Now()
	next := now.Add(time.Hour)
	rows := scheduleTable([]*schedule.Schedule{
		{ID: "0123456789abcdef", Keyword: "rust", IntervalMinutes: 60, TotalReports: 5, CompletedReports: 2,
			ReportLength: schedule.ReportSimple, Status: schedule.StatusActive, NextRunAt: &next},
		{ID: "short", Keyword: "go", IntervalMinutes: 1440, TotalReports: 1, CompletedReports: 1,
			ReportLength: schedule.ReportDetailed, Status: schedule.StatusCompleted},
	}, now)

	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][1])
	assert.Equal(t, []string{"▶", "01234567", "rust", "1h", "2/5", "simple", "in 1h0m0s"}, rows[1])
	assert.Equal(t, []string{"✔", "short", "go", "1d", "1/1", "detailed", "-"}, rows[2])
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abcd…", clip("abcdefgh", 5))
	assert.Equal(t, "héll…", clip("héllo wörld", 5))
}

func TestBuildCollector(t *testing.T) {
	cfg := useConfig(t, "")
	log := zaptest.NewLogger(t).Sugar()

	multi, err := buildCollector(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, []string{"reddit", "hackernews"}, multi.Sources())

	cfg.Reddit.Enabled = false
	multi, err = buildCollector(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, []string{"hackernews"}, multi.Sources())

	cfg.HackerNews.Enabled = false
	_, err = buildCollector(cfg, log)
	assert.Error(t, err)
}

func TestPulseStats_BeforeTicker(t *testing.T) {
	stats := &pulseStats{}
	assert.Equal(t, false, stats.GetStats()["running"])
}

func TestBuildDaemon_RequiresAPIKey(t *testing.T) {
	t.Setenv("KEYWATCH_OPENROUTER_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	cfg := useConfig(t, "")

	_, err := buildDaemon(context.Background(), cfg, false, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openrouter.api_key")
}

func TestBuildDaemon_Wiring(t *testing.T) {
	cfg := useConfig(t, "[openrouter]\napi_key = \"sk-or-test\"\n[server]\nport = 0\n[hackernews]\nenabled = false\n")
	log := zaptest.NewLogger(t).Sugar()

	d, err := buildDaemon(context.Background(), cfg, true, log)
	require.NoError(t, err)

	assert.NotNil(t, d.server)
	assert.Nil(t, d.publisher, "no redis without an address")
	assert.Equal(t, []string{"reddit"}, d.sources)

	require.NotNil(t, d.server.Hub())

	sched := &schedule.Schedule{Owner: "alice", Keyword: "rust", IntervalMinutes: 60, TotalReports: 1}
	require.NoError(t, d.schedules.Create(context.Background(), sched))
	require.NoError(t, d.ticker.Tick(time.Now()))
	d.ticker.Wait()
	assert.EqualValues(t, 1, d.ticker.GetStats()["ticks_since_start"])
	assert.EqualValues(t, 0, d.ticker.GetStats()["dispatched"], "not due for an hour")

	d.shutdown(5*time.Second, log)
}

func TestScheduleCommands(t *testing.T) {
	cfg := useConfig(t, "")

	ScheduleCmd.SetArgs([]string{"add", "rust async", "--owner", "alice", "--every", "120", "--reports", "3", "--length", "simple"})
	require.NoError(t, ScheduleCmd.Execute())

	conn, err := openDatabase(cfg)
	require.NoError(t, err)
	defer conn.Close()
	store := schedule.NewStore(conn)
	ctx := context.Background()

	list, err := store.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	sched := list[0]
	assert.Equal(t, "rust async", sched.Keyword)
	assert.Equal(t, 120, sched.IntervalMinutes)
	assert.Equal(t, 3, sched.TotalReports)
	assert.Equal(t, schedule.ReportSimple, sched.ReportLength)
	assert.False(t, sched.NotificationEnabled)

	ScheduleCmd.SetArgs([]string{"pause", sched.ID})
	require.NoError(t, ScheduleCmd.Execute())
	got, err := store.Get(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusPaused, got.Status)
	assert.Nil(t, got.NextRunAt)

	ScheduleCmd.SetArgs([]string{"pause", sched.ID})
	assert.Error(t, ScheduleCmd.Execute(), "paused -> paused is not a transition")

	ScheduleCmd.SetArgs([]string{"rm", sched.ID})
	require.NoError(t, ScheduleCmd.Execute())
	got, err = store.Get(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusCancelled, got.Status)

	ScheduleCmd.SetArgs([]string{"prune", "--owner", "alice"})
	require.NoError(t, ScheduleCmd.Execute())
	list, err = store.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}
