package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/keywatch/errors"
	kwtest "github.com/teranos/keywatch/internal/testing"
)

// testClock is a manually advanced clock shared by store and ticker in tests
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*SQLStore, *testClock) {
	t.Helper()
	clk := newTestClock()
	store := NewStore(kwtest.CreateTestDB(t))
	store.now = clk.Now
	return store, clk
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// seedSchedule creates a schedule and then forces its runtime fields to the
// values set by mutate, bypassing the state machine.
func seedSchedule(t *testing.T, store *SQLStore, mutate func(s *Schedule)) *Schedule {
	t.Helper()
	ctx := context.Background()

	sched := &Schedule{
		Owner:               "alice",
		Keyword:             "golang",
		IntervalMinutes:     60,
		ReportLength:        ReportModerate,
		TotalReports:        5,
		NotificationEnabled: true,
	}
	require.NoError(t, store.Create(ctx, sched))

	if mutate == nil {
		return sched
	}
	mutate(sched)

	_, err := store.db.ExecContext(ctx, store.db.Rebind(`UPDATE schedules SET
			completed_reports = ?, total_reports = ?, status = ?, next_run_at = ?,
			last_run_at = ?, is_executing = ?, notification_enabled = ?
		WHERE id = ?`),
		sched.CompletedReports, sched.TotalReports, sched.Status, nullableTime(sched.NextRunAt),
		nullableTime(sched.LastRunAt), sched.IsExecuting, sched.NotificationEnabled, sched.ID)
	require.NoError(t, err)

	got, err := store.Get(ctx, sched.ID)
	require.NoError(t, err)
	return got
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// dueNow makes a schedule active and one minute overdue
func dueNow(clk *testClock) func(s *Schedule) {
	return func(s *Schedule) {
		s.Status = StatusActive
		s.NextRunAt = timePtr(clk.Now().Add(-time.Minute))
	}
}

// unavailable returns an error the retry policy treats as a store outage
func unavailable(msg string) error {
	return errors.Mark(errors.New(msg), errors.ErrStoreUnavailable)
}

type fakeCollector struct {
	mu    sync.Mutex
	posts []Post
	errs  []error // consumed one per call, nil entries succeed
	calls int
	block chan struct{}
	panic bool
}

func (f *fakeCollector) Collect(ctx context.Context, keyword string) ([]Post, error) {
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("collector exploded")
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		if len(f.errs) > 1 {
			f.errs = f.errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	return f.posts, nil
}

func (f *fakeCollector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGenerator struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeGenerator) Generate(ctx context.Context, query string, posts []Post, length ReportLength) (*GeneratedReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &GeneratedReport{
		Summary:    "summary of " + query,
		FullReport: "Everyone is talking about " + query + " [1].",
		CitationMappings: []Citation{
			{Index: 1, URL: posts[0].URL, Title: posts[0].Title},
		},
	}, nil
}

type fakeReports struct {
	mu    sync.Mutex
	saved []*Report
}

func (f *fakeReports) Save(ctx context.Context, report *Report) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, report)
	return "report-" + report.ScheduleID, nil
}

func (f *fakeReports) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []Notification
	panic bool
}

func (n *recordingNotifier) Emit(ctx context.Context, notification Notification) {
	n.mu.Lock()
	n.sent = append(n.sent, notification)
	explode := n.panic
	n.mu.Unlock()
	if explode {
		panic("notifier exploded")
	}
}

func (n *recordingNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	started  []Execution
	finished []Execution
}

func (b *recordingBroadcaster) BroadcastExecutionStarted(exec Execution) {
	b.mu.Lock()
	b.started = append(b.started, exec)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) BroadcastExecutionFinished(exec Execution) {
	b.mu.Lock()
	b.finished = append(b.finished, exec)
	b.mu.Unlock()
}

// flakyStore injects failures in front of a real store
type flakyStore struct {
	Store

	mu                 sync.Mutex
	recordSuccessErrs  []error
	recordSuccessPanic bool
	releaseErrs        []error
	listDueErr         error
	recordSuccessCalls int
	advanceCalls       int
	releaseCalls       int
}

func (f *flakyStore) ListDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	f.mu.Lock()
	err := f.listDueErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.ListDue(ctx, now)
}

func (f *flakyStore) RecordSuccess(ctx context.Context, id string, interval time.Duration) (*Schedule, error) {
	f.mu.Lock()
	f.recordSuccessCalls++
	if f.recordSuccessPanic {
		f.mu.Unlock()
		panic("record success exploded")
	}
	var err error
	if len(f.recordSuccessErrs) > 0 {
		err = f.recordSuccessErrs[0]
		f.recordSuccessErrs = f.recordSuccessErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.RecordSuccess(ctx, id, interval)
}

func (f *flakyStore) RecordFailureAdvanceOnly(ctx context.Context, id string, interval time.Duration) error {
	f.mu.Lock()
	f.advanceCalls++
	f.mu.Unlock()
	return f.Store.RecordFailureAdvanceOnly(ctx, id, interval)
}

func (f *flakyStore) ReleaseLock(ctx context.Context, id string) error {
	f.mu.Lock()
	f.releaseCalls++
	var err error
	if len(f.releaseErrs) > 0 {
		err = f.releaseErrs[0]
		f.releaseErrs = f.releaseErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.ReleaseLock(ctx, id)
}

func testPosts() []Post {
	return []Post{
		{Title: "Go 1.24 released", Author: "gopher", URL: "https://example.com/a", Score: 120, CommentCount: 30, SourceLabel: "reddit"},
		{Title: "Generics in practice", Author: "rob", URL: "https://example.com/b", Score: 80, CommentCount: 12, SourceLabel: "hackernews"},
	}
}

// fastRetry keeps the retry shape without the production delay
func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
}
