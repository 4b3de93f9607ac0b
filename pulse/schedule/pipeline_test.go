package schedule

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/keywatch/errors"
)

type pipelineFixture struct {
	store       *SQLStore
	clk         *testClock
	locks       *LockCoordinator
	collector   *fakeCollector
	generator   *fakeGenerator
	reports     *fakeReports
	notifier    *recordingNotifier
	broadcaster *recordingBroadcaster
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	store, clk := newTestStore(t)
	return &pipelineFixture{
		store:       store,
		clk:         clk,
		locks:       NewLockCoordinator(store, fastRetry(), testLogger(t)),
		collector:   &fakeCollector{posts: testPosts()},
		generator:   &fakeGenerator{},
		reports:     &fakeReports{},
		notifier:    &recordingNotifier{},
		broadcaster: &recordingBroadcaster{},
	}
}

func (f *pipelineFixture) pipeline(t *testing.T, store Store) *Pipeline {
	p := NewPipeline(store, f.locks, Collaborators{
		Collector: f.collector,
		Generator: f.generator,
		Reports:   f.reports,
		Notifier:  f.notifier,
	}, f.broadcaster, fastRetry(), testLogger(t))
	p.now = f.clk.Now
	return p
}

// lockDue seeds a due schedule and takes its lock the way the ticker does
func (f *pipelineFixture) lockDue(t *testing.T, mutate func(s *Schedule)) *Schedule {
	sched := seedSchedule(t, f.store, func(s *Schedule) {
		dueNow(f.clk)(s)
		if mutate != nil {
			mutate(s)
		}
	})
	ok, err := f.locks.Acquire(context.Background(), sched.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return sched
}

func (f *pipelineFixture) get(t *testing.T, id string) *Schedule {
	got, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestPipeline_Success(t *testing.T) {
	f := newPipelineFixture(t)
	sched := f.lockDue(t, func(s *Schedule) {
		s.TotalReports = 5
		s.CompletedReports = 2
		s.IntervalMinutes = 30
	})

	exec := f.pipeline(t, f.store).Execute(context.Background(), sched)

	assert.Equal(t, OutcomeSuccess, exec.Outcome)
	assert.Equal(t, 1, exec.Attempt)
	assert.Equal(t, "report-"+sched.ID, exec.ReportID)
	assert.Equal(t, 2, exec.PostCount)
	assert.True(t, strings.HasPrefix(exec.SessionID, "schedule_"+sched.ID+"_"))
	assert.Len(t, strings.TrimPrefix(exec.SessionID, "schedule_"+sched.ID+"_"), 8)
	require.NotNil(t, exec.CompletedAt)

	got := f.get(t, sched.ID)
	assert.Equal(t, 3, got.CompletedReports)
	assert.Equal(t, StatusActive, got.Status)
	assert.False(t, got.IsExecuting, "lock released")
	assert.False(t, f.locks.IsHeld(sched.ID))
	require.NotNil(t, got.NextRunAt)
	assert.WithinDuration(t, f.clk.Now().Add(30*time.Minute), *got.NextRunAt, time.Millisecond)

	require.Len(t, f.reports.saved, 1)
	saved := f.reports.saved[0]
	assert.Equal(t, "alice", saved.Owner)
	assert.Equal(t, sched.Keyword, saved.Query)
	assert.Equal(t, sched.ID, saved.ScheduleID)
	assert.Equal(t, exec.SessionID, saved.SessionID)
	assert.Equal(t, []string{"reddit", "hackernews"}, saved.Sources)
	assert.Len(t, saved.Citations, 1)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, NotificationReportCompleted, sent[0].Type)
	assert.Equal(t, "alice", sent[0].Owner)
	assert.Equal(t, sched.ID, sent[0].Payload["schedule_id"])
	assert.Equal(t, exec.ReportID, sent[0].Payload["report_id"])
	assert.Equal(t, sched.Keyword, sent[0].Payload["keyword"])

	require.Len(t, f.broadcaster.started, 1)
	require.Len(t, f.broadcaster.finished, 1)
	assert.Equal(t, OutcomeRunning, f.broadcaster.started[0].Outcome)
	assert.Equal(t, OutcomeSuccess, f.broadcaster.finished[0].Outcome)
}

func TestPipeline_LastReportCompletesSchedule(t *testing.T) {
	f := newPipelineFixture(t)
	sched := f.lockDue(t, func(s *Schedule) { s.TotalReports = 1 })

	exec := f.pipeline(t, f.store).Execute(context.Background(), sched)
	assert.Equal(t, OutcomeSuccess, exec.Outcome)

	got := f.get(t, sched.ID)
	assert.Equal(t, 1, got.CompletedReports)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Nil(t, got.NextRunAt)
	assert.False(t, got.IsExecuting)
}

func TestPipeline_EmptyCollectionCountsAsSuccess(t *testing.T) {
	f := newPipelineFixture(t)
	f.collector.posts = nil
	sched := f.lockDue(t, nil)

	exec := f.pipeline(t, f.store).Execute(context.Background(), sched)

	assert.Equal(t, OutcomeSuccess, exec.Outcome)
	assert.Empty(t, exec.ReportID)
	assert.Zero(t, f.generator.calls, "nothing to generate from")
	assert.Zero(t, f.reports.Count())

	got := f.get(t, sched.ID)
	assert.Equal(t, 1, got.CompletedReports)
	assert.False(t, got.IsExecuting)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, NotificationReportCompleted, sent[0].Type)
	assert.Equal(t, "", sent[0].Payload["report_id"])
}

func TestPipeline_RetriesThenSucceeds(t *testing.T) {
	f := newPipelineFixture(t)
	f.generator.errs = []error{errors.New("model overloaded")}
	sched := f.lockDue(t, nil)

	exec := f.pipeline(t, f.store).Execute(context.Background(), sched)

	assert.Equal(t, OutcomeSuccess, exec.Outcome)
	assert.Equal(t, 2, exec.Attempt)
	assert.Equal(t, 2, f.collector.Calls(), "each attempt collects afresh")
	assert.Equal(t, 1, f.reports.Count())
	assert.Equal(t, 1, f.get(t, sched.ID).CompletedReports)
}

func TestPipeline_ExhaustedRetriesAdvancesOnly(t *testing.T) {
	f := newPipelineFixture(t)
	f.collector.errs = []error{errors.New("reddit returned 503")}
	sched := f.lockDue(t, func(s *Schedule) {
		s.CompletedReports = 1
		s.IntervalMinutes = 60
	})
	flaky := &flakyStore{Store: f.store}

	exec := f.pipeline(t, flaky).Execute(context.Background(), sched)

	assert.Equal(t, OutcomeExhausted, exec.Outcome)
	assert.Equal(t, 3, exec.Attempt)
	assert.Contains(t, exec.Error, "reddit returned 503")
	assert.Equal(t, 3, f.collector.Calls())
	assert.Equal(t, 1, flaky.advanceCalls)
	assert.Zero(t, flaky.recordSuccessCalls)

	got := f.get(t, sched.ID)
	assert.Equal(t, 1, got.CompletedReports, "completed unchanged")
	assert.Equal(t, StatusActive, got.Status, "not failed permanently")
	assert.False(t, got.IsExecuting)
	require.NotNil(t, got.NextRunAt)
	assert.WithinDuration(t, f.clk.Now().Add(time.Hour), *got.NextRunAt, time.Millisecond)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, NotificationReportFailed, sent[0].Type)
	assert.Equal(t, sched.ID, sent[0].Payload["schedule_id"])
	assert.Contains(t, sent[0].Payload["error"], "reddit returned 503")
}

func TestPipeline_NotificationDisabled(t *testing.T) {
	f := newPipelineFixture(t)
	f.collector.errs = []error{errors.New("auth expired")}
	sched := f.lockDue(t, func(s *Schedule) { s.NotificationEnabled = false })

	exec := f.pipeline(t, f.store).Execute(context.Background(), sched)

	assert.Equal(t, OutcomeExhausted, exec.Outcome)
	assert.Empty(t, f.notifier.Sent())
}

func TestPipeline_PanicStillReleasesLock(t *testing.T) {
	f := newPipelineFixture(t)
	f.collector.panic = true
	sched := f.lockDue(t, nil)

	var exec *Execution
	require.NotPanics(t, func() {
		exec = f.pipeline(t, f.store).Execute(context.Background(), sched)
	})

	assert.Equal(t, OutcomeExhausted, exec.Outcome)
	assert.Contains(t, exec.Error, "collector exploded")

	got := f.get(t, sched.ID)
	assert.False(t, got.IsExecuting)
	assert.False(t, f.locks.IsHeld(sched.ID))
	assert.Equal(t, 0, got.CompletedReports)
}

func TestPipeline_PanicAfterRetryLoopReturnsFailure(t *testing.T) {
	t.Run("notifier", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.notifier.panic = true
		sched := f.lockDue(t, nil)

		var exec *Execution
		require.NotPanics(t, func() {
			exec = f.pipeline(t, f.store).Execute(context.Background(), sched)
		})

		require.NotNil(t, exec)
		assert.Equal(t, OutcomeFailure, exec.Outcome)
		assert.Contains(t, exec.Error, "notifier exploded")
		require.NotNil(t, exec.CompletedAt)
		assert.False(t, f.get(t, sched.ID).IsExecuting)
		assert.False(t, f.locks.IsHeld(sched.ID))

		f.broadcaster.mu.Lock()
		defer f.broadcaster.mu.Unlock()
		require.Len(t, f.broadcaster.finished, 1)
		assert.Equal(t, OutcomeFailure, f.broadcaster.finished[0].Outcome)
	})

	t.Run("record success", func(t *testing.T) {
		f := newPipelineFixture(t)
		sched := f.lockDue(t, nil)
		flaky := &flakyStore{Store: f.store, recordSuccessPanic: true}

		var exec *Execution
		require.NotPanics(t, func() {
			exec = f.pipeline(t, flaky).Execute(context.Background(), sched)
		})

		require.NotNil(t, exec)
		assert.Equal(t, OutcomeFailure, exec.Outcome)
		assert.Contains(t, exec.Error, "record success exploded")

		got := f.get(t, sched.ID)
		assert.False(t, got.IsExecuting)
		assert.Equal(t, 0, got.CompletedReports)
		assert.False(t, f.locks.IsHeld(sched.ID))
	})
}

func TestPipeline_RecordSuccessRetriedWithoutRecollecting(t *testing.T) {
	f := newPipelineFixture(t)
	sched := f.lockDue(t, nil)
	flaky := &flakyStore{Store: f.store, recordSuccessErrs: []error{unavailable("connection refused")}}

	exec := f.pipeline(t, flaky).Execute(context.Background(), sched)

	assert.Equal(t, OutcomeSuccess, exec.Outcome)
	assert.Equal(t, 2, flaky.recordSuccessCalls)
	assert.Equal(t, 1, f.collector.Calls())
	assert.Equal(t, 1, f.reports.Count(), "report is not duplicated")
	assert.Equal(t, 1, f.get(t, sched.ID).CompletedReports)
}

func TestPipeline_RecordSuccessUnavailableThroughout(t *testing.T) {
	f := newPipelineFixture(t)
	sched := f.lockDue(t, nil)
	down := unavailable("connection refused")
	flaky := &flakyStore{Store: f.store, recordSuccessErrs: []error{down, down, down}}

	exec := f.pipeline(t, flaky).Execute(context.Background(), sched)

	assert.Equal(t, OutcomeExhausted, exec.Outcome)
	assert.Equal(t, 1, flaky.advanceCalls)
	assert.Equal(t, 1, f.reports.Count())

	got := f.get(t, sched.ID)
	assert.Equal(t, 0, got.CompletedReports)
	assert.False(t, got.IsExecuting)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, NotificationReportFailed, sent[0].Type)
}

func TestPipeline_PausedDuringRunStaysPaused(t *testing.T) {
	f := newPipelineFixture(t)
	f.collector.errs = []error{errors.New("down")}
	sched := f.lockDue(t, nil)

	_, err := f.store.UpdateStatus(context.Background(), sched.ID, StatusPaused)
	require.NoError(t, err)

	exec := f.pipeline(t, f.store).Execute(context.Background(), sched)
	assert.Equal(t, OutcomeExhausted, exec.Outcome)

	got := f.get(t, sched.ID)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Nil(t, got.NextRunAt, "advance does not revive a paused schedule")
	assert.False(t, got.IsExecuting)
}
