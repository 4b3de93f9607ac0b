package schedule

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/logger"
)

// Collaborators are the external systems an execution cycle calls into
type Collaborators struct {
	Collector Collector
	Generator Generator
	Reports   ReportStore
	Notifier  Notifier // optional
}

// Pipeline runs one execution cycle for a locked schedule:
// collect -> generate -> persist with bounded retry, then record the outcome
// on the schedule, notify the owner and release the lock.
type Pipeline struct {
	store       Store
	locks       *LockCoordinator
	deps        Collaborators
	broadcaster ExecutionBroadcaster
	policy      RetryPolicy
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewPipeline creates a pipeline. broadcaster may be nil.
func NewPipeline(store Store, locks *LockCoordinator, deps Collaborators, broadcaster ExecutionBroadcaster, policy RetryPolicy, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		store:       store,
		locks:       locks,
		deps:        deps,
		broadcaster: broadcaster,
		policy:      policy,
		logger:      logger.AddPulseSymbol(log),
		now:         time.Now,
	}
}

// Execute runs the cycle for sched, whose lock the caller has acquired.
// The lock is released before Execute returns, whatever happens inside,
// including a panic. The returned record describes the finished cycle and is
// never nil; a panic outside the retry loop yields OutcomeFailure.
func (p *Pipeline) Execute(ctx context.Context, sched *Schedule) (exec *Execution) {
	exec = &Execution{
		ID:         uuid.NewString(),
		ScheduleID: sched.ID,
		Keyword:    sched.Keyword,
		SessionID:  newSessionID(sched.ID),
		Outcome:    OutcomeRunning,
		StartedAt:  p.now(),
	}
	ctx = logger.WithScheduleID(ctx, sched.ID)
	log := logger.FromContext(ctx, p.logger).With(logger.FieldExecutionID, exec.ID)

	defer func() {
		if r := recover(); r != nil {
			exec.Outcome = OutcomeFailure
			exec.Error = fmt.Sprintf("panic: %v", r)
			log.Errorw("Execution panicked", logger.FieldError, exec.Error)
		}

		if err := p.locks.Release(ctx, sched.ID); err != nil {
			log.Errorw("Lock left set after execution", logger.FieldError, err)
		}

		completed := p.now()
		exec.CompletedAt = &completed
		if p.broadcaster != nil {
			p.broadcaster.BroadcastExecutionFinished(*exec)
		}
	}()

	if p.broadcaster != nil {
		p.broadcaster.BroadcastExecutionStarted(*exec)
	}

	log.Infow("Execution started",
		logger.FieldKeyword, sched.Keyword,
		logger.FieldMaxAttempts, p.policy.attempts())

	var reportID string
	err := p.policy.Do(ctx, func(attempt int) error {
		exec.Attempt = attempt
		id, posts, err := p.attempt(ctx, sched, exec.SessionID)
		exec.PostCount = posts
		if err != nil {
			log.Warnw("Execution attempt failed",
				logger.FieldAttempt, attempt,
				logger.FieldMaxAttempts, p.policy.attempts(),
				logger.FieldError, err)
			return err
		}
		reportID = id
		return nil
	})
	if err != nil {
		p.exhausted(ctx, log, sched, exec, err)
		return exec
	}

	exec.ReportID = reportID
	p.succeeded(ctx, log, sched, exec)
	return exec
}

// attempt runs collect -> generate -> persist once. An empty collection
// succeeds without a report. A panic inside a collaborator fails the attempt.
func (p *Pipeline) attempt(ctx context.Context, sched *Schedule, sessionID string) (reportID string, postCount int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Mark(errors.Newf("collaborator panic: %v", r), errors.ErrCollectionFailed)
		}
	}()

	posts, err := p.deps.Collector.Collect(ctx, sched.Keyword)
	if err != nil {
		return "", 0, errors.Mark(errors.Wrap(err, "collect"), errors.ErrCollectionFailed)
	}
	if len(posts) == 0 {
		return "", 0, nil
	}

	generated, err := p.deps.Generator.Generate(ctx, sched.Keyword, posts, sched.ReportLength)
	if err != nil {
		return "", len(posts), errors.Mark(errors.Wrap(err, "generate"), errors.ErrGenerationFailed)
	}

	report := &Report{
		Owner:        sched.Owner,
		Query:        sched.Keyword,
		Summary:      generated.Summary,
		FullReport:   generated.FullReport,
		Citations:    generated.CitationMappings,
		ScheduleID:   sched.ID,
		SessionID:    sessionID,
		ReportLength: sched.ReportLength,
		Sources:      postSources(posts),
		PostCount:    len(posts),
	}
	id, err := p.deps.Reports.Save(ctx, report)
	if err != nil {
		return "", len(posts), errors.Mark(errors.Wrap(err, "persist report"), errors.ErrPersistFailed)
	}
	return id, len(posts), nil
}

// succeeded records the produced report on the schedule. The store call is
// retried on its own so a store blip never re-runs collection and duplicates
// a report that is already saved.
func (p *Pipeline) succeeded(ctx context.Context, log *zap.SugaredLogger, sched *Schedule, exec *Execution) {
	var updated *Schedule
	err := p.policy.Do(ctx, func(attempt int) error {
		var err error
		updated, err = p.store.RecordSuccess(ctx, sched.ID, sched.Interval())
		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, errors.ErrQuotaReached):
		log.Warnw("Report produced after quota was reached",
			logger.FieldReportID, exec.ReportID,
			logger.FieldError, err)
	default:
		exec.Outcome = OutcomeExhausted
		exec.Error = err.Error()
		log.Errorw("Failed to record execution success",
			logger.FieldReportID, exec.ReportID,
			logger.FieldError, err)
		p.advanceAfterFailure(ctx, log, sched)
		p.notifyFailure(ctx, sched, err)
		return
	}

	exec.Outcome = OutcomeSuccess
	fields := []interface{}{
		logger.FieldReportID, exec.ReportID,
		logger.FieldPosts, exec.PostCount,
		logger.FieldAttempt, exec.Attempt,
		logger.FieldDurationMS, p.now().Sub(exec.StartedAt).Milliseconds(),
	}
	if updated != nil {
		fields = append(fields,
			logger.FieldStatus, updated.Status,
			"completed_reports", updated.CompletedReports,
			"total_reports", updated.TotalReports)
		if updated.NextRunAt != nil {
			fields = append(fields, logger.FieldNextRunAt, updated.NextRunAt.Format(time.RFC3339))
		}
	}
	log.Infow("Execution succeeded", fields...)

	p.notifySuccess(ctx, sched, exec)
}

// exhausted ends a cycle whose every attempt failed. The schedule moves on
// to its next interval; it is not failed permanently.
func (p *Pipeline) exhausted(ctx context.Context, log *zap.SugaredLogger, sched *Schedule, exec *Execution, err error) {
	if !errors.Is(err, errors.ErrExhaustedRetries) {
		err = errors.Mark(err, errors.ErrExhaustedRetries)
	}
	exec.Outcome = OutcomeExhausted
	exec.Error = err.Error()

	log.Errorw("Execution exhausted retries",
		logger.FieldAttempt, exec.Attempt,
		logger.FieldError, err)

	p.advanceAfterFailure(ctx, log, sched)
	p.notifyFailure(ctx, sched, err)
}

func (p *Pipeline) advanceAfterFailure(ctx context.Context, log *zap.SugaredLogger, sched *Schedule) {
	err := p.policy.Do(ctx, func(int) error {
		return p.store.RecordFailureAdvanceOnly(ctx, sched.ID, sched.Interval())
	})
	if err != nil {
		log.Errorw("Failed to advance schedule after failure", logger.FieldError, err)
	}
}

func (p *Pipeline) notifySuccess(ctx context.Context, sched *Schedule, exec *Execution) {
	if !sched.NotificationEnabled || p.deps.Notifier == nil {
		return
	}

	body := fmt.Sprintf("A report for '%s' has been generated.", sched.Keyword)
	if exec.ReportID == "" {
		body = fmt.Sprintf("No new posts were found for '%s' this run.", sched.Keyword)
	}
	p.deps.Notifier.Emit(ctx, Notification{
		Owner: sched.Owner,
		Title: "Report ready",
		Body:  body,
		Type:  NotificationReportCompleted,
		Payload: map[string]any{
			"schedule_id": sched.ID,
			"report_id":   exec.ReportID,
			"keyword":     sched.Keyword,
		},
	})
}

func (p *Pipeline) notifyFailure(ctx context.Context, sched *Schedule, cause error) {
	if !sched.NotificationEnabled || p.deps.Notifier == nil {
		return
	}

	p.deps.Notifier.Emit(ctx, Notification{
		Owner: sched.Owner,
		Title: "Report failed",
		Body:  fmt.Sprintf("Generating the report for '%s' failed.", sched.Keyword),
		Type:  NotificationReportFailed,
		Payload: map[string]any{
			"schedule_id": sched.ID,
			"keyword":     sched.Keyword,
			"error":       cause.Error(),
		},
	})
}

// newSessionID returns schedule_<id>_<8 hex chars>
func newSessionID(scheduleID string) string {
	id := uuid.New()
	return fmt.Sprintf("schedule_%s_%s", scheduleID, hex.EncodeToString(id[:4]))
}

func postSources(posts []Post) []string {
	seen := make(map[string]bool)
	var sources []string
	for _, post := range posts {
		if post.SourceLabel == "" || seen[post.SourceLabel] {
			continue
		}
		seen[post.SourceLabel] = true
		sources = append(sources, post.SourceLabel)
	}
	return sources
}
