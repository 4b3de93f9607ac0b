package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/keywatch/db"
	"github.com/teranos/keywatch/errors"
)

// DueBatchLimit caps how many due schedules one tick picks up
const DueBatchLimit = 100

// Store is the schedule persistence the scheduler loop and pipeline depend on.
// Every method is a single statement: lock acquisition and progress updates
// are atomic against concurrent processes sharing the database.
type Store interface {
	// ListDue returns active, unlocked schedules whose next run is at or before now,
	// oldest first, at most DueBatchLimit.
	ListDue(ctx context.Context, now time.Time) ([]*Schedule, error)
	// TryAcquireLock sets the execution flag if the schedule is still due and unlocked.
	TryAcquireLock(ctx context.Context, id string) (bool, error)
	// ReleaseLock clears the execution flag. Releasing an unlocked or missing schedule is a no-op.
	ReleaseLock(ctx context.Context, id string) error
	// RecordSuccess counts one produced report and advances or completes the schedule.
	// interval is the schedule's own, which never changes after creation.
	RecordSuccess(ctx context.Context, id string, interval time.Duration) (*Schedule, error)
	// RecordFailureAdvanceOnly moves next_run_at one interval past now without counting a report.
	RecordFailureAdvanceOnly(ctx context.Context, id string, interval time.Duration) error
	// ResetAllLocks clears every execution flag and returns how many were set.
	ResetAllLocks(ctx context.Context) (int64, error)
}

const scheduleColumns = `id, user_nickname, keyword, interval_minutes, report_length,
	total_reports, completed_reports, notification_enabled, status,
	next_run_at, last_run_at, is_executing, created_at, updated_at`

// SQLStore implements Store plus owner-facing CRUD over SQLite or Postgres
type SQLStore struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a schedule store on an opened, migrated database
func NewStore(conn *db.DB) *SQLStore {
	return &SQLStore{db: conn, now: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var s Schedule
	var length, status string
	var nextRunAt, lastRunAt sql.NullTime

	err := row.Scan(
		&s.ID,
		&s.Owner,
		&s.Keyword,
		&s.IntervalMinutes,
		&length,
		&s.TotalReports,
		&s.CompletedReports,
		&s.NotificationEnabled,
		&status,
		&nextRunAt,
		&lastRunAt,
		&s.IsExecuting,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ReportLength = ReportLength(length)
	s.Status = Status(status)
	if nextRunAt.Valid {
		t := nextRunAt.Time.UTC()
		s.NextRunAt = &t
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time.UTC()
		s.LastRunAt = &t
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func (s *SQLStore) querySchedules(ctx context.Context, query string, args ...any) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, db.Classify(err, "failed to query schedules")
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, db.Classify(err, "failed to scan schedule")
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err, "error iterating schedules")
	}
	return schedules, nil
}

// ListDue returns schedules ready to run at now
func (s *SQLStore) ListDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE status = ? AND is_executing = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT ?`

	return s.querySchedules(ctx, query, StatusActive, false, now.UTC(), DueBatchLimit)
}

// TryAcquireLock claims the schedule for one execution cycle.
// The due condition is repeated here so a schedule listed by a stale tick
// but already run elsewhere is not run twice.
func (s *SQLStore) TryAcquireLock(ctx context.Context, id string) (bool, error) {
	now := s.now()
	query := `UPDATE schedules
		SET is_executing = ?, updated_at = ?
		WHERE id = ? AND is_executing = ? AND status = ?
		  AND next_run_at IS NOT NULL AND next_run_at <= ?`

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), true, now, id, false, StatusActive, now)
	if err != nil {
		return false, db.Classify(err, "failed to acquire schedule lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, db.Classify(err, "failed to read lock result")
	}
	return n == 1, nil
}

// ReleaseLock clears the execution flag
func (s *SQLStore) ReleaseLock(ctx context.Context, id string) error {
	query := `UPDATE schedules SET is_executing = ?, updated_at = ? WHERE id = ? AND is_executing = ?`
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), false, s.now(), id, true); err != nil {
		return db.Classify(err, "failed to release schedule lock")
	}
	return nil
}

// RecordSuccess increments completed_reports in one conditional statement.
// Reaching the total completes an active or paused schedule and clears
// next_run_at; an active schedule below the total is advanced one interval
// from now. Cancelled schedules still count the report but keep their status.
// The returned schedule is read after the update.
func (s *SQLStore) RecordSuccess(ctx context.Context, id string, interval time.Duration) (*Schedule, error) {
	now := s.now()
	query := `UPDATE schedules SET
			completed_reports = completed_reports + 1,
			last_run_at = ?,
			updated_at = ?,
			status = CASE
				WHEN completed_reports + 1 >= total_reports AND status IN ('active', 'paused') THEN ?
				ELSE status END,
			next_run_at = CASE
				WHEN completed_reports + 1 >= total_reports AND status IN ('active', 'paused') THEN NULL
				WHEN status = 'active' THEN ?
				ELSE next_run_at END
		WHERE id = ? AND completed_reports < total_reports`

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), now, now, StatusCompleted, now.Add(interval), id)
	if err != nil {
		return nil, db.Classify(err, "failed to record schedule success")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, db.Classify(err, "failed to read success result")
	}

	sched, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return sched, errors.Wrapf(errors.ErrQuotaReached, "schedule %s has %d of %d reports",
			id, sched.CompletedReports, sched.TotalReports)
	}
	return sched, nil
}

// RecordFailureAdvanceOnly pushes an active schedule one interval past now
// after an exhausted cycle. Non-active schedules are left untouched.
func (s *SQLStore) RecordFailureAdvanceOnly(ctx context.Context, id string, interval time.Duration) error {
	now := s.now()
	query := `UPDATE schedules SET next_run_at = ?, updated_at = ? WHERE id = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), now.Add(interval), now, id, StatusActive)
	if err != nil {
		return db.Classify(err, "failed to advance schedule")
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

// ResetAllLocks clears every execution flag, for startup after a crash
func (s *SQLStore) ResetAllLocks(ctx context.Context) (int64, error) {
	query := `UPDATE schedules SET is_executing = ?, updated_at = ? WHERE is_executing = ?`
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), false, s.now(), true)
	if err != nil {
		return 0, db.Classify(err, "failed to reset schedule locks")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, db.Classify(err, "failed to read reset result")
	}
	return n, nil
}
