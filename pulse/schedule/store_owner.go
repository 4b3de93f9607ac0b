package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/keywatch/db"
	"github.com/teranos/keywatch/errors"
)

// Create validates and inserts a new active schedule whose first run is one
// interval from now. ID, status, progress and timestamps are assigned here.
func (s *SQLStore) Create(ctx context.Context, sched *Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}

	length, _ := ParseReportLength(string(sched.ReportLength))
	now := s.now()
	next := now.Add(sched.Interval())

	sched.ID = uuid.NewString()
	sched.ReportLength = length
	sched.Status = StatusActive
	sched.CompletedReports = 0
	sched.IsExecuting = false
	sched.NextRunAt = &next
	sched.LastRunAt = nil
	sched.CreatedAt = now
	sched.UpdatedAt = now

	query := `INSERT INTO schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		sched.ID,
		sched.Owner,
		sched.Keyword,
		sched.IntervalMinutes,
		sched.ReportLength,
		sched.TotalReports,
		sched.CompletedReports,
		sched.NotificationEnabled,
		sched.Status,
		next,
		nil,
		false,
		now,
		now,
	)
	if err != nil {
		return db.Classify(err, "failed to create schedule")
	}
	return nil
}

// Get retrieves a schedule by ID
func (s *SQLStore) Get(ctx context.Context, id string) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`

	sched, err := scanSchedule(s.db.QueryRowContext(ctx, s.db.Rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("schedule %s not found", id)
		}
		return nil, db.Classify(err, "failed to get schedule")
	}
	return sched, nil
}

// ListByOwner returns all of an owner's schedules, newest first
func (s *SQLStore) ListByOwner(ctx context.Context, owner string) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE user_nickname = ?
		ORDER BY created_at DESC`

	return s.querySchedules(ctx, query, owner)
}

// GetNextScheduled returns the active schedule that runs soonest, or nil when none
func (s *SQLStore) GetNextScheduled(ctx context.Context) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE status = ? AND next_run_at IS NOT NULL
		ORDER BY next_run_at ASC
		LIMIT 1`

	schedules, err := s.querySchedules(ctx, query, StatusActive)
	if err != nil || len(schedules) == 0 {
		return nil, err
	}
	return schedules[0], nil
}

// UpdateStatus applies an owner-requested transition.
// Resuming recomputes next_run_at from now; pausing and cancelling clear it.
// The update is conditional on the status read, so a concurrent completion
// surfaces as ErrInvalidTransition instead of being overwritten.
func (s *SQLStore) UpdateStatus(ctx context.Context, id string, to Status) (*Schedule, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanRequest(to) {
		return nil, errors.Wrapf(errors.ErrInvalidTransition, "schedule %s: %s -> %s", id, current.Status, to)
	}

	now := s.now()
	var next *time.Time
	if to == StatusActive {
		t := now.Add(current.Interval())
		next = &t
	}

	query := `UPDATE schedules SET status = ?, next_run_at = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), to, nullableTime(next), now, id, current.Status)
	if err != nil {
		return nil, db.Classify(err, "failed to update schedule status")
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, db.Classify(err, "failed to read status update result")
	} else if n == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidTransition, "schedule %s changed status concurrently", id)
	}

	current.Status = to
	current.NextRunAt = next
	current.UpdatedAt = now
	return current, nil
}

// Delete cancels a schedule. The row is removed only when it was already
// cancelled or force is set; otherwise the cancelled schedule is kept so its
// reports stay attributable. Reports whose schedule row is gone keep their
// schedule_id as a dangling reference.
func (s *SQLStore) Delete(ctx context.Context, id string, force bool) (deleted bool, err error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if current.Status != StatusCancelled && !force {
		if current.Status.IsTerminal() {
			return false, errors.Wrapf(errors.ErrInvalidTransition, "schedule %s is %s", id, current.Status)
		}
		if _, err := s.UpdateStatus(ctx, id, StatusCancelled); err != nil {
			return false, err
		}
		return false, nil
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM schedules WHERE id = ?`), id); err != nil {
		return false, db.Classify(err, "failed to delete schedule")
	}
	return true, nil
}

// DeleteCancelled removes an owner's cancelled schedules and returns how many
func (s *SQLStore) DeleteCancelled(ctx context.Context, owner string) (int64, error) {
	query := `DELETE FROM schedules WHERE user_nickname = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), owner, StatusCancelled)
	if err != nil {
		return 0, db.Classify(err, "failed to delete cancelled schedules")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, db.Classify(err, "failed to read delete result")
	}
	return n, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
