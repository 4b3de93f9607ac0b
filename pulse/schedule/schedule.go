// Package schedule runs recurring keyword-analysis schedules.
//
// A Ticker polls the Store once per period for due schedules, takes the
// per-schedule execution lock through the LockCoordinator and hands each
// locked schedule to the Pipeline on its own goroutine. The Store's atomic
// conditional update is the only mutual-exclusion mechanism; several
// processes may tick against the same database.
package schedule

import (
	"time"

	"github.com/teranos/keywatch/errors"
)

// Status is the lifecycle state of a schedule
type Status string

const (
	StatusActive    Status = "active"    // eligible for execution when due
	StatusPaused    Status = "paused"    // temporarily stopped by the owner
	StatusCompleted Status = "completed" // all reports produced, terminal
	StatusCancelled Status = "cancelled" // stopped by the owner, terminal
)

// ParseStatus converts a stored or requested status string
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return Status(s), nil
	default:
		return "", errors.NewInvalidRequestError("unknown schedule status %q", s)
	}
}

// IsTerminal reports whether no transition leaves this status
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusActive, StatusPaused:
		return false
	default:
		return false
	}
}

// CanTransition reports whether the state machine allows s -> to.
// active -> completed and paused -> completed are reserved for RecordSuccess,
// which completes a schedule paused while its last report was running.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusActive:
		return to == StatusPaused || to == StatusCancelled || to == StatusCompleted
	case StatusPaused:
		return to == StatusActive || to == StatusCancelled || to == StatusCompleted
	case StatusCompleted, StatusCancelled:
		return false
	default:
		return false
	}
}

// CanRequest reports whether an owner may request s -> to.
// Completion is never requested from outside.
func (s Status) CanRequest(to Status) bool {
	return to != StatusCompleted && s.CanTransition(to)
}

// ReportLength is the report size preset passed to the generator
type ReportLength string

const (
	ReportSimple   ReportLength = "simple"
	ReportModerate ReportLength = "moderate"
	ReportDetailed ReportLength = "detailed"
)

// ParseReportLength converts a preset name, defaulting to moderate when empty
func ParseReportLength(s string) (ReportLength, error) {
	switch ReportLength(s) {
	case "":
		return ReportModerate, nil
	case ReportSimple, ReportModerate, ReportDetailed:
		return ReportLength(s), nil
	default:
		return "", errors.NewInvalidRequestError("unknown report length %q", s)
	}
}

// Schedule is a recurring analysis job plus its runtime progress
type Schedule struct {
	ID                  string       `json:"id"`
	Owner               string       `json:"user_nickname"`
	Keyword             string       `json:"keyword"`
	IntervalMinutes     int          `json:"interval_minutes"`
	ReportLength        ReportLength `json:"report_length"`
	TotalReports        int          `json:"total_reports"`
	CompletedReports    int          `json:"completed_reports"`
	NotificationEnabled bool         `json:"notification_enabled"`
	Status              Status       `json:"status"`
	NextRunAt           *time.Time   `json:"next_run,omitempty"` // non-nil iff Status is active
	LastRunAt           *time.Time   `json:"last_run,omitempty"`
	IsExecuting         bool         `json:"is_executing"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Interval returns the schedule period as a duration
func (s *Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// Remaining returns how many reports are still to be produced
func (s *Schedule) Remaining() int {
	if s.CompletedReports >= s.TotalReports {
		return 0
	}
	return s.TotalReports - s.CompletedReports
}

// IsDue reports whether the schedule is inside its eligibility window at now
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Status == StatusActive &&
		!s.IsExecuting &&
		s.NextRunAt != nil &&
		!s.NextRunAt.After(now)
}

// Validate checks the owner-supplied parameters of a new schedule
func (s *Schedule) Validate() error {
	if s.Owner == "" {
		return errors.NewInvalidRequestError("schedule owner is required")
	}
	if s.Keyword == "" {
		return errors.NewInvalidRequestError("schedule keyword is required")
	}
	if s.IntervalMinutes <= 0 {
		return errors.NewInvalidRequestError("interval must be positive, got %d minutes", s.IntervalMinutes)
	}
	if s.TotalReports <= 0 {
		return errors.NewInvalidRequestError("total reports must be positive, got %d", s.TotalReports)
	}
	if _, err := ParseReportLength(string(s.ReportLength)); err != nil {
		return err
	}
	return nil
}
