package schedule

import "time"

// Outcome is the result of one attempt or of a whole execution cycle
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"   // one attempt failed, another may follow
	OutcomeExhausted Outcome = "exhausted" // every attempt failed, schedule advanced
)

// Execution is the in-flight record of one execution cycle of a schedule.
// It lives in memory only: it feeds logs, ticker stats and broadcasts.
type Execution struct {
	ID          string     `json:"id"`
	ScheduleID  string     `json:"schedule_id"`
	Keyword     string     `json:"keyword"`
	SessionID   string     `json:"session_id"`
	Attempt     int        `json:"attempt"`
	Outcome     Outcome    `json:"outcome"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	PostCount   int        `json:"post_count"`
	ReportID    string     `json:"report_id,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Duration returns the wall time of a finished execution, or zero while running
func (e *Execution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// ExecutionBroadcaster receives execution events, e.g. to push them to
// connected clients. Implementations must not block.
type ExecutionBroadcaster interface {
	BroadcastExecutionStarted(exec Execution)
	BroadcastExecutionFinished(exec Execution)
}
