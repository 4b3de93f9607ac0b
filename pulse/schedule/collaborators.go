package schedule

import (
	"context"
	"time"
)

// Post is one item returned by a data collector
type Post struct {
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Content      string    `json:"content"`
	URL          string    `json:"url"`
	Score        int       `json:"score"`
	CommentCount int       `json:"num_comments"`
	CreatedAt    time.Time `json:"created_utc"`
	SourceLabel  string    `json:"source"`
}

// Citation maps a footnote index in a generated report to the post it cites
type Citation struct {
	Index     int       `json:"footnote_number"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Source    string    `json:"source,omitempty"`
	Score     int       `json:"score,omitempty"`
	Comments  int       `json:"comments,omitempty"`
	CreatedAt time.Time `json:"created_utc,omitempty"`
}

// GeneratedReport is what a Generator returns
type GeneratedReport struct {
	Summary          string     `json:"summary"`
	FullReport       string     `json:"full_report"`
	CitationMappings []Citation `json:"citation_mappings"`
}

// Report is a generated report ready to be saved
type Report struct {
	ID           string
	Owner        string
	Query        string
	Summary      string
	FullReport   string
	Citations    []Citation
	ScheduleID   string
	SessionID    string
	ReportLength ReportLength
	Sources      []string
	PostCount    int
	CreatedAt    time.Time
}

// Collector gathers posts for a keyword. An empty result is valid.
type Collector interface {
	Collect(ctx context.Context, keyword string) ([]Post, error)
}

// Generator drafts a report from collected posts. Internal retries and
// validation belong to the implementation.
type Generator interface {
	Generate(ctx context.Context, query string, posts []Post, length ReportLength) (*GeneratedReport, error)
}

// ReportStore persists a report and returns its id
type ReportStore interface {
	Save(ctx context.Context, report *Report) (string, error)
}

// Notification types
const (
	NotificationReportCompleted = "report_completed"
	NotificationReportFailed    = "report_failed"
)

// Notification is a lightweight event for the schedule owner
type Notification struct {
	Owner   string         `json:"user_nickname"`
	Title   string         `json:"title"`
	Body    string         `json:"message"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"data"`
}

// Notifier emits notifications. It is fire-and-forget: failures are the
// implementation's to log and never reach the caller.
type Notifier interface {
	Emit(ctx context.Context, n Notification)
}
