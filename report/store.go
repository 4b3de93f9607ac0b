// Package report persists generated reports and the links their footnotes cite.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/keywatch/db"
	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/pulse/schedule"
)

// DefaultListLimit caps ListByOwner when no limit is given
const DefaultListLimit = 20

var (
	footnotePattern   = regexp.MustCompile(`\[(\d+)\]`)
	inlineLinkPattern = regexp.MustCompile(`\[(\d+)\]\((https?://[^)\s]+)\)`)
)

// Metadata is stored as JSON alongside each report
type Metadata struct {
	Sources    []string `json:"sources"`
	PostCount  int      `json:"post_count"`
	ScheduleID string   `json:"schedule_id,omitempty"`
}

// Link is one resolved footnote of a report
type Link struct {
	Footnote  int        `json:"footnote_number"`
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Source    string     `json:"source"`
	Score     int        `json:"score"`
	Comments  int        `json:"comments"`
	CreatedAt *time.Time `json:"created_utc,omitempty"`
}

// Stored is a report as read back from the database
type Stored struct {
	ID           string    `json:"id"`
	Owner        string    `json:"user_nickname"`
	Query        string    `json:"query_text"`
	Summary      string    `json:"summary"`
	FullReport   string    `json:"full_report"`
	ScheduleID   string    `json:"schedule_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	ReportLength string    `json:"report_length"`
	Metadata     Metadata  `json:"search_metadata"`
	CreatedAt    time.Time `json:"created_at"`
	Links        []Link    `json:"links,omitempty"`
}

// Store implements schedule.ReportStore
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a report store on an opened, migrated database
func NewStore(conn *db.DB) *Store {
	return &Store{db: conn, now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }}
}

// Save writes the report and its cited links in one transaction
func (s *Store) Save(ctx context.Context, r *schedule.Report) (string, error) {
	if r == nil || r.Owner == "" || r.Query == "" {
		return "", errors.NewInvalidRequestError("report needs an owner and a query")
	}

	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	length := r.ReportLength
	if length == "" {
		length = schedule.ReportModerate
	}

	meta, err := json.Marshal(Metadata{Sources: r.Sources, PostCount: r.PostCount, ScheduleID: r.ScheduleID})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode report metadata")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", db.Classify(err, "failed to begin report transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO reports (id, user_nickname, query_text, summary, full_report,
			schedule_id, session_id, report_length, search_metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, r.Owner, r.Query, r.Summary, r.FullReport,
		nullString(r.ScheduleID), nullString(r.SessionID), string(length), string(meta), createdAt,
	)
	if err != nil {
		return "", db.Classify(err, "failed to insert report")
	}

	for _, link := range ExtractLinks(r.FullReport, r.Citations) {
		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO report_links (report_id, footnote_number, url, title, source, score, comments, created_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			id, link.Footnote, link.URL, link.Title, link.Source, link.Score, link.Comments, nullableTime(link.CreatedAt),
		)
		if err != nil {
			return "", db.Classify(err, "failed to insert report link")
		}
	}

	if err := tx.Commit(); err != nil {
		return "", db.Classify(err, "failed to commit report")
	}
	return id, nil
}

// ExtractLinks resolves the footnotes a report actually cites. With citation
// mappings, every cited index that has a mapping becomes a link. Without
// them, inline "[n](url)" references are used.
func ExtractLinks(fullReport string, citations []schedule.Citation) []Link {
	var links []Link
	seen := map[int]bool{}

	if len(citations) > 0 {
		byIndex := make(map[int]schedule.Citation, len(citations))
		for _, c := range citations {
			byIndex[c.Index] = c
		}
		for _, n := range CitedIndexes(fullReport) {
			c, ok := byIndex[n]
			if !ok || c.URL == "" {
				continue
			}
			link := Link{Footnote: n, URL: c.URL, Title: c.Title, Source: c.Source, Score: c.Score, Comments: c.Comments}
			if !c.CreatedAt.IsZero() {
				t := c.CreatedAt.UTC()
				link.CreatedAt = &t
			}
			links = append(links, link)
		}
		return links
	}

	for _, m := range inlineLinkPattern.FindAllStringSubmatch(fullReport, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		links = append(links, Link{Footnote: n, URL: m[2]})
	}
	return links
}

// CitedIndexes returns the distinct footnote numbers used in a report, in
// order of first appearance
func CitedIndexes(content string) []int {
	seen := map[int]bool{}
	var out []int
	for _, m := range footnotePattern.FindAllStringSubmatch(content, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

const reportColumns = `id, user_nickname, query_text, summary, full_report,
	schedule_id, session_id, report_length, search_metadata, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Stored, error) {
	var r Stored
	var scheduleID, sessionID, meta sql.NullString
	if err := row.Scan(&r.ID, &r.Owner, &r.Query, &r.Summary, &r.FullReport,
		&scheduleID, &sessionID, &r.ReportLength, &meta, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.ScheduleID = scheduleID.String
	r.SessionID = sessionID.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
			return nil, errors.Wrapf(err, "report %s has malformed metadata", r.ID)
		}
	}
	return &r, nil
}

// Get returns a report with its links
func (s *Store) Get(ctx context.Context, id string) (*Stored, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+reportColumns+` FROM reports WHERE id = ?`), id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("report %s not found", id)
	}
	if err != nil {
		return nil, db.Classify(err, "failed to get report")
	}

	r.Links, err = s.Links(ctx, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListByOwner returns an owner's reports, newest first, without links
func (s *Store) ListByOwner(ctx context.Context, owner string, limit int) ([]*Stored, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT `+reportColumns+` FROM reports
		WHERE user_nickname = ?
		ORDER BY created_at DESC
		LIMIT ?`), owner, limit)
	if err != nil {
		return nil, db.Classify(err, "failed to list reports")
	}
	defer rows.Close()

	var out []*Stored
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, db.Classify(err, "failed to scan report")
		}
		out = append(out, r)
	}
	return out, db.Classify(rows.Err(), "failed to iterate reports")
}

// Links returns a report's resolved footnotes in footnote order
func (s *Store) Links(ctx context.Context, reportID string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT footnote_number, url, title, source, score, comments, created_utc
		FROM report_links WHERE report_id = ?
		ORDER BY footnote_number`), reportID)
	if err != nil {
		return nil, db.Classify(err, "failed to list report links")
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		var created sql.NullTime
		if err := rows.Scan(&l.Footnote, &l.URL, &l.Title, &l.Source, &l.Score, &l.Comments, &created); err != nil {
			return nil, db.Classify(err, "failed to scan report link")
		}
		if created.Valid {
			t := created.Time.UTC()
			l.CreatedAt = &t
		}
		links = append(links, l)
	}
	return links, db.Classify(rows.Err(), "failed to iterate report links")
}

// Delete removes an owner's report and its links
func (s *Store) Delete(ctx context.Context, id, owner string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return db.Classify(err, "failed to begin delete")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM reports WHERE id = ? AND user_nickname = ?`), id, owner)
	if err != nil {
		return db.Classify(err, "failed to delete report")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("report %s not found for %s", id, owner)
	}
	// SQLite only cascades with foreign_keys on; delete links explicitly
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM report_links WHERE report_id = ?`), id); err != nil {
		return db.Classify(err, "failed to delete report links")
	}
	return db.Classify(tx.Commit(), "failed to commit delete")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
