// Package notify records owner notifications and hands them to push delivery.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/keywatch/db"
	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/logger"
	"github.com/teranos/keywatch/pulse/schedule"
	"github.com/teranos/keywatch/sym"
)

// ListLimit caps ListForOwner
const ListLimit = 50

// Record is a stored notification
type Record struct {
	ID      string         `json:"id"`
	Owner   string         `json:"user_nickname"`
	Title   string         `json:"title"`
	Body    string         `json:"message"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"data,omitempty"`
	IsRead  bool           `json:"is_read"`
	SentAt  time.Time      `json:"sent_at"`
}

// Publisher forwards a stored notification to a delivery channel
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

// Emitter implements schedule.Notifier. Every notification is stored first
// and then published; neither failure reaches the caller.
type Emitter struct {
	db        *db.DB
	publisher Publisher
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewEmitter creates an emitter. publisher may be nil.
func NewEmitter(conn *db.DB, publisher Publisher, log *zap.SugaredLogger) *Emitter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Emitter{
		db:        conn,
		publisher: publisher,
		logger:    log.Named("notify").With(logger.FieldSymbol, sym.Notify),
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Emit implements schedule.Notifier
func (e *Emitter) Emit(ctx context.Context, n schedule.Notification) {
	rec, err := e.Store(ctx, n)
	if err != nil {
		e.logger.Warnw("failed to store notification",
			logger.FieldOwner, n.Owner,
			"type", n.Type,
			logger.FieldError, err,
		)
		return
	}

	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, *rec); err != nil {
		e.logger.Warnw("failed to publish notification",
			"notification_id", rec.ID,
			logger.FieldOwner, rec.Owner,
			logger.FieldError, err,
		)
		return
	}
	e.logger.Debugw("notification published", "notification_id", rec.ID, "type", rec.Type)
}

// Store persists a notification and returns the stored record
func (e *Emitter) Store(ctx context.Context, n schedule.Notification) (*Record, error) {
	if n.Owner == "" {
		return nil, errors.NewInvalidRequestError("notification has no owner")
	}

	rec := &Record{
		ID:      uuid.NewString(),
		Owner:   n.Owner,
		Title:   n.Title,
		Body:    n.Body,
		Type:    n.Type,
		Payload: n.Payload,
		SentAt:  e.now(),
	}

	var payload sql.NullString
	if len(n.Payload) > 0 {
		raw, err := json.Marshal(n.Payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode notification payload")
		}
		payload = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := e.db.ExecContext(ctx, e.db.Rebind(`
		INSERT INTO notifications (id, user_nickname, title, body, type, payload, is_read, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Owner, rec.Title, rec.Body, rec.Type, payload, false, rec.SentAt,
	)
	if err != nil {
		return nil, db.Classify(err, "failed to insert notification")
	}
	return rec, nil
}

// ListForOwner returns an owner's most recent notifications, newest first
func (e *Emitter) ListForOwner(ctx context.Context, owner string, unreadOnly bool) ([]Record, error) {
	query := `SELECT id, user_nickname, title, body, type, payload, is_read, sent_at
		FROM notifications WHERE user_nickname = ?`
	args := []any{owner}
	if unreadOnly {
		query += ` AND is_read = ?`
		args = append(args, false)
	}
	query += ` ORDER BY sent_at DESC LIMIT ?`
	args = append(args, ListLimit)

	rows, err := e.db.QueryContext(ctx, e.db.Rebind(query), args...)
	if err != nil {
		return nil, db.Classify(err, "failed to list notifications")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var payload sql.NullString
		if err := rows.Scan(&r.ID, &r.Owner, &r.Title, &r.Body, &r.Type, &payload, &r.IsRead, &r.SentAt); err != nil {
			return nil, db.Classify(err, "failed to scan notification")
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &r.Payload); err != nil {
				return nil, errors.Wrapf(err, "notification %s has malformed payload", r.ID)
			}
		}
		out = append(out, r)
	}
	return out, db.Classify(rows.Err(), "failed to iterate notifications")
}

// MarkRead flags one of an owner's notifications as read
func (e *Emitter) MarkRead(ctx context.Context, id, owner string) error {
	res, err := e.db.ExecContext(ctx, e.db.Rebind(
		`UPDATE notifications SET is_read = ? WHERE id = ? AND user_nickname = ?`), true, id, owner)
	if err != nil {
		return db.Classify(err, "failed to mark notification read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("notification %s not found for %s", id, owner)
	}
	return nil
}
