package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/teranos/keywatch/logger"
	"github.com/teranos/keywatch/pulse/schedule"
)

// scheduleActions maps action path segments to requested statuses
var scheduleActions = map[string]schedule.Status{
	"pause":  schedule.StatusPaused,
	"resume": schedule.StatusActive,
	"cancel": schedule.StatusCancelled,
}

// CreateScheduleRequest is the body of POST /api/schedules
type CreateScheduleRequest struct {
	Owner               string `json:"user_nickname"`
	Keyword             string `json:"keyword"`
	IntervalMinutes     int    `json:"interval_minutes"`
	ReportLength        string `json:"report_length"`
	TotalReports        int    `json:"total_reports"`
	NotificationEnabled bool   `json:"notification_enabled"`
}

// HandleHealth answers liveness probes
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleListSchedules lists an owner's schedules, newest first
func (s *Server) HandleListSchedules(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	schedules, err := s.deps.Schedules.ListByOwner(r.Context(), owner)
	if err != nil {
		writeStoreError(w, s.logger, err, "Failed to list schedules")
		return
	}
	if schedules == nil {
		schedules = []*schedule.Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// HandleCreateSchedule creates an active schedule
func (s *Server) HandleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	sched := &schedule.Schedule{
		Owner:               req.Owner,
		Keyword:             req.Keyword,
		IntervalMinutes:     req.IntervalMinutes,
		ReportLength:        schedule.ReportLength(req.ReportLength),
		TotalReports:        req.TotalReports,
		NotificationEnabled: req.NotificationEnabled,
	}
	if err := s.deps.Schedules.Create(r.Context(), sched); err != nil {
		writeStoreError(w, s.logger, err, "Failed to create schedule")
		return
	}

	logger.AddPulseSymbol(logger.FromContext(r.Context(), s.logger)).Infow("Created schedule",
		logger.FieldScheduleID, sched.ID,
		logger.FieldOwner, sched.Owner,
		logger.FieldKeyword, sched.Keyword,
		"interval_minutes", sched.IntervalMinutes,
		"total_reports", sched.TotalReports,
		logger.FieldNextRunAt, sched.NextRunAt,
	)
	writeJSON(w, http.StatusCreated, sched)
}

// HandleGetSchedule returns one schedule
func (s *Server) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.deps.Schedules.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, s.logger, err, "Failed to get schedule")
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// HandleScheduleAction pauses, resumes or cancels a schedule
func (s *Server) HandleScheduleAction(w http.ResponseWriter, r *http.Request) {
	id, action := r.PathValue("id"), r.PathValue("action")
	to, ok := scheduleActions[action]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown schedule action "+strconv.Quote(action))
		return
	}

	sched, err := s.deps.Schedules.UpdateStatus(r.Context(), id, to)
	if err != nil {
		writeStoreError(w, s.logger, err, "Failed to update schedule")
		return
	}

	logger.AddPulseSymbol(logger.FromContext(r.Context(), s.logger)).Infow("Schedule status changed",
		logger.FieldScheduleID, id,
		"action", action,
		logger.FieldStatus, sched.Status,
	)
	writeJSON(w, http.StatusOK, sched)
}

// HandleDeleteSchedule cancels a schedule, or deletes it when it is already
// cancelled or force=true
func (s *Server) HandleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	force := queryBool(r, "force")

	deleted, err := s.deps.Schedules.Delete(r.Context(), id, force)
	if err != nil {
		writeStoreError(w, s.logger, err, "Failed to delete schedule")
		return
	}

	logger.AddPulseSymbol(logger.FromContext(r.Context(), s.logger)).Infow("Schedule removed",
		logger.FieldScheduleID, id,
		"force", force,
		"deleted", deleted,
	)
	status := string(schedule.StatusCancelled)
	if deleted {
		status = "deleted"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedule_id": id,
		"deleted":     deleted,
		"status":      status,
	})
}

// HandlePulseStats returns ticker statistics
func (s *Server) HandlePulseStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "pulse is not running in this process")
		return
	}
	stats := s.deps.Stats.GetStats()
	stats["ws_clients"] = s.hub.ClientCount()
	stats["broadcast_drops"] = s.hub.Drops()
	writeJSON(w, http.StatusOK, stats)
}

// HandleListReports lists an owner's reports, newest first
func (s *Server) HandleListReports(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusServiceUnavailable, "reports are not available")
		return
	}
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	reports, err := s.deps.Reports.ListByOwner(r.Context(), owner, limit)
	if err != nil {
		writeStoreError(w, s.logger, err, "Failed to list reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

// HandleGetReport returns a report with its links
func (s *Server) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusServiceUnavailable, "reports are not available")
		return
	}
	rep, err := s.deps.Reports.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, s.logger, err, "Failed to get report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// HandleListNotifications lists an owner's notifications, newest first
func (s *Server) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifications == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications are not available")
		return
	}
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	records, err := s.deps.Notifications.ListForOwner(r.Context(), owner, queryBool(r, "unread"))
	if err != nil {
		writeStoreError(w, s.logger, err, "Failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": records,
		"count":         len(records),
	})
}

// HandleMarkNotification marks one of an owner's notifications read
func (s *Server) HandleMarkNotification(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifications == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications are not available")
		return
	}
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Notifications.MarkRead(r.Context(), id, owner); err != nil {
		writeStoreError(w, s.logger, err, "Failed to mark notification read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "is_read": true})
}
