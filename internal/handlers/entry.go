package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/middleware"
	"github.com/somnari/somnari-backend/internal/report"
	"github.com/somnari/somnari-backend/internal/repos"
	"github.com/somnari/somnari-backend/internal/types"
)

type EntryHandler struct {
	log     *logger.Logger
	entries repos.DreamEntryRepo
	reports repos.ReportRecordRepo
	manager *report.Manager
}

func NewEntryHandler(entries repos.DreamEntryRepo, reports repos.ReportRecordRepo, manager *report.Manager, baseLog *logger.Logger) *EntryHandler {
	return &EntryHandler{
		log:     baseLog.With("handler", "EntryHandler"),
		entries: entries,
		reports: reports,
		manager: manager,
	}
}

type createEntryRequest struct {
	Body     string     `json:"body"`
	Mood     string     `json:"mood"`
	DreamtAt *time.Time `json:"dreamt_at"`
}

func (h *EntryHandler) Create(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user"))
		return
	}

	var req createEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("entry body is required"))
		return
	}

	dreamtAt := time.Now()
	if req.DreamtAt != nil {
		dreamtAt = *req.DreamtAt
	}
	weekKey := types.WeekKeyFor(dreamtAt)

	entry := &types.DreamEntry{
		UserID:   userID,
		WeekKey:  weekKey,
		Body:     strings.TrimSpace(req.Body),
		Mood:     strings.TrimSpace(req.Mood),
		DreamtAt: dreamtAt,
	}
	rows, err := h.entries.Create(c.Request.Context(), nil, []*types.DreamEntry{entry})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}

	// Any entry mutation invalidates the week's report and nudges a
	// debounced rebind.
	if err := h.reports.MarkStale(c.Request.Context(), userID, weekKey); err != nil {
		h.log.Warn("failed to mark report stale", "week_key", weekKey, "error", err)
	}
	h.manager.Instance(userID).Reload(weekKey)

	RespondOK(c, rows[0])
}

func (h *EntryHandler) Delete(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user"))
		return
	}
	entryID, err := uuid.Parse(strings.TrimSpace(c.Param("entryID")))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid entry id"))
		return
	}

	rows, err := h.entries.ListByIDs(c.Request.Context(), userID, []uuid.UUID{entryID})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	if len(rows) == 0 {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("no such entry"))
		return
	}
	weekKey := rows[0].WeekKey

	if err := h.entries.SoftDeleteByIDs(c.Request.Context(), nil, userID, []uuid.UUID{entryID}); err != nil {
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}

	if err := h.reports.MarkStale(c.Request.Context(), userID, weekKey); err != nil {
		h.log.Warn("failed to mark report stale", "week_key", weekKey, "error", err)
	}
	h.manager.Instance(userID).Reload(weekKey)

	RespondOK(c, gin.H{"id": entryID, "week_key": weekKey})
}

func (h *EntryHandler) ListWeek(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user"))
		return
	}
	weekKey := strings.TrimSpace(c.Query("week"))
	if weekKey == "" {
		weekKey = types.WeekKeyFor(time.Now())
	}

	entries, err := h.entries.ListForWeek(c.Request.Context(), userID, weekKey)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"week_key": weekKey, "entries": entries})
}
