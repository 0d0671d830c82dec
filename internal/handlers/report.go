package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	redisclient "github.com/somnari/somnari-backend/internal/clients/redis"
	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/middleware"
	"github.com/somnari/somnari-backend/internal/report"
	"github.com/somnari/somnari-backend/internal/repos"
)

type ReportHandler struct {
	log     *logger.Logger
	reports repos.ReportRecordRepo
	cache   redisclient.ReportCache
	manager *report.Manager
}

func NewReportHandler(reports repos.ReportRecordRepo, cache redisclient.ReportCache, manager *report.Manager, baseLog *logger.Logger) *ReportHandler {
	return &ReportHandler{
		log:     baseLog.With("handler", "ReportHandler"),
		reports: reports,
		cache:   cache,
		manager: manager,
	}
}

// Get serves the stored record, falling back to the local cache shape
// when the store is unavailable so clients can prefill immediately.
func (h *ReportHandler) Get(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user"))
		return
	}
	weekKey := strings.TrimSpace(c.Param("weekKey"))
	if weekKey == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("week key required"))
		return
	}

	rec, err := h.reports.Get(c.Request.Context(), userID, weekKey)
	if err != nil {
		cached, cerr := h.cache.GetRecord(c.Request.Context(), userID, weekKey)
		if cerr != nil || cached == nil {
			RespondError(c, http.StatusServiceUnavailable, "store_unavailable", err)
			return
		}
		RespondOK(c, gin.H{"record": cached, "stale_hint": true})
		return
	}
	if rec == nil {
		RespondOK(c, gin.H{"record": nil})
		return
	}
	RespondOK(c, gin.H{"record": rec})
}

// Reload kicks the debounced rebind; the result arrives over SSE.
func (h *ReportHandler) Reload(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user"))
		return
	}
	weekKey := strings.TrimSpace(c.Param("weekKey"))
	if weekKey == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("week key required"))
		return
	}

	h.manager.Instance(userID).Reload(weekKey)
	RespondAccepted(c, gin.H{"week_key": weekKey})
}

type upgradeRequest struct {
	EntryIDs []string `json:"entry_ids"`
}

// Upgrade opens a pro upgrade attempt. Duplicate requests while one is
// unresolved are no-ops by design.
func (h *ReportHandler) Upgrade(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user"))
		return
	}
	weekKey := strings.TrimSpace(c.Param("weekKey"))
	if weekKey == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("week key required"))
		return
	}

	var req upgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if len(req.EntryIDs) == 0 {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("entry_ids required"))
		return
	}
	ids := make([]uuid.UUID, 0, len(req.EntryIDs))
	for _, raw := range req.EntryIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid entry id %q", raw))
			return
		}
		ids = append(ids, id)
	}

	h.manager.Instance(userID).RequestUpgrade(weekKey, ids)
	RespondAccepted(c, gin.H{"week_key": weekKey})
}
