package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/report"
	"github.com/somnari/somnari-backend/internal/services"
)

// ConsentHandler is the gate provider's webhook surface. Each session
// gets exactly one granted/closed/failed resolution path, though granted
// and closed may both arrive over a session's lifetime.
type ConsentHandler struct {
	log    *logger.Logger
	broker *services.ConsentBroker
}

func NewConsentHandler(broker *services.ConsentBroker, baseLog *logger.Logger) *ConsentHandler {
	return &ConsentHandler{
		log:    baseLog.With("handler", "ConsentHandler"),
		broker: broker,
	}
}

type consentCallbackRequest struct {
	Reason string `json:"reason"`
}

func (h *ConsentHandler) Callback(c *gin.Context) {
	sessionID, err := uuid.Parse(strings.TrimSpace(c.Param("sessionID")))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid session id"))
		return
	}

	var outcome report.ConsentOutcome
	switch strings.ToLower(strings.TrimSpace(c.Param("outcome"))) {
	case "granted":
		outcome = report.ConsentGranted
	case "closed":
		outcome = report.ConsentClosed
	case "failed":
		outcome = report.ConsentFailed
	default:
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("unknown outcome"))
		return
	}

	var req consentCallbackRequest
	_ = c.ShouldBindJSON(&req)

	if !h.broker.Resolve(sessionID, outcome, req.Reason) {
		RespondError(c, http.StatusNotFound, "unknown_session", fmt.Errorf("no such consent session"))
		return
	}
	RespondOK(c, gin.H{"session_id": sessionID, "outcome": outcome})
}
