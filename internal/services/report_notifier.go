package services

import (
	"github.com/google/uuid"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/report"
	"github.com/somnari/somnari-backend/internal/sse"
)

// ReportNotifier pushes report loop events onto the user's SSE channel.
// A Background apply (result landed after the consent UI closed) rides
// the same event; clients render it as a toast instead of in the modal.
type ReportNotifier struct {
	hub *sse.SSEHub
	log *logger.Logger
}

func NewReportNotifier(hub *sse.SSEHub, baseLog *logger.Logger) *ReportNotifier {
	return &ReportNotifier{
		hub: hub,
		log: baseLog.With("service", "ReportNotifier"),
	}
}

func (n *ReportNotifier) Notify(userID uuid.UUID, ev report.Event) {
	var event sse.SSEEvent
	switch ev.Outcome {
	case report.OutcomeEmpty:
		event = sse.SSEEventReportEmpty
	case report.OutcomeEmptyPrompt:
		event = sse.SSEEventReportEmptyPrompt
	case report.OutcomeBound:
		event = sse.SSEEventReportBound
	case report.OutcomeFailed:
		event = sse.SSEEventReportFailed
	case report.OutcomeApplied:
		event = sse.SSEEventUpgradeApplied
	case report.OutcomeDeclined:
		event = sse.SSEEventUpgradeDeclined
	default:
		n.log.Warn("unknown report outcome", "outcome", ev.Outcome)
		return
	}
	n.hub.Broadcast(sse.SSEMessage{
		Channel: sse.UserChannel(userID),
		Event:   event,
		Data:    ev,
	})
}
