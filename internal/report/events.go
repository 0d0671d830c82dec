package report

import (
	"github.com/google/uuid"

	"github.com/somnari/somnari-backend/internal/types"
)

type Outcome string

const (
	OutcomeEmpty       Outcome = "empty"
	OutcomeEmptyPrompt Outcome = "empty_prompt"
	OutcomeBound       Outcome = "bound"
	OutcomeFailed      Outcome = "failed"
	OutcomeApplied     Outcome = "applied"
	OutcomeDeclined    Outcome = "declined"
)

// Event is what the loop emits toward the UI. For OutcomeBound, StaleHint
// marks a fallback bind from cached data after a store or aggregation
// failure. Background is set when the result lands after the consent UI
// already closed, so the client should show it out-of-band.
type Event struct {
	Outcome    Outcome             `json:"outcome"`
	WeekKey    string              `json:"week_key"`
	Record     *types.ReportRecord `json:"record,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	StaleHint  bool                `json:"stale_hint,omitempty"`
	Background bool                `json:"background,omitempty"`
}

type Notifier interface {
	Notify(userID uuid.UUID, ev Event)
}

// NopNotifier drops everything.
type NopNotifier struct{}

func (NopNotifier) Notify(uuid.UUID, Event) {}
