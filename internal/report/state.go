package report

import "fmt"

// Phase is the single tagged state of an instance. One phase at a time
// replaces the scattered isReloading/proInFlight/gateInProgress flags;
// ambiguous combinations cannot be represented.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseReloading       Phase = "reloading"
	PhaseAwaitingConsent Phase = "awaiting_consent"
	PhaseSynthesizing    Phase = "synthesizing"
	PhaseApplying        Phase = "applying"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:            {PhaseReloading, PhaseAwaitingConsent},
	PhaseReloading:       {PhaseIdle},
	PhaseAwaitingConsent: {PhaseSynthesizing, PhaseIdle},
	PhaseSynthesizing:    {PhaseApplying, PhaseIdle},
	PhaseApplying:        {PhaseIdle},
}

// CanTransition reports whether from -> to is a legal phase change.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type stateMachine struct {
	phase Phase
}

func newStateMachine() *stateMachine {
	return &stateMachine{phase: PhaseIdle}
}

func (m *stateMachine) current() Phase { return m.phase }

func (m *stateMachine) to(next Phase) error {
	if !CanTransition(m.phase, next) {
		return fmt.Errorf("illegal phase transition %s -> %s", m.phase, next)
	}
	m.phase = next
	return nil
}
