package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/report"
)

// ConsentResolver receives routed gate callbacks. Implemented by
// report.Manager.
type ConsentResolver interface {
	ResolveConsent(userID uuid.UUID, sessionID uuid.UUID, outcome report.ConsentOutcome, reason string)
}

// ConsentBroker is the consent-gate collaborator. Show registers a
// session; the provider's webhook resolves it later through Resolve.
// Granted and closed are independent signals: both may arrive for one
// session, in either order, and each is forwarded as-is.
type ConsentBroker struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]consentSession
	resolver ConsentResolver
	log      *logger.Logger
}

type consentSession struct {
	userID   uuid.UUID
	weekKey  string
	openedAt time.Time
}

const consentSessionMaxAge = time.Hour

func NewConsentBroker(baseLog *logger.Logger) *ConsentBroker {
	return &ConsentBroker{
		sessions: make(map[uuid.UUID]consentSession),
		log:      baseLog.With("service", "ConsentBroker"),
	}
}

// SetResolver breaks the construction cycle between the broker and the
// report manager; call it once during wiring.
func (b *ConsentBroker) SetResolver(r ConsentResolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolver = r
}

func (b *ConsentBroker) Show(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID, weekKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purgeLocked()
	b.sessions[sessionID] = consentSession{userID: userID, weekKey: weekKey, openedAt: time.Now()}
	b.log.Info("consent session opened", "session_id", sessionID, "user_id", userID, "week_key", weekKey)
	return nil
}

// Resolve routes a webhook callback to the owning user's report
// instance. Returns false for unknown sessions.
func (b *ConsentBroker) Resolve(sessionID uuid.UUID, outcome report.ConsentOutcome, reason string) bool {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	resolver := b.resolver
	if ok && outcome != report.ConsentGranted {
		// granted is not terminal for the gate; closed may still follow.
		delete(b.sessions, sessionID)
	}
	b.mu.Unlock()

	if !ok {
		b.log.Debug("consent callback for unknown session dropped", "session_id", sessionID, "outcome", outcome)
		return false
	}
	if resolver == nil {
		b.log.Error("consent broker has no resolver wired", "session_id", sessionID)
		return false
	}
	resolver.ResolveConsent(s.userID, sessionID, outcome, reason)
	return true
}

func (b *ConsentBroker) purgeLocked() {
	cutoff := time.Now().Add(-consentSessionMaxAge)
	for id, s := range b.sessions {
		if s.openedAt.Before(cutoff) {
			delete(b.sessions, id)
		}
	}
}
