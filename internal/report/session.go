package report

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UpgradeSession is the ephemeral state of one upgrade attempt. At most
// one exists per instance and it never outlives its resolution. Fields
// are owned by the instance loop; nothing here is persisted.
type UpgradeSession struct {
	ID       uuid.UUID
	WeekKey  string
	EntryIDs []uuid.UUID

	ConsentGranted bool
	UIClosed       bool
	GateFailed     bool
	InFlight       bool
	PendingResult  *string

	terminal      bool
	watchdog      *time.Timer
	cancelRequest context.CancelFunc
}

func newUpgradeSession(weekKey string, entryIDs []uuid.UUID) *UpgradeSession {
	return &UpgradeSession{
		ID:       uuid.New(),
		WeekKey:  weekKey,
		EntryIDs: entryIDs,
	}
}

func (s *UpgradeSession) stopWatchdog() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

func (s *UpgradeSession) cancel() {
	if s.cancelRequest != nil {
		s.cancelRequest()
		s.cancelRequest = nil
	}
}
