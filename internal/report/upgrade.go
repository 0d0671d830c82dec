package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/somnari/somnari-backend/internal/types"
)

// RequestUpgrade starts a pro upgrade attempt for a week that already
// has a bound base report. While a session is unresolved this is an
// idempotent no-op; no second paid call can be issued.
func (in *Instance) RequestUpgrade(weekKey string, entryIDs []uuid.UUID) {
	if weekKey == "" {
		return
	}
	in.post(func() { in.startUpgrade(weekKey, entryIDs) })
}

// ResolveConsent feeds a consent-gate callback into the loop. Unknown or
// stale session ids are dropped: a completion can never attach to an
// attempt it did not originate from.
func (in *Instance) ResolveConsent(sessionID uuid.UUID, outcome ConsentOutcome, reason string) {
	in.post(func() { in.handleConsent(sessionID, outcome, reason) })
}

func (in *Instance) startUpgrade(weekKey string, entryIDs []uuid.UUID) {
	if s := in.session; s != nil && !s.terminal {
		in.log.Debug("upgrade already in progress, request ignored", "week_key", weekKey, "session_id", s.ID)
		return
	}
	if in.state.current() != PhaseIdle {
		in.log.Debug("upgrade request ignored, instance busy", "phase", in.state.current())
		return
	}
	if in.lastBound[weekKey] == nil {
		in.notify(Event{Outcome: OutcomeFailed, WeekKey: weekKey, Reason: ErrNoBaseReport.Error()})
		return
	}

	s := newUpgradeSession(weekKey, entryIDs)
	if err := in.state.to(PhaseAwaitingConsent); err != nil {
		in.log.Error("upgrade transition rejected", "error", err)
		return
	}
	in.session = s
	in.log.Info("upgrade session opened", "week_key", weekKey, "session_id", s.ID)

	go func() {
		ok, err := in.deps.Cache.AcquireUpgradeLease(in.ctx, in.userID, weekKey, in.opts.UpgradeLeaseTTL)
		if err != nil {
			// The lease only backs the optimistic CTA lock; losing it is
			// not worth aborting the attempt over.
			in.log.Warn("upgrade lease acquisition failed", "week_key", weekKey, "error", err)
			ok = true
		}
		if !ok {
			in.post(func() { in.abandonLeaseLost(s.ID) })
			return
		}
		if gerr := in.deps.Gate.Show(in.ctx, in.userID, s.ID, weekKey); gerr != nil {
			in.post(func() { in.handleConsent(s.ID, ConsentFailed, gerr.Error()) })
		}
	}()
}

func (in *Instance) abandonLeaseLost(sessionID uuid.UUID) {
	s := in.session
	if s == nil || s.ID != sessionID || s.terminal {
		return
	}
	in.log.Debug("upgrade lease held elsewhere, abandoning", "week_key", s.WeekKey, "session_id", s.ID)
	s.terminal = true
	in.session = nil
	if err := in.state.to(PhaseIdle); err != nil {
		in.log.Error("abandon transition rejected", "error", err)
	}
}

func (in *Instance) handleConsent(sessionID uuid.UUID, outcome ConsentOutcome, reason string) {
	s := in.session
	if s == nil || s.ID != sessionID || s.terminal {
		in.log.Debug("consent callback for stale session dropped", "session_id", sessionID, "outcome", outcome)
		return
	}

	switch outcome {
	case ConsentGranted:
		if s.ConsentGranted {
			return
		}
		s.ConsentGranted = true
		in.launchSynthesis(s)

	case ConsentClosed:
		s.UIClosed = true
		// The in-flight request, if any, keeps running; the modal going
		// away destroys nothing.
		if !s.ConsentGranted && !s.InFlight && s.PendingResult == nil {
			in.resolveSession(s, Event{Outcome: OutcomeDeclined, WeekKey: s.WeekKey, Reason: "cancelled"})
		}

	case ConsentFailed:
		if s.InFlight || s.PendingResult != nil {
			// Cost is already committed; surface the decline but let the
			// request finish and apply its result.
			s.GateFailed = true
			in.notify(Event{Outcome: OutcomeDeclined, WeekKey: s.WeekKey, Reason: reason})
			return
		}
		in.resolveSession(s, Event{Outcome: OutcomeDeclined, WeekKey: s.WeekKey, Reason: reason})
	}
}

// launchSynthesis issues the paid call. Only a proven grant gets here.
func (in *Instance) launchSynthesis(s *UpgradeSession) {
	if err := in.state.to(PhaseSynthesizing); err != nil {
		in.log.Error("synthesis transition rejected", "error", err)
		return
	}
	s.InFlight = true
	reqCtx, cancel := context.WithCancel(in.ctx)
	s.cancelRequest = cancel
	s.watchdog = time.AfterFunc(in.opts.WatchdogTimeout, func() {
		in.post(func() { in.handleWatchdog(s.ID) })
	})
	in.log.Info("enhancement request issued", "week_key", s.WeekKey, "session_id", s.ID)

	go func() {
		entries, err := in.deps.Entries.ListByIDs(reqCtx, in.userID, s.EntryIDs)
		if err == nil && len(entries) == 0 {
			err = fmt.Errorf("no entries selected for synthesis")
		}
		var text string
		if err == nil {
			text, err = in.deps.Enhance.Synthesize(reqCtx, in.userID, s.WeekKey, entries)
		}
		in.post(func() { in.handleEnhanceDone(s.ID, text, err) })
	}()
}

func (in *Instance) handleWatchdog(sessionID uuid.UUID) {
	s := in.session
	if s == nil || s.ID != sessionID || s.terminal || !s.InFlight {
		return
	}
	in.log.Warn("enhancement watchdog fired", "week_key", s.WeekKey, "session_id", s.ID)
	s.cancel()
	s.InFlight = false
	in.resolveSession(s, Event{Outcome: OutcomeFailed, WeekKey: s.WeekKey, Reason: ErrTimeout.Error()})
}

func (in *Instance) handleEnhanceDone(sessionID uuid.UUID, text string, err error) {
	s := in.session
	if s == nil || s.ID != sessionID || s.terminal {
		in.log.Debug("enhancement completion for stale session dropped", "session_id", sessionID)
		return
	}
	s.InFlight = false
	s.stopWatchdog()

	if err != nil {
		in.log.Warn("enhancement request failed", "week_key", s.WeekKey, "session_id", s.ID, "error", err)
		in.resolveSession(s, Event{Outcome: OutcomeFailed, WeekKey: s.WeekKey, Reason: err.Error()})
		return
	}

	s.PendingResult = &text
	if err := in.state.to(PhaseApplying); err != nil {
		in.log.Error("apply transition rejected", "error", err)
		in.resolveSession(s, Event{Outcome: OutcomeFailed, WeekKey: s.WeekKey, Reason: err.Error()})
		return
	}
	go func() {
		rec, aerr := in.buildUpgradedRecord(in.ctx, s.WeekKey, text)
		in.post(func() { in.finishApply(s.ID, rec, aerr) })
	}()
}

// buildUpgradedRecord parses the sidecar and persists the pro fields.
// Parsing happens first: an unparsable response must leave the tier
// untouched so the user can retry without the paid call being wasted.
func (in *Instance) buildUpgradedRecord(ctx context.Context, weekKey, raw string) (*types.ReportRecord, error) {
	metrics, narrative, err := ExtractMetrics(raw)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	patch := map[string]any{
		"tier":          types.TierPro,
		"pro_at":        now,
		"pro_metrics":   types.MustJSON(metrics),
		"analysis_text": narrative,
		"stale":         false,
	}
	if err := in.deps.Store.Merge(ctx, in.userID, weekKey, patch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec, err := in.deps.Store.Get(ctx, in.userID, weekKey)
	if err != nil || rec == nil {
		// Store read-back failed after a successful merge; synthesize the
		// bound shape locally so the event still carries the new tier.
		base := in.lastBound[weekKey]
		rec = &types.ReportRecord{UserID: in.userID, WeekKey: weekKey}
		if base != nil {
			clone := *base
			rec = &clone
		}
		rec.Tier = types.TierPro
		rec.ProAt = &now
		rec.ProMetrics = types.MustJSON(metrics)
		rec.AnalysisText = narrative
		rec.Stale = false
	}
	if cerr := in.deps.Cache.PutRecord(ctx, in.userID, weekKey, rec); cerr != nil {
		in.log.Warn("cache write failed on apply", "week_key", weekKey, "error", cerr)
	}
	return rec, nil
}

func (in *Instance) finishApply(sessionID uuid.UUID, rec *types.ReportRecord, err error) {
	s := in.session
	if s == nil || s.ID != sessionID || s.terminal {
		in.log.Debug("apply completion for stale session dropped", "session_id", sessionID)
		return
	}

	if err != nil {
		reason := err.Error()
		if errors.Is(err, ErrUnparsable) {
			in.log.Warn("enhancement response unparsable, tier unchanged", "week_key", s.WeekKey, "session_id", s.ID)
		}
		in.resolveSession(s, Event{Outcome: OutcomeFailed, WeekKey: s.WeekKey, Reason: reason})
		return
	}

	in.lastBound[s.WeekKey] = rec
	in.log.Info("upgrade applied", "week_key", s.WeekKey, "session_id", s.ID, "background", s.UIClosed)
	in.resolveSession(s, Event{
		Outcome:    OutcomeApplied,
		WeekKey:    s.WeekKey,
		Record:     rec,
		Background: s.UIClosed,
	})
}

// resolveSession is the single exit path for a session: exactly one call
// per session, after which every late callback is dropped by the
// session-identity checks.
func (in *Instance) resolveSession(s *UpgradeSession, ev Event) {
	s.terminal = true
	s.stopWatchdog()
	s.cancel()
	in.session = nil
	if err := in.state.to(PhaseIdle); err != nil {
		in.log.Error("resolve transition rejected", "error", err)
	}

	weekKey := s.WeekKey
	go func() {
		if err := in.deps.Cache.ReleaseUpgradeLease(in.ctx, in.userID, weekKey); err != nil {
			in.log.Debug("upgrade lease release failed", "week_key", weekKey, "error", err)
		}
	}()

	in.notify(ev)
}
