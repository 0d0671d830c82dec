package report

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/types"
)

// Instance owns all report state for one user. Every external completion
// (debounce timer, store read, aggregation, gate callback, enhancement
// response, watchdog) is posted as a closure onto one loop goroutine, so
// state is only ever touched from a single logical thread. Blocking IO
// runs off-loop and posts its result back.
type Instance struct {
	userID   uuid.UUID
	opts     Options
	deps     Deps
	notifier Notifier
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	done   chan struct{}

	state *stateMachine

	// reload state, loop-owned
	pendingWeek      string
	reloadScheduled  bool
	debounce         *time.Timer
	emptyPromptTimer *time.Timer
	emptyPromptShown map[string]bool
	lastBound        map[string]*types.ReportRecord

	// at most one upgrade attempt at a time
	session *UpgradeSession
}

func NewInstance(userID uuid.UUID, deps Deps, notifier Notifier, opts Options, baseLog *logger.Logger) *Instance {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	in := &Instance{
		userID:           userID,
		opts:             opts.withDefaults(),
		deps:             deps,
		notifier:         notifier,
		log:              baseLog.With("component", "ReportInstance", "user_id", userID),
		ctx:              ctx,
		cancel:           cancel,
		cmds:             make(chan func(), 16),
		done:             make(chan struct{}),
		state:            newStateMachine(),
		emptyPromptShown: make(map[string]bool),
		lastBound:        make(map[string]*types.ReportRecord),
	}
	go in.loop()
	return in
}

// Close tears the instance down: the loop exits, pending timers are
// disarmed and any in-flight enhancement request is cancelled by context.
// Persisted records are left exactly as they are.
func (in *Instance) Close() {
	in.cancel()
	<-in.done
}

func (in *Instance) Phase() Phase {
	ch := make(chan Phase, 1)
	in.post(func() { ch <- in.state.current() })
	select {
	case p := <-ch:
		return p
	case <-in.ctx.Done():
		return PhaseIdle
	}
}

func (in *Instance) post(fn func()) {
	select {
	case in.cmds <- fn:
	case <-in.ctx.Done():
	}
}

func (in *Instance) loop() {
	defer close(in.done)
	for {
		select {
		case <-in.ctx.Done():
			in.shutdown()
			return
		case fn := <-in.cmds:
			fn()
		}
	}
}

func (in *Instance) shutdown() {
	if in.debounce != nil {
		in.debounce.Stop()
		in.debounce = nil
	}
	if in.emptyPromptTimer != nil {
		in.emptyPromptTimer.Stop()
		in.emptyPromptTimer = nil
	}
	if s := in.session; s != nil {
		s.stopWatchdog()
		s.cancel()
	}
}

func (in *Instance) notify(ev Event) {
	in.notifier.Notify(in.userID, ev)
}

// Reload requests a rebind of the week's report. Calls inside the
// debounce window coalesce to a single execution using the most recent
// week key.
func (in *Instance) Reload(weekKey string) {
	if weekKey == "" {
		return
	}
	in.post(func() { in.scheduleReload(weekKey) })
}

func (in *Instance) scheduleReload(weekKey string) {
	in.pendingWeek = weekKey
	if in.reloadScheduled {
		return
	}
	in.reloadScheduled = true
	in.debounce = time.AfterFunc(in.opts.DebounceWindow, func() {
		in.post(in.fireReload)
	})
}

func (in *Instance) fireReload() {
	in.reloadScheduled = false
	in.debounce = nil
	if in.state.current() != PhaseIdle {
		in.log.Debug("reload ignored, instance busy", "phase", in.state.current())
		return
	}
	week := in.pendingWeek
	if err := in.state.to(PhaseReloading); err != nil {
		in.log.Error("reload transition rejected", "error", err)
		return
	}
	go func() {
		res := in.runReload(in.ctx, week)
		in.post(func() { in.finishReload(week, res) })
	}()
}

type reloadResult struct {
	outcome   Outcome
	rec       *types.ReportRecord
	staleHint bool
	err       error
}

// runReload performs the threshold check, freshness evaluation and the
// bounded rebuild, in that order. It does IO only; loop state is not
// touched here. The cache write for a successful bind happens before the
// result is posted, so Bound is never emitted ahead of it.
func (in *Instance) runReload(ctx context.Context, weekKey string) reloadResult {
	count, err := in.deps.Entries.CountForWeek(ctx, in.userID, weekKey)
	if err != nil {
		return reloadResult{outcome: OutcomeFailed, err: ErrStoreUnavailable}
	}
	if count < in.opts.MinEntries {
		return reloadResult{outcome: OutcomeEmpty, err: ErrInsufficientData}
	}

	rebuilt := false
	for {
		rec, err := in.deps.Store.Get(ctx, in.userID, weekKey)
		if err != nil {
			return in.fallbackToCache(ctx, weekKey, ErrStoreUnavailable)
		}
		if !needsRebuild(rec, count) {
			if cerr := in.deps.Cache.PutRecord(ctx, in.userID, weekKey, rec); cerr != nil {
				in.log.Warn("cache write failed on bind", "week_key", weekKey, "error", cerr)
			}
			return reloadResult{outcome: OutcomeBound, rec: rec}
		}
		// The aggregator must converge in one pass; a second stale read
		// means it wrote an inconsistent record, so fail instead of
		// looping forever.
		if rebuilt {
			in.log.Error("aggregator did not converge", "week_key", weekKey)
			return reloadResult{outcome: OutcomeFailed, err: ErrAggregationFailed}
		}
		rebuilt = true
		if aerr := in.deps.Agg.Aggregate(ctx, in.userID, weekKey); aerr != nil {
			in.log.Warn("aggregation failed, trying cached fallback", "week_key", weekKey, "error", aerr)
			return in.fallbackToCache(ctx, weekKey, ErrAggregationFailed)
		}
		if count, err = in.deps.Entries.CountForWeek(ctx, in.userID, weekKey); err != nil {
			return reloadResult{outcome: OutcomeFailed, err: ErrStoreUnavailable}
		}
	}
}

func (in *Instance) fallbackToCache(ctx context.Context, weekKey string, cause error) reloadResult {
	cached, err := in.deps.Cache.GetRecord(ctx, in.userID, weekKey)
	if err != nil || cached == nil {
		return reloadResult{outcome: OutcomeFailed, err: cause}
	}
	return reloadResult{outcome: OutcomeBound, rec: cached, staleHint: true}
}

func needsRebuild(rec *types.ReportRecord, liveCount int) bool {
	if rec == nil {
		return true
	}
	hasPro := rec.HasProMetrics()
	hasBasic := rec.Feeling != "" && (rec.AnalysisText != "" || hasPro)
	hasDist := (len(rec.EmotionDistValues()) > 0 || hasPro) && len(rec.ThemeDistValues()) > 0
	return !hasBasic || !hasDist || rec.Stale || rec.SourceCount != liveCount
}

func (in *Instance) finishReload(weekKey string, res reloadResult) {
	if err := in.state.to(PhaseIdle); err != nil {
		in.log.Error("reload finish transition rejected", "error", err)
	}
	switch res.outcome {
	case OutcomeEmpty:
		in.notify(Event{Outcome: OutcomeEmpty, WeekKey: weekKey, Reason: ErrInsufficientData.Error()})
		in.scheduleEmptyPrompt(weekKey)
	case OutcomeBound:
		in.lastBound[weekKey] = res.rec
		in.cancelEmptyPrompt()
		in.notify(Event{Outcome: OutcomeBound, WeekKey: weekKey, Record: res.rec, StaleHint: res.staleHint})
	case OutcomeFailed:
		reason := ""
		if res.err != nil {
			reason = res.err.Error()
		}
		in.notify(Event{Outcome: OutcomeFailed, WeekKey: weekKey, Reason: reason})
	}
}

// scheduleEmptyPrompt arms the single-shot "keep journaling" nudge. It is
// shown at most once per week key and never while a newer timer pends.
func (in *Instance) scheduleEmptyPrompt(weekKey string) {
	if in.emptyPromptShown[weekKey] || in.emptyPromptTimer != nil {
		return
	}
	in.emptyPromptTimer = time.AfterFunc(in.opts.EmptyPromptDelay, func() {
		in.post(func() {
			in.emptyPromptTimer = nil
			if in.emptyPromptShown[weekKey] {
				return
			}
			in.emptyPromptShown[weekKey] = true
			in.notify(Event{Outcome: OutcomeEmptyPrompt, WeekKey: weekKey})
		})
	})
}

func (in *Instance) cancelEmptyPrompt() {
	if in.emptyPromptTimer != nil {
		in.emptyPromptTimer.Stop()
		in.emptyPromptTimer = nil
	}
}
