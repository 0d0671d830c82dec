package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/types"
)

type fakeEntries struct {
	mu      sync.Mutex
	counts  map[string]int
	entries []*types.DreamEntry
	err     error
}

func (f *fakeEntries) CountForWeek(_ context.Context, _ uuid.UUID, weekKey string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[weekKey], nil
}

func (f *fakeEntries) ListByIDs(_ context.Context, _ uuid.UUID, ids []uuid.UUID) ([]*types.DreamEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.entries) == 0 {
		out := make([]*types.DreamEntry, 0, len(ids))
		for range ids {
			out = append(out, &types.DreamEntry{Body: "placeholder"})
		}
		return out, nil
	}
	return f.entries, nil
}

type fakeStore struct {
	mu         sync.Mutex
	recs       map[string]*types.ReportRecord
	getErr     error
	getCalls   int
	mergeCalls int
	// getEntered signals each Get before it blocks on getRelease.
	getEntered chan struct{}
	getRelease chan struct{}
}

func (f *fakeStore) Get(ctx context.Context, _ uuid.UUID, weekKey string) (*types.ReportRecord, error) {
	f.mu.Lock()
	f.getCalls++
	entered := f.getEntered
	release := f.getRelease
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if rec, ok := f.recs[weekKey]; ok {
		clone := *rec
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeStore) Merge(_ context.Context, userID uuid.UUID, weekKey string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mergeCalls++
	if f.recs == nil {
		f.recs = make(map[string]*types.ReportRecord)
	}
	rec, ok := f.recs[weekKey]
	if !ok {
		rec = &types.ReportRecord{UserID: userID, WeekKey: weekKey, Tier: types.TierBase}
		f.recs[weekKey] = rec
	}
	applyPatch(rec, patch)
	return nil
}

func (f *fakeStore) record(weekKey string) *types.ReportRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recs[weekKey]; ok {
		clone := *rec
		return &clone
	}
	return nil
}

func applyPatch(rec *types.ReportRecord, patch map[string]any) {
	for key, val := range patch {
		switch key {
		case "feeling":
			rec.Feeling = val.(string)
		case "analysis_text":
			rec.AnalysisText = val.(string)
		case "keywords":
			rec.Keywords = val.(datatypes.JSON)
		case "emotion_labels":
			rec.EmotionLabels = val.(datatypes.JSON)
		case "emotion_dist":
			rec.EmotionDist = val.(datatypes.JSON)
		case "theme_labels":
			rec.ThemeLabels = val.(datatypes.JSON)
		case "theme_dist":
			rec.ThemeDist = val.(datatypes.JSON)
		case "pro_metrics":
			rec.ProMetrics = val.(datatypes.JSON)
		case "source_count":
			rec.SourceCount = val.(int)
		case "tier":
			rec.Tier = val.(string)
		case "stale":
			rec.Stale = val.(bool)
		case "pro_at":
			t := val.(time.Time)
			rec.ProAt = &t
		case "last_rebuilt_at":
			t := val.(time.Time)
			rec.LastRebuiltAt = &t
		}
	}
}

type fakeCache struct {
	mu           sync.Mutex
	rec          *types.ReportRecord
	getErr       error
	putCalls     int
	leaseOK      bool
	leaseCalls   int
	releaseCalls int
}

func (f *fakeCache) GetRecord(_ context.Context, _ uuid.UUID, _ string) (*types.ReportRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.rec == nil {
		return nil, nil
	}
	clone := *f.rec
	return &clone, nil
}

func (f *fakeCache) PutRecord(_ context.Context, _ uuid.UUID, _ string, rec *types.ReportRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	clone := *rec
	f.rec = &clone
	return nil
}

func (f *fakeCache) AcquireUpgradeLease(_ context.Context, _ uuid.UUID, _ string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaseCalls++
	return f.leaseOK, nil
}

func (f *fakeCache) ReleaseUpgradeLease(_ context.Context, _ uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	return nil
}

func (f *fakeCache) puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls
}

type fakeAggregator struct {
	mu          sync.Mutex
	calls       int
	err         error
	onAggregate func()
}

func (f *fakeAggregator) Aggregate(_ context.Context, _ uuid.UUID, _ string) error {
	f.mu.Lock()
	f.calls++
	fn := f.onAggregate
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if fn != nil {
		fn()
	}
	return nil
}

func (f *fakeAggregator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEnhancer struct {
	mu      sync.Mutex
	calls   int
	text    string
	err     error
	release chan struct{} // nil means respond immediately
}

func (f *fakeEnhancer) Synthesize(ctx context.Context, _ uuid.UUID, _ string, _ []*types.DreamEntry) (string, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	text, err := f.text, f.err
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

func (f *fakeEnhancer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGate struct {
	mu       sync.Mutex
	calls    int
	sessions []uuid.UUID
	err      error
}

func (f *fakeGate) Show(_ context.Context, _ uuid.UUID, sessionID uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sessions = append(f.sessions, sessionID)
	return f.err
}

func (f *fakeGate) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGate) lastSession() (uuid.UUID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return uuid.Nil, false
	}
	return f.sessions[len(f.sessions)-1], true
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 64)}
}

func (r *recorder) Notify(_ uuid.UUID, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *recorder) waitFor(t *testing.T, outcome Outcome, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.Outcome == outcome {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event; saw %v", outcome, r.outcomes())
			return Event{}
		}
	}
}

func (r *recorder) waitForAny(t *testing.T, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for any event")
		return Event{}
	}
}

func (r *recorder) outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Outcome
	}
	return out
}

func (r *recorder) countOf(outcome Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Outcome == outcome {
			n++
		}
	}
	return n
}

type harness struct {
	userID   uuid.UUID
	entries  *fakeEntries
	store    *fakeStore
	cache    *fakeCache
	agg      *fakeAggregator
	enhancer *fakeEnhancer
	gate     *fakeGate
	rec      *recorder
	inst     *Instance
}

func testOptions() Options {
	return Options{
		MinEntries:       2,
		DebounceWindow:   20 * time.Millisecond,
		EmptyPromptDelay: 30 * time.Millisecond,
		UpgradeLeaseTTL:  100 * time.Millisecond,
		WatchdogTimeout:  2 * time.Second,
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		userID:   uuid.New(),
		entries:  &fakeEntries{counts: map[string]int{}},
		store:    &fakeStore{recs: map[string]*types.ReportRecord{}},
		cache:    &fakeCache{leaseOK: true},
		agg:      &fakeAggregator{},
		enhancer: &fakeEnhancer{},
		gate:     &fakeGate{},
		rec:      newRecorder(),
	}
	h.inst = NewInstance(h.userID, Deps{
		Entries: h.entries,
		Store:   h.store,
		Cache:   h.cache,
		Agg:     h.agg,
		Enhance: h.enhancer,
		Gate:    h.gate,
	}, h.rec, opts, logger.NewNop())
	t.Cleanup(h.inst.Close)
	return h
}

func fullRecord(userID uuid.UUID, weekKey string, sourceCount int) *types.ReportRecord {
	return &types.ReportRecord{
		UserID:        userID,
		WeekKey:       weekKey,
		Feeling:       "calm",
		AnalysisText:  "A quiet week of floating dreams.",
		Keywords:      types.MustJSON([]string{"water", "floating"}),
		EmotionLabels: types.MustJSON([]string{"calm", "fear"}),
		EmotionDist:   types.MustJSON([]float64{70, 30}),
		ThemeLabels:   types.MustJSON([]string{"water", "flight"}),
		ThemeDist:     types.MustJSON([]float64{55, 45}),
		SourceCount:   sourceCount,
		Tier:          types.TierBase,
	}
}

// bindWeek seeds a fresh record and drives one reload to completion so
// upgrade tests start from a bound base report.
func (h *harness) bindWeek(t *testing.T, weekKey string, count int) {
	t.Helper()
	h.entries.mu.Lock()
	h.entries.counts[weekKey] = count
	h.entries.mu.Unlock()
	h.store.mu.Lock()
	h.store.recs[weekKey] = fullRecord(h.userID, weekKey, count)
	h.store.mu.Unlock()

	h.inst.Reload(weekKey)
	h.rec.waitFor(t, OutcomeBound, 2*time.Second)
}

// startUpgrade opens a session and returns its gate-visible id.
func (h *harness) startUpgrade(t *testing.T, weekKey string) uuid.UUID {
	t.Helper()
	before := h.gate.callCount()
	h.inst.RequestUpgrade(weekKey, []uuid.UUID{uuid.New()})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.gate.callCount() > before {
			if id, ok := h.gate.lastSession(); ok {
				return id
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("consent gate was never shown")
	return uuid.Nil
}

var errBoom = errors.New("boom")

const validEnhanceText = "Your dreams this week circled around water and release.\n" +
	"metrics-marker: {\"kpi\":{\"positive\":55.5,\"neutral\":24.5,\"negative\":20},\"used\":4}\n"
