package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/report"
	"github.com/somnari/somnari-backend/internal/types"
)

type stubEntryRepo struct {
	mu      sync.Mutex
	created []*types.DreamEntry
	listed  []*types.DreamEntry
	err     error
}

func (s *stubEntryRepo) Create(_ context.Context, _ *gorm.DB, rows []*types.DreamEntry) ([]*types.DreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, r := range rows {
		r.ID = uuid.New()
	}
	s.created = append(s.created, rows...)
	return rows, nil
}

func (s *stubEntryRepo) ListForWeek(_ context.Context, _ uuid.UUID, _ string) ([]*types.DreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listed, s.err
}

func (s *stubEntryRepo) ListByIDs(_ context.Context, _ uuid.UUID, ids []uuid.UUID) ([]*types.DreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.DreamEntry
	for _, e := range s.created {
		for _, id := range ids {
			if e.ID == id {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (s *stubEntryRepo) CountForWeek(_ context.Context, _ uuid.UUID, _ string) (int, error) {
	return 0, nil
}

func (s *stubEntryRepo) SoftDeleteByIDs(_ context.Context, _ *gorm.DB, _ uuid.UUID, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.created[:0]
	for _, e := range s.created {
		deleted := false
		for _, id := range ids {
			if e.ID == id {
				deleted = true
			}
		}
		if !deleted {
			kept = append(kept, e)
		}
	}
	s.created = kept
	return nil
}

type stubReportRepo struct {
	mu         sync.Mutex
	rec        *types.ReportRecord
	getErr     error
	staleWeeks []string
}

func (s *stubReportRepo) Get(_ context.Context, _ uuid.UUID, _ string) (*types.ReportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, s.getErr
}

func (s *stubReportRepo) Merge(_ context.Context, _ uuid.UUID, _ string, _ map[string]any) error {
	return nil
}

func (s *stubReportRepo) MarkStale(_ context.Context, _ uuid.UUID, weekKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleWeeks = append(s.staleWeeks, weekKey)
	return nil
}

func (s *stubReportRepo) staleCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.staleWeeks...)
}

type stubCache struct {
	rec *types.ReportRecord
	err error
}

func (s *stubCache) GetField(context.Context, uuid.UUID, string, string) (string, bool, error) {
	return "", false, nil
}
func (s *stubCache) SetField(context.Context, uuid.UUID, string, string, string) error { return nil }
func (s *stubCache) GetRecord(context.Context, uuid.UUID, string) (*types.ReportRecord, error) {
	return s.rec, s.err
}
func (s *stubCache) PutRecord(context.Context, uuid.UUID, string, *types.ReportRecord) error {
	return nil
}
func (s *stubCache) AcquireUpgradeLease(context.Context, uuid.UUID, string, time.Duration) (bool, error) {
	return true, nil
}
func (s *stubCache) ReleaseUpgradeLease(context.Context, uuid.UUID, string) error { return nil }
func (s *stubCache) Close() error                                                 { return nil }

type stubAggregator struct{}

func (stubAggregator) Aggregate(context.Context, uuid.UUID, string) error { return nil }

type stubEnhancer struct{}

func (stubEnhancer) Synthesize(context.Context, uuid.UUID, string, []*types.DreamEntry) (string, error) {
	return "", errors.New("not wired in handler tests")
}

type stubGate struct{}

func (stubGate) Show(context.Context, uuid.UUID, uuid.UUID, string) error { return nil }

func newTestManager(t *testing.T, entries *stubEntryRepo, reports *stubReportRepo, cache *stubCache) *report.Manager {
	t.Helper()
	m := report.NewManager(report.Deps{
		Entries: entries,
		Store:   reports,
		Cache:   cache,
		Agg:     stubAggregator{},
		Enhance: stubEnhancer{},
		Gate:    stubGate{},
	}, report.NopNotifier{}, report.DefaultOptions(), logger.NewNop())
	t.Cleanup(m.CloseAll)
	return m
}

func authAs(userID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	}
}

func performJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEntryCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	entries := &stubEntryRepo{}
	reports := &stubReportRepo{}
	cache := &stubCache{}
	h := NewEntryHandler(entries, reports, newTestManager(t, entries, reports, cache), logger.NewNop())

	router := gin.New()
	router.POST("/entries", authAs(userID), h.Create)

	dreamtAt := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	w := performJSON(t, router, http.MethodPost, "/entries", gin.H{
		"body":      "  I was flying over the sea  ",
		"mood":      "free",
		"dreamt_at": dreamtAt,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var got types.DreamEntry
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	wantWeek := types.WeekKeyFor(dreamtAt)
	if got.WeekKey != wantWeek {
		t.Errorf("week key = %q, want %q", got.WeekKey, wantWeek)
	}
	if got.Body != "I was flying over the sea" {
		t.Errorf("body = %q, want trimmed", got.Body)
	}
	if stale := reports.staleCalls(); len(stale) != 1 || stale[0] != wantWeek {
		t.Errorf("stale marks = %v, want [%s]", stale, wantWeek)
	}
}

func TestEntryCreateRejectsBlankBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	entries := &stubEntryRepo{}
	reports := &stubReportRepo{}
	h := NewEntryHandler(entries, reports, newTestManager(t, entries, reports, &stubCache{}), logger.NewNop())

	router := gin.New()
	router.POST("/entries", authAs(uuid.New()), h.Create)

	w := performJSON(t, router, http.MethodPost, "/entries", gin.H{"body": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(reports.staleCalls()) != 0 {
		t.Fatalf("report invalidated for a rejected entry")
	}
}

func TestEntryCreateRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	entries := &stubEntryRepo{}
	reports := &stubReportRepo{}
	h := NewEntryHandler(entries, reports, newTestManager(t, entries, reports, &stubCache{}), logger.NewNop())

	router := gin.New()
	router.POST("/entries", h.Create)

	w := performJSON(t, router, http.MethodPost, "/entries", gin.H{"body": "a dream"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestEntryDelete(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	entries := &stubEntryRepo{}
	reports := &stubReportRepo{}
	h := NewEntryHandler(entries, reports, newTestManager(t, entries, reports, &stubCache{}), logger.NewNop())

	entry := &types.DreamEntry{UserID: userID, WeekKey: "2026-W33", Body: "a dream"}
	if _, err := entries.Create(context.Background(), nil, []*types.DreamEntry{entry}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	router := gin.New()
	router.DELETE("/entries/:entryID", authAs(userID), h.Delete)

	w := performJSON(t, router, http.MethodDelete, "/entries/"+entry.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if stale := reports.staleCalls(); len(stale) != 1 || stale[0] != "2026-W33" {
		t.Errorf("stale marks = %v, want [2026-W33]", stale)
	}

	// Gone now.
	w = performJSON(t, router, http.MethodDelete, "/entries/"+entry.ID.String(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", w.Code)
	}
}

func TestReportGetServesStoredRecord(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	entries := &stubEntryRepo{}
	reports := &stubReportRepo{rec: &types.ReportRecord{UserID: userID, WeekKey: "2026-W34", Feeling: "calm", Tier: types.TierBase}}
	cache := &stubCache{}
	h := NewReportHandler(reports, cache, newTestManager(t, entries, reports, cache), logger.NewNop())

	router := gin.New()
	router.GET("/reports/:weekKey", authAs(userID), h.Get)

	w := performJSON(t, router, http.MethodGet, "/reports/2026-W34", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Record    *types.ReportRecord `json:"record"`
		StaleHint bool                `json:"stale_hint"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Record == nil || resp.Record.Feeling != "calm" {
		t.Fatalf("record = %+v", resp.Record)
	}
	if resp.StaleHint {
		t.Fatalf("unexpected stale hint on a healthy store read")
	}
}

func TestReportGetFallsBackToCacheWhenStoreDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	entries := &stubEntryRepo{}
	reports := &stubReportRepo{getErr: errors.New("db down")}
	cache := &stubCache{rec: &types.ReportRecord{UserID: userID, WeekKey: "2026-W34", Feeling: "calm"}}
	h := NewReportHandler(reports, cache, newTestManager(t, entries, reports, cache), logger.NewNop())

	router := gin.New()
	router.GET("/reports/:weekKey", authAs(userID), h.Get)

	w := performJSON(t, router, http.MethodGet, "/reports/2026-W34", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		StaleHint bool `json:"stale_hint"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.StaleHint {
		t.Fatalf("cache fallback missing stale hint: %s", w.Body.String())
	}
}

func TestReportGetStoreDownNoCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	entries := &stubEntryRepo{}
	reports := &stubReportRepo{getErr: errors.New("db down")}
	cache := &stubCache{}
	h := NewReportHandler(reports, cache, newTestManager(t, entries, reports, cache), logger.NewNop())

	router := gin.New()
	router.GET("/reports/:weekKey", authAs(userID), h.Get)

	w := performJSON(t, router, http.MethodGet, "/reports/2026-W34", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestReportReloadAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	entries := &stubEntryRepo{}
	reports := &stubReportRepo{}
	cache := &stubCache{}
	h := NewReportHandler(reports, cache, newTestManager(t, entries, reports, cache), logger.NewNop())

	router := gin.New()
	router.POST("/reports/:weekKey/reload", authAs(userID), h.Reload)

	w := performJSON(t, router, http.MethodPost, "/reports/2026-W34/reload", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
}

func TestReportUpgradeValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	entries := &stubEntryRepo{}
	reports := &stubReportRepo{}
	cache := &stubCache{}
	h := NewReportHandler(reports, cache, newTestManager(t, entries, reports, cache), logger.NewNop())

	router := gin.New()
	router.POST("/reports/:weekKey/upgrade", authAs(userID), h.Upgrade)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"valid", gin.H{"entry_ids": []string{uuid.NewString(), uuid.NewString()}}, http.StatusAccepted},
		{"empty ids", gin.H{"entry_ids": []string{}}, http.StatusBadRequest},
		{"garbage id", gin.H{"entry_ids": []string{"not-a-uuid"}}, http.StatusBadRequest},
		{"missing field", gin.H{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performJSON(t, router, http.MethodPost, "/reports/2026-W34/upgrade", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}
