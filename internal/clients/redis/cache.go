package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/types"
)

// Cache field names. These are the logical keys the report loop persists
// for offline-first prefill; one redis hash per (user, week).
const (
	FieldLastFeeling   = "lastFeeling"
	FieldLastKeywords  = "lastKeywords"
	FieldLastAnalysis  = "lastAnalysis"
	FieldEmotionLabels = "emotionLabels"
	FieldEmotionDist   = "emotionDist"
	FieldThemeLabels   = "themeLabels"
	FieldThemeDist     = "themeDist"
	FieldProMetrics    = "proMetrics"
)

type ReportCache interface {
	GetField(ctx context.Context, userID uuid.UUID, weekKey, field string) (string, bool, error)
	SetField(ctx context.Context, userID uuid.UUID, weekKey, field, value string) error
	GetRecord(ctx context.Context, userID uuid.UUID, weekKey string) (*types.ReportRecord, error)
	PutRecord(ctx context.Context, userID uuid.UUID, weekKey string, rec *types.ReportRecord) error
	AcquireUpgradeLease(ctx context.Context, userID uuid.UUID, weekKey string, ttl time.Duration) (bool, error)
	ReleaseUpgradeLease(ctx context.Context, userID uuid.UUID, weekKey string) error
	Close() error
}

type reportCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewReportCache(log *logger.Logger) (ReportCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &reportCache{
		log: log.With("service", "ReportCache"),
		rdb: rdb,
	}, nil
}

func recordKey(userID uuid.UUID, weekKey string) string {
	return fmt.Sprintf("report:%s:%s", userID, weekKey)
}

func leaseKey(userID uuid.UUID, weekKey string) string {
	return fmt.Sprintf("upgrade_lease:%s:%s", userID, weekKey)
}

func (c *reportCache) GetField(ctx context.Context, userID uuid.UUID, weekKey, field string) (string, bool, error) {
	if c == nil || c.rdb == nil {
		return "", false, fmt.Errorf("report cache not initialized")
	}
	val, err := c.rdb.HGet(ctx, recordKey(userID, weekKey), field).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *reportCache) SetField(ctx context.Context, userID uuid.UUID, weekKey, field, value string) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("report cache not initialized")
	}
	return c.rdb.HSet(ctx, recordKey(userID, weekKey), field, value).Err()
}

// GetRecord assembles the last cached report fields into a record.
// Returns (nil, nil) when nothing has been cached for the week.
func (c *reportCache) GetRecord(ctx context.Context, userID uuid.UUID, weekKey string) (*types.ReportRecord, error) {
	if c == nil || c.rdb == nil {
		return nil, fmt.Errorf("report cache not initialized")
	}
	fields, err := c.rdb.HGetAll(ctx, recordKey(userID, weekKey)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &types.ReportRecord{
		UserID:       userID,
		WeekKey:      weekKey,
		Feeling:      fields[FieldLastFeeling],
		AnalysisText: fields[FieldLastAnalysis],
	}
	if v := fields[FieldLastKeywords]; v != "" {
		rec.Keywords = []byte(v)
	}
	if v := fields[FieldEmotionLabels]; v != "" {
		rec.EmotionLabels = []byte(v)
	}
	if v := fields[FieldEmotionDist]; v != "" {
		rec.EmotionDist = []byte(v)
	}
	if v := fields[FieldThemeLabels]; v != "" {
		rec.ThemeLabels = []byte(v)
	}
	if v := fields[FieldThemeDist]; v != "" {
		rec.ThemeDist = []byte(v)
	}
	if v := fields[FieldProMetrics]; v != "" {
		rec.ProMetrics = []byte(v)
		rec.Tier = types.TierPro
	} else {
		rec.Tier = types.TierBase
	}
	return rec, nil
}

func (c *reportCache) PutRecord(ctx context.Context, userID uuid.UUID, weekKey string, rec *types.ReportRecord) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("report cache not initialized")
	}
	if rec == nil {
		return nil
	}
	vals := map[string]string{
		FieldLastFeeling:   rec.Feeling,
		FieldLastAnalysis:  rec.AnalysisText,
		FieldLastKeywords:  jsonField(rec.Keywords),
		FieldEmotionLabels: jsonField(rec.EmotionLabels),
		FieldEmotionDist:   jsonField(rec.EmotionDist),
		FieldThemeLabels:   jsonField(rec.ThemeLabels),
		FieldThemeDist:     jsonField(rec.ThemeDist),
	}
	if rec.HasProMetrics() {
		vals[FieldProMetrics] = jsonField(rec.ProMetrics)
	}
	return c.rdb.HSet(ctx, recordKey(userID, weekKey), vals).Err()
}

// AcquireUpgradeLease takes the short-lived pendingUpgradeUntil lock for a
// week. Returns false when another attempt already holds it.
func (c *reportCache) AcquireUpgradeLease(ctx context.Context, userID uuid.UUID, weekKey string, ttl time.Duration) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, fmt.Errorf("report cache not initialized")
	}
	until := time.Now().Add(ttl).UnixMilli()
	return c.rdb.SetNX(ctx, leaseKey(userID, weekKey), until, ttl).Result()
}

func (c *reportCache) ReleaseUpgradeLease(ctx context.Context, userID uuid.UUID, weekKey string) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("report cache not initialized")
	}
	return c.rdb.Del(ctx, leaseKey(userID, weekKey)).Err()
}

func (c *reportCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func jsonField(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if !json.Valid(raw) {
		return ""
	}
	return string(raw)
}
