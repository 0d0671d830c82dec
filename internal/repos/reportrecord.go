package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/types"
)

type ReportRecordRepo interface {
	// Get returns (nil, nil) when no record exists for the week yet.
	Get(ctx context.Context, userID uuid.UUID, weekKey string) (*types.ReportRecord, error)
	// Merge upserts only the given columns, creating the row if absent.
	// Legacy rows with missing fields read back as zero values.
	Merge(ctx context.Context, userID uuid.UUID, weekKey string, patch map[string]any) error
	MarkStale(ctx context.Context, userID uuid.UUID, weekKey string) error
}

type reportRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReportRecordRepo(db *gorm.DB, baseLog *logger.Logger) ReportRecordRepo {
	return &reportRecordRepo{db: db, log: baseLog.With("repo", "ReportRecordRepo")}
}

func (r *reportRecordRepo) Get(ctx context.Context, userID uuid.UUID, weekKey string) (*types.ReportRecord, error) {
	if userID == uuid.Nil || weekKey == "" {
		return nil, nil
	}

	var rec types.ReportRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND week_key = ?", userID, weekKey).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *reportRecordRepo) Merge(ctx context.Context, userID uuid.UUID, weekKey string, patch map[string]any) error {
	if userID == uuid.Nil || weekKey == "" {
		return errors.New("missing user or week key")
	}
	if len(patch) == 0 {
		return nil
	}

	rec := types.ReportRecord{UserID: userID, WeekKey: weekKey}
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND week_key = ?", userID, weekKey).
		FirstOrCreate(&rec).Error; err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).
		Model(&types.ReportRecord{}).
		Where("user_id = ? AND week_key = ?", userID, weekKey).
		Updates(patch).Error; err != nil {
		return err
	}
	return nil
}

func (r *reportRecordRepo) MarkStale(ctx context.Context, userID uuid.UUID, weekKey string) error {
	if userID == uuid.Nil || weekKey == "" {
		return nil
	}

	// No row yet means nothing to invalidate; the first reload will build it.
	err := r.db.WithContext(ctx).
		Model(&types.ReportRecord{}).
		Where("user_id = ? AND week_key = ?", userID, weekKey).
		Update("stale", true).Error
	if err != nil {
		return err
	}
	return nil
}
