package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/types"
)

type DreamEntryRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.DreamEntry) ([]*types.DreamEntry, error)
	ListForWeek(ctx context.Context, userID uuid.UUID, weekKey string) ([]*types.DreamEntry, error)
	ListByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]*types.DreamEntry, error)
	CountForWeek(ctx context.Context, userID uuid.UUID, weekKey string) (int, error)
	SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, userID uuid.UUID, ids []uuid.UUID) error
}

type dreamEntryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDreamEntryRepo(db *gorm.DB, baseLog *logger.Logger) DreamEntryRepo {
	return &dreamEntryRepo{db: db, log: baseLog.With("repo", "DreamEntryRepo")}
}

func (r *dreamEntryRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.DreamEntry) ([]*types.DreamEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(rows) == 0 {
		return []*types.DreamEntry{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *dreamEntryRepo) ListForWeek(ctx context.Context, userID uuid.UUID, weekKey string) ([]*types.DreamEntry, error) {
	var results []*types.DreamEntry
	if userID == uuid.Nil || weekKey == "" {
		return results, nil
	}

	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND week_key = ?", userID, weekKey).
		Order("dreamt_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *dreamEntryRepo) ListByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]*types.DreamEntry, error) {
	var results []*types.DreamEntry
	if userID == uuid.Nil || len(ids) == 0 {
		return results, nil
	}

	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *dreamEntryRepo) CountForWeek(ctx context.Context, userID uuid.UUID, weekKey string) (int, error) {
	if userID == uuid.Nil || weekKey == "" {
		return 0, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&types.DreamEntry{}).
		Where("user_id = ? AND week_key = ?", userID, weekKey).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *dreamEntryRepo) SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, userID uuid.UUID, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if userID == uuid.Nil || len(ids) == 0 {
		return nil
	}

	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Delete(&types.DreamEntry{}).Error; err != nil {
		return err
	}
	return nil
}
