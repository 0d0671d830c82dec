package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DreamEntry struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index:idx_entry_user_week" json:"user_id"`
	User      *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	WeekKey   string         `gorm:"column:week_key;not null;index:idx_entry_user_week" json:"week_key"`
	Body      string         `gorm:"type:text;not null" json:"body"`
	Mood      string         `gorm:"column:mood;not null;default:''" json:"mood"`
	DreamtAt  time.Time      `gorm:"column:dreamt_at;not null;default:now()" json:"dreamt_at"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (DreamEntry) TableName() string { return "dream_entry" }

// WeekKeyFor buckets a timestamp into an ISO week key, e.g. "2025-W10".
func WeekKeyFor(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
