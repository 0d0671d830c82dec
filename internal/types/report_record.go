package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TierBase = "base"
	TierPro  = "pro"
)

// ProMetrics is the machine-readable sidecar extracted from a paid
// synthesis response. Present on a record iff Tier == TierPro.
type ProMetrics struct {
	Positive   float64 `json:"positive"`
	Neutral    float64 `json:"neutral"`
	Negative   float64 `json:"negative"`
	DreamsUsed int     `json:"dreams_used"`
}

// ReportRecord is the durable weekly report, one row per (user, week).
type ReportRecord struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_report_user_week,unique" json:"user_id"`
	User          *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	WeekKey       string         `gorm:"column:week_key;not null;index:idx_report_user_week,unique" json:"week_key"`
	Feeling       string         `gorm:"column:feeling;not null;default:''" json:"feeling"`
	Keywords      datatypes.JSON `gorm:"type:jsonb;column:keywords" json:"keywords"`
	AnalysisText  string         `gorm:"type:text;column:analysis_text" json:"analysis_text"`
	EmotionLabels datatypes.JSON `gorm:"type:jsonb;column:emotion_labels" json:"emotion_labels"`
	EmotionDist   datatypes.JSON `gorm:"type:jsonb;column:emotion_dist" json:"emotion_dist"`
	ThemeLabels   datatypes.JSON `gorm:"type:jsonb;column:theme_labels" json:"theme_labels"`
	ThemeDist     datatypes.JSON `gorm:"type:jsonb;column:theme_dist" json:"theme_dist"`
	ProMetrics    datatypes.JSON `gorm:"type:jsonb;column:pro_metrics" json:"pro_metrics,omitempty"`
	SourceCount   int            `gorm:"column:source_count;not null;default:0" json:"source_count"`
	LastRebuiltAt *time.Time     `gorm:"column:last_rebuilt_at" json:"last_rebuilt_at,omitempty"`
	Tier          string         `gorm:"column:tier;not null;default:'base'" json:"tier"`
	ProAt         *time.Time     `gorm:"column:pro_at" json:"pro_at,omitempty"`
	Stale         bool           `gorm:"column:stale;not null;default:false" json:"stale"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ReportRecord) TableName() string { return "report_record" }

func (r *ReportRecord) KeywordList() []string      { return decodeStrings(r.Keywords) }
func (r *ReportRecord) EmotionLabelList() []string { return decodeStrings(r.EmotionLabels) }
func (r *ReportRecord) EmotionDistValues() []float64 {
	return decodeFloats(r.EmotionDist)
}
func (r *ReportRecord) ThemeLabelList() []string { return decodeStrings(r.ThemeLabels) }
func (r *ReportRecord) ThemeDistValues() []float64 {
	return decodeFloats(r.ThemeDist)
}

// HasProMetrics reports whether a decodable sidecar is stored on the row.
func (r *ReportRecord) HasProMetrics() bool {
	return r.ProMetricsValue() != nil
}

func (r *ReportRecord) ProMetricsValue() *ProMetrics {
	if len(r.ProMetrics) == 0 || string(r.ProMetrics) == "null" {
		return nil
	}
	var pm ProMetrics
	if err := json.Unmarshal(r.ProMetrics, &pm); err != nil {
		return nil
	}
	return &pm
}

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func decodeFloats(raw datatypes.JSON) []float64 {
	if len(raw) == 0 {
		return nil
	}
	var out []float64
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// MustJSON marshals v into a JSON column value. Marshal failures collapse
// to null, which readers treat as absent.
func MustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(b)
}
