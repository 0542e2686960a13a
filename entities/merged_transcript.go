package entities

import (
	"github.com/google/uuid"
	"time"
)

type MergedSegment struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Gap   bool    `json:"gap"`
}

type MergedTranscript struct {
	ID         uuid.UUID       `json:"id" gorm:"type:uuid;primary_key"`
	JobID      uuid.UUID       `json:"job_id" gorm:"type:uuid;not null;uniqueIndex:idx_merged_transcripts_job_version"`
	Version    int             `json:"version" gorm:"type:integer;not null;uniqueIndex:idx_merged_transcripts_job_version"`
	Text       string          `json:"text" gorm:"type:text;not null"`
	Confidence float64         `json:"confidence" gorm:"not null"`
	Coverage   float64         `json:"coverage" gorm:"not null"`
	GapIndices []int           `json:"gap_indices" gorm:"type:text;serializer:json"`
	Segments   []MergedSegment `json:"segments" gorm:"type:text;serializer:json"`
	CreatedAt  time.Time       `json:"created_at" gorm:"not null"`
}

func (MergedTranscript) TableName() string {
	return "merged_transcripts"
}
