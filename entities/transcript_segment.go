package entities

import (
	"github.com/google/uuid"
	"time"
)

type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// TranscriptSegment is write-once per chunk; the unique chunk_id makes retried writes no-ops.
type TranscriptSegment struct {
	ID              uuid.UUID    `json:"id" gorm:"type:uuid;primary_key"`
	ChunkID         uuid.UUID    `json:"chunk_id" gorm:"type:uuid;not null;uniqueIndex:idx_transcript_segments_chunk"`
	JobID           uuid.UUID    `json:"job_id" gorm:"type:uuid;not null;index:idx_transcript_segments_job"`
	Text            string       `json:"text" gorm:"type:text;not null"`
	Language        string       `json:"language" gorm:"type:varchar(16)"`
	Confidence      float64      `json:"confidence" gorm:"not null"`
	DurationSeconds float64      `json:"duration_seconds"`
	Words           []WordTiming `json:"words,omitempty" gorm:"type:text;serializer:json"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
}

func (TranscriptSegment) TableName() string {
	return "transcript_segments"
}
