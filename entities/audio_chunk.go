package entities

import (
	"github.com/google/uuid"
	"time"
	"worker-transcribe/constant"
)

type AudioChunk struct {
	ID          uuid.UUID            `json:"id" gorm:"type:uuid;primary_key"`
	JobID       uuid.UUID            `json:"job_id" gorm:"type:uuid;not null;uniqueIndex:idx_audio_chunks_job_index"`
	ChunkIndex  int                  `json:"chunk_index" gorm:"not null;uniqueIndex:idx_audio_chunks_job_index"`
	StartOffset float64              `json:"start_offset" gorm:"not null"`
	EndOffset   float64              `json:"end_offset" gorm:"not null"`
	ObjectName  string               `json:"object_name" gorm:"type:varchar(500);not null"`
	Status      constant.ChunkStatus `json:"status" gorm:"type:varchar(20);not null;check:status IN ('PENDING', 'PROCESSING', 'SUCCEEDED', 'FAILED', 'EXHAUSTED')"`
	RetryCount  int                  `json:"retry_count" gorm:"type:integer;not null"`
	LastError   *string              `json:"last_error" gorm:"type:text"`
	CreatedAt   time.Time            `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time            `json:"updated_at" gorm:"not null"`
}

func (AudioChunk) TableName() string {
	return "audio_chunks"
}

// Duration is the length of the chunk window in seconds.
func (c AudioChunk) Duration() float64 {
	return c.EndOffset - c.StartOffset
}
