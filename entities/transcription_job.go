package entities

import (
	"github.com/google/uuid"
	"time"
	"worker-transcribe/constant"
)

// JobMetadataVersion is the current schema version of JobMetadata.
const JobMetadataVersion = 1

// JobMetadata is the only extensible field on a job. Readers must check SchemaVersion
// before interpreting fields added after version 1.
type JobMetadata struct {
	SchemaVersion int               `json:"schema_version"`
	RequestedBy   string            `json:"requested_by,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
}

type TranscriptionJob struct {
	ID                   uuid.UUID          `json:"id" gorm:"type:uuid;primary_key"`
	AssetID              uuid.UUID          `json:"asset_id" gorm:"type:uuid;not null;index:idx_transcription_jobs_asset"`
	Language             string             `json:"language" gorm:"type:varchar(16)"`
	Priority             uint8              `json:"priority" gorm:"type:smallint;not null"`
	Status               constant.JobStatus `json:"status" gorm:"type:varchar(32);not null;index:idx_transcription_jobs_status"`
	TotalChunks          int                `json:"total_chunks" gorm:"type:integer;not null"`
	SettledChunks        int                `json:"settled_chunks" gorm:"type:integer;not null"`
	FailedChunks         int                `json:"failed_chunks" gorm:"type:integer;not null"`
	ChunkDurationSeconds float64            `json:"chunk_duration_seconds"`
	OverlapSeconds       float64            `json:"overlap_seconds"`
	ErrorMessage         *string            `json:"error_message" gorm:"type:text"`
	DeadlineAt           *time.Time         `json:"deadline_at"`
	Metadata             JobMetadata        `json:"metadata" gorm:"type:text;serializer:json"`
	CreatedAt            time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time          `json:"updated_at" gorm:"not null"`
}

func (TranscriptionJob) TableName() string {
	return "transcription_jobs"
}
