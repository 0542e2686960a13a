package dto

import (
	"github.com/google/uuid"
	"worker-transcribe/constant"
)

// ChunkTask is the queue message for one chunk transcription attempt.
type ChunkTask struct {
	JobId      uuid.UUID `json:"jobId"`
	ChunkIndex int       `json:"chunkIndex"`
}

type CreateJobRequest struct {
	AssetRef uuid.UUID `json:"assetRef" binding:"required"`
	Language string    `json:"language"`
	Priority uint8     `json:"priority" binding:"lte=9"`
}

type CreateJobResponse struct {
	JobId uuid.UUID `json:"jobId"`
}

type RegisterAssetResponse struct {
	AssetId         uuid.UUID `json:"assetId"`
	DurationSeconds float64   `json:"durationSeconds"`
}

type JobProgress struct {
	JobId         uuid.UUID          `json:"jobId"`
	Status        constant.JobStatus `json:"status"`
	SettledChunks int                `json:"settledChunks"`
	TotalChunks   int                `json:"totalChunks"`
	FailedChunks  int                `json:"failedChunks"`
	Percent       float64            `json:"percent"`
}

// ChunkOutcome is what a worker reports for one chunk.
type ChunkOutcome struct {
	Status constant.ChunkStatus `json:"status"`
	Reason string               `json:"reason,omitempty"`
	// RetryCount is the final retry_count; zero keeps the stored value.
	RetryCount int `json:"retryCount,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
