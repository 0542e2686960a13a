package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"os"
	"path/filepath"
	"time"
	"worker-transcribe/constant"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/blob"
	"worker-transcribe/pkg/media"
)

// Window is a half-open interval [Start, End) of the source asset.
type Window struct {
	Index int
	Start time.Duration
	End   time.Duration
}

func (w Window) Length() time.Duration {
	return w.End - w.Start
}

// PlanWindows splits [0, duration) into windows of length chunk, each starting overlap
// before the previous one ends. The last window is truncated at duration.
func PlanWindows(duration, chunk, overlap time.Duration) ([]Window, error) {
	if duration <= 0 {
		return nil, &ValidationError{Field: "duration", Message: "asset duration must be positive"}
	}
	if chunk <= 0 {
		return nil, &ValidationError{Field: "chunk_duration", Message: "must be positive"}
	}
	if overlap < 0 || overlap >= chunk {
		return nil, &ValidationError{Field: "overlap", Message: "must be in [0, chunk_duration)"}
	}

	step := chunk - overlap
	var windows []Window
	for i := 0; ; i++ {
		start := time.Duration(i) * step
		end := start + chunk
		if end > duration {
			end = duration
		}
		windows = append(windows, Window{Index: i, Start: start, End: end})
		if end >= duration {
			break
		}
	}
	return windows, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Millisecond)
}

func ChunkObjectName(jobId uuid.UUID, index int) string {
	return fmt.Sprintf("transcriptions/%s/chunks/chunk_%04d.wav", jobId, index)
}

type Chunker interface {
	Chunk(ctx context.Context, job *entities.TranscriptionJob, asset *entities.AudioAsset) ([]*entities.AudioChunk, error)
	// Discard removes the blobs of chunks that were never committed.
	Discard(ctx context.Context, chunks []*entities.AudioChunk)
}

type chunker struct {
	store    blob.Store
	media    media.Processor
	chunk    time.Duration
	overlap  time.Duration
	tempRoot string
}

// Chunk slices the asset into 16 kHz mono WAV windows and uploads each one. Rows are
// returned, not persisted. On failure every uploaded chunk is removed again.
func (c *chunker) Chunk(ctx context.Context, job *entities.TranscriptionJob, asset *entities.AudioAsset) (chunks []*entities.AudioChunk, err error) {
	windows, err := PlanWindows(secondsToDuration(asset.DurationSeconds), c.chunk, c.overlap)
	if err != nil {
		return nil, err
	}

	tempDir, err := os.MkdirTemp(c.tempRoot, "chunk-"+job.ID.String()+"-")
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create temp directory")
		return nil, errors.Join(ErrNonRetryable, err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source"+filepath.Ext(asset.ObjectName))
	zerolog.Ctx(ctx).Info().Str("object", asset.ObjectName).Msg("downloading source asset")
	if err = c.store.GetFile(ctx, asset.ObjectName, sourcePath); err != nil {
		return nil, &StorageError{Op: "get", Key: asset.ObjectName, Err: err}
	}

	var uploaded []string
	defer func() {
		if err != nil {
			c.removeObjects(ctx, uploaded)
		}
	}()

	for _, w := range windows {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		outPath := filepath.Join(tempDir, fmt.Sprintf("chunk_%04d.wav", w.Index))
		if err = c.media.Slice(ctx, sourcePath, outPath, w.Start, w.Length()); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Int("chunk_index", w.Index).Msg("failed to slice chunk")
			return nil, err
		}

		data, readErr := os.ReadFile(outPath)
		if readErr != nil {
			err = readErr
			return nil, err
		}
		_ = os.Remove(outPath)

		key := ChunkObjectName(job.ID, w.Index)
		if _, err = c.store.Put(ctx, key, data, "audio/wav"); err != nil {
			err = &StorageError{Op: "put", Key: key, Err: err}
			return nil, err
		}
		uploaded = append(uploaded, key)

		chunks = append(chunks, &entities.AudioChunk{
			JobID:       job.ID,
			ChunkIndex:  w.Index,
			StartOffset: w.Start.Seconds(),
			EndOffset:   w.End.Seconds(),
			ObjectName:  key,
			Status:      constant.ChunkStatusPending,
		})
	}

	zerolog.Ctx(ctx).Info().Int("chunk_count", len(chunks)).Msg("asset chunked")
	return chunks, nil
}

func (c *chunker) Discard(ctx context.Context, chunks []*entities.AudioChunk) {
	keys := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		keys = append(keys, chunk.ObjectName)
	}
	c.removeObjects(ctx, keys)
}

func (c *chunker) removeObjects(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := c.store.Remove(ctx, key); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("object", key).Msg("failed to remove chunk object")
		}
	}
}

// NewChunker slices under tempRoot; an empty tempRoot uses the system temp directory.
func NewChunker(store blob.Store, processor media.Processor, chunk, overlap time.Duration, tempRoot string) Chunker {
	return &chunker{
		store:    store,
		media:    processor,
		chunk:    chunk,
		overlap:  overlap,
		tempRoot: tempRoot,
	}
}
