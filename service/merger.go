package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-transcribe/constant"
	"worker-transcribe/entities"
	"worker-transcribe/repository"
)

var errMergeSuperseded = errors.New("job left MERGING during merge")

type Merger interface {
	// Merge assembles the transcript of a job in MERGING and moves it to a terminal
	// status. It returns a nil transcript when the job failed the gap threshold.
	Merge(ctx context.Context, jobId uuid.UUID) (*entities.MergedTranscript, error)
}

type merger struct {
	repo             repository.JobRepository
	failureThreshold float64
}

func (m *merger) Merge(ctx context.Context, jobId uuid.UUID) (*entities.MergedTranscript, error) {
	logger := zerolog.Ctx(ctx).With().Str("job_id", jobId.String()).Logger()

	job, err := m.repo.FindJobById(ctx, jobId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.Status != constant.JobStatusMerging {
		return nil, fmt.Errorf("%w: job %s is %s", ErrMergeIncomplete, jobId, job.Status)
	}

	chunks, err := m.repo.GetChunksByJobId(ctx, jobId)
	if err != nil {
		return nil, err
	}
	if len(chunks) != job.TotalChunks {
		return nil, fmt.Errorf("%w: %d of %d chunks recorded", ErrMergeIncomplete, len(chunks), job.TotalChunks)
	}
	for i, chunk := range chunks {
		if !chunk.Status.IsSettled() {
			return nil, fmt.Errorf("%w: chunk %d is %s", ErrMergeIncomplete, chunk.ChunkIndex, chunk.Status)
		}
		if chunk.ChunkIndex != i {
			return nil, fmt.Errorf("%w: chunk indices not contiguous at %d", ErrMergeIncomplete, i)
		}
	}

	segments, err := m.repo.GetSegmentsByJobId(ctx, jobId)
	if err != nil {
		return nil, err
	}
	byChunk := make(map[uuid.UUID]*entities.TranscriptSegment, len(segments))
	for _, s := range segments {
		byChunk[s.ChunkID] = s
	}

	pieces := make([]Piece, 0, len(chunks))
	gaps := 0
	for _, chunk := range chunks {
		p := Piece{Index: chunk.ChunkIndex, Start: chunk.StartOffset, End: chunk.EndOffset}
		seg, ok := byChunk[chunk.ID]
		if chunk.Status == constant.ChunkStatusSucceeded && ok {
			p.Text = seg.Text
			p.Confidence = seg.Confidence
		} else {
			p.Gap = true
			gaps++
		}
		pieces = append(pieces, p)
	}

	if ratio := float64(gaps) / float64(len(chunks)); ratio > m.failureThreshold {
		msg := fmt.Sprintf("%d of %d chunks failed, above threshold %.2f", gaps, len(chunks), m.failureThreshold)
		ok, err := m.repo.TransitionJob(ctx, jobId, []constant.JobStatus{constant.JobStatusMerging}, constant.JobStatusFailed, map[string]interface{}{
			"error_message": msg,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errMergeSuperseded
		}
		logger.Warn().Int("failed_chunks", gaps).Msg("job failed: too many chunks not transcribed")
		return nil, nil
	}

	result := MergeSegments(pieces)
	transcript := &entities.MergedTranscript{
		JobID:      jobId,
		Text:       result.Text,
		Confidence: result.Confidence,
		Coverage:   result.Coverage,
		GapIndices: result.GapIndices,
		Segments:   result.Segments,
	}
	status := constant.JobStatusCompleted
	if gaps > 0 {
		status = constant.JobStatusCompletedWithErrors
	}

	err = m.repo.Transaction(ctx, func(ctx context.Context) error {
		if err := m.repo.CreateMergedTranscript(ctx, transcript); err != nil {
			return err
		}
		ok, err := m.repo.TransitionJob(ctx, jobId, []constant.JobStatus{constant.JobStatusMerging}, status, nil)
		if err != nil {
			return err
		}
		if !ok {
			return errMergeSuperseded
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to store merged transcript")
		return nil, err
	}

	logger.Info().
		Str("status", string(status)).
		Int("version", transcript.Version).
		Float64("coverage", transcript.Coverage).
		Msg("transcript merged")
	return transcript, nil
}

func NewMerger(repo repository.JobRepository, failureThreshold float64) Merger {
	return &merger{
		repo:             repo,
		failureThreshold: failureThreshold,
	}
}
