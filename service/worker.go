package service

import (
	"context"
	"errors"
	"github.com/rs/zerolog"
	"path"
	"time"
	"worker-transcribe/constant"
	"worker-transcribe/dto"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/blob"
	"worker-transcribe/pkg/stt"
	"worker-transcribe/repository"
)

// Worker runs one transcription attempt per delivered chunk task. Errors it returns are
// infrastructure failures the consumer should retry; chunk failures are reported instead.
type Worker interface {
	Process(ctx context.Context, task dto.ChunkTask) error
}

type WorkerOptions struct {
	Prompt          string
	ProviderTimeout time.Duration
	Retry           RetryPolicy
}

type worker struct {
	repo     repository.JobRepository
	store    blob.Store
	provider stt.Provider
	reporter ChunkReporter
	opts     WorkerOptions
}

func (w *worker) Process(ctx context.Context, task dto.ChunkTask) error {
	logger := zerolog.Ctx(ctx).With().
		Str("job_id", task.JobId.String()).
		Int("chunk_index", task.ChunkIndex).
		Logger()
	ctx = logger.WithContext(ctx)

	chunk, err := w.repo.FindChunk(ctx, task.JobId, task.ChunkIndex)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn().Msg("task references unknown chunk, dropping")
			return nil
		}
		return err
	}
	if chunk.Status.IsSettled() {
		logger.Debug().Str("status", string(chunk.Status)).Msg("chunk already settled, dropping duplicate task")
		return nil
	}

	job, err := w.repo.FindJobById(ctx, task.JobId)
	if err != nil {
		return err
	}
	if job.Status != constant.JobStatusProcessing {
		logger.Info().Str("job_status", string(job.Status)).Msg("job not processing, dropping task")
		return nil
	}

	claimed, err := w.reporter.MarkChunkProcessing(ctx, chunk)
	if err != nil {
		return err
	}
	if !claimed {
		// redelivery of a task whose attempt never finished; anything else is not ours
		chunk, err = w.repo.FindChunk(ctx, task.JobId, task.ChunkIndex)
		if err != nil {
			return err
		}
		if chunk.Status != constant.ChunkStatusProcessing {
			logger.Debug().Str("status", string(chunk.Status)).Msg("chunk moved on, dropping task")
			return nil
		}
	}
	chunk.Status = constant.ChunkStatusProcessing

	logger.Info().Int("attempt", chunk.RetryCount+1).Msg("transcribing chunk")
	audio, err := w.store.Get(ctx, chunk.ObjectName)
	if err != nil {
		return w.handleFailure(ctx, chunk, &StorageError{Op: "get", Key: chunk.ObjectName, Err: err})
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if w.opts.ProviderTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, w.opts.ProviderTimeout)
	}
	resp, err := w.provider.Transcribe(callCtx, stt.Request{
		Audio:    audio,
		FileName: path.Base(chunk.ObjectName),
		Format:   "wav",
		Language: job.Language,
		Prompt:   w.opts.Prompt,
	})
	cancel()
	if err != nil {
		return w.handleFailure(ctx, chunk, err)
	}

	current, err := w.repo.FindJobById(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.Status == constant.JobStatusProcessing {
		inserted, err := w.repo.UpsertSegment(ctx, segmentFromResponse(chunk, resp))
		if err != nil {
			return err
		}
		if !inserted {
			logger.Debug().Msg("segment already stored")
		}
	}

	return w.reporter.ReportChunkOutcome(ctx, chunk.JobID, chunk.ChunkIndex, dto.ChunkOutcome{
		Status: constant.ChunkStatusSucceeded,
	})
}

func (w *worker) handleFailure(ctx context.Context, chunk *entities.AudioChunk, cause error) error {
	logger := zerolog.Ctx(ctx)
	if ctx.Err() != nil {
		// shutting down; the task is redelivered and the chunk stays claimed
		return ctx.Err()
	}

	if !IsRetryable(cause) {
		logger.Warn().Err(cause).Msg("chunk failed permanently")
		return w.reporter.ReportChunkOutcome(ctx, chunk.JobID, chunk.ChunkIndex, dto.ChunkOutcome{
			Status: constant.ChunkStatusFailed,
			Reason: cause.Error(),
		})
	}

	next := chunk.RetryCount + 1
	if w.opts.Retry.ShouldRetry(next) {
		return w.reporter.RequeueChunk(ctx, chunk, w.opts.Retry.Delay(next), cause.Error())
	}

	logger.Warn().Err(cause).Int("attempts", next).Msg("chunk retries exhausted")
	return w.reporter.ReportChunkOutcome(ctx, chunk.JobID, chunk.ChunkIndex, dto.ChunkOutcome{
		Status:     constant.ChunkStatusExhausted,
		Reason:     cause.Error(),
		RetryCount: next,
	})
}

func segmentFromResponse(chunk *entities.AudioChunk, resp *stt.Response) *entities.TranscriptSegment {
	words := make([]entities.WordTiming, 0, len(resp.Words))
	for _, word := range resp.Words {
		words = append(words, entities.WordTiming{Word: word.Word, Start: word.Start, End: word.End})
	}
	confidence := resp.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	duration := resp.Duration
	if duration <= 0 {
		duration = chunk.Duration()
	}
	return &entities.TranscriptSegment{
		ChunkID:         chunk.ID,
		JobID:           chunk.JobID,
		Text:            resp.Text,
		Language:        resp.Language,
		Confidence:      confidence,
		DurationSeconds: duration,
		Words:           words,
	}
}

func NewWorker(repo repository.JobRepository, store blob.Store, provider stt.Provider, reporter ChunkReporter, opts WorkerOptions) Worker {
	return &worker{
		repo:     repo,
		store:    store,
		provider: provider,
		reporter: reporter,
		opts:     opts,
	}
}
