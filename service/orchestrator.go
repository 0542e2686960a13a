package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"regexp"
	"time"
	"worker-transcribe/constant"
	"worker-transcribe/dto"
	"worker-transcribe/entities"
	"worker-transcribe/repository"
)

var (
	languagePattern     = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z]{2,4})?$`)
	errJobCancelled     = errors.New("job cancelled while chunking")
	unsettledStatuses   = []constant.ChunkStatus{constant.ChunkStatusPending, constant.ChunkStatusProcessing}
	cancellableStatuses = []constant.JobStatus{constant.JobStatusPending, constant.JobStatusChunking, constant.JobStatusProcessing}
)

// TaskQueue publishes chunk tasks; a positive delay parks the task before delivery.
type TaskQueue interface {
	Enqueue(ctx context.Context, task dto.ChunkTask, priority uint8, delay time.Duration) error
}

// ChunkReporter is the part of the orchestrator a worker talks to.
type ChunkReporter interface {
	MarkChunkProcessing(ctx context.Context, chunk *entities.AudioChunk) (bool, error)
	RequeueChunk(ctx context.Context, chunk *entities.AudioChunk, delay time.Duration, reason string) error
	ReportChunkOutcome(ctx context.Context, jobId uuid.UUID, chunkIndex int, outcome dto.ChunkOutcome) error
}

type Orchestrator interface {
	ChunkReporter
	CreateJob(ctx context.Context, req dto.CreateJobRequest) (uuid.UUID, error)
	CancelJob(ctx context.Context, jobId uuid.UUID) error
	Sweep(ctx context.Context, now time.Time) error
}

type OrchestratorOptions struct {
	ChunkDuration   time.Duration
	OverlapDuration time.Duration
	MergeTimeout    time.Duration
	MergeRetryAfter time.Duration
	CancelGrace     time.Duration
}

type orchestrator struct {
	repo    repository.JobRepository
	chunker Chunker
	queue   TaskQueue
	merger  Merger
	opts    OrchestratorOptions
	now     func() time.Time
}

func (o *orchestrator) CreateJob(ctx context.Context, req dto.CreateJobRequest) (uuid.UUID, error) {
	if req.Language != "" && req.Language != "auto" && !languagePattern.MatchString(req.Language) {
		return uuid.Nil, &ValidationError{Field: "language", Message: fmt.Sprintf("unsupported language code %q", req.Language)}
	}
	if req.Priority > constant.MaxTaskPriority {
		return uuid.Nil, &ValidationError{Field: "priority", Message: "must be between 0 and 9"}
	}
	asset, err := o.repo.FindAssetById(ctx, req.AssetRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, &ValidationError{Field: "assetRef", Message: "asset not found"}
		}
		return uuid.Nil, err
	}
	if _, err := PlanWindows(secondsToDuration(asset.DurationSeconds), o.opts.ChunkDuration, o.opts.OverlapDuration); err != nil {
		return uuid.Nil, err
	}

	language := req.Language
	if language == "auto" {
		language = ""
	}
	job := &entities.TranscriptionJob{
		AssetID:              asset.ID,
		Language:             language,
		Priority:             req.Priority,
		Status:               constant.JobStatusPending,
		ChunkDurationSeconds: o.opts.ChunkDuration.Seconds(),
		OverlapSeconds:       o.opts.OverlapDuration.Seconds(),
		Metadata:             entities.JobMetadata{SchemaVersion: entities.JobMetadataVersion},
	}
	if err := o.repo.CreateJob(ctx, job); err != nil {
		return uuid.Nil, err
	}

	ctx = zerolog.Ctx(ctx).With().Str("job_id", job.ID.String()).Logger().WithContext(ctx)
	zerolog.Ctx(ctx).Info().Str("asset_id", asset.ID.String()).Uint8("priority", job.Priority).Msg("job created")

	ok, err := o.repo.TransitionJob(ctx, job.ID, []constant.JobStatus{constant.JobStatusPending}, constant.JobStatusChunking, nil)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return job.ID, o.finalizeCancellation(ctx, job.ID)
	}

	chunks, err := o.chunker.Chunk(ctx, job, asset)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to chunk asset")
		o.failChunking(ctx, job.ID, err)
		return uuid.Nil, fmt.Errorf("%w: %w", ErrChunkingFailed, err)
	}

	err = o.repo.Transaction(ctx, func(ctx context.Context) error {
		if err := o.repo.CreateChunks(ctx, chunks); err != nil {
			return err
		}
		deadline := o.now().Add(o.opts.MergeTimeout)
		ok, err := o.repo.TransitionJob(ctx, job.ID, []constant.JobStatus{constant.JobStatusChunking}, constant.JobStatusProcessing, map[string]interface{}{
			"total_chunks": len(chunks),
			"deadline_at":  deadline,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errJobCancelled
		}
		return nil
	})
	if errors.Is(err, errJobCancelled) {
		zerolog.Ctx(ctx).Info().Msg("job cancelled during chunking")
		o.chunker.Discard(ctx, chunks)
		return job.ID, o.finalizeCancellation(ctx, job.ID)
	}
	if err != nil {
		o.chunker.Discard(ctx, chunks)
		o.failChunking(ctx, job.ID, err)
		return uuid.Nil, err
	}

	for _, chunk := range chunks {
		o.dispatch(ctx, job, chunk)
	}
	zerolog.Ctx(ctx).Info().Int("total_chunks", len(chunks)).Msg("chunk tasks dispatched")
	return job.ID, nil
}

func (o *orchestrator) failChunking(ctx context.Context, jobId uuid.UUID, cause error) {
	msg := cause.Error()
	ok, err := o.repo.TransitionJob(ctx, jobId, []constant.JobStatus{constant.JobStatusChunking}, constant.JobStatusFailed, map[string]interface{}{
		"error_message": msg,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to mark job failed")
		return
	}
	if !ok {
		if err := o.finalizeCancellation(ctx, jobId); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to finalize cancellation")
		}
	}
}

// dispatch publishes the first task for a chunk. A chunk that cannot be published is
// settled as exhausted so the job barrier still completes.
func (o *orchestrator) dispatch(ctx context.Context, job *entities.TranscriptionJob, chunk *entities.AudioChunk) {
	task := dto.ChunkTask{JobId: job.ID, ChunkIndex: chunk.ChunkIndex}
	operation := func() (struct{}, error) {
		return struct{}{}, o.queue.Enqueue(ctx, task, job.Priority, 0)
	}
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	if err == nil {
		return
	}

	zerolog.Ctx(ctx).Error().Err(err).Int("chunk_index", chunk.ChunkIndex).Msg("failed to publish chunk task")
	outcome := dto.ChunkOutcome{Status: constant.ChunkStatusExhausted, Reason: "dispatch failed: " + err.Error()}
	if reportErr := o.ReportChunkOutcome(context.WithoutCancel(ctx), job.ID, chunk.ChunkIndex, outcome); reportErr != nil {
		zerolog.Ctx(ctx).Error().Err(reportErr).Int("chunk_index", chunk.ChunkIndex).Msg("failed to settle undispatched chunk")
	}
}

func (o *orchestrator) MarkChunkProcessing(ctx context.Context, chunk *entities.AudioChunk) (bool, error) {
	return o.repo.TransitionChunk(ctx, chunk.ID, []constant.ChunkStatus{constant.ChunkStatusPending}, constant.ChunkStatusProcessing, nil)
}

func (o *orchestrator) RequeueChunk(ctx context.Context, chunk *entities.AudioChunk, delay time.Duration, reason string) error {
	job, err := o.repo.FindJobById(ctx, chunk.JobID)
	if err != nil {
		return err
	}
	if job.Status == constant.JobStatusCancelling {
		return o.releaseChunk(ctx, chunk)
	}
	if job.Status != constant.JobStatusProcessing {
		return nil
	}

	ok, err := o.repo.RequeueChunk(ctx, chunk.ID, chunk.RetryCount, reason)
	if err != nil {
		return err
	}
	if !ok {
		zerolog.Ctx(ctx).Debug().Int("chunk_index", chunk.ChunkIndex).Msg("chunk already requeued or settled")
		return nil
	}

	zerolog.Ctx(ctx).Warn().
		Int("chunk_index", chunk.ChunkIndex).
		Int("attempt", chunk.RetryCount+1).
		Dur("delay", delay).
		Str("reason", reason).
		Msg("chunk requeued")
	return o.queue.Enqueue(ctx, dto.ChunkTask{JobId: job.ID, ChunkIndex: chunk.ChunkIndex}, job.Priority, delay)
}

func (o *orchestrator) ReportChunkOutcome(ctx context.Context, jobId uuid.UUID, chunkIndex int, outcome dto.ChunkOutcome) error {
	if !outcome.Status.IsSettled() {
		return fmt.Errorf("chunk outcome %q is not terminal", outcome.Status)
	}
	logger := zerolog.Ctx(ctx).With().Str("job_id", jobId.String()).Int("chunk_index", chunkIndex).Logger()

	job, err := o.repo.FindJobById(ctx, jobId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	chunk, err := o.repo.FindChunk(ctx, jobId, chunkIndex)
	if err != nil {
		return err
	}

	switch job.Status {
	case constant.JobStatusProcessing:
	case constant.JobStatusCancelling:
		return o.releaseChunk(ctx, chunk)
	default:
		logger.Info().Str("job_status", string(job.Status)).Msg("discarding late chunk outcome")
		return nil
	}

	var reason *string
	if outcome.Reason != "" {
		reason = &outcome.Reason
	}
	var updated *entities.TranscriptionJob
	err = o.repo.Transaction(ctx, func(ctx context.Context) error {
		ok, err := o.repo.TransitionChunk(ctx, chunk.ID, unsettledStatuses, outcome.Status, reason)
		if err != nil || !ok {
			return err
		}
		if outcome.RetryCount > 0 {
			if err := o.repo.RaiseChunkRetryCount(ctx, chunk.ID, outcome.RetryCount); err != nil {
				return err
			}
		}
		updated, err = o.repo.IncrementSettled(ctx, jobId, outcome.Status != constant.ChunkStatusSucceeded)
		return err
	})
	if err != nil {
		return err
	}
	if updated == nil {
		logger.Debug().Msg("chunk already settled, duplicate report ignored")
		return nil
	}
	logger.Info().
		Str("outcome", string(outcome.Status)).
		Int("settled", updated.SettledChunks).
		Int("total", updated.TotalChunks).
		Msg("chunk settled")

	if updated.Status == constant.JobStatusCancelling {
		return o.finalizeCancellation(ctx, jobId)
	}
	if updated.SettledChunks < updated.TotalChunks {
		return nil
	}
	return o.startMerge(logger.WithContext(ctx), jobId)
}

// startMerge moves the job to MERGING; only the caller that wins the transition merges.
func (o *orchestrator) startMerge(ctx context.Context, jobId uuid.UUID) error {
	ok, err := o.repo.TransitionJob(ctx, jobId, []constant.JobStatus{constant.JobStatusProcessing}, constant.JobStatusMerging, nil)
	if err != nil || !ok {
		return err
	}
	zerolog.Ctx(ctx).Info().Msg("all chunks settled, merging")
	if _, err := o.merger.Merge(ctx, jobId); err != nil {
		// the sweeper retries merges stuck in MERGING
		zerolog.Ctx(ctx).Error().Err(err).Msg("merge failed")
	}
	return nil
}

func (o *orchestrator) releaseChunk(ctx context.Context, chunk *entities.AudioChunk) error {
	if _, err := o.repo.TransitionChunk(ctx, chunk.ID, []constant.ChunkStatus{constant.ChunkStatusProcessing}, constant.ChunkStatusPending, nil); err != nil {
		return err
	}
	return o.finalizeCancellation(ctx, chunk.JobID)
}

func (o *orchestrator) CancelJob(ctx context.Context, jobId uuid.UUID) error {
	job, err := o.repo.FindJobById(ctx, jobId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrJobNotFound
		}
		return err
	}

	ok, err := o.repo.TransitionJob(ctx, jobId, cancellableStatuses, constant.JobStatusCancelling, nil)
	if err != nil {
		return err
	}
	if !ok {
		current, err := o.repo.FindJobById(ctx, jobId)
		if err != nil {
			return err
		}
		if current.Status == constant.JobStatusCancelling || current.Status == constant.JobStatusCancelled {
			return nil
		}
		if current.Status.IsTerminal() {
			return fmt.Errorf("%w: job %s already finished as %s", ErrJobNotCancellable, jobId, current.Status)
		}
		return fmt.Errorf("%w: job %s is %s", ErrJobNotCancellable, jobId, current.Status)
	}

	zerolog.Ctx(ctx).Info().Str("job_id", jobId.String()).Str("from", string(job.Status)).Msg("job cancelling")
	return o.finalizeCancellation(ctx, jobId)
}

// finalizeCancellation completes a cancellation once no chunk is in flight.
func (o *orchestrator) finalizeCancellation(ctx context.Context, jobId uuid.UUID) error {
	inFlight, err := o.repo.CountChunksByStatus(ctx, jobId, constant.ChunkStatusProcessing)
	if err != nil {
		return err
	}
	if inFlight > 0 {
		return nil
	}
	ok, err := o.repo.TransitionJob(ctx, jobId, []constant.JobStatus{constant.JobStatusCancelling}, constant.JobStatusCancelled, nil)
	if err != nil {
		return err
	}
	if ok {
		zerolog.Ctx(ctx).Info().Str("job_id", jobId.String()).Msg("job cancelled")
	}
	return nil
}

// Sweep settles work abandoned by lost workers or crashed merges.
func (o *orchestrator) Sweep(ctx context.Context, now time.Time) error {
	var errs []error

	overdue, err := o.repo.FindJobsPastDeadline(ctx, constant.JobStatusProcessing, now)
	if err != nil {
		return err
	}
	for _, job := range overdue {
		chunks, err := o.repo.GetChunksByJobId(ctx, job.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		zerolog.Ctx(ctx).Warn().Str("job_id", job.ID.String()).Msg("job deadline exceeded, settling remaining chunks")
		for _, chunk := range chunks {
			if chunk.Status.IsSettled() {
				continue
			}
			outcome := dto.ChunkOutcome{Status: constant.ChunkStatusExhausted, Reason: "deadline exceeded"}
			if err := o.ReportChunkOutcome(ctx, job.ID, chunk.ChunkIndex, outcome); err != nil {
				errs = append(errs, err)
			}
		}
	}

	stale, err := o.repo.FindJobsUpdatedBefore(ctx, constant.JobStatusCancelling, now.Add(-o.opts.CancelGrace))
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, job := range stale {
		ok, err := o.repo.TransitionJob(ctx, job.ID, []constant.JobStatus{constant.JobStatusCancelling}, constant.JobStatusCancelled, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			zerolog.Ctx(ctx).Warn().Str("job_id", job.ID.String()).Msg("cancel grace elapsed, abandoning in-flight chunks")
		}
	}

	stuck, err := o.repo.FindJobsUpdatedBefore(ctx, constant.JobStatusMerging, now.Add(-o.opts.MergeRetryAfter))
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, job := range stuck {
		zerolog.Ctx(ctx).Warn().Str("job_id", job.ID.String()).Msg("retrying stalled merge")
		if _, err := o.merger.Merge(ctx, job.ID); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func NewOrchestrator(repo repository.JobRepository, chunker Chunker, queue TaskQueue, merger Merger, opts OrchestratorOptions) Orchestrator {
	return &orchestrator{
		repo:    repo,
		chunker: chunker,
		queue:   queue,
		merger:  merger,
		opts:    opts,
		now:     time.Now,
	}
}
