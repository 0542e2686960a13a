package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"worker-transcribe/constant"
	"worker-transcribe/dto"
	"worker-transcribe/entities"
	"worker-transcribe/repository"
)

type ProgressTracker interface {
	GetProgress(ctx context.Context, jobId uuid.UUID) (*dto.JobProgress, error)
	GetTranscript(ctx context.Context, jobId uuid.UUID) (*entities.MergedTranscript, error)
}

type progressTracker struct {
	repo repository.JobRepository
}

// GetProgress reads the job counters. settled_chunks only grows, so percent never
// decreases for a job.
func (p *progressTracker) GetProgress(ctx context.Context, jobId uuid.UUID) (*dto.JobProgress, error) {
	job, err := p.repo.FindJobById(ctx, jobId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	progress := &dto.JobProgress{
		JobId:         job.ID,
		Status:        job.Status,
		SettledChunks: job.SettledChunks,
		TotalChunks:   job.TotalChunks,
		FailedChunks:  job.FailedChunks,
	}
	switch {
	case job.Status == constant.JobStatusCompleted || job.Status == constant.JobStatusCompletedWithErrors:
		progress.Percent = 100
	case job.TotalChunks > 0:
		progress.Percent = float64(job.SettledChunks) / float64(job.TotalChunks) * 100
	}
	return progress, nil
}

func (p *progressTracker) GetTranscript(ctx context.Context, jobId uuid.UUID) (*entities.MergedTranscript, error) {
	if _, err := p.repo.FindJobById(ctx, jobId); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	transcript, err := p.repo.FindLatestTranscript(ctx, jobId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTranscriptNotReady
		}
		return nil, err
	}
	return transcript, nil
}

func NewProgressTracker(repo repository.JobRepository) ProgressTracker {
	return &progressTracker{repo: repo}
}
