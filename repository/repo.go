package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"time"
	"worker-transcribe/constant"
	"worker-transcribe/entities"
)

var (
	ErrNotFound          = gorm.ErrRecordNotFound
	ErrIllegalTransition = errors.New("illegal job transition")
)

type JobRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB(ctx context.Context) *gorm.DB
	AutoMigrate(ctx context.Context) error

	CreateAsset(ctx context.Context, asset *entities.AudioAsset) error
	FindAssetById(ctx context.Context, id uuid.UUID) (*entities.AudioAsset, error)

	CreateJob(ctx context.Context, job *entities.TranscriptionJob) error
	FindJobById(ctx context.Context, id uuid.UUID) (*entities.TranscriptionJob, error)
	TransitionJob(ctx context.Context, id uuid.UUID, from []constant.JobStatus, to constant.JobStatus, updates map[string]interface{}) (bool, error)
	IncrementSettled(ctx context.Context, id uuid.UUID, failed bool) (*entities.TranscriptionJob, error)
	FindJobsPastDeadline(ctx context.Context, status constant.JobStatus, now time.Time) ([]*entities.TranscriptionJob, error)
	FindJobsUpdatedBefore(ctx context.Context, status constant.JobStatus, before time.Time) ([]*entities.TranscriptionJob, error)

	CreateChunks(ctx context.Context, chunks []*entities.AudioChunk) error
	FindChunk(ctx context.Context, jobId uuid.UUID, index int) (*entities.AudioChunk, error)
	GetChunksByJobId(ctx context.Context, jobId uuid.UUID) ([]*entities.AudioChunk, error)
	TransitionChunk(ctx context.Context, id uuid.UUID, from []constant.ChunkStatus, to constant.ChunkStatus, lastError *string) (bool, error)
	RequeueChunk(ctx context.Context, id uuid.UUID, retryCount int, lastError string) (bool, error)
	RaiseChunkRetryCount(ctx context.Context, id uuid.UUID, retryCount int) error
	CountChunksByStatus(ctx context.Context, jobId uuid.UUID, status constant.ChunkStatus) (int64, error)

	UpsertSegment(ctx context.Context, segment *entities.TranscriptSegment) (bool, error)
	GetSegmentsByJobId(ctx context.Context, jobId uuid.UUID) ([]*entities.TranscriptSegment, error)

	CreateMergedTranscript(ctx context.Context, transcript *entities.MergedTranscript) error
	FindLatestTranscript(ctx context.Context, jobId uuid.UUID) (*entities.MergedTranscript, error)
}

type txKey struct{}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) (JobRepository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

// NewSQLiteRepo opens an embedded store, used for local runs and tests. A single
// connection keeps ":memory:" databases alive and serialises writers.
func NewSQLiteRepo(dsn string) (JobRepository, error) {
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &repo{
		db: gormDB,
	}, nil
}

// GetDB returns the transaction bound to ctx, if any.
func (r *repo) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return callback(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(context.WithValue(ctx, txKey{}, tx))
	}, opts...)
}

func (r *repo) AutoMigrate(ctx context.Context) error {
	return r.GetDB(ctx).AutoMigrate(
		&entities.AudioAsset{},
		&entities.TranscriptionJob{},
		&entities.AudioChunk{},
		&entities.TranscriptSegment{},
		&entities.MergedTranscript{},
	)
}

func (r *repo) CreateAsset(ctx context.Context, asset *entities.AudioAsset) error {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	return r.GetDB(ctx).Create(asset).Error
}

func (r *repo) FindAssetById(ctx context.Context, id uuid.UUID) (*entities.AudioAsset, error) {
	asset := &entities.AudioAsset{}
	err := r.GetDB(ctx).First(asset, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return asset, nil
}

func (r *repo) CreateJob(ctx context.Context, job *entities.TranscriptionJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return r.GetDB(ctx).Create(job).Error
}

func (r *repo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.TranscriptionJob, error) {
	job := &entities.TranscriptionJob{}
	err := r.GetDB(ctx).First(job, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return job, nil
}

// TransitionJob is a compare-and-set on status. It reports false when the job was not in
// any of the from states. Pairs the state machine forbids are rejected before the row is read.
func (r *repo) TransitionJob(ctx context.Context, id uuid.UUID, from []constant.JobStatus, to constant.JobStatus, updates map[string]interface{}) (bool, error) {
	for _, status := range from {
		if !status.CanTransition(to) {
			return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, status, to)
		}
	}

	values := map[string]interface{}{}
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	values["updated_at"] = time.Now()

	result := r.GetDB(ctx).Model(&entities.TranscriptionJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) IncrementSettled(ctx context.Context, id uuid.UUID, failed bool) (*entities.TranscriptionJob, error) {
	failedDelta := 0
	if failed {
		failedDelta = 1
	}
	err := r.GetDB(ctx).Model(&entities.TranscriptionJob{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
		"settled_chunks": gorm.Expr("settled_chunks + ?", 1),
		"failed_chunks":  gorm.Expr("failed_chunks + ?", failedDelta),
		"updated_at":     time.Now(),
	}).Error
	if err != nil {
		return nil, err
	}
	return r.FindJobById(ctx, id)
}

func (r *repo) FindJobsPastDeadline(ctx context.Context, status constant.JobStatus, now time.Time) ([]*entities.TranscriptionJob, error) {
	var jobs []*entities.TranscriptionJob
	err := r.GetDB(ctx).Where("status = ? AND deadline_at IS NOT NULL AND deadline_at < ?", status, now).
		Order("created_at ASC").Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) FindJobsUpdatedBefore(ctx context.Context, status constant.JobStatus, before time.Time) ([]*entities.TranscriptionJob, error) {
	var jobs []*entities.TranscriptionJob
	err := r.GetDB(ctx).Where("status = ? AND updated_at < ?", status, before).
		Order("created_at ASC").Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) CreateChunks(ctx context.Context, chunks []*entities.AudioChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, chunk := range chunks {
		if chunk.ID == uuid.Nil {
			chunk.ID = uuid.New()
		}
	}
	return r.GetDB(ctx).Create(&chunks).Error
}

func (r *repo) FindChunk(ctx context.Context, jobId uuid.UUID, index int) (*entities.AudioChunk, error) {
	chunk := &entities.AudioChunk{}
	err := r.GetDB(ctx).First(chunk, "job_id = ? AND chunk_index = ?", jobId, index).Error
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

func (r *repo) GetChunksByJobId(ctx context.Context, jobId uuid.UUID) ([]*entities.AudioChunk, error) {
	var chunks []*entities.AudioChunk
	err := r.GetDB(ctx).Where("job_id = ?", jobId).Order("chunk_index ASC").Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *repo) TransitionChunk(ctx context.Context, id uuid.UUID, from []constant.ChunkStatus, to constant.ChunkStatus, lastError *string) (bool, error) {
	values := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	if lastError != nil {
		values["last_error"] = *lastError
	}
	result := r.GetDB(ctx).Model(&entities.AudioChunk{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RequeueChunk moves a processing chunk back to pending and bumps retry_count, guarded on
// the retry count the caller observed so a redelivered attempt cannot count twice.
func (r *repo) RequeueChunk(ctx context.Context, id uuid.UUID, retryCount int, lastError string) (bool, error) {
	result := r.GetDB(ctx).Model(&entities.AudioChunk{}).
		Where("id = ? AND status = ? AND retry_count = ?", id, constant.ChunkStatusProcessing, retryCount).
		Updates(map[string]interface{}{
			"status":      constant.ChunkStatusPending,
			"retry_count": retryCount + 1,
			"last_error":  lastError,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RaiseChunkRetryCount records attempts made without a requeue. The count never goes down.
func (r *repo) RaiseChunkRetryCount(ctx context.Context, id uuid.UUID, retryCount int) error {
	return r.GetDB(ctx).Model(&entities.AudioChunk{}).
		Where("id = ? AND retry_count < ?", id, retryCount).
		Update("retry_count", retryCount).Error
}

func (r *repo) CountChunksByStatus(ctx context.Context, jobId uuid.UUID, status constant.ChunkStatus) (int64, error) {
	var count int64
	err := r.GetDB(ctx).Model(&entities.AudioChunk{}).
		Where("job_id = ? AND status = ?", jobId, status).
		Count(&count).Error
	return count, err
}

// UpsertSegment inserts the segment unless one already exists for the chunk. It reports
// whether a row was written.
func (r *repo) UpsertSegment(ctx context.Context, segment *entities.TranscriptSegment) (bool, error) {
	if segment.ID == uuid.Nil {
		segment.ID = uuid.New()
	}
	result := r.GetDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chunk_id"}},
		DoNothing: true,
	}).Create(segment)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) GetSegmentsByJobId(ctx context.Context, jobId uuid.UUID) ([]*entities.TranscriptSegment, error) {
	var segments []*entities.TranscriptSegment
	err := r.GetDB(ctx).Where("job_id = ?", jobId).Find(&segments).Error
	if err != nil {
		return nil, err
	}
	return segments, nil
}

// CreateMergedTranscript stores the next version for the job. Earlier versions are kept.
func (r *repo) CreateMergedTranscript(ctx context.Context, transcript *entities.MergedTranscript) error {
	return r.Transaction(ctx, func(ctx context.Context) error {
		var latest int
		err := r.GetDB(ctx).Model(&entities.MergedTranscript{}).
			Where("job_id = ?", transcript.JobID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&latest).Error
		if err != nil {
			return err
		}
		if transcript.ID == uuid.Nil {
			transcript.ID = uuid.New()
		}
		transcript.Version = latest + 1
		return r.GetDB(ctx).Create(transcript).Error
	})
}

func (r *repo) FindLatestTranscript(ctx context.Context, jobId uuid.UUID) (*entities.MergedTranscript, error) {
	transcript := &entities.MergedTranscript{}
	err := r.GetDB(ctx).Where("job_id = ?", jobId).Order("version DESC").First(transcript).Error
	if err != nil {
		return nil, err
	}
	return transcript, nil
}
