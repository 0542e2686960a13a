package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/blob"
	"worker-transcribe/pkg/media"
	"worker-transcribe/repository"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type AssetService interface {
	RegisterAsset(ctx context.Context, fileName, contentType string, r io.Reader) (*entities.AudioAsset, error)
}

type assetService struct {
	repo     repository.JobRepository
	store    blob.Store
	media    media.Processor
	maxBytes int64
}

func (s *assetService) RegisterAsset(ctx context.Context, fileName, contentType string, r io.Reader) (*entities.AudioAsset, error) {
	tempDir, err := os.MkdirTemp("", "asset-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	name := sanitizeFileName(fileName)
	spool := filepath.Join(tempDir, name)
	size, err := spoolTo(spool, r, s.maxBytes)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, &ValidationError{Field: "file", Message: "empty upload"}
	}

	info, err := s.media.Probe(ctx, spool)
	switch {
	case errors.Is(err, media.ErrNoAudioStream):
		zerolog.Ctx(ctx).Warn().Err(err).Str("file", name).Msg("rejected upload")
		return nil, &ValidationError{Field: "file", Message: "no audio stream"}
	case errors.Is(err, media.ErrUnreadable):
		zerolog.Ctx(ctx).Warn().Err(err).Str("file", name).Msg("rejected upload")
		return nil, &ValidationError{Field: "file", Message: "unreadable audio"}
	case err != nil:
		zerolog.Ctx(ctx).Error().Err(err).Str("file", name).Msg("failed to probe upload")
		return nil, err
	}
	if info.Duration <= 0 {
		return nil, &ValidationError{Field: "file", Message: "audio has zero duration"}
	}

	asset := &entities.AudioAsset{
		ID:              uuid.New(),
		FileName:        name,
		ContentType:     contentType,
		SizeBytes:       size,
		DurationSeconds: info.Duration.Seconds(),
		SampleRate:      info.SampleRate,
		Channels:        info.Channels,
	}
	asset.ObjectName = fmt.Sprintf("assets/%s/%s", asset.ID, name)

	if _, err := s.store.PutFile(ctx, asset.ObjectName, spool, contentType); err != nil {
		return nil, &StorageError{Op: "put", Key: asset.ObjectName, Err: err}
	}
	if err := s.repo.CreateAsset(ctx, asset); err != nil {
		_ = s.store.Remove(context.WithoutCancel(ctx), asset.ObjectName)
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("asset_id", asset.ID.String()).
		Float64("duration_seconds", asset.DurationSeconds).
		Int64("size_bytes", size).
		Msg("asset registered")
	return asset, nil
}

func spoolTo(path string, r io.Reader, maxBytes int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return 0, err
	}
	if maxBytes > 0 && n > maxBytes {
		return 0, &ValidationError{Field: "file", Message: fmt.Sprintf("exceeds %d bytes", maxBytes)}
	}
	return n, nil
}

func sanitizeFileName(name string) string {
	name = unsafeFileChars.ReplaceAllString(filepath.Base(name), "_")
	if name == "" || name == "." || name == ".." || name == "_" {
		return "audio"
	}
	return name
}

func NewAssetService(repo repository.JobRepository, store blob.Store, processor media.Processor, maxBytes int64) AssetService {
	return &assetService{
		repo:     repo,
		store:    store,
		media:    processor,
		maxBytes: maxBytes,
	}
}
