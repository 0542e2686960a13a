package service

import (
	"errors"
	"fmt"
	"worker-transcribe/pkg/stt"
)

var (
	ErrNonRetryable       = errors.New("non-retryable error")
	ErrMergeIncomplete    = errors.New("merge invoked before all chunks settled")
	ErrJobNotFound        = errors.New("job not found")
	ErrJobNotCancellable  = errors.New("job is not cancellable")
	ErrTranscriptNotReady = errors.New("transcript not merged yet")
	ErrChunkingFailed     = errors.New("chunking failed")
)

// ValidationError rejects a request before any job state is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// StorageError wraps blob store failures; they are retried like transient provider errors.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a chunk attempt failing with err may be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var permanent *stt.PermanentProviderError
	if errors.As(err, &permanent) || errors.Is(err, ErrNonRetryable) {
		return false
	}
	return true
}
