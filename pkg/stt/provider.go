package stt

import (
	"context"
	"fmt"
)

type Request struct {
	Audio    []byte
	FileName string
	Format   string
	Language string
	Prompt   string
}

type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Response struct {
	Text       string
	Language   string
	Duration   float64
	Confidence float64
	Words      []Word
}

// Provider is a speech-to-text backend.
type Provider interface {
	Transcribe(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// TransientProviderError marks a call worth retrying: timeouts, rate limits, 5xx.
type TransientProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransientProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transient provider error: %s", e.Message)
}

func (e *TransientProviderError) Unwrap() error {
	return e.Err
}

// PermanentProviderError marks input the provider will never accept.
type PermanentProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *PermanentProviderError) Error() string {
	return fmt.Sprintf("permanent provider error (status %d): %s", e.StatusCode, e.Message)
}

func (e *PermanentProviderError) Unwrap() error {
	return e.Err
}
