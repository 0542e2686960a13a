package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIClientTranscribeSuccess(t *testing.T) {
	var gotLanguage, gotPrompt, gotAuth, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")
		gotFormat = r.FormValue("response_format")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"text": " the patient reports mild fever ",
			"language": "english",
			"duration": 60.0,
			"words": [{"word": "the", "start": 0.1, "end": 0.3}],
			"segments": [{"avg_logprob": 0, "no_speech_prob": 0, "start": 0, "end": 60}]
		}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL+"/v1/", "secret", "whisper-1", 5*time.Second)
	resp, err := client.Transcribe(context.Background(), Request{
		Audio:    []byte("RIFF"),
		Format:   "wav",
		Language: "EN",
		Prompt:   "clinical consultation",
	})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if resp.Text != "the patient reports mild fever" {
		t.Fatalf("text = %q", resp.Text)
	}
	if resp.Confidence != 1 {
		t.Fatalf("confidence = %v, want 1", resp.Confidence)
	}
	if len(resp.Words) != 1 {
		t.Fatalf("words = %d, want 1", len(resp.Words))
	}
	if gotLanguage != "en" || gotPrompt != "clinical consultation" || gotFormat != "verbose_json" {
		t.Fatalf("form language=%q prompt=%q format=%q", gotLanguage, gotPrompt, gotFormat)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth = %q", gotAuth)
	}
}

func TestOpenAIClientAutoLanguageOmitted(t *testing.T) {
	var hasLanguage bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		_, hasLanguage = r.MultipartForm.Value["language"]
		_, _ = w.Write([]byte(`{"text": "ok"}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", "whisper-1", time.Second)
	if _, err := client.Transcribe(context.Background(), Request{Audio: []byte("x"), Language: "auto"}); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if hasLanguage {
		t.Fatal("auto language should not be sent")
	}
}

func TestOpenAIClientClassifiesStatus(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusRequestEntityTooLarge, false},
		{http.StatusUnsupportedMediaType, false},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		client := NewOpenAIClient(srv.URL, "", "whisper-1", time.Second)
		_, err := client.Transcribe(context.Background(), Request{Audio: []byte("x")})
		srv.Close()

		var transient *TransientProviderError
		var permanent *PermanentProviderError
		if tc.transient && !errors.As(err, &transient) {
			t.Fatalf("status %d: error = %v, want transient", tc.status, err)
		}
		if !tc.transient && !errors.As(err, &permanent) {
			t.Fatalf("status %d: error = %v, want permanent", tc.status, err)
		}
	}
}

func TestOpenAIClientTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewOpenAIClient(srv.URL, "", "whisper-1", 50*time.Millisecond)
	_, err := client.Transcribe(context.Background(), Request{Audio: []byte("x")})
	var transient *TransientProviderError
	if !errors.As(err, &transient) {
		t.Fatalf("error = %v, want transient", err)
	}
}

func TestOpenAIClientRejectsOversizedPayload(t *testing.T) {
	client := NewOpenAIClient("http://127.0.0.1:0", "", "whisper-1", time.Second)
	_, err := client.Transcribe(context.Background(), Request{Audio: make([]byte, maxUploadBytes+1)})
	var permanent *PermanentProviderError
	if !errors.As(err, &permanent) {
		t.Fatalf("error = %v, want permanent", err)
	}
}
