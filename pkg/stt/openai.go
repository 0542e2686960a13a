package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"
)

const maxUploadBytes = 25 * 1024 * 1024

// OpenAIClient talks to an OpenAI-compatible /audio/transcriptions endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *OpenAIClient) Name() string {
	return "openai"
}

type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Words    []Word  `json:"words"`
	Segments []struct {
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
	} `json:"segments"`
}

func (c *OpenAIClient) Transcribe(ctx context.Context, req Request) (*Response, error) {
	if len(req.Audio) == 0 {
		return nil, &PermanentProviderError{Message: "empty audio payload"}
	}
	if len(req.Audio) > maxUploadBytes {
		return nil, &PermanentProviderError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Message:    fmt.Sprintf("payload of %d bytes exceeds %d", len(req.Audio), maxUploadBytes),
		}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fileName := req.FileName
	if fileName == "" {
		fileName = "chunk." + req.Format
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, err
	}
	_ = writer.WriteField("model", c.model)
	_ = writer.WriteField("response_format", "verbose_json")
	_ = writer.WriteField("timestamp_granularities[]", "word")
	_ = writer.WriteField("timestamp_granularities[]", "segment")
	if lang := normalizeLanguage(req.Language); lang != "" {
		_ = writer.WriteField("language", lang)
	}
	if req.Prompt != "" {
		_ = writer.WriteField("prompt", req.Prompt)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientProviderError{Message: "read response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded verboseResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &TransientProviderError{StatusCode: resp.StatusCode, Message: "malformed provider response", Err: err}
	}

	confidence := 1.0
	if len(decoded.Segments) > 0 {
		var weighted, total float64
		for _, s := range decoded.Segments {
			w := s.End - s.Start
			if w <= 0 {
				w = 1
			}
			weighted += math.Exp(s.AvgLogprob) * (1 - s.NoSpeechProb) * w
			total += w
		}
		confidence = clamp01(weighted / total)
	}

	return &Response{
		Text:       strings.TrimSpace(decoded.Text),
		Language:   decoded.Language,
		Duration:   decoded.Duration,
		Confidence: confidence,
		Words:      decoded.Words,
	}, nil
}

func classifyStatus(status int, message string) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return &TransientProviderError{StatusCode: status, Message: message}
	default:
		return &PermanentProviderError{StatusCode: status, Message: message}
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TransientProviderError{Message: "provider call timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransientProviderError{Message: "provider unreachable", Err: err}
}

// normalizeLanguage maps "auto" and empty language to provider auto-detection.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return strings.ToLower(lang)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
