package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

var (
	// ErrNoAudioStream is returned by Probe when the input carries no audio.
	ErrNoAudioStream = errors.New("no audio stream")
	// ErrUnreadable means ffprobe ran but could not make sense of the input.
	ErrUnreadable = errors.New("unreadable media")
)

type ProbeInfo struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
	Codec      string
	FormatName string
}

// Processor inspects and slices audio files.
type Processor interface {
	Probe(ctx context.Context, path string) (*ProbeInfo, error)
	Slice(ctx context.Context, src, dst string, start, length time.Duration) error
}

type runner func(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type ffmpeg struct {
	ffmpegPath  string
	ffprobePath string
	run         runner
}

func NewFFmpeg() Processor {
	return &ffmpeg{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		run:         execRun,
	}
}

type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecName  string `json:"codec_name"`
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

func (f *ffmpeg) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	stdout, stderr, err := f.run(ctx, f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe %s: %w", path, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("ffprobe %s: %w: %w: %s", path, ErrUnreadable, err, string(stderr))
		}
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(stdout)
}

func parseProbe(raw []byte) (*ProbeInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode ffprobe output: %w", ErrUnreadable, err)
	}

	info := &ProbeInfo{FormatName: out.Format.FormatName}
	seconds, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: parse duration %q: %w", ErrUnreadable, out.Format.Duration, err)
	}
	info.Duration = time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)

	for _, s := range out.Streams {
		if s.CodecType != "audio" {
			continue
		}
		info.Codec = s.CodecName
		info.Channels = s.Channels
		if s.SampleRate != "" {
			info.SampleRate, _ = strconv.Atoi(s.SampleRate)
		}
		return info, nil
	}
	return nil, ErrNoAudioStream
}

// Slice re-encodes [start, start+length) of src into 16 kHz mono PCM WAV at dst.
func (f *ffmpeg) Slice(ctx context.Context, src, dst string, start, length time.Duration) error {
	args := buildSliceArgs(src, dst, start, length)
	_, stderr, err := f.run(ctx, f.ffmpegPath, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg slice %s [%s+%s]: %w: %s", src, start, length, err, string(stderr))
	}
	return nil
}

func buildSliceArgs(src, dst string, start, length time.Duration) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		dst,
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
