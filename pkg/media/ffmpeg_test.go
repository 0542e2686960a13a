package media

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

func TestParseProbeAudio(t *testing.T) {
	raw := []byte(`{
		"format": {"format_name": "mp3", "duration": "125.0400"},
		"streams": [
			{"codec_type": "video", "codec_name": "mjpeg"},
			{"codec_type": "audio", "codec_name": "mp3", "sample_rate": "44100", "channels": 2}
		]
	}`)

	info, err := parseProbe(raw)
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if info.Duration != 125040*time.Millisecond {
		t.Fatalf("duration = %v, want 2m5.04s", info.Duration)
	}
	if info.SampleRate != 44100 || info.Channels != 2 || info.Codec != "mp3" {
		t.Fatalf("info = %+v", info)
	}
}

func TestParseProbeWithoutAudio(t *testing.T) {
	raw := []byte(`{"format": {"duration": "3.0"}, "streams": [{"codec_type": "video"}]}`)
	if _, err := parseProbe(raw); !errors.Is(err, ErrNoAudioStream) {
		t.Fatalf("error = %v, want ErrNoAudioStream", err)
	}
}

func TestSliceBuildsWindowArgs(t *testing.T) {
	var gotName string
	var gotArgs []string
	f := &ffmpeg{
		ffmpegPath: "ffmpeg-custom",
		run: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
			gotName = name
			gotArgs = args
			return nil, nil, nil
		},
	}

	if err := f.Slice(context.Background(), "in.mp3", "out.wav", 58*time.Second, 60*time.Second); err != nil {
		t.Fatalf("Slice() error = %v", err)
	}
	if gotName != "ffmpeg-custom" {
		t.Fatalf("command = %q", gotName)
	}
	if argValue(gotArgs, "-ss") != "58.000" || argValue(gotArgs, "-t") != "60.000" {
		t.Fatalf("window args = %v", gotArgs)
	}
	if argValue(gotArgs, "-ar") != "16000" || argValue(gotArgs, "-ac") != "1" {
		t.Fatalf("encoding args = %v", gotArgs)
	}
	if gotArgs[len(gotArgs)-1] != "out.wav" {
		t.Fatalf("output = %q, want out.wav", gotArgs[len(gotArgs)-1])
	}
}

func TestSliceReportsFailure(t *testing.T) {
	f := &ffmpeg{
		ffmpegPath: "ffmpeg",
		run: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
			return nil, []byte("Invalid data found"), errors.New("exit status 1")
		},
	}
	if err := f.Slice(context.Background(), "in.mp3", "out.wav", 0, time.Second); err == nil {
		t.Fatal("expected error")
	}
}

func TestProbeClassifiesFailures(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	tests := []struct {
		name       string
		ctx        context.Context
		runErr     error
		stdout     string
		unreadable bool
	}{
		{
			name:       "ffprobe rejects input",
			ctx:        context.Background(),
			runErr:     &exec.ExitError{},
			unreadable: true,
		},
		{
			name:       "garbage output",
			ctx:        context.Background(),
			stdout:     "not json",
			unreadable: true,
		},
		{
			name:   "binary missing",
			ctx:    context.Background(),
			runErr: exec.ErrNotFound,
		},
		{
			name:   "context cancelled",
			ctx:    cancelled,
			runErr: errors.New("signal: killed"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &ffmpeg{
				ffprobePath: "ffprobe",
				run: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
					return []byte(tt.stdout), nil, tt.runErr
				},
			}
			_, err := f.Probe(tt.ctx, "in.mp3")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrUnreadable); got != tt.unreadable {
				t.Fatalf("errors.Is(%v, ErrUnreadable) = %v, want %v", err, got, tt.unreadable)
			}
		})
	}
}

func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}
