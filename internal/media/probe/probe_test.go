package probe_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"narrate/internal/media"
	"narrate/internal/media/probe"
	"narrate/internal/services"
)

var hd = media.Frame{Width: 1920, Height: 1080, FPS: 30}

type recordingRunner struct {
	calls  [][]string
	result services.CommandResult
	err    error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) (services.CommandResult, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.result, r.err
}

func TestResizeToFrameBuildsLetterboxCommand(t *testing.T) {
	runner := &recordingRunner{}
	p := probe.New("ffmpeg", "ffprobe", hd, probe.WithRunner(runner))

	if err := p.ResizeToFrame(context.Background(), "/in/photo.jpg", "/work/resized_0.jpg"); err != nil {
		t.Fatalf("ResizeToFrame returned error: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(runner.calls))
	}
	got := strings.Join(runner.calls[0], " ")
	want := "ffmpeg -y -i /in/photo.jpg -vf scale=1920:1080:force_original_aspect_ratio=decrease,pad=1920:1080:(ow-iw)/2:(oh-ih)/2 -frames:v 1 -q:v 2 /work/resized_0.jpg"
	if got != want {
		t.Fatalf("unexpected command\n got: %s\nwant: %s", got, want)
	}
}

func TestResizeToFrameFailureCarriesStderr(t *testing.T) {
	runner := &recordingRunner{
		result: services.CommandResult{Stderr: "photo.jpg: Invalid data found when processing input", ExitCode: 1},
		err:    errors.New("exit status 1"),
	}
	p := probe.New("ffmpeg", "ffprobe", hd, probe.WithRunner(runner))

	err := p.ResizeToFrame(context.Background(), "photo.jpg", "out.jpg")
	if !errors.Is(err, services.ErrMediaTool) {
		t.Fatalf("expected media tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected diagnostics in error, got %v", err)
	}
}

func TestProbeDurationRoundsToTwoDecimals(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"3.456", 3.46},
		{"3.454", 3.45},
		{"10", 10},
		{"0.005", 0.01},
	}
	for _, tt := range tests {
		runner := &recordingRunner{result: services.CommandResult{Stdout: `{"format":{"duration":"` + tt.raw + `"}}`}}
		p := probe.New("ffmpeg", "ffprobe", hd, probe.WithRunner(runner))
		got, err := p.ProbeDuration(context.Background(), "a.wav")
		if err != nil {
			t.Fatalf("ProbeDuration(%s) returned error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ProbeDuration(%s) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestProbeDurationRejectsUnusableValues(t *testing.T) {
	for _, payload := range []string{`{"format":{}}`, `{"format":{"duration":"N/A"}}`, `not json`} {
		runner := &recordingRunner{result: services.CommandResult{Stdout: payload}}
		p := probe.New("ffmpeg", "ffprobe", hd, probe.WithRunner(runner))
		if _, err := p.ProbeDuration(context.Background(), "a.wav"); !errors.Is(err, services.ErrMediaTool) {
			t.Fatalf("payload %q: expected media tool error, got %v", payload, err)
		}
	}
}

func TestProbeDurationCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &recordingRunner{err: context.Canceled}
	p := probe.New("ffmpeg", "ffprobe", hd, probe.WithRunner(runner))
	if _, err := p.ProbeDuration(ctx, "a.wav"); !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}
