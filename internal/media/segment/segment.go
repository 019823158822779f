package segment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"narrate/internal/logging"
	"narrate/internal/media"
	"narrate/internal/services"
)

const stage = "encoding"

// Profile fixes the codec settings applied to every segment so concatenation
// can copy streams without re-encoding.
type Profile struct {
	Frame        media.Frame
	CRF          int
	Preset       string
	AudioBitrate string
}

// DefaultProfile returns the 1080p30 H.264/AAC profile.
func DefaultProfile() Profile {
	return Profile{
		Frame:        media.Frame{Width: 1920, Height: 1080, FPS: 30},
		CRF:          23,
		Preset:       "fast",
		AudioBitrate: "192k",
	}
}

// Input describes one still image paired with its narration.
type Input struct {
	Image    string
	Audio    string
	Duration float64
	Output   string
}

// Encoder renders segments and joins them with ffmpeg.
type Encoder struct {
	ffmpeg  string
	profile Profile
	runner  services.CommandRunner
	logger  *slog.Logger
}

// Option customizes an Encoder.
type Option func(*Encoder)

// WithRunner overrides the process runner.
func WithRunner(runner services.CommandRunner) Option {
	return func(e *Encoder) {
		if runner != nil {
			e.runner = runner
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Encoder) {
		e.logger = logging.NewComponentLogger(logger, "segment")
	}
}

// NewEncoder builds an Encoder for binary and profile.
func NewEncoder(binary string, profile Profile, opts ...Option) *Encoder {
	e := &Encoder{
		ffmpeg:  strings.TrimSpace(binary),
		profile: profile,
		runner:  services.ExecRunner{},
		logger:  logging.NewNop(),
	}
	if e.ffmpeg == "" {
		e.ffmpeg = "ffmpeg"
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Profile returns the encoding profile.
func (e *Encoder) Profile() Profile {
	return e.profile
}

// BuildSegment encodes a looping still with the audio track, trimmed to
// exactly Duration seconds. A failed encode removes any partial output.
func (e *Encoder) BuildSegment(ctx context.Context, in Input) error {
	if in.Duration <= 0 {
		return services.Wrap(services.ErrValidation, stage, "segment",
			fmt.Sprintf("duration must be positive, got %v", in.Duration), nil)
	}
	if strings.TrimSpace(in.Image) == "" || strings.TrimSpace(in.Audio) == "" || strings.TrimSpace(in.Output) == "" {
		return services.Wrap(services.ErrValidation, stage, "segment", "image, audio and output paths are required", nil)
	}
	result, err := e.runner.Run(ctx, e.ffmpeg, e.segmentArgs(in)...)
	if err != nil {
		_ = os.Remove(in.Output)
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, stage, "segment", "interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrMediaTool, stage, "segment",
			fmt.Sprintf("ffmpeg exited %d for %s: %s", result.ExitCode, in.Output, result.Diagnostic(10)), err)
	}
	logging.WithContext(ctx, e.logger).Debug("segment encoded",
		logging.String("output", in.Output),
		logging.Float64("duration_seconds", in.Duration),
	)
	return nil
}

func (e *Encoder) segmentArgs(in Input) []string {
	p := e.profile
	return []string{
		"-y",
		"-loop", "1",
		"-i", in.Image,
		"-i", in.Audio,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-c:a", "aac",
		"-b:a", p.AudioBitrate,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(p.Frame.FPS),
		"-vf", p.Frame.LetterboxFilter(),
		"-t", strconv.FormatFloat(in.Duration, 'f', -1, 64),
		in.Output,
	}
}
