package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"narrate/internal/logging"
	"narrate/internal/media"
	"narrate/internal/media/ffprobe"
	"narrate/internal/services"
)

const stage = "probe"

// Probe prepares still images and measures audio with ffmpeg and ffprobe.
type Probe struct {
	ffmpeg  string
	frame   media.Frame
	runner  services.CommandRunner
	ffprobe *ffprobe.Client
	logger  *slog.Logger
}

// Option customizes a Probe.
type Option func(*Probe)

// WithRunner overrides the process runner used for both tools.
func WithRunner(runner services.CommandRunner) Option {
	return func(p *Probe) {
		if runner != nil {
			p.runner = runner
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Probe) {
		p.logger = logging.NewComponentLogger(logger, "probe")
	}
}

// New builds a Probe for the given binaries and frame.
func New(ffmpegBinary, ffprobeBinary string, frame media.Frame, opts ...Option) *Probe {
	p := &Probe{
		ffmpeg: strings.TrimSpace(ffmpegBinary),
		frame:  frame,
		runner: services.ExecRunner{},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ffmpeg == "" {
		p.ffmpeg = "ffmpeg"
	}
	p.ffprobe = &ffprobe.Client{Binary: ffprobeBinary, Runner: p.runner}
	return p
}

// Frame returns the target geometry.
func (p *Probe) Frame() media.Frame {
	return p.frame
}

// ResizeToFrame writes a single letterboxed still of exactly the frame size.
// Aspect ratio is preserved and the image is centred on a black background.
func (p *Probe) ResizeToFrame(ctx context.Context, input, output string) error {
	if strings.TrimSpace(input) == "" || strings.TrimSpace(output) == "" {
		return services.Wrap(services.ErrValidation, stage, "resize", "input and output paths are required", nil)
	}
	args := []string{
		"-y",
		"-i", input,
		"-vf", p.frame.LetterboxFilter(),
		"-frames:v", "1",
		"-q:v", "2",
		output,
	}
	result, err := p.runner.Run(ctx, p.ffmpeg, args...)
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, stage, "resize", "interrupted", ctx.Err())
		}
		_ = os.Remove(output)
		return services.Wrap(services.ErrMediaTool, stage, "resize",
			fmt.Sprintf("ffmpeg exited %d for %s: %s", result.ExitCode, input, result.Diagnostic(10)), err)
	}
	logging.WithContext(ctx, p.logger).Debug("image resized",
		logging.String("input", input),
		logging.String("output", output),
	)
	return nil
}

// ProbeDuration returns the audio duration in seconds rounded to two decimals.
func (p *Probe) ProbeDuration(ctx context.Context, audio string) (float64, error) {
	duration, err := p.ffprobe.Duration(ctx, audio)
	if err != nil {
		if ctx.Err() != nil {
			return 0, services.Wrap(services.ErrCancelled, stage, "duration", "interrupted", ctx.Err())
		}
		return 0, services.Wrap(services.ErrMediaTool, stage, "duration", audio, err)
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return 0, services.Wrap(services.ErrMediaTool, stage, "duration",
			fmt.Sprintf("no usable duration for %s", audio), nil)
	}
	return RoundDuration(duration), nil
}

// RoundDuration rounds seconds to two decimal places.
func RoundDuration(seconds float64) float64 {
	return math.Round(seconds*100) / 100
}
