package segment

import (
	"context"
	"fmt"
	"os"
	"strings"

	"narrate/internal/logging"
	"narrate/internal/services"
)

// WriteManifest writes a concat demuxer list naming segments in order.
func WriteManifest(path string, segments []string) error {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString("file '")
		b.WriteString(escapeManifestPath(seg))
		b.WriteString("'\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat manifest: %w", err)
	}
	return nil
}

// escapeManifestPath closes the quote, emits an escaped quote, and reopens it.
func escapeManifestPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// Concat joins segments in the given order into output without re-encoding.
// The manifest file is written at manifestPath.
func (e *Encoder) Concat(ctx context.Context, segments []string, manifestPath, output string) error {
	if len(segments) == 0 {
		return services.Wrap(services.ErrValidation, "concat", "manifest", "no segments to join", nil)
	}
	if err := WriteManifest(manifestPath, segments); err != nil {
		return services.Wrap(services.ErrPipelineFailed, "concat", "manifest", "", err)
	}
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		output,
	}
	result, err := e.runner.Run(ctx, e.ffmpeg, args...)
	if err != nil {
		_ = os.Remove(output)
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, "concat", "ffmpeg", "interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrMediaTool, "concat", "ffmpeg",
			fmt.Sprintf("ffmpeg exited %d: %s", result.ExitCode, result.Diagnostic(10)), err)
	}
	logging.WithContext(ctx, e.logger).Debug("segments concatenated",
		logging.Int("segments", len(segments)),
		logging.String("output", output),
	)
	return nil
}
