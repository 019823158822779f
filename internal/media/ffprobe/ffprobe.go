package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"narrate/internal/services"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Client runs ffprobe through a CommandRunner.
type Client struct {
	Binary string
	Runner services.CommandRunner
}

// New returns a Client for binary using the process runner.
func New(binary string) *Client {
	return &Client{Binary: binary, Runner: services.ExecRunner{}}
}

// Inspect executes ffprobe against the provided path and decodes format and
// stream metadata.
func (c *Client) Inspect(ctx context.Context, path string) (Result, error) {
	return c.run(ctx, path, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json")
}

// Duration reads only the container duration of path.
func (c *Client) Duration(ctx context.Context, path string) (float64, error) {
	result, err := c.run(ctx, path, "-v", "error", "-show_entries", "format=duration", "-of", "json")
	if err != nil {
		return 0, err
	}
	return result.DurationSeconds(), nil
}

func (c *Client) run(ctx context.Context, path string, args ...string) (Result, error) {
	binary := strings.TrimSpace(c.Binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe: empty path")
	}
	runner := c.Runner
	if runner == nil {
		runner = services.ExecRunner{}
	}

	out, err := runner.Run(ctx, binary, append(args, "--", path)...)
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, out.Diagnostic(5))
	}

	var result Result
	if err := json.Unmarshal([]byte(out.Stdout), &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// AudioStreamCount returns the number of audio streams discovered.
func (r Result) AudioStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration in seconds, 0 when absent,
// or NaN when the value cannot be parsed.
func (r Result) DurationSeconds() float64 {
	return parseFloat(r.Format.Duration)
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
