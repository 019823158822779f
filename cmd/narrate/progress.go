package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"narrate/internal/api"
)

// jobProgress renders job status updates as a terminal progress bar, or as
// one line per change when the writer is not a terminal.
type jobProgress struct {
	out      io.Writer
	bar      *progressbar.ProgressBar
	lastLine string
}

func newJobProgress(out io.Writer) *jobProgress {
	p := &jobProgress{out: out}
	if shouldColorize(out) {
		p.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowDescriptionAtLineEnd(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetElapsedTime(true),
			progressbar.OptionEnableColorCodes(true),
		)
	}
	return p
}

func (p *jobProgress) update(status api.JobStatus) {
	if p.bar != nil {
		p.bar.Describe(status.Message)
		_ = p.bar.Set(status.Progress)
		return
	}
	line := fmt.Sprintf("%3d%% %s", status.Progress, status.Message)
	if line != p.lastLine {
		fmt.Fprintln(p.out, line)
		p.lastLine = line
	}
}

func (p *jobProgress) finish() {
	if p.bar != nil {
		_ = p.bar.Exit()
		fmt.Fprintln(p.out)
	}
}

// followJob reports status changes until the job is terminal. It streams
// over WebSocket and falls back to polling when the stream is refused.
func followJob(ctx context.Context, client *api.Client, projectID int64, poll time.Duration, fn func(api.JobStatus)) (api.JobStatus, error) {
	var last api.JobStatus
	observe := func(status api.JobStatus) bool {
		last = status
		fn(status)
		return !status.Terminal()
	}
	err := client.WatchStatus(ctx, projectID, observe)
	if err == nil && last.Terminal() {
		return last, nil
	}
	if ctx.Err() != nil {
		return last, ctx.Err()
	}
	if err := client.PollStatus(ctx, projectID, poll, observe); err != nil {
		return last, err
	}
	return last, nil
}
