package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"narrate/internal/language"
	"narrate/internal/logging"
	"narrate/internal/services"
)

const stage = "synthesis"

// Options configures a Channel.
type Options struct {
	// AudioDir receives <request id>.wav outputs.
	AudioDir     string
	PollInterval time.Duration
	PollAttempts int
	Defaults     Voice
}

// Channel sends one text at a time to the worker and waits, bounded, for
// its answer. It is safe for concurrent use; each call is addressed by its
// own request id.
type Channel struct {
	transport Transport
	worker    *Worker
	opts      Options
	logger    *slog.Logger
	newID     func() string
}

// NewChannel wires transport and worker. A nil worker skips lifecycle
// management, for workers supervised elsewhere.
func NewChannel(transport Transport, worker *Worker, opts Options, logger *slog.Logger) *Channel {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 300
	}
	if opts.Defaults.MaxNewTokens <= 0 {
		opts.Defaults.MaxNewTokens = 2048
	}
	return &Channel{
		transport: transport,
		worker:    worker,
		opts:      opts,
		logger:    logging.NewComponentLogger(logger, "synthesis"),
		newID:     uuid.NewString,
	}
}

// Worker returns the supervised worker handle, if any.
func (c *Channel) Worker() *Worker {
	return c.worker
}

// Synthesize voices text. Blank text is a no-op that returns a skipped
// Result. On every failure the request is withdrawn and any partial audio is
// removed.
func (c *Channel) Synthesize(ctx context.Context, text string, voice Voice) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{Skipped: true}, nil
	}
	voice = voice.withDefaults(c.opts.Defaults)
	lang, err := language.Normalize(voice.Language)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, stage, "voice", "", err)
	}

	if c.worker != nil {
		if err := c.worker.EnsureReady(ctx); err != nil {
			return Result{}, err
		}
	}

	id := c.newID()
	output := filepath.Join(c.opts.AudioDir, id+".wav")
	if err := os.MkdirAll(c.opts.AudioDir, 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, stage, "prepare", "create audio directory", err)
	}
	ctx = services.WithRequestID(ctx, id)
	logger := logging.WithContext(ctx, c.logger)

	req := Request{
		ID:           id,
		Text:         text,
		Language:     lang,
		Speaker:      voice.Speaker,
		Instruct:     voice.Instruct,
		MaxNewTokens: voice.MaxNewTokens,
		OutputPath:   output,
	}
	started := time.Now()
	if err := c.transport.Submit(ctx, req); err != nil {
		c.abandon(ctx, id, output)
		return Result{}, services.Wrap(services.ErrTransient, stage, "submit", "", err)
	}
	logger.Info("synthesis request sent",
		logging.String(logging.FieldEventType, "synthesis_requested"),
		logging.Int("characters", len([]rune(text))),
		logging.String("language", lang),
		logging.String("speaker", voice.Speaker),
	)

	resp, err := c.await(ctx, id)
	if err != nil {
		c.abandon(ctx, id, output)
		return Result{}, err
	}
	// The worker may answer before it unlinks the request.
	c.withdraw(ctx, id)

	switch resp.Status {
	case StatusSuccess:
	case StatusError:
		c.abandon(ctx, id, output)
		return Result{}, services.Wrap(services.ErrWorkerReported, stage, "response", resp.Error, nil)
	default:
		c.abandon(ctx, id, output)
		return Result{}, services.Wrap(services.ErrWorkerReported, stage, "response",
			fmt.Sprintf("unexpected status %q", resp.Status), nil)
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		c.abandon(ctx, id, output)
		return Result{}, services.Wrap(services.ErrArtifactMissing, stage, "verify",
			fmt.Sprintf("worker reported success but %s is missing or empty", output), err)
	}

	result := Result{
		RequestID:      id,
		OutputPath:     output,
		Duration:       resp.Duration,
		GenerationTime: resp.GenerationTime,
		Elapsed:        time.Since(started),
	}
	logger.Info("synthesis complete",
		logging.String(logging.FieldEventType, "synthesis_completed"),
		logging.Float64("audio_seconds", resp.Duration),
		logging.Float64("generation_seconds", resp.GenerationTime),
		logging.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

func (c *Channel) await(ctx context.Context, id string) (Response, error) {
	for attempt := 1; attempt <= c.opts.PollAttempts; attempt++ {
		resp, found, err := c.transport.Poll(ctx, id)
		if err != nil {
			return Response{}, services.Wrap(services.ErrTransient, stage, "poll", "", err)
		}
		if found {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return Response{}, services.Wrap(services.ErrCancelled, stage, "poll", "interrupted", ctx.Err())
		case <-time.After(c.opts.PollInterval):
		}
	}
	timeout := time.Duration(c.opts.PollAttempts) * c.opts.PollInterval
	return Response{}, services.Wrap(services.ErrSynthesisTimeout, stage, "poll",
		fmt.Sprintf("no response after %s", timeout), nil)
}

// abandon withdraws id and deletes partial output. A cancelled ctx must not
// stop the cleanup.
func (c *Channel) abandon(ctx context.Context, id, output string) {
	ctx = context.WithoutCancel(ctx)
	c.withdraw(ctx, id)
	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WithContext(ctx, c.logger).Debug("remove partial audio", logging.Error(err))
	}
}

func (c *Channel) withdraw(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	if err := c.transport.Withdraw(ctx, id); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "withdraw synthesis request failed", "synthesis_withdraw_failed",
			logging.String(logging.FieldErrorHint, "remove the request from the inbox manually"),
			logging.String(logging.FieldImpact, "the worker may still voice a stale request"),
			logging.Error(err),
		)
	}
}
