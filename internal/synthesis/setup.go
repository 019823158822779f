package synthesis

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"narrate/internal/config"
)

// NewTransport builds the transport selected by synthesis.transport.
func NewTransport(cfg *config.Config, logger *slog.Logger) (Transport, error) {
	if cfg == nil {
		return nil, errors.New("synthesis: config is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Synthesis.Transport)) {
	case "", config.TransportFile:
		return NewFileTransport(cfg.Synthesis.InboxDir, cfg.Synthesis.OutboxDir)
	case config.TransportAMQP:
		return DialAMQP(cfg.Synthesis.AMQPURL, cfg.Synthesis.RequestQueue, cfg.Synthesis.ResponseQueue, logger)
	default:
		return nil, fmt.Errorf("synthesis: unsupported transport %q", cfg.Synthesis.Transport)
	}
}

// WorkerOptionsFromConfig maps the synthesis section onto worker options.
func WorkerOptionsFromConfig(cfg *config.Config) WorkerOptions {
	return WorkerOptions{
		Command:       append([]string(nil), cfg.Synthesis.WorkerCommand...),
		PIDFile:       cfg.Synthesis.PIDFile,
		ReadyFile:     cfg.Synthesis.ReadyFile,
		LogFile:       cfg.Synthesis.WorkerLog,
		StartAttempts: cfg.Synthesis.StartAttempts,
		StartInterval: cfg.StartInterval(),
		ReadyTimeout:  cfg.ReadyTimeout(),
	}
}

// OptionsFromConfig maps the synthesis section onto channel options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AudioDir:     filepath.Join(cfg.Paths.WorkDir, "audio"),
		PollInterval: cfg.PollInterval(),
		PollAttempts: cfg.Synthesis.PollAttempts,
		Defaults: Voice{
			Language:     cfg.Synthesis.Language,
			Speaker:      cfg.Synthesis.Speaker,
			Instruct:     cfg.Synthesis.Instruct,
			MaxNewTokens: cfg.Synthesis.MaxNewTokens,
		},
	}
}
