package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSynthesis(); err != nil {
		return err
	}
	if err := c.validateVideo(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.MediaDir == "" {
		return errors.New("paths.media_dir must be set")
	}
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	return nil
}

func (c *Config) validateSynthesis() error {
	s := c.Synthesis
	switch s.Transport {
	case TransportFile:
		if s.InboxDir == "" || s.OutboxDir == "" {
			return errors.New("synthesis.inbox_dir and synthesis.outbox_dir must be set for the file transport")
		}
		if s.InboxDir == s.OutboxDir {
			return errors.New("synthesis.inbox_dir and synthesis.outbox_dir must differ")
		}
	case TransportAMQP:
		if s.AMQPURL == "" {
			return errors.New("synthesis.amqp_url must be set for the amqp transport")
		}
	default:
		return fmt.Errorf("synthesis.transport: unsupported value %q (want %q or %q)", s.Transport, TransportFile, TransportAMQP)
	}
	if s.ReadyFile == "" {
		return errors.New("synthesis.ready_file must be set")
	}
	if s.PollInterval <= 0 {
		return errors.New("synthesis.poll_interval must be positive")
	}
	if s.PollAttempts <= 0 {
		return errors.New("synthesis.poll_attempts must be positive")
	}
	if s.StartInterval <= 0 {
		return errors.New("synthesis.start_interval must be positive")
	}
	if s.StartAttempts <= 0 {
		return errors.New("synthesis.start_attempts must be positive")
	}
	if s.ReadyTimeout < 0 {
		return errors.New("synthesis.ready_timeout must be non-negative")
	}
	if s.Concurrency <= 0 {
		return errors.New("synthesis.concurrency must be positive")
	}
	return nil
}

func (c *Config) validateVideo() error {
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return errors.New("video.width and video.height must be positive")
	}
	if c.Video.Width%2 != 0 || c.Video.Height%2 != 0 {
		return errors.New("video.width and video.height must be even for yuv420p output")
	}
	if c.Video.FPS <= 0 {
		return errors.New("video.fps must be positive")
	}
	if c.Video.CRF < 0 || c.Video.CRF > 51 {
		return errors.New("video.crf must be between 0 and 51")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.ShutdownTimeout < 0 {
		return errors.New("workflow.shutdown_timeout must be non-negative")
	}
	if c.Workflow.StaleWorkDirAge < 0 {
		return errors.New("workflow.stale_work_dir_age must be non-negative")
	}
	if c.Workflow.StatusBuffer <= 0 {
		return errors.New("workflow.status_buffer must be positive")
	}
	if c.Workflow.MinFreeDiskMiB < 0 {
		return errors.New("workflow.min_free_disk_mib must be non-negative")
	}
	if c.Workflow.StatusPollMillis <= 0 {
		return errors.New("workflow.status_poll_millis must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Paths.ArtifactDir == "" {
			return errors.New("paths.artifact_dir must be set for local storage")
		}
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return errors.New("storage.s3_bucket must be set for s3 storage")
		}
		if c.Storage.S3Region == "" {
			return errors.New("storage.s3_region must be set for s3 storage")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (want %q or %q)", c.Storage.Backend, StorageLocal, StorageS3)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}
