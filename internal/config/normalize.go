package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeSynthesis(); err != nil {
		return err
	}
	c.normalizeVideo()
	c.normalizeStorage()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"paths.data_dir", &c.Paths.DataDir},
		{"paths.media_dir", &c.Paths.MediaDir},
		{"paths.artifact_dir", &c.Paths.ArtifactDir},
		{"paths.work_dir", &c.Paths.WorkDir},
		{"paths.log_dir", &c.Paths.LogDir},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeSynthesis() error {
	s := &c.Synthesis
	s.Transport = strings.ToLower(strings.TrimSpace(s.Transport))
	if s.Transport == "" {
		s.Transport = TransportFile
	}
	fields := []struct {
		name  string
		value *string
	}{
		{"synthesis.inbox_dir", &s.InboxDir},
		{"synthesis.outbox_dir", &s.OutboxDir},
		{"synthesis.ready_file", &s.ReadyFile},
		{"synthesis.pid_file", &s.PIDFile},
		{"synthesis.worker_log", &s.WorkerLog},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	command := s.WorkerCommand[:0]
	for _, arg := range s.WorkerCommand {
		if arg = strings.TrimSpace(arg); arg != "" {
			command = append(command, arg)
		}
	}
	s.WorkerCommand = command
	s.Language = strings.TrimSpace(s.Language)
	if s.Language == "" {
		s.Language = defaultLanguage
	}
	s.Speaker = strings.TrimSpace(s.Speaker)
	if s.Speaker == "" {
		s.Speaker = defaultSpeaker
	}
	s.Instruct = strings.TrimSpace(s.Instruct)
	if s.Instruct == "" {
		s.Instruct = defaultInstruct
	}
	if s.MaxNewTokens <= 0 {
		s.MaxNewTokens = defaultMaxNewTokens
	}
	s.AMQPURL = strings.TrimSpace(s.AMQPURL)
	if strings.TrimSpace(s.RequestQueue) == "" {
		s.RequestQueue = defaultRequestQueue
	}
	if strings.TrimSpace(s.ResponseQueue) == "" {
		s.ResponseQueue = defaultResponseQueue
	}
	return nil
}

func (c *Config) normalizeVideo() {
	c.Video.Preset = strings.TrimSpace(c.Video.Preset)
	if c.Video.Preset == "" {
		c.Video.Preset = defaultVideoPreset
	}
	c.Video.AudioBitrate = strings.TrimSpace(c.Video.AudioBitrate)
	if c.Video.AudioBitrate == "" {
		c.Video.AudioBitrate = defaultAudioBitrate
	}
}

func (c *Config) normalizeStorage() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	c.Storage.S3Bucket = strings.TrimSpace(c.Storage.S3Bucket)
	c.Storage.S3Region = strings.TrimSpace(c.Storage.S3Region)
	c.Storage.S3Prefix = strings.Trim(strings.TrimSpace(c.Storage.S3Prefix), "/")
	c.Storage.S3Endpoint = strings.TrimSpace(c.Storage.S3Endpoint)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
