package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir" env:"NARRATE_DATA_DIR"`
	MediaDir    string `toml:"media_dir" env:"NARRATE_MEDIA_DIR"`
	ArtifactDir string `toml:"artifact_dir" env:"NARRATE_ARTIFACT_DIR"`
	WorkDir     string `toml:"work_dir" env:"NARRATE_WORK_DIR"`
	LogDir      string `toml:"log_dir" env:"NARRATE_LOG_DIR"`
	APIBind     string `toml:"api_bind" env:"NARRATE_API_BIND"`
	APIToken    string `toml:"api_token" env:"NARRATE_API_TOKEN"`
}

// Synthesis contains configuration for the speech synthesis worker and the
// channel used to exchange requests with it.
type Synthesis struct {
	Transport     string   `toml:"transport" env:"NARRATE_SYNTHESIS_TRANSPORT"`
	InboxDir      string   `toml:"inbox_dir" env:"NARRATE_SYNTHESIS_INBOX_DIR"`
	OutboxDir     string   `toml:"outbox_dir" env:"NARRATE_SYNTHESIS_OUTBOX_DIR"`
	ReadyFile     string   `toml:"ready_file" env:"NARRATE_SYNTHESIS_READY_FILE"`
	PIDFile       string   `toml:"pid_file" env:"NARRATE_SYNTHESIS_PID_FILE"`
	WorkerCommand []string `toml:"worker_command" env:"NARRATE_SYNTHESIS_WORKER_COMMAND" envSeparator:" "`
	WorkerLog     string   `toml:"worker_log" env:"NARRATE_SYNTHESIS_WORKER_LOG"`
	Language      string   `toml:"language" env:"NARRATE_SYNTHESIS_LANGUAGE"`
	Speaker       string   `toml:"speaker" env:"NARRATE_SYNTHESIS_SPEAKER"`
	Instruct      string   `toml:"instruct" env:"NARRATE_SYNTHESIS_INSTRUCT"`
	MaxNewTokens  int      `toml:"max_new_tokens" env:"NARRATE_SYNTHESIS_MAX_NEW_TOKENS"`
	PollInterval  int      `toml:"poll_interval" env:"NARRATE_SYNTHESIS_POLL_INTERVAL"`
	PollAttempts  int      `toml:"poll_attempts" env:"NARRATE_SYNTHESIS_POLL_ATTEMPTS"`
	StartInterval int      `toml:"start_interval" env:"NARRATE_SYNTHESIS_START_INTERVAL"`
	StartAttempts int      `toml:"start_attempts" env:"NARRATE_SYNTHESIS_START_ATTEMPTS"`
	ReadyTimeout  int      `toml:"ready_timeout" env:"NARRATE_SYNTHESIS_READY_TIMEOUT"`
	Concurrency   int      `toml:"concurrency" env:"NARRATE_SYNTHESIS_CONCURRENCY"`
	AMQPURL       string   `toml:"amqp_url" env:"NARRATE_SYNTHESIS_AMQP_URL"`
	RequestQueue  string   `toml:"request_queue" env:"NARRATE_SYNTHESIS_REQUEST_QUEUE"`
	ResponseQueue string   `toml:"response_queue" env:"NARRATE_SYNTHESIS_RESPONSE_QUEUE"`
}

// Video contains the fixed encoding profile shared by every segment.
type Video struct {
	Width         int    `toml:"width" env:"NARRATE_VIDEO_WIDTH"`
	Height        int    `toml:"height" env:"NARRATE_VIDEO_HEIGHT"`
	FPS           int    `toml:"fps" env:"NARRATE_VIDEO_FPS"`
	CRF           int    `toml:"crf" env:"NARRATE_VIDEO_CRF"`
	Preset        string `toml:"preset" env:"NARRATE_VIDEO_PRESET"`
	AudioBitrate  string `toml:"audio_bitrate" env:"NARRATE_VIDEO_AUDIO_BITRATE"`
	FFmpegBinary  string `toml:"ffmpeg_binary" env:"NARRATE_FFMPEG"`
	FFprobeBinary string `toml:"ffprobe_binary" env:"NARRATE_FFPROBE"`
}

// Workflow contains configuration for background run handling.
type Workflow struct {
	ShutdownTimeout  int `toml:"shutdown_timeout" env:"NARRATE_WORKFLOW_SHUTDOWN_TIMEOUT"`
	StaleWorkDirAge  int `toml:"stale_work_dir_age" env:"NARRATE_WORKFLOW_STALE_WORK_DIR_AGE"`
	StatusBuffer     int `toml:"status_buffer" env:"NARRATE_WORKFLOW_STATUS_BUFFER"`
	MinFreeDiskMiB   int `toml:"min_free_disk_mib" env:"NARRATE_WORKFLOW_MIN_FREE_DISK_MIB"`
	StatusPollMillis int `toml:"status_poll_millis" env:"NARRATE_WORKFLOW_STATUS_POLL_MILLIS"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" env:"NARRATE_LOG_FORMAT"`
	Level  string `toml:"level" env:"NARRATE_LOG_LEVEL"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic" env:"NARRATE_NTFY_TOPIC"`
	RequestTimeout int    `toml:"request_timeout" env:"NARRATE_NTFY_REQUEST_TIMEOUT"`
	Completed      bool   `toml:"completed" env:"NARRATE_NTFY_COMPLETED"`
	Failed         bool   `toml:"failed" env:"NARRATE_NTFY_FAILED"`
}

// Storage selects where finished videos are published.
type Storage struct {
	Backend    string `toml:"backend" env:"NARRATE_STORAGE_BACKEND"`
	S3Bucket   string `toml:"s3_bucket" env:"NARRATE_S3_BUCKET"`
	S3Region   string `toml:"s3_region" env:"NARRATE_S3_REGION"`
	S3Prefix   string `toml:"s3_prefix" env:"NARRATE_S3_PREFIX"`
	S3Endpoint string `toml:"s3_endpoint" env:"NARRATE_S3_ENDPOINT"`
}

// Config encapsulates all configuration values for narrate.
//
// Configuration sections by subsystem:
//   - Paths: data, media, artifact and scratch directories plus API bind address
//   - Synthesis: TTS worker lifecycle and request channel
//   - Video: segment encoding profile and media tool binaries
//   - Workflow: background run handling
//   - Logging: log format and level
//   - Notifications: ntfy push notification settings
//   - Storage: final artifact backend (local or s3)
type Config struct {
	Paths         Paths         `toml:"paths"`
	Synthesis     Synthesis     `toml:"synthesis"`
	Video         Video         `toml:"video"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Storage       Storage       `toml:"storage"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. Environment
// variables prefixed with NARRATE_ override file values. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, "", false, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("narrate.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.MediaDir, c.Paths.WorkDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Paths.ArtifactDir)
	}
	if c.Synthesis.Transport == TransportFile {
		dirs = append(dirs, c.Synthesis.InboxDir, c.Synthesis.OutboxDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "narrate.db")
}

// DaemonLockPath returns the single-instance lock file location.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.DataDir, "narrated.lock")
}

// DaemonPIDPath returns the file recording the running daemon's process id.
func (c *Config) DaemonPIDPath() string {
	return filepath.Join(c.Paths.DataDir, "narrated.pid")
}

// DaemonLogPath returns the pointer to the current daemon run's log file.
func (c *Config) DaemonLogPath() string {
	return filepath.Join(c.Paths.LogDir, "narrate.log")
}

// FFmpegBinary returns the ffmpeg executable used for encoding.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Video.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable used for duration probes.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Video.FFprobeBinary); bin != "" {
		return bin
	}
	return "ffprobe"
}

// PollInterval returns the synthesis response polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Synthesis.PollInterval) * time.Second
}

// StartInterval returns the worker liveness polling interval.
func (c *Config) StartInterval() time.Duration {
	return time.Duration(c.Synthesis.StartInterval) * time.Second
}

// ReadyTimeout returns how long to wait for the worker readiness flag.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Synthesis.ReadyTimeout) * time.Second
}

// ShutdownTimeout returns how long the daemon waits for background runs on stop.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Workflow.ShutdownTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
