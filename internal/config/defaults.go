package config

const (
	defaultConfigPath      = "~/.config/narrate/config.toml"
	defaultDataDir         = "~/.local/share/narrate"
	defaultMediaDir        = "~/.local/share/narrate/media"
	defaultArtifactDir     = "~/.local/share/narrate/videos"
	defaultWorkDir         = "/tmp/narrate"
	defaultLogDir          = "~/.local/share/narrate/logs"
	defaultAPIBind         = "127.0.0.1:7490"
	defaultInboxDir        = "/tmp/tts_requests"
	defaultOutboxDir       = "/tmp/tts_responses"
	defaultReadyFile       = "/tmp/tts_daemon_ready"
	defaultPIDFile         = "/tmp/tts_daemon.pid"
	defaultWorkerLog       = "~/.local/share/narrate/logs/tts_worker.log"
	defaultLanguage        = "Korean"
	defaultSpeaker         = "Sohee"
	defaultInstruct        = "밝고 명랑한 목소리로 말해주세요"
	defaultMaxNewTokens    = 2048
	defaultRequestQueue    = "narrate.tts.requests"
	defaultResponseQueue   = "narrate.tts.responses"
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultVideoWidth      = 1920
	defaultVideoHeight     = 1080
	defaultVideoFPS        = 30
	defaultVideoCRF        = 23
	defaultVideoPreset     = "fast"
	defaultAudioBitrate    = "192k"
	defaultStaleWorkDirAge = 6 * 60 * 60
)

const (
	// TransportFile exchanges synthesis requests through inbox/outbox directories.
	TransportFile = "file"
	// TransportAMQP exchanges synthesis requests through RabbitMQ queues.
	TransportAMQP = "amqp"

	// StorageLocal keeps finished videos in Paths.ArtifactDir.
	StorageLocal = "local"
	// StorageS3 uploads finished videos to an S3 bucket.
	StorageS3 = "s3"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			MediaDir:    defaultMediaDir,
			ArtifactDir: defaultArtifactDir,
			WorkDir:     defaultWorkDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Synthesis: Synthesis{
			Transport:     TransportFile,
			InboxDir:      defaultInboxDir,
			OutboxDir:     defaultOutboxDir,
			ReadyFile:     defaultReadyFile,
			PIDFile:       defaultPIDFile,
			WorkerCommand: []string{"python3", "tts_daemon.py"},
			WorkerLog:     defaultWorkerLog,
			Language:      defaultLanguage,
			Speaker:       defaultSpeaker,
			Instruct:      defaultInstruct,
			MaxNewTokens:  defaultMaxNewTokens,
			PollInterval:  1,
			PollAttempts:  300,
			StartInterval: 1,
			StartAttempts: 60,
			ReadyTimeout:  60,
			Concurrency:   2,
			RequestQueue:  defaultRequestQueue,
			ResponseQueue: defaultResponseQueue,
		},
		Video: Video{
			Width:        defaultVideoWidth,
			Height:       defaultVideoHeight,
			FPS:          defaultVideoFPS,
			CRF:          defaultVideoCRF,
			Preset:       defaultVideoPreset,
			AudioBitrate: defaultAudioBitrate,
		},
		Workflow: Workflow{
			ShutdownTimeout:  30,
			StaleWorkDirAge:  defaultStaleWorkDirAge,
			StatusBuffer:     64,
			MinFreeDiskMiB:   512,
			StatusPollMillis: 500,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Completed:      true,
			Failed:         true,
		},
		Storage: Storage{
			Backend: StorageLocal,
		},
	}
}
