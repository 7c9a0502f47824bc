package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Blob storage for playback audio and eval reports.
	DataDir       string        `env:"DATA_DIR" envDefault:"./data"`
	BlobRetention time.Duration `env:"BLOB_RETENTION" envDefault:"24h"`
	S3            S3Config      `envPrefix:"S3_"`

	// Empty disables persistence.
	DatabaseURL string `env:"DATABASE_URL"`

	// Empty disables the MQTT intake.
	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTTopics    string `env:"MQTT_TOPICS" envDefault:"voxlab/audio/#"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"voxlab"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	// Empty disables the drop-directory watcher.
	WatchDir string `env:"WATCH_DIR"`

	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"30m"`

	// Transcription engine sidecar and model artifact cache.
	EngineURL        string        `env:"ENGINE_URL,required"`
	EngineTimeout    time.Duration `env:"ENGINE_TIMEOUT" envDefault:"5m"`
	Model            string        `env:"MODEL" envDefault:"onnx-community/whisper-base"`
	ModelBaseURL     string        `env:"MODEL_BASE_URL"`
	ModelCacheDir    string        `env:"MODEL_CACHE_DIR" envDefault:"./models"`
	EncoderPrecision string        `env:"ENCODER_PRECISION" envDefault:"q8"`
	DecoderPrecision string        `env:"DECODER_PRECISION" envDefault:"q8"`

	// Chat relay; empty API key disables it unless requests carry
	// their own key.
	ChatAPIKey       string `env:"CHAT_API_KEY"`
	ChatModel        string `env:"CHAT_MODEL" envDefault:"gpt-4o-mini"`
	ChatBaseURL      string `env:"CHAT_BASE_URL"`
	ChatSystemPrompt string `env:"CHAT_SYSTEM_PROMPT" envDefault:"You are a helpful voice assistant. Keep replies short and conversational."`
}

// S3Config selects the S3 blob backend when Bucket is set.
type S3Config struct {
	Bucket        string        `env:"BUCKET"`
	Endpoint      string        `env:"ENDPOINT"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	Prefix        string        `env:"PREFIX"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
}

// Enabled reports whether the S3 backend is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	EngineURL   string
	DataDir     string
	WatchDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// CLI override for the one required field must land before
	// env.Parse or a flag-only invocation fails validation.
	if overrides.EngineURL != "" {
		os.Setenv("ENGINE_URL", overrides.EngineURL)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}

	return cfg, nil
}
