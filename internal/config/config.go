package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the complete runtime configuration of the relay.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"comfyrelay"`
	HTTPPort    string `envconfig:"HTTP_PORT" default:"8080"`

	HTTP     HTTPConfig
	Log      LogConfig
	Comfy    ComfyConfig
	Output   OutputConfig
	Delivery DeliveryConfig
	Redis    RedisConfig
	Storage  StorageConfig
}

type HTTPConfig struct {
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout     time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

type LogConfig struct {
	Level     string `envconfig:"LOG_LEVEL" default:"info"`
	Format    string `envconfig:"LOG_FORMAT" default:"json"`
	AddSource bool   `envconfig:"LOG_SOURCE" default:"false"`
}

// ComfyConfig describes the execution server and how to supervise it.
type ComfyConfig struct {
	BaseURL string   `envconfig:"COMFY_BASE_URL" default:"http://127.0.0.1:8188"`
	Dir     string   `envconfig:"COMFY_DIR" default:"/comfyui"`
	Command string   `envconfig:"COMFY_COMMAND" default:"python"`
	Args    []string `envconfig:"COMFY_ARGS" default:"main.py,--listen,127.0.0.1,--port,8188"`

	HealthTimeout   time.Duration `envconfig:"COMFY_HEALTH_TIMEOUT" default:"2s"`
	StartupInterval time.Duration `envconfig:"COMFY_STARTUP_INTERVAL" default:"1s"`
	StartupAttempts int           `envconfig:"COMFY_STARTUP_ATTEMPTS" default:"60"`
	StopTimeout     time.Duration `envconfig:"COMFY_STOP_TIMEOUT" default:"10s"`

	PollInterval time.Duration `envconfig:"COMFY_POLL_INTERVAL" default:"2s"`
	PollTimeout  time.Duration `envconfig:"COMFY_POLL_TIMEOUT" default:"300s"`
	SettleDelay  time.Duration `envconfig:"COMFY_SETTLE_DELAY" default:"2s"`
	// FailOnPollTimeout turns the poll ceiling into a job error instead of
	// falling through to artifact location.
	FailOnPollTimeout bool `envconfig:"COMFY_FAIL_ON_POLL_TIMEOUT" default:"false"`
}

type OutputConfig struct {
	Dir             string        `envconfig:"OUTPUT_DIR" default:"/comfyui/output"`
	FreshnessWindow time.Duration `envconfig:"OUTPUT_FRESHNESS_WINDOW" default:"300s"`
}

// DeliveryConfig selects how artifacts leave the worker.
type DeliveryConfig struct {
	// Mode is "inline" (base64 in the response) or "storage" (upload).
	Mode   string `envconfig:"DELIVERY_MODE" default:"inline"`
	Folder string `envconfig:"DELIVERY_FOLDER" default:"hy-motion"`
}

type RedisConfig struct {
	Addr      string        `envconfig:"REDIS_ADDR"`
	Password  string        `envconfig:"REDIS_PASSWORD"`
	DB        int           `envconfig:"REDIS_DB" default:"0"`
	QueueName string        `envconfig:"REDIS_QUEUE_NAME" default:"comfyrelay:jobs"`
	ResultTTL time.Duration `envconfig:"REDIS_RESULT_TTL" default:"24h"`
}

// StorageConfig configures the durable storage provider used by the
// storage delivery mode and by relayctl upload.
type StorageConfig struct {
	Provider string `envconfig:"STORAGE_PROVIDER" default:"s3"`

	S3      S3Config
	Minio   MinioConfig
	LocalFS LocalFSConfig
	GDrive  GDriveConfig
}

type S3Config struct {
	AccountID string `envconfig:"S3_ACCOUNT_ID"`
	Host      string `envconfig:"S3_HOST" default:"r2.cloudflarestorage.com"`
	// Endpoint overrides https://<account>.<host> when set.
	Endpoint  string `envconfig:"S3_ENDPOINT"`
	Bucket    string `envconfig:"S3_BUCKET"`
	Region    string `envconfig:"S3_REGION" default:"auto"`
	AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
}

// URL returns the endpoint override, or https://<account>.<host>.
func (s S3Config) URL() string {
	if s.Endpoint != "" {
		return s.Endpoint
	}
	return "https://" + s.AccountID + "." + s.Host
}

type MinioConfig struct {
	Endpoint  string `envconfig:"MINIO_ENDPOINT"`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY"`
	Bucket    string `envconfig:"MINIO_BUCKET"`
	Region    string `envconfig:"MINIO_REGION"`
	UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"true"`
}

type LocalFSConfig struct {
	Root string `envconfig:"LOCALFS_ROOT" default:"/data"`
}

type GDriveConfig struct {
	ClientID     string `envconfig:"GDRIVE_CLIENT_ID"`
	ClientSecret string `envconfig:"GDRIVE_CLIENT_SECRET"`
	RefreshToken string `envconfig:"GDRIVE_REFRESH_TOKEN"`
	FolderID     string `envconfig:"GDRIVE_FOLDER_ID"`
}

// Delivery modes.
const (
	DeliveryInline  = "inline"
	DeliveryStorage = "storage"
)

// Load reads the environment (and a .env file outside production) into a
// validated Config.
func Load() (*Config, error) {
	if !strings.EqualFold(strings.TrimSpace(lookupEnvironment()), "production") {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints and reports every violation at once.
func (c *Config) Validate() error {
	var problems []string

	if _, err := url.ParseRequestURI(c.Comfy.BaseURL); err != nil {
		problems = append(problems, "COMFY_BASE_URL must be a valid URL")
	}
	if c.Comfy.StartupAttempts < 1 {
		problems = append(problems, "COMFY_STARTUP_ATTEMPTS must be at least 1")
	}
	if c.Comfy.PollInterval <= 0 || c.Comfy.PollTimeout <= 0 {
		problems = append(problems, "COMFY_POLL_INTERVAL and COMFY_POLL_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		problems = append(problems, "OUTPUT_DIR is required")
	}
	if c.Output.FreshnessWindow <= 0 {
		problems = append(problems, "OUTPUT_FRESHNESS_WINDOW must be positive")
	}

	switch c.Delivery.Mode {
	case DeliveryInline:
	case DeliveryStorage:
		problems = append(problems, c.Storage.problems()...)
	default:
		problems = append(problems, fmt.Sprintf("DELIVERY_MODE must be %q or %q", DeliveryInline, DeliveryStorage))
	}

	if len(problems) > 0 {
		return fmt.Errorf("environment validation failed:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// Validate checks the selected provider's settings on their own, for
// callers that use storage outside the storage delivery mode.
func (s StorageConfig) Validate() error {
	if problems := s.problems(); len(problems) > 0 {
		return fmt.Errorf("storage configuration invalid:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

func (s StorageConfig) problems() []string {
	var problems []string
	switch s.Provider {
	case "s3":
		if s.S3.Endpoint == "" && s.S3.AccountID == "" {
			problems = append(problems, "S3_ACCOUNT_ID or S3_ENDPOINT is required")
		}
		if s.S3.Bucket == "" || s.S3.AccessKey == "" || s.S3.SecretKey == "" {
			problems = append(problems, "S3_BUCKET, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required")
		}
	case "minio":
		if s.Minio.Endpoint == "" || s.Minio.Bucket == "" {
			problems = append(problems, "MINIO_ENDPOINT and MINIO_BUCKET are required")
		}
	case "localfs":
		if s.LocalFS.Root == "" {
			problems = append(problems, "LOCALFS_ROOT is required")
		}
	case "gdrive":
		if s.GDrive.ClientID == "" || s.GDrive.ClientSecret == "" || s.GDrive.RefreshToken == "" {
			problems = append(problems, "GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN are required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_PROVIDER %q", s.Provider))
	}
	return problems
}

func lookupEnvironment() string {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		return v
	}
	return "production"
}

// MaskSecret shortens a secret for display.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// Summary returns loggable key/value pairs with secrets masked.
func (c *Config) Summary() []any {
	return []any{
		"environment", c.Environment,
		"comfy_base_url", c.Comfy.BaseURL,
		"output_dir", c.Output.Dir,
		"delivery_mode", c.Delivery.Mode,
		"storage_provider", c.Storage.Provider,
		"s3_access_key", MaskSecret(c.Storage.S3.AccessKey),
		"redis_addr", c.Redis.Addr,
		"poll_timeout", c.Comfy.PollTimeout.String(),
	}
}
