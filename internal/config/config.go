package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
)

type Config struct {
	API      APIConfig
	Dirs     DirsConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Tools    ToolsConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Webhook  WebhookConfig
	Tracing  TracingConfig
}

type APIConfig struct {
	Addr string
	// RateLimitPerMinute caps uploads per subject; zero disables limiting.
	RateLimitPerMinute int
}

type DirsConfig struct {
	Uploads string
	Outputs string
	Work    string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
}

type ToolsConfig struct {
	FFmpegBin    string
	WhisperBin   string
	WhisperModel string
	// WhisperEnv holds KEY=VALUE pairs injected into each transcriber
	// invocation, replacing the old habit of mutating the process-wide PATH.
	WhisperEnv []string
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type WebhookConfig struct {
	SigningSecret string
	MaxAttempts   int
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:               env("SUBFLOW_API_ADDR", ":8080"),
			RateLimitPerMinute: envInt("SUBFLOW_RATE_LIMIT_PER_MINUTE", 0),
		},
		Dirs: DirsConfig{
			Uploads: env("SUBFLOW_UPLOADS_DIR", "./uploads"),
			Outputs: env("SUBFLOW_OUTPUTS_DIR", "./outputs"),
			Work:    env("SUBFLOW_WORK_DIR", "."),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("SUBFLOW_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
		},
		Tools: ToolsConfig{
			FFmpegBin:    env("FFMPEG_BIN", "ffmpeg"),
			WhisperBin:   env("WHISPER_BIN", "whisper"),
			WhisperModel: env("WHISPER_MODEL", "small"),
			WhisperEnv:   envList("WHISPER_ENV", nil),
		},
		Storage: StorageConfig{
			Enabled:   envBool("MINIO_ENABLED", false),
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "subflow-artifacts"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Webhook: WebhookConfig{
			SigningSecret: env("WEBHOOK_SIGNING_SECRET", ""),
			MaxAttempts:   envInt("WEBHOOK_MAX_ATTEMPTS", 3),
		},
		Tracing: TracingConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTLP_INSECURE", true),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envList splits a comma-separated list of KEY=VALUE pairs.
func envList(key string, fallback []string) []string {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
