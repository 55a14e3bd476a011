package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"queryhub/internal/objstore"
)

type Config struct {
	DatabaseURL  string
	HTTPAddr     string
	APIKeyPepper string
	AdminToken   string
	CORSOrigins  []string

	AgentURL            string
	AgentTimeoutSeconds int

	DailyConversationLimit int
	DailyRunLimit          int

	ExecutorWorkers   int
	ExecutorQueueSize int

	WorkerTickSeconds int
	StaleRunSeconds   int

	MaxUploadBytes       int64
	IPRateLimitPerMinute int

	ObjstoreProvider           string // "local" | "aliyun" | "s3" | ""
	ObjstoreEndpoint           string
	ObjstoreRegion             string
	ObjstoreBucket             string
	ObjstoreBasePrefix         string
	ObjstoreAccessKeyID        string
	ObjstoreAccessKeySecret    string
	ObjstoreUseSSL             bool
	ObjstoreLocalDir           string
	ObjstoreSTSRoleARN         string
	ObjstoreSTSDurationSeconds int
}

const staleRunHeadroomSeconds = 120

func Load() (Config, error) {
	// Optional: load local .env for development. Missing file is fine.
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:  os.Getenv("QUERYHUB_DATABASE_URL"),
		HTTPAddr:     getenvDefault("QUERYHUB_HTTP_ADDR", ":8080"),
		APIKeyPepper: os.Getenv("QUERYHUB_API_KEY_PEPPER"),
		AdminToken:   strings.TrimSpace(os.Getenv("QUERYHUB_ADMIN_TOKEN")),
		CORSOrigins:  getenvCSV("QUERYHUB_CORS_ORIGINS"),

		AgentURL:            strings.TrimSpace(os.Getenv("QUERYHUB_AGENT_URL")),
		AgentTimeoutSeconds: clamp(getenvIntDefault("QUERYHUB_AGENT_TIMEOUT_SECONDS", 30), 1, 600),

		DailyConversationLimit: atLeast(getenvIntDefault("QUERYHUB_DAILY_CONVERSATION_LIMIT", 5), 1),
		DailyRunLimit:          atLeast(getenvIntDefault("QUERYHUB_DAILY_RUN_LIMIT", 20), 1),

		ExecutorWorkers:   clamp(getenvIntDefault("QUERYHUB_EXECUTOR_WORKERS", 8), 1, 256),
		ExecutorQueueSize: atLeast(getenvIntDefault("QUERYHUB_EXECUTOR_QUEUE_SIZE", 256), 1),

		WorkerTickSeconds: atLeast(getenvIntDefault("QUERYHUB_WORKER_TICK_SECONDS", 30), 1),
		StaleRunSeconds:   atLeast(getenvIntDefault("QUERYHUB_STALE_RUN_SECONDS", 900), 60),

		MaxUploadBytes:       int64(atLeast(getenvIntDefault("QUERYHUB_MAX_UPLOAD_BYTES", 20<<20), 1024)),
		IPRateLimitPerMinute: atLeast(getenvIntDefault("QUERYHUB_IP_RATE_LIMIT_PER_MINUTE", 120), 1),

		ObjstoreProvider:           strings.ToLower(strings.TrimSpace(os.Getenv("QUERYHUB_OBJSTORE_PROVIDER"))),
		ObjstoreEndpoint:           strings.TrimSpace(os.Getenv("QUERYHUB_OBJSTORE_ENDPOINT")),
		ObjstoreRegion:             strings.TrimSpace(os.Getenv("QUERYHUB_OBJSTORE_REGION")),
		ObjstoreBucket:             strings.TrimSpace(os.Getenv("QUERYHUB_OBJSTORE_BUCKET")),
		ObjstoreBasePrefix:         strings.Trim(strings.TrimSpace(os.Getenv("QUERYHUB_OBJSTORE_BASE_PREFIX")), "/"),
		ObjstoreAccessKeyID:        strings.TrimSpace(os.Getenv("QUERYHUB_OBJSTORE_ACCESS_KEY_ID")),
		ObjstoreAccessKeySecret:    strings.TrimSpace(os.Getenv("QUERYHUB_OBJSTORE_ACCESS_KEY_SECRET")),
		ObjstoreUseSSL:             getenvBoolDefault("QUERYHUB_OBJSTORE_USE_SSL", true),
		ObjstoreLocalDir:           strings.TrimSpace(os.Getenv("QUERYHUB_OBJSTORE_LOCAL_DIR")),
		ObjstoreSTSRoleARN:         strings.TrimSpace(os.Getenv("QUERYHUB_OBJSTORE_STS_ROLE_ARN")),
		ObjstoreSTSDurationSeconds: clamp(getenvIntDefault("QUERYHUB_OBJSTORE_STS_DURATION_SECONDS", 900), 60, 3600), // 15 minutes
	}

	// A run must be able to use its whole agent timeout, plus a few missed
	// heartbeats, before the reaper may call it abandoned.
	cfg.StaleRunSeconds = max(cfg.StaleRunSeconds, cfg.AgentTimeoutSeconds+staleRunHeadroomSeconds)

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("QUERYHUB_DATABASE_URL is required")
	}
	if cfg.APIKeyPepper == "" {
		return Config{}, errors.New("QUERYHUB_API_KEY_PEPPER is required")
	}
	return cfg, nil
}

// ObjstoreConfig returns the object store settings; Provider is empty when
// uploads are disabled.
func (c Config) ObjstoreConfig() objstore.Config {
	return objstore.Config{
		Provider:           c.ObjstoreProvider,
		Endpoint:           c.ObjstoreEndpoint,
		Region:             c.ObjstoreRegion,
		Bucket:             c.ObjstoreBucket,
		BasePrefix:         c.ObjstoreBasePrefix,
		AccessKeyID:        c.ObjstoreAccessKeyID,
		AccessKeySecret:    c.ObjstoreAccessKeySecret,
		UseSSL:             c.ObjstoreUseSSL,
		LocalDir:           c.ObjstoreLocalDir,
		STSRoleARN:         c.ObjstoreSTSRoleARN,
		STSDurationSeconds: c.ObjstoreSTSDurationSeconds,
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func atLeast(n, lo int) int {
	if n < lo {
		return lo
	}
	return n
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getenvBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvCSV(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
