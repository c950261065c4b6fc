// Package config loads runtime configuration from the environment, the way
// the teacher's internal/config/loader.go does: flat os.Getenv reads into a
// typed struct, with a .env file loaded (and overriding the process
// environment) via github.com/joho/godotenv for local development.
package config

import (
	"encoding/base64"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PostgresConfig configures the Catalog Store connection pool.
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	VectorDim   int
	VectorTable string
}

// S3SSEConfig mirrors the teacher's server-side encryption settings.
type S3SSEConfig struct {
	Algorithm string // e.g. "aws:kms" or "AES256"
	KMSKeyID  string
}

// S3Config configures the Blob Store Adapter.
type S3Config struct {
	Bucket                string
	Region                string
	Endpoint              string
	Prefix                string
	AccessKey             string
	SecretKey             string
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}

// RedisConfig configures the Key Manager's wrapped-key TTL cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EmbeddingConfig configures the Embedding Client's HTTP transport.
type EmbeddingConfig struct {
	BaseURL   string
	Path      string
	Model     string
	APIKey    string
	APIHeader string
	Dimension int
	Timeout   time.Duration
}

// LLMConfig configures the LLM Client (reasoning/selection).
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// KeyManagerConfig configures the Key Manager Adapter.
type KeyManagerConfig struct {
	MasterKeyID   string
	MasterKey     []byte // demo/local master key material; production swaps for a real KMS
	WrappedKeyTTL time.Duration
}

// CacheConfig configures the Chunk Cache.
type CacheConfig struct {
	MaxSize          int
	DefaultTTL       time.Duration
	CleanupInterval  time.Duration
	MemoryBudgetByte int64
	MemoryThreshold  float64
}

// OrchestratorConfig configures the durable workflow runtime.
type OrchestratorConfig struct {
	MaxConcurrentActivities int
	MaxCachedWorkflows      int
	EmbeddingConcurrency    int
	BlobOpsPerSecond        int
	HeartbeatInterval       time.Duration
	ScheduleToCloseTimeout  time.Duration
	ActivityStartToClose    time.Duration
	RetryInitialInterval    time.Duration
	RetryBackoffCoefficient float64
	RetryMaxInterval        time.Duration
	RetryMaxAttempts        int
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
}

// ObsConfig configures the metrics MeterProvider, mirroring the teacher's
// internal/config ObsConfig (service identity attributes plus the OTLP
// collector endpoint, read from the same OTEL_* env vars it uses).
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}

// Config is the fully resolved application configuration.
type Config struct {
	LogLevel     string
	Postgres     PostgresConfig
	S3           S3Config
	Redis        RedisConfig
	Embedding    EmbeddingConfig
	LLM          LLMConfig
	KeyManager   KeyManagerConfig
	Cache        CacheConfig
	Orchestrator OrchestratorConfig
	Obs          ObsConfig
}

// Load reads configuration from the environment, applying the same
// .env-overlay convention as the teacher (godotenv.Overload so a local .env
// file takes precedence over inherited shell variables in dev).
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")

	cfg.Postgres = PostgresConfig{
		DSN:         os.Getenv("POSTGRES_DSN"),
		MaxConns:    int32(envInt("POSTGRES_MAX_CONNS", 20)),
		VectorDim:   envInt("EMBEDDING_DIMENSION", 1536),
		VectorTable: firstNonEmpty(os.Getenv("POSTGRES_VECTOR_TABLE"), "chunk_embeddings"),
	}

	cfg.S3 = S3Config{
		Bucket:                firstNonEmpty(os.Getenv("S3_BUCKET"), "documents"),
		Region:                 firstNonEmpty(os.Getenv("S3_REGION"), "us-east-1"),
		Endpoint:               os.Getenv("S3_ENDPOINT"),
		Prefix:                 os.Getenv("S3_PREFIX"),
		AccessKey:              os.Getenv("S3_ACCESS_KEY"),
		SecretKey:              os.Getenv("S3_SECRET_KEY"),
		UsePathStyle:           envBool("S3_USE_PATH_STYLE", false),
		TLSInsecureSkipVerify:  envBool("S3_TLS_INSECURE_SKIP_VERIFY", false),
		SSE: S3SSEConfig{
			Algorithm: firstNonEmpty(os.Getenv("S3_SSE_ALGORITHM"), "aws:kms"),
			KMSKeyID:  os.Getenv("S3_SSE_KMS_KEY_ID"),
		},
	}

	cfg.Redis = RedisConfig{
		Addr:     firstNonEmpty(os.Getenv("REDIS_ADDR"), "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	}

	cfg.Embedding = EmbeddingConfig{
		BaseURL:   firstNonEmpty(os.Getenv("EMBEDDING_BASE_URL"), "http://localhost:8081"),
		Path:      firstNonEmpty(os.Getenv("EMBEDDING_PATH"), "/v1/embeddings"),
		Model:     firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-small"),
		APIKey:    os.Getenv("EMBEDDING_API_KEY"),
		APIHeader: firstNonEmpty(os.Getenv("EMBEDDING_API_HEADER"), "Authorization"),
		Dimension: envInt("EMBEDDING_DIMENSION", 1536),
		Timeout:   envDuration("EMBEDDING_TIMEOUT", 30*time.Second),
	}

	cfg.LLM = LLMConfig{
		BaseURL: os.Getenv("LLM_BASE_URL"),
		APIKey:  os.Getenv("LLM_API_KEY"),
		Model:   firstNonEmpty(os.Getenv("LLM_MODEL"), "gpt-4"),
		Timeout: envDuration("LLM_TIMEOUT", 30*time.Second),
	}

	cfg.KeyManager = KeyManagerConfig{
		MasterKeyID:   firstNonEmpty(os.Getenv("KMS_MASTER_KEY_ID"), "local-master-key"),
		WrappedKeyTTL: envDuration("KMS_WRAPPED_KEY_TTL", 3600*time.Second),
	}
	if v := os.Getenv("KMS_MASTER_KEY_B64"); v != "" {
		if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
			cfg.KeyManager.MasterKey = decoded
		}
	}

	cfg.Cache = CacheConfig{
		MaxSize:          envInt("CHUNK_CACHE_MAX_SIZE", 10000),
		DefaultTTL:       envDuration("CHUNK_CACHE_TTL", 3600*time.Second),
		CleanupInterval:  envDuration("CHUNK_CACHE_CLEANUP_INTERVAL", 300*time.Second),
		MemoryBudgetByte: int64(envInt("CHUNK_CACHE_MEMORY_BUDGET_BYTES", 256*1024*1024)),
		MemoryThreshold:  envFloat("CHUNK_CACHE_MEMORY_THRESHOLD", 0.75),
	}

	cfg.Orchestrator = OrchestratorConfig{
		MaxConcurrentActivities: envInt("ORCH_MAX_CONCURRENT_ACTIVITIES", 50),
		MaxCachedWorkflows:      envInt("ORCH_MAX_CACHED_WORKFLOWS", 1000),
		EmbeddingConcurrency:    envInt("ORCH_EMBEDDING_CONCURRENCY", 10),
		BlobOpsPerSecond:        envInt("ORCH_BLOB_OPS_PER_SECOND", 50),
		HeartbeatInterval:       envDuration("ORCH_HEARTBEAT_INTERVAL", 2*time.Second),
		ScheduleToCloseTimeout:  envDuration("ORCH_SCHEDULE_TO_CLOSE", 300*time.Second),
		ActivityStartToClose:    envDuration("ORCH_ACTIVITY_START_TO_CLOSE", 30*time.Second),
		RetryInitialInterval:    envDuration("ORCH_RETRY_INITIAL_INTERVAL", 1*time.Second),
		RetryBackoffCoefficient: envFloat("ORCH_RETRY_BACKOFF_COEFFICIENT", 2.0),
		RetryMaxInterval:        envDuration("ORCH_RETRY_MAX_INTERVAL", 60*time.Second),
		RetryMaxAttempts:        envInt("ORCH_RETRY_MAX_ATTEMPTS", 5),
		CircuitBreakerThreshold: envInt("ORCH_CIRCUIT_BREAKER_THRESHOLD", 5),
		CircuitBreakerCooldown:  envDuration("ORCH_CIRCUIT_BREAKER_COOLDOWN", 60*time.Second),
	}

	cfg.Obs = ObsConfig{
		ServiceName:    firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "documentmemoryd"),
		ServiceVersion: os.Getenv("SERVICE_VERSION"),
		Environment:    firstNonEmpty(os.Getenv("ENVIRONMENT"), "dev"),
		OTLP:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
