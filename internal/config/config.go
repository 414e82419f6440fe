package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for every dochub binary.
type Config struct {
	// Server
	Port           int    `env:"PORT" envDefault:"8080"`
	GraphQueryHost string `env:"GRAPH_QUERY_HOST" envDefault:"127.0.0.1"` // internal listener; never expose publicly
	GraphQueryPort int    `env:"GRAPH_QUERY_PORT" envDefault:"8082"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`

	// Upload limits and blob storage
	MaxUploadSize int64  `env:"MAX_UPLOAD_SIZE" envDefault:"104857600"` // 100MB in bytes
	UploadDir     string `env:"UPLOAD_DIR" envDefault:"./data/uploads"`
	BlobProvider  string `env:"BLOB_PROVIDER" envDefault:"local"` // "local" or "gcs"
	GCSBucket     string `env:"GCS_BUCKET"`

	// Document record store
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"sqlite"` // "sqlite" (embedded) or "postgres"
	DBURL         string `env:"DB_URL"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"./data/dochub.db"`

	// Relationship graph
	GraphProvider   string `env:"GRAPH_PROVIDER" envDefault:"badger"` // "badger" (embedded) or "neo4j"
	Neo4jURL        string `env:"NEO4J_URL" envDefault:"bolt://localhost:7687"`
	Neo4jUser       string `env:"NEO4J_USER" envDefault:"neo4j"`
	Neo4jPassword   string `env:"NEO4J_PASSWORD"`
	GraphPath       string `env:"GRAPH_PATH" envDefault:"./data/graph"`
	GraphAdminToken string `env:"GRAPH_ADMIN_TOKEN"`

	// Queue
	QueueProvider string        `env:"QUEUE_PROVIDER" envDefault:"none"` // "nats" or "none"
	QueueURL      string        `env:"QUEUE_URL"`
	PipelineMode  string        `env:"PIPELINE_MODE" envDefault:"inline"` // "inline" or "queue"
	TaskTimeout   time.Duration `env:"TASK_TIMEOUT" envDefault:"5m"`

	// Summarization
	LLMProvider      string `env:"LLM_PROVIDER" envDefault:"openai"` // "openai", "langchain", "vertex" or "none"
	OpenAIKey        string `env:"OPENAI_API_KEY"`
	LLMModel         string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMBaseURL       string `env:"LLM_BASE_URL" envDefault:"http://localhost:11434/v1"`
	VertexProject    string `env:"VERTEX_PROJECT"`
	VertexRegion     string `env:"VERTEX_REGION" envDefault:"us-central1"`
	SummaryInputCap  int    `env:"SUMMARY_INPUT_CAP" envDefault:"1000"`
	SummaryMaxLength int    `env:"SUMMARY_MAX_LENGTH" envDefault:"150"`

	// Summary cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"none"` // "redis" or "none"
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"86400"` // seconds

	// Pipeline workers
	WorkerPoolSize   int           `env:"WORKER_POOL_SIZE" envDefault:"0"` // 0 means runtime.NumCPU()
	ExtractTimeout   time.Duration `env:"EXTRACT_TIMEOUT" envDefault:"2m"`
	SummarizeTimeout time.Duration `env:"SUMMARIZE_TIMEOUT" envDefault:"90s"`

	// Extraction and classification
	OCRLanguages      []string `env:"OCR_LANGUAGES" envSeparator:"," envDefault:"eng"`
	ExtractPDFText    bool     `env:"EXTRACT_PDF_TEXT" envDefault:"false"`
	ClassifyRulesPath string   `env:"CLASSIFY_RULES_PATH"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
