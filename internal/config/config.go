package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log          LogConfig         `yaml:"log"`
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	RAG          RAGConfig         `yaml:"rag"`
	OCR          OCRConfig         `yaml:"ocr"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	Database     DBConfig          `yaml:"database"`
	Queue        QueueConfig       `yaml:"queue"`
	Storage      StorageConfig     `yaml:"storage"`
	Worker       WorkerConfig      `yaml:"worker"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// LLMConfig describes one model endpoint. Provider is openai (any
// OpenAI-compatible API, OpenRouter included) or ollama.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Key         string        `yaml:"key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	// RequestsPerSecond throttles outbound calls; 0 disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type RAGConfig struct {
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
	MinPageChars int     `yaml:"min_page_chars"`
	BatchSize    int     `yaml:"batch_size"`
	TopK         int     `yaml:"top_k"`
	MinScore     float32 `yaml:"min_score"`
	Retry        RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type OCRConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Languages string        `yaml:"languages"`
	DPI       int           `yaml:"dpi"`
	Timeout   time.Duration `yaml:"timeout"`
}

type VectorStoreConfig struct {
	Type       string `yaml:"type"` // chromem | pgvector
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	InMemory   bool   `yaml:"in_memory"`
	Dimensions int    `yaml:"dimensions"`
}

type DBConfig struct {
	URL    string `yaml:"url"`
	Driver string `yaml:"driver"` // pgdriver | postgres
	Debug  bool   `yaml:"debug"`
}

type QueueConfig struct {
	Type              string        `yaml:"type"` // memory | postgres
	Capacity          int           `yaml:"capacity"`
	ReceiveTimeout    time.Duration `yaml:"receive_timeout"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

type StorageConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WorkerConfig struct {
	Workers    int           `yaml:"workers"`
	JobTimeout time.Duration `yaml:"job_timeout"`
	Retry      RetryConfig   `yaml:"retry"`
	JobStore   string        `yaml:"job_store"` // memory | postgres
}

// Defaults mirror what the first deployment ran with.
const (
	DefaultChunkSize    = 1200
	DefaultChunkOverlap = 400
	DefaultMinPageChars = 50
	DefaultBatchSize    = 32
	DefaultTopK         = 3
	DefaultMinScore     = 0.55
	DefaultCollection   = "docuflow_master_index"
)

func LoadConfig(path string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	applyLLMDefaults(&cfg.EmbedLLM, "nomic-embed-text")
	applyLLMDefaults(&cfg.InferenceLLM, "llama3.1")
	if cfg.InferenceLLM.Temperature == 0 {
		cfg.InferenceLLM.Temperature = 0.8
	}

	r := &cfg.RAG
	if r.ChunkSize <= 0 {
		r.ChunkSize = DefaultChunkSize
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		r.ChunkOverlap = r.ChunkSize / 3
	} else if r.ChunkOverlap == 0 {
		r.ChunkOverlap = DefaultChunkOverlap
		if r.ChunkOverlap >= r.ChunkSize {
			r.ChunkOverlap = r.ChunkSize / 3
		}
	}
	if r.MinPageChars <= 0 {
		r.MinPageChars = DefaultMinPageChars
	}
	if r.BatchSize <= 0 {
		r.BatchSize = DefaultBatchSize
	}
	if r.TopK <= 0 {
		r.TopK = DefaultTopK
	}
	if r.MinScore == 0 {
		r.MinScore = DefaultMinScore
	}
	applyRetryDefaults(&r.Retry, 5, 200*time.Millisecond, 5*time.Second)

	if cfg.OCR.Languages == "" {
		cfg.OCR.Languages = "pol+eng"
	}
	if cfg.OCR.DPI <= 0 {
		cfg.OCR.DPI = 300
	}
	if cfg.OCR.Timeout <= 0 {
		cfg.OCR.Timeout = 2 * time.Minute
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "chromem"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "./chromemdb"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = DefaultCollection
	}
	if cfg.VectorStore.Dimensions <= 0 {
		cfg.VectorStore.Dimensions = 768
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}

	if cfg.Queue.Type == "" {
		cfg.Queue.Type = "memory"
	}
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = 1024
	}
	if cfg.Queue.ReceiveTimeout <= 0 {
		cfg.Queue.ReceiveTimeout = 5 * time.Second
	}
	if cfg.Queue.VisibilityTimeout <= 0 {
		cfg.Queue.VisibilityTimeout = time.Hour
	}

	if cfg.Storage.BaseURL == "" {
		cfg.Storage.BaseURL = "file://localhost/tmp/docuflow-files"
	}
	if cfg.Storage.Timeout <= 0 {
		cfg.Storage.Timeout = 30 * time.Second
	}

	if cfg.Worker.Workers <= 0 {
		cfg.Worker.Workers = 2
	}
	if cfg.Worker.JobTimeout <= 0 {
		cfg.Worker.JobTimeout = time.Hour
	}
	if cfg.Worker.JobStore == "" {
		cfg.Worker.JobStore = "memory"
	}
	applyRetryDefaults(&cfg.Worker.Retry, 3, time.Second, 30*time.Second)
}

func applyLLMDefaults(c *LLMConfig, model string) {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	if c.BaseURL == "" && c.Provider == "ollama" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
}

func applyRetryDefaults(r *RetryConfig, attempts int, base, max time.Duration) {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = attempts
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = base
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = max
	}
}

// applyEnv lets secrets and endpoints come from the environment instead of the file.
func applyEnv(cfg *Config) {
	setString(&cfg.EmbedLLM.Key, "DOCUFLOW_EMBED_KEY", "OPENAI_API_KEY")
	setString(&cfg.InferenceLLM.Key, "DOCUFLOW_INFERENCE_KEY", "OPENAI_API_KEY")
	setString(&cfg.EmbedLLM.BaseURL, "DOCUFLOW_EMBED_BASE_URL")
	setString(&cfg.InferenceLLM.BaseURL, "DOCUFLOW_INFERENCE_BASE_URL")
	setString(&cfg.EmbedLLM.Model, "DOCUFLOW_EMBED_MODEL", "MODEL_EMBEDDING")
	setString(&cfg.InferenceLLM.Model, "DOCUFLOW_INFERENCE_MODEL", "MODEL_GENERATION")
	setString(&cfg.Database.URL, "DOCUFLOW_DATABASE_URL", "DATABASE_URL")
	setString(&cfg.Storage.BaseURL, "DOCUFLOW_STORAGE_URL")
	setString(&cfg.VectorStore.Collection, "DOCUFLOW_COLLECTION", "MASTER_COLLECTION_NAME")
	setString(&cfg.Log.Level, "DOCUFLOW_LOG_LEVEL")
	if v := os.Getenv("DOCUFLOW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Workers = n
		}
	}
}

// setString sets dst from the first non-empty variable, only when dst is unset.
func setString(dst *string, keys ...string) {
	if *dst != "" {
		return
	}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}
