// Package core provides the main VoiceMem engine and conversational memory functionality.
package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default engine tuning values. These match a voice-assistant deployment:
// the search budget must fit inside a spoken-turn response pipeline.
const (
	// DefaultSearchTimeout is the latency budget for a full search.
	DefaultSearchTimeout = 40 * time.Millisecond

	// DefaultSearchLimit is the number of results returned per search.
	DefaultSearchLimit = 5

	// DefaultCandidateLimit is how many recent records are scanned per search.
	DefaultCandidateLimit = 100

	// DefaultVectorWeight and DefaultKeywordWeight blend semantic and
	// keyword relevance. They sum to 1.
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3

	// DefaultMinScore filters results below this fused score.
	DefaultMinScore = 0.1

	// DefaultQueryCacheSize bounds the query-embedding cache.
	DefaultQueryCacheSize = 128

	// DefaultWriterQueueSize bounds the background write queue.
	DefaultWriterQueueSize = 64

	// DefaultWriterWorkers is the number of background write workers.
	DefaultWriterWorkers = 1

	// DefaultMaxConcurrentSearches caps in-flight searches per engine.
	DefaultMaxConcurrentSearches = 8
)

// Config contains the complete configuration for a VoiceMem engine.
//
// It includes settings for:
//   - Embedding provider (for vector generation)
//   - Store (for memory persistence and keyword indexing)
//   - Search behavior (latency budget, limits, score blending)
//   - Writer behavior (queue size, worker count)
//
// Example:
//
//	config := &core.Config{
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-3-small",
//	        Dimensions: 1536,
//	    },
//	    Store: core.StoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memories.db",
//	        },
//	    },
//	}
type Config struct {
	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// Store contains storage backend configuration.
	Store StoreConfig `json:"store"`

	// Search contains search tuning configuration.
	Search SearchConfig `json:"search"`

	// Writer contains background writer configuration.
	Writer WriterConfig `json:"writer"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, qwen, mock
//
// Example:
//
//	embedderConfig := core.EmbedderConfig{
//	    Provider:   "openai",
//	    APIKey:     "sk-...",
//	    Model:      "text-embedding-3-small",
//	    Dimensions: 1536,
//	}
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, qwen, mock).
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-3-small", "text-embedding-v4").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536, 1024).
	Dimensions int `json:"dimensions,omitempty"`
}

// StoreConfig contains configuration for the storage backend.
//
// Supported providers: sqlite, postgres, mysql
//
// Example:
//
//	storeConfig := core.StoreConfig{
//	    Provider: "sqlite",
//	    Config: map[string]interface{}{
//	        "db_path":    "./memories.db",
//	        "table_name": "memories",
//	    },
//	}
type StoreConfig struct {
	// Provider is the storage backend name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, table_name
	// For PostgreSQL: host, port, user, password, db_name, table_name, ssl_mode, embedding_model_dims
	// For MySQL: host, port, user, password, db_name, table_name
	Config map[string]interface{} `json:"config"`
}

// SearchConfig contains search tuning configuration.
//
// All fields have working defaults; zero values are replaced at engine
// construction.
type SearchConfig struct {
	// Timeout is the end-to-end latency budget for a search. When the
	// budget is exhausted the search returns empty results rather than
	// blocking the caller.
	Timeout time.Duration `json:"timeout"`

	// Limit is the default number of results returned per search.
	Limit int `json:"limit"`

	// CandidateLimit is how many recent records are fetched and scored
	// per search.
	CandidateLimit int `json:"candidate_limit"`

	// VectorWeight is the semantic similarity weight in the fused score.
	VectorWeight float64 `json:"vector_weight"`

	// KeywordWeight is the keyword relevance weight in the fused score.
	KeywordWeight float64 `json:"keyword_weight"`

	// MinScore filters results whose fused score falls below it.
	MinScore float64 `json:"min_score"`

	// CacheSize bounds the query-embedding cache. Zero uses the default;
	// negative disables caching.
	CacheSize int `json:"cache_size"`

	// MaxConcurrent caps in-flight searches. Excess searches return empty
	// immediately instead of queuing.
	MaxConcurrent int `json:"max_concurrent"`
}

// WriterConfig contains background writer configuration.
type WriterConfig struct {
	// QueueSize bounds the pending-write queue. Writes submitted while the
	// queue is full are dropped and counted.
	QueueSize int `json:"queue_size"`

	// Workers is the number of goroutines draining the queue.
	Workers int `json:"workers"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, mysql)
//   - SQLITE_PATH, SQLITE_TABLE
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, etc.
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMENSIONS
//   - SEARCH_TIMEOUT_MS, SEARCH_LIMIT, CANDIDATE_LIMIT
//   - VECTOR_WEIGHT, KEYWORD_WEIGHT, MIN_SCORE
//   - QUERY_CACHE_SIZE, MAX_CONCURRENT_SEARCHES
//   - WRITER_QUEUE_SIZE, WRITER_WORKERS
//
// Returns a Config instance, or an error if loading fails.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		// Try loading from current directory (godotenv default behavior)
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	storeConfig := make(map[string]interface{})
	switch provider {
	case "sqlite":
		storeConfig = map[string]interface{}{
			"db_path":    getEnvOrDefault("SQLITE_PATH", "./voicemem.db"),
			"table_name": getEnvOrDefault("SQLITE_TABLE", "memories"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		dims, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_EMBEDDING_MODEL_DIMS", "1536"))

		storeConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":                 port,
			"user":                 getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":             os.Getenv("POSTGRES_PASSWORD"),
			"db_name":              getEnvOrDefault("POSTGRES_DATABASE", "voicemem"),
			"table_name":           getEnvOrDefault("POSTGRES_TABLE", "memories"),
			"embedding_model_dims": dims,
			"ssl_mode":             getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))

		storeConfig = map[string]interface{}{
			"host":       getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":       port,
			"user":       getEnvOrDefault("MYSQL_USER", "root"),
			"password":   os.Getenv("MYSQL_PASSWORD"),
			"db_name":    getEnvOrDefault("MYSQL_DATABASE", "voicemem"),
			"table_name": getEnvOrDefault("MYSQL_TABLE", "memories"),
		}
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "openai")
	embedderModel := os.Getenv("EMBEDDING_MODEL")

	// Set default base URL based on provider
	var embedderBaseURL string
	switch embedderProvider {
	case "qwen":
		embedderBaseURL = os.Getenv("QWEN_EMBEDDING_BASE_URL")
		if embedderBaseURL == "" {
			embedderBaseURL = "https://dashscope.aliyuncs.com/api/v1"
		}
		if embedderModel == "" {
			embedderModel = "text-embedding-v4"
		}
	case "openai":
		embedderBaseURL = os.Getenv("OPENAI_EMBEDDING_BASE_URL")
		if embedderBaseURL == "" {
			embedderBaseURL = "https://api.openai.com/v1"
		}
		if embedderModel == "" {
			embedderModel = "text-embedding-3-small"
		}
	default:
		embedderBaseURL = os.Getenv("EMBEDDING_BASE_URL")
	}

	dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "1536"))

	timeoutMS, _ := strconv.Atoi(getEnvOrDefault("SEARCH_TIMEOUT_MS", "40"))
	searchLimit, _ := strconv.Atoi(getEnvOrDefault("SEARCH_LIMIT", "5"))
	candidateLimit, _ := strconv.Atoi(getEnvOrDefault("CANDIDATE_LIMIT", "100"))
	vectorWeight, _ := strconv.ParseFloat(getEnvOrDefault("VECTOR_WEIGHT", "0.7"), 64)
	keywordWeight, _ := strconv.ParseFloat(getEnvOrDefault("KEYWORD_WEIGHT", "0.3"), 64)
	minScore, _ := strconv.ParseFloat(getEnvOrDefault("MIN_SCORE", "0.1"), 64)
	cacheSize, _ := strconv.Atoi(getEnvOrDefault("QUERY_CACHE_SIZE", "128"))
	maxConcurrent, _ := strconv.Atoi(getEnvOrDefault("MAX_CONCURRENT_SEARCHES", "8"))
	queueSize, _ := strconv.Atoi(getEnvOrDefault("WRITER_QUEUE_SIZE", "64"))
	workers, _ := strconv.Atoi(getEnvOrDefault("WRITER_WORKERS", "1"))

	config := &Config{
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      embedderModel,
			BaseURL:    embedderBaseURL,
			Dimensions: dims,
		},
		Store: StoreConfig{
			Provider: provider,
			Config:   storeConfig,
		},
		Search: SearchConfig{
			Timeout:        time.Duration(timeoutMS) * time.Millisecond,
			Limit:          searchLimit,
			CandidateLimit: candidateLimit,
			VectorWeight:   vectorWeight,
			KeywordWeight:  keywordWeight,
			MinScore:       minScore,
			CacheSize:      cacheSize,
			MaxConcurrent:  maxConcurrent,
		},
		Writer: WriterConfig{
			QueueSize: queueSize,
			Workers:   workers,
		},
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewEngineError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Configuration errors fail fast here, before the engine starts. A running
// engine never propagates errors to the caller, so a bad config must never
// reach one.
//
// Checks:
//   - Embedder provider must be specified
//   - Store provider must be specified
//   - Search timeout must not be negative
//   - Blend weights must be non-negative and sum to at most 1
//   - Search and candidate limits must not be negative
//   - Writer queue size and worker count must not be negative
//
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.Embedder.Provider == "" {
		return NewEngineError("Validate", fmt.Errorf("%w: embedder provider is required", ErrInvalidConfig))
	}
	if c.Store.Provider == "" {
		return NewEngineError("Validate", fmt.Errorf("%w: store provider is required", ErrInvalidConfig))
	}
	if c.Search.Timeout < 0 {
		return NewEngineError("Validate", fmt.Errorf("%w: search timeout must not be negative", ErrInvalidConfig))
	}
	if c.Search.VectorWeight < 0 || c.Search.KeywordWeight < 0 {
		return NewEngineError("Validate", fmt.Errorf("%w: blend weights must not be negative", ErrInvalidConfig))
	}
	if c.Search.VectorWeight+c.Search.KeywordWeight > 1 {
		return NewEngineError("Validate", fmt.Errorf("%w: blend weights must sum to at most 1", ErrInvalidConfig))
	}
	if c.Search.Limit < 0 || c.Search.CandidateLimit < 0 {
		return NewEngineError("Validate", fmt.Errorf("%w: search limits must not be negative", ErrInvalidConfig))
	}
	if c.Search.MinScore < 0 {
		return NewEngineError("Validate", fmt.Errorf("%w: min score must not be negative", ErrInvalidConfig))
	}
	if c.Writer.QueueSize < 0 || c.Writer.Workers < 0 {
		return NewEngineError("Validate", fmt.Errorf("%w: writer queue size and workers must not be negative", ErrInvalidConfig))
	}
	return nil
}

// withDefaults returns a copy of the configuration with zero-valued tuning
// fields replaced by defaults.
func (c *Config) withDefaults() *Config {
	cfg := *c

	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = DefaultSearchTimeout
	}
	if cfg.Search.Limit == 0 {
		cfg.Search.Limit = DefaultSearchLimit
	}
	if cfg.Search.CandidateLimit == 0 {
		cfg.Search.CandidateLimit = DefaultCandidateLimit
	}
	if cfg.Search.VectorWeight == 0 && cfg.Search.KeywordWeight == 0 {
		cfg.Search.VectorWeight = DefaultVectorWeight
		cfg.Search.KeywordWeight = DefaultKeywordWeight
	}
	if cfg.Search.CacheSize == 0 {
		cfg.Search.CacheSize = DefaultQueryCacheSize
	}
	if cfg.Search.MaxConcurrent == 0 {
		cfg.Search.MaxConcurrent = DefaultMaxConcurrentSearches
	}
	if cfg.Writer.QueueSize == 0 {
		cfg.Writer.QueueSize = DefaultWriterQueueSize
	}
	if cfg.Writer.Workers == 0 {
		cfg.Writer.Workers = DefaultWriterWorkers
	}

	return &cfg
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	// First check the current directory
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	// Check project root directory (search upward)
	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
