package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/voxhive/voicemem-go/pkg/cache"
	"github.com/voxhive/voicemem-go/pkg/embedder"
	mockEmbedder "github.com/voxhive/voicemem-go/pkg/embedder/mock"
	openaiEmbedder "github.com/voxhive/voicemem-go/pkg/embedder/openai"
	qwenEmbedder "github.com/voxhive/voicemem-go/pkg/embedder/qwen"
	"github.com/voxhive/voicemem-go/pkg/ranker"
	"github.com/voxhive/voicemem-go/pkg/storage"
	mysqlStore "github.com/voxhive/voicemem-go/pkg/storage/mysql"
	postgresStore "github.com/voxhive/voicemem-go/pkg/storage/postgres"
	sqliteStore "github.com/voxhive/voicemem-go/pkg/storage/sqlite"
)

// warmupTimeout bounds the embedding warm-up at engine construction.
const warmupTimeout = 10 * time.Second

// Engine is the conversational memory engine for a voice assistant.
//
// It sits between the dialogue loop and persistent storage:
//   - Search retrieves relevant memories under a hard latency budget
//   - Remember stores new memories in the background, off the hot path
//
// Both operations fail open. A slow store, a failed embedding, or a full
// write queue degrades recall quality; it never stalls or breaks a spoken
// turn. Configuration errors are the exception and fail construction.
//
// The engine is thread-safe and can be used concurrently from multiple
// goroutines.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	engine, _ := core.NewEngine(config)
//	defer engine.Close()
//
//	engine.Remember("user_001", "I love hiking in the mountains")
//	results := engine.Search(ctx, "user_001", "outdoor hobbies")
type Engine struct {
	// config contains the engine configuration with defaults applied.
	config *Config

	// store is the persistent memory store.
	store storage.MemoryStore

	// embedder is the embedding provider for vector generation.
	embedder embedder.Provider

	// ranker fuses vector and keyword relevance.
	ranker *ranker.Ranker

	// queryCache caches query embeddings (nil when caching is disabled).
	queryCache *cache.QueryCache

	// writer persists memories in the background.
	writer *writer

	// snowflakeNode generates unique IDs for memories.
	snowflakeNode *snowflake.Node

	// sem caps the number of in-flight searches.
	sem chan struct{}

	logger *slog.Logger

	searches atomic.Uint64
	timeouts atomic.Uint64
	rejected atomic.Uint64

	closed atomic.Bool
}

// NewEngine creates a new memory engine from configuration.
//
// The engine is initialized with:
//   - Store (SQLite, PostgreSQL, or MySQL)
//   - Embedding provider (OpenAI, Qwen, or mock)
//   - Query-embedding cache and background writer
//
// The embedding provider is warmed up before the engine is returned so the
// first live query does not pay lazy-initialization costs. Warm-up failures
// are logged, not fatal: the provider may simply be unreachable at startup.
//
// Parameters:
//   - cfg: Configuration containing store, embedder, search, and writer settings
//
// Returns a new Engine instance, or an error if initialization fails.
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := initStorage(cfg.Store)
	if err != nil {
		return nil, err
	}

	embedderProvider, err := initEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	engine, err := NewEngineWith(cfg, store, embedderProvider)
	if err != nil {
		return nil, err
	}

	warmupCtx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
	defer cancel()
	if err := embedder.Warmup(warmupCtx, embedderProvider); err != nil {
		engine.logger.Warn("embedder warmup failed", slog.Any("error", err))
	}

	return engine, nil
}

// NewEngineWith creates a memory engine around an existing store and
// embedding provider. The engine takes ownership of both and closes them
// with Close.
//
// Useful for tests and for callers that manage their own connections.
func NewEngineWith(cfg *Config, store storage.MemoryStore, provider embedder.Provider) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewEngineError("NewEngine", err)
	}

	logger := slog.Default().With(slog.String("component", "voicemem"))

	engine := &Engine{
		config:        cfg,
		store:         store,
		embedder:      provider,
		ranker:        ranker.New(cfg.Search.VectorWeight, cfg.Search.KeywordWeight),
		snowflakeNode: node,
		sem:           make(chan struct{}, cfg.Search.MaxConcurrent),
		logger:        logger,
	}

	if cfg.Search.CacheSize > 0 {
		queryCache, err := cache.New(cfg.Search.CacheSize)
		if err != nil {
			return nil, NewEngineError("NewEngine", err)
		}
		engine.queryCache = queryCache
	}

	engine.writer = newWriter(store, provider.Embed, cfg.Writer.QueueSize, cfg.Writer.Workers, logger)

	return engine, nil
}

// Search retrieves the memories most relevant to a query.
//
// The search runs under a hard latency budget (Config.Search.Timeout unless
// overridden with WithTimeout). When the budget is exhausted, or storage or
// embedding fails, Search returns an empty slice. It never returns an error
// and never blocks past the budget: a voice pipeline would rather answer
// without memories than stall a spoken turn.
//
// Results are ordered by descending relevance. Relevance blends vector
// similarity with keyword matching; ties break toward the more recent
// memory. Results scoring below the minimum score are dropped.
//
// Parameters:
//   - ctx: Context for cancellation
//   - userID: User whose memories are searched; never crosses users
//   - query: Natural-language query text
//   - opts: Optional per-call overrides (WithLimit, WithMinScore, WithTimeout)
//
// Returns the matching memories, empty when nothing relevant was found in
// time.
func (e *Engine) Search(ctx context.Context, userID, query string, opts ...SearchOption) []Result {
	e.searches.Add(1)

	if e.closed.Load() || userID == "" || strings.TrimSpace(query) == "" {
		return []Result{}
	}

	options := searchOptions{
		limit:    e.config.Search.Limit,
		minScore: e.config.Search.MinScore,
		timeout:  e.config.Search.Timeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	select {
	case e.sem <- struct{}{}:
	default:
		e.rejected.Add(1)
		e.logger.Warn("search rejected, concurrency cap reached",
			slog.String("user_id", userID))
		return []Result{}
	}

	ctx, cancel := context.WithTimeout(ctx, options.timeout)
	defer cancel()

	// Buffered so a late worker can deliver and exit after the deadline
	// fires, instead of leaking.
	resultCh := make(chan []Result, 1)
	go func() {
		defer func() { <-e.sem }()
		resultCh <- e.doSearch(ctx, userID, query, options)
	}()

	select {
	case results := <-resultCh:
		return results
	case <-ctx.Done():
		// A cancelled parent context is the caller abandoning the turn,
		// not a blown budget; only deadline expiry counts as a timeout.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.timeouts.Add(1)
			e.logger.Warn("search exceeded latency budget",
				slog.String("user_id", userID),
				slog.Duration("budget", options.timeout),
				slog.Any("error", ErrSearchTimeout))
		}
		return []Result{}
	}
}

// doSearch runs the full retrieval pipeline: embed the query, fetch recent
// candidates and keyword hits, rank, and cut.
func (e *Engine) doSearch(ctx context.Context, userID, query string, options searchOptions) []Result {
	queryEmbedding, err := e.embedQuery(ctx, query)
	if err != nil {
		e.logger.Warn("query embedding failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return []Result{}
	}

	// Candidate scan and keyword search hit the store independently; run
	// them concurrently to stay inside the budget.
	type keywordResult struct {
		hits []*storage.KeywordHit
		err  error
	}
	keywordCh := make(chan keywordResult, 1)
	go func() {
		tokens := ranker.Tokenize(query)
		if len(tokens) == 0 {
			keywordCh <- keywordResult{}
			return
		}
		hits, err := e.store.KeywordSearch(ctx, userID, tokens, e.config.Search.CandidateLimit)
		keywordCh <- keywordResult{hits: hits, err: err}
	}()

	candidates, err := e.store.ScanRecent(ctx, userID, e.config.Search.CandidateLimit)
	if err != nil {
		e.logger.Warn("candidate scan failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return []Result{}
	}

	kw := <-keywordCh
	if kw.err != nil {
		// Degrade to vector-only ranking rather than failing the search.
		e.logger.Warn("keyword search failed",
			slog.String("user_id", userID),
			slog.Any("error", kw.err))
		kw.hits = nil
	}

	scored := e.ranker.Rank(queryEmbedding, candidates, kw.hits, options.limit)

	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		if s.Score < options.minScore {
			continue
		}
		results = append(results, Result{
			ID:        s.Record.ID,
			Content:   s.Record.Content,
			Score:     s.Score,
			CreatedAt: s.Record.CreatedAt.UnixMilli(),
		})
	}
	return results
}

// embedQuery returns the embedding for a query, via the cache when enabled.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e.queryCache == nil {
		return e.embedder.Embed(ctx, query)
	}
	return e.queryCache.GetOrCompute(ctx, query, e.embedder.Embed)
}

// Remember stores a new memory for a user.
//
// The call is fire-and-forget: it assigns an ID and creation time, enqueues
// the record for background embedding and persistence, and returns
// immediately. When the write queue is full the memory is dropped and
// counted in Stats rather than blocking the caller.
//
// Empty user IDs and blank content are ignored.
//
// Parameters:
//   - userID: Owner of the memory
//   - content: The utterance text to remember
func (e *Engine) Remember(userID, content string) {
	if e.closed.Load() || userID == "" || strings.TrimSpace(content) == "" {
		return
	}

	e.writer.Submit(&storage.Record{
		ID:        e.snowflakeNode.Generate().Int64(),
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
}

// Wait blocks until all memories submitted so far have been persisted or
// failed. Callers on the hot path never need it; it exists for tests and
// orderly shutdown.
func (e *Engine) Wait() {
	e.writer.Wait()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	stats := Stats{
		Searches:      e.searches.Load(),
		Timeouts:      e.timeouts.Load(),
		Rejected:      e.rejected.Load(),
		Writes:        e.writer.writes.Load(),
		WriteFailures: e.writer.failures.Load(),
		WritesDropped: e.writer.dropped.Load(),
	}
	if e.queryCache != nil {
		stats.CacheHits = e.queryCache.Hits()
		stats.CacheMisses = e.queryCache.Misses()
	}
	return stats
}

// Close shuts down the engine.
//
// It stops accepting new work, drains the write queue, and closes the store
// and the embedding provider. Safe to call more than once.
//
// Returns the first error encountered while closing resources.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.writer.Close()

	var errs []error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0] // Return the first error
	}
	return nil
}

// initStorage initializes the storage backend.
//
// Provider config maps may omit keys; each falls back to the same default
// LoadConfigFromEnv would supply. An unknown provider fails with
// ErrInvalidConfig rather than at first use.
func initStorage(cfg StoreConfig) (storage.MemoryStore, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:    configString(cfg.Config, "db_path", "./voicemem.db"),
			TableName: configString(cfg.Config, "table_name", "memories"),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:               configString(cfg.Config, "host", "localhost"),
			Port:               configInt(cfg.Config, "port", 5432),
			User:               configString(cfg.Config, "user", "postgres"),
			Password:           configString(cfg.Config, "password", ""),
			DBName:             configString(cfg.Config, "db_name", "voicemem"),
			TableName:          configString(cfg.Config, "table_name", "memories"),
			EmbeddingModelDims: configInt(cfg.Config, "embedding_model_dims", 1536),
			SSLMode:            configString(cfg.Config, "ssl_mode", "disable"),
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:      configString(cfg.Config, "host", "127.0.0.1"),
			Port:      configInt(cfg.Config, "port", 3306),
			User:      configString(cfg.Config, "user", "root"),
			Password:  configString(cfg.Config, "password", ""),
			DBName:    configString(cfg.Config, "db_name", "voicemem"),
			TableName: configString(cfg.Config, "table_name", "memories"),
		})
	default:
		return nil, NewEngineError("initStorage", ErrInvalidConfig)
	}
}

// configString reads a string value from a provider config map.
func configString(config map[string]interface{}, key, defaultValue string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return defaultValue
}

// configInt reads an integer value from a provider config map. JSON decoding
// produces float64 for numbers, so both forms are accepted.
func configInt(config map[string]interface{}, key string, defaultValue int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return defaultValue
	}
}

// initEmbedder initializes the embedder provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "qwen":
		return qwenEmbedder.NewClient(&qwenEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "mock":
		if cfg.Dimensions > 0 {
			return mockEmbedder.New(mockEmbedder.WithDimensions(cfg.Dimensions)), nil
		}
		return mockEmbedder.New(), nil
	default:
		return nil, NewEngineError("initEmbedder", ErrInvalidConfig)
	}
}
