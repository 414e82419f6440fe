package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"dochub/internal/blob"
	"dochub/internal/cache"
	"dochub/internal/classify"
	"dochub/internal/config"
	"dochub/internal/extract"
	"dochub/internal/extract/tesseract"
	"dochub/internal/graph"
	"dochub/internal/httputil"
	"dochub/internal/llm"
	"dochub/internal/logger"
	"dochub/internal/pipeline"
	"dochub/internal/queue"
	"dochub/internal/store"
	"dochub/internal/summarize"
	"dochub/internal/workpool"
)

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config     config.Config
	Log        *slog.Logger
	Blobs      blob.Store
	Store      store.Store
	Graph      graph.Store
	Queue      queue.Queue // nil when QUEUE_PROVIDER=none
	Summarizer *summarize.Engine
	Pipeline   *pipeline.Orchestrator
	Dispatcher pipeline.Dispatcher

	closers []func() error
}

// GraphDeps is the reduced set used by the internal graph query listener.
type GraphDeps struct {
	Config config.Config
	Log    *slog.Logger
	Graph  graph.Store
}

// Build loads env, config, and every shared component. Callers must Close the result.
func Build(ctx context.Context) (Deps, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return Deps{}, err
	}
	d := Deps{Config: cfg, Log: log}
	if err := d.build(ctx); err != nil {
		d.Close()
		return Deps{}, err
	}
	return d, nil
}

// BuildGraph opens only the relationship graph.
func BuildGraph(ctx context.Context) (GraphDeps, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return GraphDeps{}, err
	}
	g, err := buildGraph(ctx, cfg, log)
	if err != nil {
		return GraphDeps{}, fmt.Errorf("failed to initialize graph: %w", err)
	}
	return GraphDeps{Config: cfg, Log: log, Graph: g}, nil
}

func loadConfig() (config.Config, *slog.Logger, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	return cfg, logger.New(cfg.LogLevel), nil
}

func (d *Deps) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Close releases components in reverse construction order.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}

// HealthChecks are the dependencies whose loss makes a service unusable. The graph and
// the summarizer are best-effort and not included.
func (d *Deps) HealthChecks() map[string]httputil.HealthCheck {
	return map[string]httputil.HealthCheck{
		"store": func(ctx context.Context) error {
			_, err := d.Store.CountByState(ctx)
			return err
		},
	}
}

// checkTopology rejects process layouts that cannot work before anything is opened.
func checkTopology(cfg config.Config) error {
	switch cfg.PipelineMode {
	case "inline":
		return nil
	case "queue":
		if cfg.QueueProvider != "nats" {
			return fmt.Errorf("PIPELINE_MODE=queue requires QUEUE_PROVIDER=nats")
		}
		if cfg.GraphProvider == "badger" {
			return fmt.Errorf("PIPELINE_MODE=queue runs workers in separate processes; GRAPH_PROVIDER=badger can be opened by one process only, use GRAPH_PROVIDER=neo4j")
		}
		return nil
	default:
		return fmt.Errorf("invalid PIPELINE_MODE: %s (valid options: inline, queue)", cfg.PipelineMode)
	}
}

func (d *Deps) build(ctx context.Context) error {
	cfg, log := d.Config, d.Log

	if err := checkTopology(cfg); err != nil {
		return err
	}

	blobs, err := buildBlobs(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	d.Blobs = blobs
	d.onClose(blobs.Close)

	st, err := buildStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	d.Store = st
	d.onClose(st.Close)

	g, err := buildGraph(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize graph: %w", err)
	}
	d.Graph = g
	d.onClose(g.Close)

	stagePool, err := workpool.New(cfg.WorkerPoolSize, workpool.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	d.onClose(func() error { stagePool.Release(10 * time.Second); return nil })

	// Queue handlers and inline runs block on stage slots, so they get their own pool.
	dispatchPool, err := workpool.New(2*stagePool.Cap(), workpool.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create dispatch pool: %w", err)
	}
	d.onClose(func() error { dispatchPool.Release(30 * time.Second); return nil })

	q, nc, err := buildQueue(cfg, log, dispatchPool)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	if nc != nil {
		d.Queue = q
		d.onClose(func() error { return nc.Drain() })
	}

	sumCache, err := buildCache(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	d.onClose(sumCache.Close)

	model, closeModel, err := buildLLM(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM: %w", err)
	}
	if closeModel != nil {
		d.onClose(closeModel)
	}
	d.Summarizer = summarize.New(model,
		summarize.WithCache(sumCache, time.Duration(cfg.CacheTTL)*time.Second),
		summarize.WithInputCap(cfg.SummaryInputCap),
		summarize.WithModelName(cfg.LLMModel),
		summarize.WithLogger(log))

	extractor := buildExtractor(cfg, log, blobs)
	d.onClose(extractor.Close)

	classifier, err := classify.FromFile(cfg.ClassifyRulesPath)
	if err != nil {
		return fmt.Errorf("failed to load classification rules: %w", err)
	}

	orch, err := pipeline.New(st, extractor, classifier, d.Summarizer,
		pipeline.WithGraph(g),
		pipeline.WithPool(stagePool),
		pipeline.WithTimeouts(cfg.ExtractTimeout, cfg.SummarizeTimeout),
		pipeline.WithSummaryMaxLength(cfg.SummaryMaxLength),
		pipeline.WithLogger(log))
	if err != nil {
		return err
	}
	d.Pipeline = orch

	if cfg.PipelineMode == "queue" {
		d.Dispatcher = pipeline.NewQueueDispatcher(d.Queue)
		log.Info("dispatching pipeline runs to queue")
		return nil
	}
	d.Dispatcher = pipeline.NewInlineDispatcher(orch, dispatchPool, log)
	log.Info("running pipeline inline", "stage_workers", stagePool.Cap())
	return nil
}

func buildBlobs(ctx context.Context, cfg config.Config, log *slog.Logger) (blob.Store, error) {
	switch cfg.BlobProvider {
	case "local":
		s, err := blob.NewLocal(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		log.Info("using local blob store", "dir", cfg.UploadDir)
		return s, nil
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCS_BUCKET is required when BLOB_PROVIDER=gcs")
		}
		s, err := blob.NewGCS(ctx, cfg.GCSBucket, log)
		if err != nil {
			return nil, err
		}
		log.Info("using GCS blob store", "bucket", cfg.GCSBucket)
		return s, nil
	default:
		return nil, fmt.Errorf("invalid BLOB_PROVIDER: %s (valid options: local, gcs)", cfg.BlobProvider)
	}
}

func buildStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres store")
		return db, nil
	case "sqlite":
		db, err := store.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
		}
		log.Info("using SQLite store", "path", cfg.SQLitePath)
		return db, nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: postgres, sqlite)", cfg.StoreProvider)
	}
}

func buildGraph(ctx context.Context, cfg config.Config, log *slog.Logger) (graph.Store, error) {
	switch cfg.GraphProvider {
	case "neo4j":
		g, err := graph.OpenNeo4j(ctx, cfg.Neo4jURL, cfg.Neo4jUser, cfg.Neo4jPassword, log)
		if err != nil {
			return nil, err
		}
		log.Info("using Neo4j graph", "url", cfg.Neo4jURL)
		return g, nil
	case "badger":
		g, err := graph.OpenBadger(cfg.GraphPath, false, log)
		if errors.Is(err, graph.ErrGraphLocked) {
			return nil, fmt.Errorf("%w; GRAPH_PROVIDER=badger allows one process per GRAPH_PATH, so stop the gateway first, query through its internal listener, or use GRAPH_PROVIDER=neo4j", err)
		}
		if err != nil {
			return nil, err
		}
		log.Info("using Badger graph", "path", cfg.GraphPath)
		return g, nil
	default:
		return nil, fmt.Errorf("invalid GRAPH_PROVIDER: %s (valid options: neo4j, badger)", cfg.GraphProvider)
	}
}

func buildQueue(cfg config.Config, log *slog.Logger, handlers *workpool.Pool) (queue.Queue, *nats.Conn, error) {
	switch cfg.QueueProvider {
	case "nats":
		if cfg.QueueURL == "" {
			return nil, nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL, nats.Name("dochub"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(nc,
			queue.WithLogger(log),
			queue.WithTaskTimeout(cfg.TaskTimeout),
			queue.WithHandlerPool(handlers)), nc, nil
	case "none", "":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: nats, none)", cfg.QueueProvider)
	}
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.SummaryCache, error) {
	switch cfg.CacheProvider {
	case "redis":
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		log.Info("using Redis summary cache", "addr", cfg.RedisAddr)
		return c, nil
	case "none", "":
		return cache.NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("invalid CACHE_PROVIDER: %s (valid options: redis, none)", cfg.CacheProvider)
	}
}

// buildLLM returns a nil summarizer when none is configured; summarization then
// reports itself unavailable instead of failing startup.
func buildLLM(ctx context.Context, cfg config.Config, log *slog.Logger) (llm.Summarizer, func() error, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			log.Warn("OPENAI_API_KEY not set; summarization unavailable")
			return nil, nil, nil
		}
		client, err := llm.NewOpenAIClient(cfg.OpenAIKey, openai.ChatModel(cfg.LLMModel))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
		}
		log.Info("using OpenAI summarizer", "model", cfg.LLMModel)
		return client, nil, nil
	case "langchain":
		client, err := llm.NewLangChainClient(cfg.LLMBaseURL, cfg.OpenAIKey, cfg.LLMModel)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize LangChain client: %w", err)
		}
		log.Info("using LangChain summarizer", "base_url", cfg.LLMBaseURL, "model", cfg.LLMModel)
		return client, nil, nil
	case "vertex":
		if cfg.VertexProject == "" {
			return nil, nil, fmt.Errorf("VERTEX_PROJECT is required when LLM_PROVIDER=vertex")
		}
		client, err := llm.NewVertexClient(ctx, cfg.VertexProject, cfg.VertexRegion, cfg.LLMModel)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Vertex AI client: %w", err)
		}
		log.Info("using Vertex AI summarizer", "project", cfg.VertexProject, "region", cfg.VertexRegion)
		return client, client.Close, nil
	case "none":
		log.Warn("LLM_PROVIDER=none; summarization unavailable")
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid options: openai, langchain, vertex, none)", cfg.LLMProvider)
	}
}

// buildExtractor wires OCR when tesseract is usable. Without it images extract as
// degraded results.
func buildExtractor(cfg config.Config, log *slog.Logger, files extract.Opener) *extract.Engine {
	opts := []extract.Option{extract.WithPDFText(cfg.ExtractPDFText), extract.WithLogger(log)}

	size := cfg.WorkerPoolSize
	if size <= 0 {
		size = runtime.NumCPU()
	}
	rec, err := tesseract.New(size, cfg.OCRLanguages...)
	if err != nil {
		log.Warn("OCR unavailable; images will extract as degraded", "err", err)
	} else {
		opts = append(opts, extract.WithRecognizer(rec))
		log.Info("using tesseract OCR", "languages", cfg.OCRLanguages, "clients", size)
	}
	return extract.New(files, opts...)
}
