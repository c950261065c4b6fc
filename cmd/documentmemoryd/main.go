// Command documentmemoryd runs the document memory service: an HTTP front
// end (echo, the way the teacher's main.go/routes.go wire theirs) over the
// Document Service facade, which in turn drives the Orchestrator, the
// Retrieval Planner, and the full adapter stack (blob store, key manager,
// catalog, chunker, embedder, LLM client, chunk cache, knowledge graph).
package main

import (
	"context"
	"crypto/rand"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/intelligencedev/docmemory/internal/activities"
	"github.com/intelligencedev/docmemory/internal/blobstore"
	"github.com/intelligencedev/docmemory/internal/cache"
	"github.com/intelligencedev/docmemory/internal/catalog"
	"github.com/intelligencedev/docmemory/internal/chunker"
	"github.com/intelligencedev/docmemory/internal/config"
	"github.com/intelligencedev/docmemory/internal/crypto"
	"github.com/intelligencedev/docmemory/internal/docservice"
	"github.com/intelligencedev/docmemory/internal/kgraph"
	"github.com/intelligencedev/docmemory/internal/logging"
	"github.com/intelligencedev/docmemory/internal/obs"
	"github.com/intelligencedev/docmemory/internal/orchestrator"
	"github.com/intelligencedev/docmemory/internal/ragembed"
	"github.com/intelligencedev/docmemory/internal/ragllm"
	"github.com/intelligencedev/docmemory/internal/retrieval"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)

	otelShutdown, err := obs.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		logger.Error("failed to init otel metrics", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}
	metrics := obs.NewOtelMetrics(cfg.Obs.ServiceName)

	svc, cleanup, err := buildService(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to build service", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer cleanup()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			logger.Warn("otel shutdown failed", logging.Fields{"error": err.Error()})
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())

	registerRoutes(e, svc)

	addr := ":" + firstNonEmpty(os.Getenv("HTTP_ADDR"), "8080")
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", logging.Fields{"error": err.Error()})
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", logging.Fields{"error": err.Error()})
	}
}

// buildService wires every adapter named by cfg into a Document Service,
// the way the teacher's main.go assembles its dependency graph before
// handing it to registerRoutes. The returned cleanup closes everything that
// owns a background goroutine or a pooled connection.
func buildService(cfg config.Config, logger logging.Logger, metrics obs.Metrics) (*docservice.Service, func(), error) {
	ctx := context.Background()
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var blob blobstore.Store
	if cfg.S3.Bucket != "" && os.Getenv("BLOB_BACKEND") != "memory" {
		s3Store, err := blobstore.NewS3Store(ctx, cfg.S3, logger)
		if err != nil {
			return nil, cleanup, err
		}
		if err := s3Store.CheckConfiguration(ctx); err != nil {
			return nil, cleanup, err
		}
		blob = s3Store
	} else {
		blob = blobstore.NewMemoryStore()
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = rdb.Close() })
		redisClient = rdb
	}

	masterKey := cfg.KeyManager.MasterKey
	if len(masterKey) != crypto.KeyLength {
		logger.Warn("KMS_MASTER_KEY_B64 missing or wrong length, generating an ephemeral master key", logging.Fields{"expected_bytes": crypto.KeyLength})
		masterKey = make([]byte, crypto.KeyLength)
		if _, err := rand.Read(masterKey); err != nil {
			return nil, cleanup, err
		}
	}
	keyManager, err := crypto.NewLocalKeyManager(masterKey, redisClient, cfg.KeyManager.WrappedKeyTTL, logger)
	if err != nil {
		return nil, cleanup, err
	}
	envelope := crypto.NewEnvelopeCrypto()

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, pool.Close)

	cat, err := catalog.New(ctx, pool, cfg.Postgres.VectorDim)
	if err != nil {
		return nil, cleanup, err
	}

	embedder := ragembed.NewHTTPClient(cfg.Embedding, cfg.Orchestrator.EmbeddingConcurrency)
	llmClient := ragllm.NewOpenAIClient(cfg.LLM)

	chunkCache := cache.New(
		cfg.Cache.CleanupInterval,
		cache.WithMaxSize(cfg.Cache.MaxSize),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithMemoryBudget(cfg.Cache.MemoryBudgetByte),
		cache.WithMemoryThreshold(cfg.Cache.MemoryThreshold),
		cache.WithLogger(logger),
		cache.WithMetrics(metrics),
	)
	closers = append(closers, chunkCache.Close)

	graph := kgraph.New()

	acts := activities.New(
		blob, keyManager, envelope, cat, chunker.New(), embedder, llmClient,
		chunkCache, graph, cfg.KeyManager.MasterKeyID, logger, metrics,
	)
	planner := retrieval.New(acts, cat, graph, logger)
	engine := orchestrator.New(
		acts, planner,
		orchestrator.RetryPolicyFromConfig(cfg.Orchestrator),
		orchestrator.TimeoutPolicyFromConfig(cfg.Orchestrator),
		logger, metrics,
	)

	return docservice.New(engine), cleanup, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
