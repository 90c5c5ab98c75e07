// ragd is the retrieval-augmented generation daemon: document ingestion,
// hybrid search over a Qdrant collection, and streamed grounded answers.
//
// Usage:
//
//	ragd serve                     # start the service
//	ragd serve --config cfg.yaml   # with a config file
//	ragd version                   # print version
//	ragd health                    # probe a running instance
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hassaanmuzammil/pro-rag/api"
	"github.com/hassaanmuzammil/pro-rag/chunker"
	"github.com/hassaanmuzammil/pro-rag/config"
	"github.com/hassaanmuzammil/pro-rag/docstore"
	"github.com/hassaanmuzammil/pro-rag/history"
	"github.com/hassaanmuzammil/pro-rag/internal/database"
	"github.com/hassaanmuzammil/pro-rag/internal/metrics"
	"github.com/hassaanmuzammil/pro-rag/llm"
	"github.com/hassaanmuzammil/pro-rag/llm/embedding"
	"github.com/hassaanmuzammil/pro-rag/llm/rerank"
	"github.com/hassaanmuzammil/pro-rag/loader"
	"github.com/hassaanmuzammil/pro-rag/rag"
	"github.com/hassaanmuzammil/pro-rag/vectorindex"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting ragd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx := context.Background()

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Database not available", zap.Error(err))
	}
	defer database.Close(db)

	store, err := docstore.New(db, logger)
	if err != nil {
		logger.Fatal("Document store init failed", zap.Error(err))
	}

	dense := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseConfig: embedding.BaseConfig{
			BaseURL: cfg.Embedding.Dense.BaseURL,
			APIKey:  cfg.Embedding.Dense.APIKey,
			Model:   cfg.Embedding.Dense.Model,
			Timeout: cfg.Embedding.Dense.Timeout,
		},
		Dimensions: cfg.Qdrant.VectorSize,
	})

	var sparse embedding.SparseProvider
	if cfg.Retrieval.Mode != "dense" {
		sparse = embedding.NewFastEmbedProvider(embedding.BaseConfig{
			BaseURL: cfg.Embedding.Sparse.BaseURL,
			APIKey:  cfg.Embedding.Sparse.APIKey,
			Model:   cfg.Embedding.Sparse.Model,
			Timeout: cfg.Embedding.Sparse.Timeout,
		})
	}

	index, err := vectorindex.New(vectorindex.Config{
		BaseURL:    cfg.Qdrant.BaseURL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		VectorSize: cfg.Qdrant.VectorSize,
		Timeout:    cfg.Qdrant.Timeout,
	}, dense, sparse, logger)
	if err != nil {
		logger.Fatal("Vector index init failed", zap.Error(err))
	}
	created, err := index.EnsureCollection(ctx)
	if err != nil {
		logger.Fatal("Vector collection unavailable", zap.Error(err))
	}
	if created {
		logger.Info("Created vector collection", zap.String("collection", cfg.Qdrant.Collection))
	}

	var reranker rerank.Provider
	if cfg.Rerank.Enabled {
		reranker = rerank.NewJinaProvider(rerank.JinaConfig{
			BaseURL: cfg.Rerank.BaseURL,
			APIKey:  cfg.Rerank.APIKey,
			Model:   cfg.Rerank.Model,
		})
	}

	client := llm.NewOpenAIClient(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		NumPredict: cfg.LLM.NumPredict,
		Timeout:    cfg.LLM.Timeout,
	}, logger)

	counter, err := llm.NewTokenCounter()
	if err != nil {
		logger.Warn("Token encoding unavailable, using heuristic counter", zap.Error(err))
		counter = llm.NewHeuristicTokenCounter()
	}

	var hist history.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := history.NewRedisStore(history.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Window:   cfg.Retrieval.HistoryWindow,
		})
		if err != nil {
			logger.Fatal("Redis history store unavailable", zap.Error(err))
		}
		defer redisStore.Close()
		hist = redisStore
	} else {
		logger.Info("No redis address configured, chat history kept in memory")
		hist = history.NewMemoryStore(cfg.Retrieval.HistoryWindow)
	}

	splitter, err := chunker.New(chunker.Config{
		ParentSize:    cfg.Chunking.ParentSize,
		ParentOverlap: cfg.Chunking.ParentOverlap,
		ChildSize:     cfg.Chunking.ChildSize,
		ChildOverlap:  cfg.Chunking.ChildOverlap,
	}, logger)
	if err != nil {
		logger.Fatal("Splitter init failed", zap.Error(err))
	}

	mode := vectorindex.Mode(cfg.Retrieval.Mode)
	var retriever rag.Retriever
	if cfg.Retrieval.UseParentChild {
		retriever = rag.NewParentChildRetriever(splitter, store, index, mode, cfg.Retrieval.K, logger)
	} else {
		retriever = rag.NewFlatRetriever(splitter, store, index, mode, cfg.Retrieval.K, logger)
	}

	collector := metrics.NewCollector("prorag", prometheus.DefaultRegisterer)

	contextBudget := cfg.LLM.NumCtx - cfg.LLM.NumPredict
	pipeline, err := rag.NewPipeline(retriever, store, index, reranker, client, counter, rag.PipelineConfig{
		TopN:               cfg.Retrieval.TopN,
		ContextTokenBudget: contextBudget,
		StopTokens:         cfg.LLM.StopTokens,
		HistoryWindow:      cfg.Retrieval.HistoryWindow,
		RelevanceGate:      cfg.Retrieval.CheckRelevance,
	}, collector, logger)
	if err != nil {
		logger.Fatal("Pipeline init failed", zap.Error(err))
	}

	handler := api.NewHandler(pipeline, loader.NewRegistry(), hist, logger)
	server := api.NewServer(cfg.Server, handler, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", zap.Error(err))
		}
	}

	logger.Info("ragd stopped")
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8000", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("ragd %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ragd - retrieval-augmented generation service

Usage:
  ragd <command> [options]

Commands:
  serve     Start the ragd server
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  ragd serve
  ragd serve --config /etc/prorag/config.yaml
  ragd health --addr http://localhost:8000
  ragd version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
