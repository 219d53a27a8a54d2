package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"pdfchat/internal/metrics"
	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/queue"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
	"pdfchat/services/worker/internal/app"
	"pdfchat/services/worker/internal/config"
	"pdfchat/services/worker/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	llmTimeout, err := config.ParseLLMTimeout(cfg.LLMTimeout)
	if err != nil {
		log.Fatalf("failed to parse llm timeout: %v", err)
	}
	llmBackoff, err := config.ParseLLMBackoff(cfg.LLMBackoff)
	if err != nil {
		log.Fatalf("failed to parse llm backoff: %v", err)
	}

	logger, closeLogs := util.InitLogger(cfg.LogLevel, "worker", cfg.LogsDir)
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal(logger, "init postgres store", "err", err)
	}
	defer db.Close()
	var pdfs store.PDFStore = db
	if cfg.PDFStore == "mongo" {
		mongoStore, err := store.NewMongoPDFStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			util.Fatal(logger, "init mongo pdf store", "err", err)
		}
		defer mongoStore.Close(context.Background())
		pdfs = mongoStore
	}

	var objects storage.ObjectStore
	if cfg.StorageBackend == "file" {
		objects, err = storage.NewFileStore(cfg.StoragePath)
	} else {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	if err != nil {
		util.Fatal(logger, "init object store", "backend", cfg.StorageBackend, "err", err)
	}

	generator, err := ai.NewTextGenerator(ai.ProviderConfig{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		BaseURL:  cfg.LLMBaseURL,
		Timeout:  llmTimeout,
	})
	if err != nil {
		util.Fatal(logger, "init llm client", "provider", cfg.LLMProvider, "err", err)
	}

	m := metrics.New()
	worker, err := app.New(app.Config{
		PDFs:            pdfs,
		Chats:           db,
		Objects:         objects,
		Generator:       generator,
		Metrics:         m,
		MaxAttempts:     cfg.LLMMaxAttempts,
		Backoff:         llmBackoff,
		Timeout:         llmTimeout,
		Limiter:         rate.NewLimiter(rate.Limit(cfg.LLMRequestsPerSecond), 1),
		MaxContextRunes: cfg.MaxContextRunes,
	})
	if err != nil {
		util.Fatal(logger, "init worker", "err", err)
	}

	hostname, _ := os.Hostname()
	newQueue := func(stream, group string) *queue.RedisJobQueue {
		q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     stream,
			Group:      group,
			Consumer:   hostname + "-" + util.NewID(),
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		})
		if err != nil {
			util.Fatal(logger, "init queue", "stream", stream, "err", err)
		}
		return q
	}
	parseQueue := newQueue(queue.ParseStream, queue.ParseGroup)
	defer parseQueue.Close()
	replyQueue := newQueue(queue.ReplyStream, queue.ReplyGroup)
	defer replyQueue.Close()

	httpServer, err := server.New(server.Config{
		Queues: map[string]server.JobLookup{
			"parse": parseQueue,
			"reply": replyQueue,
		},
		Metrics: m,
		Ready:   db.Ping,
	})
	if err != nil {
		util.Fatal(logger, "init server", "err", err)
	}
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return parseQueue.Run(gctx, cfg.ParseConcurrency, worker.HandleParse)
	})
	g.Go(func() error {
		return replyQueue.Run(gctx, cfg.ReplyConcurrency, worker.HandleReply)
	})
	g.Go(func() error {
		slog.Info("worker server listening", "addr", addr, "parse_concurrency", cfg.ParseConcurrency, "reply_concurrency", cfg.ReplyConcurrency)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "err", err)
	}
}
