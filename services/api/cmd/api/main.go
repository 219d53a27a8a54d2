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
	"pdfchat/internal/metrics"
	"pdfchat/internal/util"
	"pdfchat/pkg/queue"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
	"pdfchat/services/api/internal/app"
	"pdfchat/services/api/internal/config"
	"pdfchat/services/api/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}

	logger, closeLogs := util.InitLogger(cfg.LogLevel, "api", cfg.LogsDir)
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		users store.UserStore
		chats store.ChatStore
		pdfs  store.PDFStore
		ready func(context.Context) error
	)
	switch cfg.PDFStore {
	case config.PDFStoreMemory:
		mem := store.NewMemoryStore()
		users, chats, pdfs = mem, mem, mem
		logger.Warn("using in-memory store, data is lost on restart")
	case config.PDFStorePostgres, config.PDFStoreMongo:
		db, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			util.Fatal(logger, "init postgres store", "err", err)
		}
		defer db.Close()
		users, chats, pdfs, ready = db, db, db, db.Ping
		if cfg.PDFStore == config.PDFStoreMongo {
			mongoStore, err := store.NewMongoPDFStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
			if err != nil {
				util.Fatal(logger, "init mongo pdf store", "err", err)
			}
			defer mongoStore.Close(context.Background())
			pdfs = mongoStore
		}
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

	revoker := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword, 0)
	defer revoker.Close()
	sessions, err := store.NewJWTHS256SessionStore(cfg.JWTSecret, sessionTTL, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
	if err != nil {
		util.Fatal(logger, "init session store", "err", err)
	}

	parseQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, Stream: queue.ParseStream, Group: queue.ParseGroup,
	})
	if err != nil {
		util.Fatal(logger, "init parse queue", "err", err)
	}
	defer parseQueue.Close()
	replyQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, Stream: queue.ReplyStream, Group: queue.ReplyGroup,
	})
	if err != nil {
		util.Fatal(logger, "init reply queue", "err", err)
	}
	defer replyQueue.Close()

	appCore, err := app.New(app.Config{
		Users:    users,
		PDFs:     pdfs,
		Chats:    chats,
		Objects:  objects,
		Sessions: sessions,
		Jobs:     queue.NewJobs(parseQueue, replyQueue),
	})
	if err != nil {
		util.Fatal(logger, "init app", "err", err)
	}

	rateWindow, err := config.ParseRateLimitWindow(cfg.RateLimitWindow)
	if err != nil {
		util.Fatal(logger, "invalid rate limit window", "err", err)
	}
	httpServer, err := server.New(server.Config{
		App:               appCore,
		RedisAddr:         cfg.RedisAddr,
		RedisPassword:     cfg.RedisPassword,
		RegisterRateLimit: cfg.RegisterRateLimit,
		LoginRateLimit:    cfg.LoginRateLimit,
		RateLimitWindow:   rateWindow,
		TrustedProxies:    cfg.TrustedProxies,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		Metrics:           metrics.New(),
		Ready:             ready,
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

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api server listening", "addr", addr, "pdf_store", cfg.PDFStore, "storage", cfg.StorageBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
