// Package main implements pdfchatctl, the operator CLI for pdfchat.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"pdfchat/pkg/store"
)

var (
	databaseURL   string
	pdfStore      string
	mongoURI      string
	mongoDatabase string
	redisAddr     string
	redisPassword string

	version = "dev"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pdfchatctl",
	Short: "Operator commands for pdfchat",
	Long: `pdfchatctl runs maintenance operations directly against the pdfchat
stores: enabling and disabling accounts, failing work that a crashed
worker left behind, and checking the published OpenAPI document.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres DSN")
	flags.StringVar(&pdfStore, "pdf-store", envOr("PDF_STORE", "postgres"), "pdf metadata store: postgres or mongo")
	flags.StringVar(&mongoURI, "mongo-uri", os.Getenv("MONGO_URI"), "mongo connection URI")
	flags.StringVar(&mongoDatabase, "mongo-database", envOr("MONGO_DATABASE", "pdfchat"), "mongo database name")
	flags.StringVar(&redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address for session revocation")
	flags.StringVar(&redisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "redis password")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// stores holds the opened backends and how to release them.
type stores struct {
	users   store.UserStore
	chats   store.ChatStore
	pdfs    store.PDFStore
	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context) (*stores, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("--database-url (or DATABASE_URL) is required")
	}
	db, err := store.NewGormStore(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &stores{users: db, chats: db, pdfs: db}
	s.closers = append(s.closers, func() { _ = db.Close() })
	switch pdfStore {
	case "postgres":
	case "mongo":
		mongoStore, err := store.NewMongoPDFStore(ctx, mongoURI, mongoDatabase)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		s.pdfs = mongoStore
		s.closers = append(s.closers, func() { _ = mongoStore.Close(context.Background()) })
	default:
		s.Close()
		return nil, fmt.Errorf("--pdf-store must be postgres or mongo, got %q", pdfStore)
	}
	return s, nil
}
