package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with PDFCHAT_CONFIG.
const ConfigPath = "config.yaml"

const (
	PDFStorePostgres = "postgres"
	PDFStoreMongo    = "mongo"
	PDFStoreMemory   = "memory"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	LogsDir        string   `yaml:"logsDir"`
	DatabaseURL    string   `yaml:"databaseURL"`
	PDFStore       string   `yaml:"pdfStore"`
	MongoURI       string   `yaml:"mongoURI"`
	MongoDatabase  string   `yaml:"mongoDatabase"`
	RedisAddr      string   `yaml:"redisAddr"`
	RedisPassword  string   `yaml:"redisPassword"`
	TrustedProxies []string `yaml:"trustedProxies"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`
	SessionTTL  string `yaml:"sessionTTL"`

	StorageBackend string `yaml:"storageBackend"` // minio | file
	StoragePath    string `yaml:"storagePath"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`

	// Attempts per client IP per rateLimitWindow.
	RegisterRateLimit int    `yaml:"registerRateLimit"`
	LoginRateLimit    int    `yaml:"loginRateLimit"`
	RateLimitWindow   string `yaml:"rateLimitWindow"`
}

// Load reads config from path (defaults to PDFCHAT_CONFIG or config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("PDFCHAT_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("PDF_STORE"); v != "" {
		cfg.PDFStore = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		cfg.MongoDatabase = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("REGISTER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RegisterRateLimit = n
		}
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimit = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		cfg.RateLimitWindow = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.PDFStore == "" {
		cfg.PDFStore = PDFStorePostgres
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "minio"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "30m"
	}
	if cfg.RateLimitWindow == "" {
		cfg.RateLimitWindow = "1m"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.PDFStore {
	case PDFStorePostgres, PDFStoreMongo, PDFStoreMemory:
	default:
		return fmt.Errorf("config: pdfStore must be postgres, mongo or memory, got %q", cfg.PDFStore)
	}
	if cfg.PDFStore != PDFStoreMemory && cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if cfg.PDFStore == PDFStoreMongo && strings.TrimSpace(cfg.MongoURI) == "" {
		return errors.New("config: mongoURI is required when pdfStore is mongo")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for the job queue")
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return errors.New("config: jwtSecret must be at least 32 bytes (set JWT_SECRET)")
	}
	switch cfg.StorageBackend {
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required (set in config.yaml)")
		}
	case "file":
		if strings.TrimSpace(cfg.StoragePath) == "" {
			return errors.New("config: storagePath is required when storageBackend is file")
		}
	default:
		return fmt.Errorf("config: storageBackend must be minio or file, got %q", cfg.StorageBackend)
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return err
	}
	if cfg.RegisterRateLimit < 0 || cfg.LoginRateLimit < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if _, err := ParseRateLimitWindow(cfg.RateLimitWindow); err != nil {
		return err
	}
	return nil
}

// ParseRateLimitWindow parses the login and register limiter window.
func ParseRateLimitWindow(raw string) (time.Duration, error) {
	if raw == "" {
		return time.Minute, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid rateLimitWindow duration: %w", err)
	}
	if dur < time.Second {
		return 0, errors.New("invalid rateLimitWindow duration: must be at least 1s")
	}
	return dur, nil
}

// ParseSessionTTL parses the access token lifetime.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 30 * time.Minute, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("invalid sessionTTL duration: must be positive")
	}
	return dur, nil
}

// ParseJWTLeeway parses optional clock skew tolerance.
func ParseJWTLeeway(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}
