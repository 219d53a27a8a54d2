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

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	LogsDir       string `yaml:"logsDir"`
	DatabaseURL   string `yaml:"databaseURL"`
	PDFStore      string `yaml:"pdfStore"`
	MongoURI      string `yaml:"mongoURI"`
	MongoDatabase string `yaml:"mongoDatabase"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	StorageBackend string `yaml:"storageBackend"`
	StoragePath    string `yaml:"storagePath"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	ParseConcurrency       int `yaml:"parseConcurrency"`
	ReplyConcurrency       int `yaml:"replyConcurrency"`
	QueueMaxRetries        int `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int `yaml:"queueRetryDelaySeconds"`

	LLMProvider          string  `yaml:"llmProvider"`
	LLMModel             string  `yaml:"llmModel"`
	LLMAPIKey            string  `yaml:"llmApiKey"`
	LLMBaseURL           string  `yaml:"llmBaseURL"`
	LLMTimeout           string  `yaml:"llmTimeout"`
	LLMMaxAttempts       int     `yaml:"llmMaxAttempts"`
	LLMBackoff           string  `yaml:"llmBackoff"`
	LLMRequestsPerSecond float64 `yaml:"llmRequestsPerSecond"`
	MaxContextRunes      int     `yaml:"maxContextRunes"`
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
	// Override with environment variables
	if v := os.Getenv("WORKER_PORT"); v != "" {
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
	if v := os.Getenv("PARSE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ParseConcurrency = n
		}
	}
	if v := os.Getenv("REPLY_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReplyConcurrency = n
		}
	}
	if v := os.Getenv("QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if v := os.Getenv("QUEUE_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueRetryDelaySeconds = n
		}
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		cfg.LLMTimeout = v
	}
	if v := os.Getenv("LLM_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLMMaxAttempts = n
		}
	}
	if v := os.Getenv("LLM_REQUESTS_PER_SECOND"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLMRequestsPerSecond = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.PDFStore == "" {
		cfg.PDFStore = "postgres"
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "minio"
	}
	if cfg.ParseConcurrency <= 0 {
		cfg.ParseConcurrency = 2
	}
	if cfg.ReplyConcurrency <= 0 {
		cfg.ReplyConcurrency = 4
	}
	if cfg.LLMMaxAttempts <= 0 {
		cfg.LLMMaxAttempts = 3
	}
	if cfg.LLMRequestsPerSecond <= 0 {
		cfg.LLMRequestsPerSecond = 2
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "gemini"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.PDFStore {
	case "postgres", "mongo":
	default:
		return fmt.Errorf("config: worker pdfStore must be postgres or mongo, got %q", cfg.PDFStore)
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if cfg.PDFStore == "mongo" && strings.TrimSpace(cfg.MongoURI) == "" {
		return errors.New("config: mongoURI is required when pdfStore is mongo")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for the job queue")
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
	if strings.TrimSpace(cfg.LLMModel) == "" {
		return errors.New("config: llmModel is required (set in config.yaml)")
	}
	if cfg.LLMProvider == "gemini" && strings.TrimSpace(cfg.LLMAPIKey) == "" {
		return errors.New("config: llmApiKey is required for gemini (set LLM_API_KEY)")
	}
	if _, err := ParseLLMTimeout(cfg.LLMTimeout); err != nil {
		return err
	}
	if _, err := ParseLLMBackoff(cfg.LLMBackoff); err != nil {
		return err
	}
	if cfg.QueueMaxRetries < 0 || cfg.QueueRetryDelaySeconds < 0 {
		return errors.New("config: queue retry settings must be >= 0")
	}
	return nil
}

// ParseLLMTimeout parses the per-call deadline (default 60s).
func ParseLLMTimeout(raw string) (time.Duration, error) {
	return parsePositiveDuration("llmTimeout", raw, 60*time.Second)
}

// ParseLLMBackoff parses the base delay between LLM retries (default 1s).
func ParseLLMBackoff(raw string) (time.Duration, error) {
	return parsePositiveDuration("llmBackoff", raw, time.Second)
}

func parsePositiveDuration(name, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("invalid %s duration: must be positive", name)
	}
	return dur, nil
}
