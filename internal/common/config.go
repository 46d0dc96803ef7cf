package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	Upload     UploadConfig
	Parser     ParserConfig
	LLM        LLMConfig
	Extraction ExtractionConfig
	Processing ProcessingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr     string
	LogLevel string
}

// DatabaseConfig holds result-store configuration. Driver is "sqlite" or
// "pgx"; DSN is a file path for sqlite and a postgres URL for pgx.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// StorageConfig selects where uploaded document bytes live.
// Backend is "local" or "s3".
type StorageConfig struct {
	Backend   string
	LocalDir  string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// UploadConfig constrains what the upload endpoint accepts.
type UploadConfig struct {
	MaxFileSize int64
}

// ParserConfig configures the external layout-parsing service. An empty URL
// means the built-in native parser is used instead.
type ParserConfig struct {
	URL     string
	Timeout time.Duration
}

// LLMConfig configures the escalation completion service.
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
	// Confidence assigned when the service reports none of its own.
	DefaultConfidence float64
}

// ExtractionConfig holds thresholds and the confidence weighting table.
// Weights must stay stable across runs so escalation decisions are
// reproducible.
type ExtractionConfig struct {
	EscalationThreshold float64
	ReviewThreshold     float64
	Weights             ConfidenceWeights
}

// ConfidenceWeights is the per-field-group weighting used to aggregate
// field confidences into one score. Values sum to 1.
type ConfidenceWeights struct {
	InvoiceNumber float64
	InvoiceDate   float64
	Total         float64
	CompanyNames  float64
	LineItems     float64
	Secondary     float64
}

// ProcessingConfig tunes the coordinator's worker pool.
type ProcessingConfig struct {
	Workers    int
	QueueSize  int
	RunTimeout time.Duration
}

// DefaultWeights is the documented weighting scheme: identification fields
// and totals carry more weight than line items and secondary fields.
func DefaultWeights() ConfidenceWeights {
	return ConfidenceWeights{
		InvoiceNumber: 0.20,
		InvoiceDate:   0.15,
		Total:         0.20,
		CompanyNames:  0.20,
		LineItems:     0.15,
		Secondary:     0.10,
	}
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     getEnv("HTTP_ADDR", ":8080"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "sqlite"),
			DSN:    getEnv("DB_DSN", "data/invoices.db"),
		},
		Storage: StorageConfig{
			Backend:   getEnv("STORAGE_BACKEND", "local"),
			LocalDir:  getEnv("UPLOAD_DIR", "uploads"),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY_ID", ""),
			SecretKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Bucket:    getEnv("S3_BUCKET_NAME", "invoices"),
			UseSSL:    getEnvAsBool("S3_USE_SSL", false),
		},
		Upload: UploadConfig{
			MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 20<<20),
		},
		Parser: ParserConfig{
			URL:     getEnv("PARSER_URL", ""),
			Timeout: getEnvAsDuration("PARSER_TIMEOUT", 60*time.Second),
		},
		LLM: LLMConfig{
			BaseURL:           getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			Model:             getEnv("LLM_MODEL", "gpt-4o-mini"),
			APIKey:            getEnv("LLM_API_KEY", ""),
			Temperature:       getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:           getEnvAsDuration("LLM_TIMEOUT", 45*time.Second),
			DefaultConfidence: getEnvAsFloat64("LLM_DEFAULT_CONFIDENCE", 0.92),
		},
		Extraction: ExtractionConfig{
			EscalationThreshold: getEnvAsFloat64("LLM_ESCALATION_THRESHOLD", 0.7),
			ReviewThreshold:     getEnvAsFloat64("CONFIDENCE_THRESHOLD", 0.7),
			Weights:             DefaultWeights(),
		},
		Processing: ProcessingConfig{
			Workers:    getEnvAsInt("MAX_WORKERS", 4),
			QueueSize:  getEnvAsInt("QUEUE_SIZE", 256),
			RunTimeout: getEnvAsDuration("PROCESSING_TIMEOUT", 2*time.Minute),
		},
	}
}

// Validate validates the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "pgx" {
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be sqlite or pgx", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_DSN is required", ErrInvalidInput)
	}
	if c.Storage.Backend == "s3" && c.Storage.Endpoint == "" {
		return NewAppError("CONFIG_ERROR", "S3_ENDPOINT is required for s3 storage", ErrInvalidInput)
	}
	if c.Upload.MaxFileSize <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_FILE_SIZE must be positive", ErrInvalidInput)
	}
	if c.Extraction.EscalationThreshold < 0 || c.Extraction.EscalationThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "LLM_ESCALATION_THRESHOLD must be in [0,1]", ErrInvalidInput)
	}
	return nil
}

// LLMConfigured reports whether escalation credentials are present.
func (c *Config) LLMConfigured() bool {
	return strings.TrimSpace(c.LLM.APIKey) != ""
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
