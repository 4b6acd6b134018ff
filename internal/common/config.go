package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/pdftext/constants"
)

// Config holds all application configuration
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Broker    BrokerConfig    `yaml:"broker"`
	Worker    WorkerConfig    `yaml:"worker"`
	Blob      BlobConfig      `yaml:"blob"`
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Store            string        `yaml:"store"` // sql | firestore | memory
	Driver           string        `yaml:"driver"`
	DSN              string        `yaml:"url"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// FirestoreConfig is used when Database.Store is "firestore".
type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

// BrokerConfig holds the job queue topology and connection.
type BrokerConfig struct {
	URL                string `yaml:"url"`
	Exchange           string `yaml:"exchange"`
	Queue              string `yaml:"queue"`
	RoutingKey         string `yaml:"routing_key"`
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
	PublishMaxAttempts int    `yaml:"publish_max_attempts"`
}

// WorkerConfig holds consumer-side settings.
type WorkerConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	ExtractTimeout time.Duration `yaml:"extract_timeout"`
	Engine         string        `yaml:"engine"` // pdftotext | fitz
	PdftotextBin   string        `yaml:"pdftotext_bin"`
	Validate       bool          `yaml:"validate"`
	HealthAddr     string        `yaml:"health_addr"`
	Embedded       bool          `yaml:"embedded"`
	OCR            OCRConfig     `yaml:"ocr"`
}

// OCRConfig enables the tesseract fallback for PDFs without a text layer.
type OCRConfig struct {
	Enabled      bool   `yaml:"enabled"`
	PdftoppmBin  string `yaml:"pdftoppm_bin"`
	TesseractBin string `yaml:"tesseract_bin"`
	Lang         string `yaml:"lang"`
	DPI          int    `yaml:"dpi"`
	MaxPages     int    `yaml:"max_pages"`
	TessdataDir  string `yaml:"tessdata_dir"`
}

// BlobConfig selects and configures the blob backend.
type BlobConfig struct {
	Backend       string `yaml:"backend"` // s3 | gcs | memory
	S3Endpoint    string `yaml:"s3_endpoint"`
	S3Bucket      string `yaml:"s3_bucket"`
	S3AccessKeyID string `yaml:"s3_access_key_id"`
	S3SecretKey   string `yaml:"s3_secret_access_key"`
	S3Region      string `yaml:"s3_region"`
	S3UseSSL      bool   `yaml:"s3_use_ssl"`
	GCSBucket     string `yaml:"gcs_bucket"`
	GCSEndpoint   string `yaml:"gcs_endpoint"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr       string        `yaml:"http_addr"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	JWTSecret      string        `yaml:"jwt_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	// AuthUsers are "username:bcrypt-hash" pairs accepted by /auth/login.
	AuthUsers   []string `yaml:"auth_users"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// RedisConfig enables the upload rate limiter when Addr is set.
type RedisConfig struct {
	Addr            string        `yaml:"addr"`
	DB              int           `yaml:"db"`
	UploadRateLimit int           `yaml:"upload_rate_limit"`
	UploadWindow    time.Duration `yaml:"upload_rate_window"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{
			Store:           "sql",
			Driver:          "sqlite",
			DSN:             "file:pdftext.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
			MaxConns:        20,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Firestore: FirestoreConfig{Collection: "documents"},
		Broker: BrokerConfig{
			URL:                "memory://",
			Exchange:           "pdftext",
			Queue:              "pdftext.extract",
			RoutingKey:         "extract_text",
			PublishMaxAttempts: 3,
		},
		Worker: WorkerConfig{
			Concurrency:    2,
			ExtractTimeout: 2 * time.Minute,
			Engine:         "pdftotext",
			PdftotextBin:   "pdftotext",
			Validate:       true,
			HealthAddr:     ":9090",
			OCR:            OCRConfig{Lang: "eng", DPI: 300, MaxPages: 20},
		},
		Blob: BlobConfig{Backend: "s3", S3Region: "us-east-1"},
		Server: ServerConfig{
			HTTPAddr:       ":8080",
			MaxUploadBytes: constants.DefaultMaxUploadBytes,
			TokenTTL:       15 * time.Minute,
		},
		Redis: RedisConfig{UploadRateLimit: 10, UploadWindow: time.Minute},
	}
}

// LoadConfig loads configuration from an optional .env file, an optional YAML
// file and environment variables, in increasing order of precedence.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv("PDFTEXT_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("read %s", path), err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("parse %s", path), ErrInvalidInput)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Database.Store = getEnv("DOCUMENT_STORE", c.Database.Store)
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Firestore.ProjectID = getEnv("FIRESTORE_PROJECT_ID", c.Firestore.ProjectID)
	c.Firestore.Collection = getEnv("FIRESTORE_COLLECTION", c.Firestore.Collection)

	c.Broker.URL = getEnv("RABBITMQ_URL", c.Broker.URL)
	c.Broker.Exchange = getEnv("RABBITMQ_EXCHANGE", c.Broker.Exchange)
	c.Broker.Queue = getEnv("RABBITMQ_QUEUE", c.Broker.Queue)
	c.Broker.RoutingKey = getEnv("RABBITMQ_ROUTING_KEY", c.Broker.RoutingKey)
	c.Broker.DeadLetterExchange = getEnv("RABBITMQ_DLX", c.Broker.DeadLetterExchange)
	c.Broker.PublishMaxAttempts = getEnvAsInt("PUBLISH_MAX_ATTEMPTS", c.Broker.PublishMaxAttempts)

	c.Worker.Concurrency = getEnvAsInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.ExtractTimeout = getEnvAsDuration("EXTRACT_TIMEOUT", c.Worker.ExtractTimeout)
	c.Worker.Engine = getEnv("EXTRACT_ENGINE", c.Worker.Engine)
	c.Worker.PdftotextBin = getEnv("PDFTOTEXT_BIN", c.Worker.PdftotextBin)
	c.Worker.Validate = getEnvAsBool("EXTRACT_VALIDATE", c.Worker.Validate)
	c.Worker.HealthAddr = getEnv("HEALTH_ADDR", c.Worker.HealthAddr)
	c.Worker.Embedded = getEnvAsBool("EMBED_WORKER", c.Worker.Embedded)
	c.Worker.OCR.Enabled = getEnvAsBool("OCR_ENABLED", c.Worker.OCR.Enabled)
	c.Worker.OCR.PdftoppmBin = getEnv("PDFTOPPM_BIN", c.Worker.OCR.PdftoppmBin)
	c.Worker.OCR.TesseractBin = getEnv("TESSERACT_BIN", c.Worker.OCR.TesseractBin)
	c.Worker.OCR.Lang = getEnv("TESSERACT_LANG", c.Worker.OCR.Lang)
	c.Worker.OCR.DPI = getEnvAsInt("OCR_DPI", c.Worker.OCR.DPI)
	c.Worker.OCR.MaxPages = getEnvAsInt("OCR_MAX_PAGES", c.Worker.OCR.MaxPages)
	c.Worker.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", c.Worker.OCR.TessdataDir)

	c.Blob.Backend = getEnv("BLOB_BACKEND", c.Blob.Backend)
	c.Blob.S3Endpoint = getEnv("S3_ENDPOINT", c.Blob.S3Endpoint)
	c.Blob.S3Bucket = getEnv("S3_BUCKET", c.Blob.S3Bucket)
	c.Blob.S3AccessKeyID = getEnv("S3_ACCESS_KEY_ID", c.Blob.S3AccessKeyID)
	c.Blob.S3SecretKey = getEnv("S3_SECRET_ACCESS_KEY", c.Blob.S3SecretKey)
	c.Blob.S3Region = getEnv("S3_REGION", c.Blob.S3Region)
	c.Blob.S3UseSSL = getEnvAsBool("S3_USE_SSL", c.Blob.S3UseSSL)
	c.Blob.GCSBucket = getEnv("GCS_BUCKET", c.Blob.GCSBucket)
	c.Blob.GCSEndpoint = getEnv("GCS_ENDPOINT", c.Blob.GCSEndpoint)

	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.MaxUploadBytes = getEnvAsInt64("MAX_UPLOAD_BYTES", c.Server.MaxUploadBytes)
	c.Server.JWTSecret = getEnv("JWT_SECRET", c.Server.JWTSecret)
	c.Server.TokenTTL = getEnvAsDuration("JWT_TTL", c.Server.TokenTTL)
	c.Server.AuthUsers = getEnvAsList("AUTH_USERS", c.Server.AuthUsers)
	c.Server.CORSOrigins = getEnvAsList("CORS_ORIGINS", c.Server.CORSOrigins)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.UploadRateLimit = getEnvAsInt("UPLOAD_RATE_LIMIT", c.Redis.UploadRateLimit)
	c.Redis.UploadWindow = getEnvAsDuration("UPLOAD_RATE_WINDOW", c.Redis.UploadWindow)
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

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
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

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Store {
	case "sql":
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
		}
		if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
			return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
		}
	case "firestore":
		if c.Firestore.ProjectID == "" {
			return NewAppError("CONFIG_ERROR", "FIRESTORE_PROJECT_ID is required", ErrInvalidInput)
		}
	case "memory":
	default:
		return NewAppError("CONFIG_ERROR", "DOCUMENT_STORE must be sql, firestore or memory", ErrInvalidInput)
	}
	if c.Broker.Exchange == "" || c.Broker.Queue == "" || c.Broker.RoutingKey == "" {
		return NewAppError("CONFIG_ERROR", "RABBITMQ_EXCHANGE, RABBITMQ_QUEUE and RABBITMQ_ROUTING_KEY are required", ErrInvalidInput)
	}
	if c.Worker.Concurrency < 1 {
		return NewAppError("CONFIG_ERROR", "WORKER_CONCURRENCY must be at least 1", ErrInvalidInput)
	}
	switch c.Worker.Engine {
	case "pdftotext", "fitz":
	default:
		return NewAppError("CONFIG_ERROR", "EXTRACT_ENGINE must be pdftotext or fitz", ErrInvalidInput)
	}
	switch c.Blob.Backend {
	case "s3":
		if c.Blob.S3Endpoint == "" || c.Blob.S3Bucket == "" {
			return NewAppError("CONFIG_ERROR", "S3_ENDPOINT and S3_BUCKET are required", ErrInvalidInput)
		}
	case "gcs":
		if c.Blob.GCSBucket == "" {
			return NewAppError("CONFIG_ERROR", "GCS_BUCKET is required", ErrInvalidInput)
		}
	case "memory":
	default:
		return NewAppError("CONFIG_ERROR", "BLOB_BACKEND must be s3, gcs or memory", ErrInvalidInput)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_UPLOAD_BYTES must be positive", ErrInvalidInput)
	}
	return nil
}

// UsesMemoryBroker reports whether the in-process broker is configured.
func (c *Config) UsesMemoryBroker() bool {
	return c.Broker.URL == "" || strings.HasPrefix(c.Broker.URL, "memory://")
}
