package config

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Debug        bool   `yaml:"debug"`
	LogDir       string `yaml:"log_dir"`
	UploadDir    string `yaml:"upload_dir"`
	EnginePath   string `yaml:"ollama_path"`
	DefaultModel string `yaml:"default_model"`

	ListTimeout     time.Duration `yaml:"list_timeout"`
	VersionTimeout  time.Duration `yaml:"version_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ModelCacheTTL   time.Duration `yaml:"model_cache_ttl"`

	MaxPromptChars int   `yaml:"max_prompt_chars"`
	MaxModelName   int   `yaml:"max_model_name"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	SessionBackend    string        `yaml:"session_backend"`
	SessionSQLitePath string        `yaml:"session_sqlite_path"`
	SessionCookie     string        `yaml:"session_cookie"`
	SessionMaxAge     time.Duration `yaml:"session_max_age"`

	RateLimitPerMin int `yaml:"rate_limit_per_min"`
	RateLimitBurst  int `yaml:"rate_limit_burst"`

	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBName     string `yaml:"db_name"`

	MinIOEndpoint  string `yaml:"minio_endpoint"`
	MinIOAccessKey string `yaml:"minio_access_key"`
	MinIOSecretKey string `yaml:"minio_secret_key"`
	MinIOBucket    string `yaml:"minio_bucket"`
	MinIOSecure    bool   `yaml:"minio_secure"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              5025,
		LogDir:            "./logs",
		UploadDir:         "uploads",
		EnginePath:        defaultEnginePath(),
		DefaultModel:      "deepseek-r1:14b",
		ListTimeout:       10 * time.Second,
		VersionTimeout:    5 * time.Second,
		RequestTimeout:    60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxPromptChars:    10000,
		MaxModelName:      100,
		MaxUploadBytes:    16 * 1024 * 1024,
		SessionBackend:    BackendMemory,
		SessionSQLitePath: "sessions.db",
		SessionCookie:     "ollamachat_session",
		SessionMaxAge:     24 * time.Hour,
		RateLimitPerMin:   30,
		RateLimitBurst:    10,
		MinIOBucket:       "ollamachat-exports",
	}
}

// LoadConfig layers .env, an optional YAML file named by OLLAMACHAT_CONFIG and
// the process environment over Default, in that order.
func LoadConfig() (Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("OLLAMACHAT_CONFIG"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MinIOEnabled reports whether exports should also be archived to object storage.
func (c Config) MinIOEnabled() bool {
	return c.MinIOEndpoint != ""
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.EnginePath == "" {
		return fmt.Errorf("ollama path must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"list_timeout":     c.ListTimeout,
		"version_timeout":  c.VersionTimeout,
		"request_timeout":  c.RequestTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
		"session_max_age":  c.SessionMaxAge,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.ModelCacheTTL < 0 {
		return fmt.Errorf("model_cache_ttl must not be negative")
	}
	if c.MaxPromptChars <= 0 || c.MaxModelName <= 0 || c.MaxUploadBytes <= 0 {
		return fmt.Errorf("size limits must be positive")
	}
	if c.RateLimitPerMin <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	switch c.SessionBackend {
	case BackendMemory, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}
	return nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Host = getEnv("HOST", cfg.Host)
	cfg.LogDir = getEnv("LOG_DIR", cfg.LogDir)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.EnginePath = getEnv("OLLAMA_PATH", cfg.EnginePath)
	cfg.DefaultModel = getEnv("DEFAULT_MODEL", cfg.DefaultModel)
	cfg.SessionBackend = strings.ToLower(getEnv("SESSION_BACKEND", cfg.SessionBackend))
	cfg.SessionSQLitePath = getEnv("SESSION_SQLITE_PATH", cfg.SessionSQLitePath)
	cfg.SessionCookie = getEnv("SESSION_COOKIE", cfg.SessionCookie)
	cfg.DBUser = getEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = getEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBHost = getEnv("DB_HOST", cfg.DBHost)
	cfg.DBPort = getEnv("DB_PORT", cfg.DBPort)
	cfg.DBName = getEnv("DB_NAME", cfg.DBName)
	cfg.MinIOEndpoint = getEnv("MINIO_ENDPOINT", cfg.MinIOEndpoint)
	cfg.MinIOAccessKey = getEnv("MINIO_ACCESS_KEY", cfg.MinIOAccessKey)
	cfg.MinIOSecretKey = getEnv("MINIO_SECRET_KEY", cfg.MinIOSecretKey)
	cfg.MinIOBucket = getEnv("MINIO_BUCKET", cfg.MinIOBucket)

	var err error
	if cfg.Port, err = getEnvInt("PORT", cfg.Port); err != nil {
		return err
	}
	if cfg.MaxPromptChars, err = getEnvInt("MAX_PROMPT_CHARS", cfg.MaxPromptChars); err != nil {
		return err
	}
	if cfg.MaxModelName, err = getEnvInt("MAX_MODEL_NAME", cfg.MaxModelName); err != nil {
		return err
	}
	if cfg.RateLimitPerMin, err = getEnvInt("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin); err != nil {
		return err
	}
	if cfg.RateLimitBurst, err = getEnvInt("RATE_LIMIT_BURST", cfg.RateLimitBurst); err != nil {
		return err
	}
	upload, err := getEnvInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes))
	if err != nil {
		return err
	}
	cfg.MaxUploadBytes = int64(upload)

	if cfg.Debug, err = getEnvBool("DEBUG", cfg.Debug); err != nil {
		return err
	}
	if cfg.MinIOSecure, err = getEnvBool("MINIO_SECURE", cfg.MinIOSecure); err != nil {
		return err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"LIST_TIMEOUT", &cfg.ListTimeout},
		{"VERSION_TIMEOUT", &cfg.VersionTimeout},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"MODEL_CACHE_TTL", &cfg.ModelCacheTTL},
		{"SESSION_MAX_AGE", &cfg.SessionMaxAge},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

func defaultEnginePath() string {
	if path, err := exec.LookPath("ollama"); err == nil {
		return path
	}
	return "/usr/local/bin/ollama"
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
