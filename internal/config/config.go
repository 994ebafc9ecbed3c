package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultSessionSecret = "change-me-in-production"

// Config holds all configuration for the application
type Config struct {
	// Server
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"`
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// Database
	DBDriver    string `yaml:"db_driver"` // sqlite3, postgres, pgx
	DatabaseURL string `yaml:"database_url"`

	// Session
	SessionStore           string        `yaml:"session_store"` // sql, memory, redis
	SessionSecret          string        `yaml:"-"`
	SessionMaxAge          int           `yaml:"session_max_age"` // seconds
	SessionCleanupInterval time.Duration `yaml:"session_cleanup_interval"`
	RedisURL               string        `yaml:"redis_url"`

	// RabbitMQ; empty URL disables the broker
	RabbitMQURL   string `yaml:"rabbitmq_url"`
	BrokerWorkers int    `yaml:"broker_workers"`

	// LLM
	LLMProvider string `yaml:"llm_provider"` // openai, ollama, none
	LLMAPIKey   string `yaml:"-"`
	LLMModel    string `yaml:"llm_model"`
	OllamaURL   string `yaml:"ollama_url"`
	Chunker     string `yaml:"chunker"` // rules, llm

	// OAuth
	OAuth OAuthConfig `yaml:"oauth"`

	// Frontend redirect target for OAuth callbacks
	FrontendURL string `yaml:"frontend_url"`
	AdminToken  string `yaml:"-"`

	// Telemetry
	OTELEnabled  bool    `yaml:"otel_enabled"`
	OTELEndpoint string  `yaml:"otel_endpoint"`
	OTELSampler  float64 `yaml:"otel_sampler_ratio"`

	// Queue ordering seed; zero means time-based
	QueueSeed int64 `yaml:"queue_seed"`
}

// OAuthConfig holds identity provider credentials
type OAuthConfig struct {
	RedirectBase string `yaml:"redirect_base"`

	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"-"`

	MicrosoftClientID     string `yaml:"microsoft_client_id"`
	MicrosoftClientSecret string `yaml:"-"`

	AppleClientID       string `yaml:"apple_client_id"`
	AppleTeamID         string `yaml:"apple_team_id"`
	AppleKeyID          string `yaml:"apple_key_id"`
	ApplePrivateKeyPath string `yaml:"apple_private_key_path"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Port:                   8080,
		Bind:                   "0.0.0.0",
		LogLevel:               "info",
		DBDriver:               "sqlite3",
		DatabaseURL:            "nosubvo.db",
		SessionStore:           "sql",
		SessionSecret:          defaultSessionSecret,
		SessionMaxAge:          86400 * 7, // 7 days
		SessionCleanupInterval: time.Hour,
		BrokerWorkers:          2,
		LLMProvider:            "openai",
		LLMModel:               "gpt-4o-mini",
		OllamaURL:              "http://localhost:11434",
		Chunker:                "rules",
		FrontendURL:            "http://localhost:3000",
		OTELSampler:            0.1,
		OAuth: OAuthConfig{
			RedirectBase: "http://localhost:8080",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file,
// dotenv files and finally the process environment.
func Load() (*Config, error) {
	loadDotenv()

	cfg := Default()

	if err := LoadFile(getEnv("NOSUBVO_CONFIG", "nosubvo.yaml"), cfg); err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotenv fills unset variables from .env.local, then .env. Variables
// already in the process environment are never replaced.
func loadDotenv() {
	for _, name := range []string{".env.local", ".env"} {
		_ = godotenv.Load(name)
	}
}

// LoadTool is Load for offline commands (migrate, seed, import). Those
// never issue sessions, so the session secret is not required.
func LoadTool() (*Config, error) {
	loadDotenv()

	cfg := Default()
	if err := LoadFile(getEnv("NOSUBVO_CONFIG", "nosubvo.yaml"), cfg); err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.validateSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.Bind = getEnv("BIND", cfg.Bind)
	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", getEnv("SQLITE_PATH", cfg.DatabaseURL))

	cfg.SessionStore = getEnv("SESSION_STORE", cfg.SessionStore)
	cfg.SessionSecret = getEnv("SESSION_SECRET", cfg.SessionSecret)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", cfg.SessionMaxAge)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", cfg.SessionCleanupInterval)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)

	cfg.RabbitMQURL = getEnv("RABBITMQ_URL", cfg.RabbitMQURL)
	cfg.BrokerWorkers = getEnvInt("BROKER_WORKERS", cfg.BrokerWorkers)

	cfg.LLMProvider = getEnv("LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMAPIKey = getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", cfg.LLMAPIKey))
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.OllamaURL = getEnv("OLLAMA_URL", cfg.OllamaURL)
	cfg.Chunker = getEnv("CHUNKER", cfg.Chunker)

	o := &cfg.OAuth
	o.RedirectBase = getEnv("OAUTH_REDIRECT_BASE", o.RedirectBase)
	o.GoogleClientID = getEnv("GOOGLE_CLIENT_ID", o.GoogleClientID)
	o.GoogleClientSecret = getEnv("GOOGLE_CLIENT_SECRET", o.GoogleClientSecret)
	o.MicrosoftClientID = getEnv("MICROSOFT_CLIENT_ID", o.MicrosoftClientID)
	o.MicrosoftClientSecret = getEnv("MICROSOFT_CLIENT_SECRET", o.MicrosoftClientSecret)
	o.AppleClientID = getEnv("APPLE_CLIENT_ID", o.AppleClientID)
	o.AppleTeamID = getEnv("APPLE_TEAM_ID", o.AppleTeamID)
	o.AppleKeyID = getEnv("APPLE_KEY_ID", o.AppleKeyID)
	o.ApplePrivateKeyPath = getEnv("APPLE_PRIVATE_KEY_PATH", o.ApplePrivateKeyPath)

	cfg.FrontendURL = getEnv("FRONTEND_URL", cfg.FrontendURL)
	cfg.AdminToken = getEnv("ADMIN_TOKEN", cfg.AdminToken)

	cfg.OTELEnabled = getEnvBool("OTEL_ENABLED", cfg.OTELEnabled)
	cfg.OTELEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTELEndpoint)
	cfg.OTELSampler = getEnvFloat("OTEL_SAMPLER_RATIO", cfg.OTELSampler)

	cfg.QueueSeed = int64(getEnvInt("QUEUE_SEED", int(cfg.QueueSeed)))
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	if c.SessionSecret == defaultSessionSecret && !c.Debug {
		return fmt.Errorf("SESSION_SECRET must be set in production")
	}
	return c.validateSettings()
}

func (c *Config) validateSettings() error {
	switch c.DBDriver {
	case "sqlite3", "postgres", "pgx":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}

	switch c.SessionStore {
	case "sql", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis session store")
		}
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore)
	}

	switch c.LLMProvider {
	case "openai", "ollama", "none", "":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.Chunker {
	case "rules", "llm":
	default:
		return fmt.Errorf("unknown CHUNKER %q", c.Chunker)
	}

	if c.OTELSampler < 0 || c.OTELSampler > 1 {
		return fmt.Errorf("OTEL_SAMPLER_RATIO must be within [0, 1]")
	}

	return nil
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// SessionTTL returns the session lifetime
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
