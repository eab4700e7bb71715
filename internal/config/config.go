package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	LLM       LLMConfig       `json:"llm"`
	Examples  ExamplesConfig  `json:"examples"`
	Embedding EmbeddingConfig `json:"embedding"`
	Workflow  WorkflowConfig  `json:"workflow"`
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
}

// DatabaseConfig represents the statistics database connection
type DatabaseConfig struct {
	Driver          string `json:"driver"             env:"DB_DRIVER"            envDefault:"sqlite3"`
	Path            string `json:"path"               env:"DB_PATH"              envDefault:"./data/matches.db"`
	MaxConnections  int    `json:"max_connections"    env:"DB_MAX_CONNECTIONS"   envDefault:"10"`
	MaxIdleConns    int    `json:"max_idle_conns"     env:"DB_MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime string `json:"conn_max_lifetime"  env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	QueryTimeout    string `json:"query_timeout"      env:"DB_QUERY_TIMEOUT"     envDefault:"30s"`
}

// LLMConfig represents the text-generation provider configuration
type LLMConfig struct {
	Provider    string  `json:"provider"    env:"LLM_PROVIDER"    envDefault:"openai"`
	Model       string  `json:"model"       env:"LLM_MODEL"       envDefault:"gpt-4o-mini"`
	APIKey      string  `json:"api_key"     env:"LLM_API_KEY"`
	BaseURL     string  `json:"base_url"    env:"LLM_BASE_URL"`
	Temperature float64 `json:"temperature" env:"LLM_TEMPERATURE" envDefault:"0.2"`
}

// ExamplesConfig represents the few-shot example store
type ExamplesConfig struct {
	Source        string `json:"source"         env:"EXAMPLES_SOURCE"         envDefault:"local"` // local, redis
	Path          string `json:"path"           env:"EXAMPLES_PATH"`
	Count         int    `json:"count"          env:"EXAMPLES_COUNT"          envDefault:"3"`
	RedisAddr     string `json:"redis_addr"     env:"EXAMPLES_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `json:"redis_password" env:"EXAMPLES_REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db"       env:"EXAMPLES_REDIS_DB"       envDefault:"0"`
	RedisKey      string `json:"redis_key"      env:"EXAMPLES_REDIS_KEY"      envDefault:"statquery:examples"`
}

// EmbeddingConfig represents optional embedding-based example ranking
type EmbeddingConfig struct {
	Enabled  bool   `json:"enabled"  env:"EMBEDDING_ENABLED"  envDefault:"false"`
	Provider string `json:"provider" env:"EMBEDDING_PROVIDER" envDefault:"openai"`
	Model    string `json:"model"    env:"EMBEDDING_MODEL"    envDefault:"text-embedding-3-small"`
	BaseURL  string `json:"base_url" env:"EMBEDDING_BASE_URL"`
	APIKey   string `json:"api_key"  env:"EMBEDDING_API_KEY"`
}

// WorkflowConfig represents the query-processing workflow knobs. Both values
// the workflow depends on are configuration, not hard-coded invariants.
type WorkflowConfig struct {
	MaxRepairAttempts int    `json:"max_repair_attempts" env:"MAX_REPAIR_ATTEMPTS" envDefault:"1"`
	RowLimit          int    `json:"row_limit"           env:"ROW_LIMIT"           envDefault:"5"`
	AttemptTimeout    string `json:"attempt_timeout"     env:"ATTEMPT_TIMEOUT"     envDefault:"60s"`
}

// ServerConfig represents the tool server
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST" envDefault:"127.0.0.1"`
	Port int    `json:"port" env:"SERVER_PORT" envDefault:"8000"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"  env:"LOG_LEVEL"  envDefault:"info"`   // debug, info, warn, error
	Format string `json:"format" env:"LOG_FORMAT" envDefault:"text"`   // text, json
	Output string `json:"output" env:"LOG_OUTPUT" envDefault:"stderr"` // stdout, stderr, file
	File   string `json:"file"   env:"LOG_FILE"`
}

// AttemptTimeoutDuration returns the parsed per-attempt timeout. The value is
// validated at load time.
func (w WorkflowConfig) AttemptTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(w.AttemptTimeout)
	return d
}

// QueryTimeoutDuration returns the parsed database query timeout.
func (d DatabaseConfig) QueryTimeoutDuration() time.Duration {
	t, _ := time.ParseDuration(d.QueryTimeout)
	return t
}

// ConnMaxLifetimeDuration returns the parsed connection lifetime.
func (d DatabaseConfig) ConnMaxLifetimeDuration() time.Duration {
	t, _ := time.ParseDuration(d.ConnMaxLifetime)
	return t
}

// Addr returns the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadConfig loads configuration from .env, config file, and environment
// variables, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	// A missing .env file is not an error
	_ = godotenv.Load()

	config := &Config{}

	configPath := os.Getenv("STATQUERY_CONFIG")
	if configPath != "" {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Environment variables override file values and fill in defaults
	if err := env.ParseWithOptions(config, env.Options{
		Prefix: "STATQUERY_",
	}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeConfigs(config, &fileConfig)

	return nil
}

// mergeConfigs merges source configuration into target configuration
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i))
			}
		} else if s.Kind() == reflect.Bool {
			t.Set(s)
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validDrivers := map[string]bool{"sqlite3": true, "duckdb": true}
	if !validDrivers[config.Database.Driver] {
		return fmt.Errorf("invalid database driver: %s (must be sqlite3 or duckdb)",
			config.Database.Driver)
	}

	validSources := map[string]bool{"local": true, "redis": true}
	if !validSources[config.Examples.Source] {
		return fmt.Errorf("invalid examples source: %s (must be local or redis)",
			config.Examples.Source)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	if strings.ToLower(config.Logging.Output) == "file" && config.Logging.File == "" {
		return fmt.Errorf("log file path is required when log output is 'file'")
	}

	for name, value := range map[string]string{
		"database query timeout":   config.Database.QueryTimeout,
		"connection max lifetime":  config.Database.ConnMaxLifetime,
		"workflow attempt timeout": config.Workflow.AttemptTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %s", name, value)
		}
	}

	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf(
			"database max connections must be positive: %d",
			config.Database.MaxConnections,
		)
	}

	if config.Workflow.MaxRepairAttempts < 0 {
		return fmt.Errorf(
			"max repair attempts must not be negative: %d",
			config.Workflow.MaxRepairAttempts,
		)
	}

	if config.Workflow.RowLimit <= 0 {
		return fmt.Errorf("row limit must be positive: %d", config.Workflow.RowLimit)
	}

	if config.Examples.Count < 0 {
		return fmt.Errorf("examples count must not be negative: %d", config.Examples.Count)
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	return nil
}
