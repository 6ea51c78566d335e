package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendRekognition = "rekognition"
	BackendGRPC        = "grpc"
)

const (
	TracingNone   = "none"
	TracingStdout = "stdout"
	TracingOTLP   = "otlp"
)

// DefaultJWTSecret is only meant for local development.
const DefaultJWTSecret = "dev-secret"

// ConfigFileEnv names the variable pointing at an optional YAML file. Values
// from the file are applied before environment variables.
const ConfigFileEnv = "FACEFINDER_CONFIG"

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Compare  CompareConfig  `yaml:"compare"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type CompareConfig struct {
	Backend     string        `yaml:"backend"`      // rekognition or grpc
	AWSRegion   string        `yaml:"aws_region"`   // empty uses the SDK default chain
	ServiceAddr string        `yaml:"service_addr"` // gRPC face comparer address
	Timeout     time.Duration `yaml:"timeout"`      // per comparison; zero disables
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"` // empty disables pass history
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr   string `yaml:"addr"` // empty disables the pass cache
	Prefix string `yaml:"prefix"`
}

type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`
}

type TracingConfig struct {
	Exporter     string  `yaml:"exporter"`      // none, stdout or otlp; derived when empty
	OTLPEndpoint string  `yaml:"otlp_endpoint"` // host:port of an OTLP gRPC collector
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Compare: CompareConfig{
			Backend:     BackendRekognition,
			ServiceAddr: "face-service:50051",
			Timeout:     30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis:   RedisConfig{Prefix: "facefinder:"},
		Auth:    AuthConfig{JWTSecret: DefaultJWTSecret},
		Tracing: TracingConfig{SampleRatio: 1},
	}
}

// Load builds the configuration from defaults, the optional YAML file and the
// environment, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.AllowedOrigins = envList("ALLOWED_ORIGINS", cfg.HTTP.AllowedOrigins)
	cfg.HTTP.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Development = envBool("LOG_DEVELOPMENT", cfg.Log.Development)

	cfg.Compare.Backend = strings.ToLower(getEnv("COMPARE_BACKEND", cfg.Compare.Backend))
	cfg.Compare.AWSRegion = getEnv("AWS_REGION", cfg.Compare.AWSRegion)
	cfg.Compare.ServiceAddr = getEnv("FACE_SERVICE_ADDR", cfg.Compare.ServiceAddr)
	cfg.Compare.Timeout = envDuration("COMPARE_TIMEOUT", cfg.Compare.Timeout)

	cfg.Database.DSN = getEnv("DATABASE_DSN", cfg.Database.DSN)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Prefix = getEnv("REDIS_PREFIX", cfg.Redis.Prefix)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTAudience = getEnv("JWT_AUDIENCE", cfg.Auth.JWTAudience)

	cfg.Tracing.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
	cfg.Tracing.Exporter = strings.ToLower(getEnv("TRACING_EXPORTER", cfg.Tracing.Exporter))
	cfg.Tracing.SampleRatio = envFloat("TRACING_SAMPLE_RATIO", cfg.Tracing.SampleRatio)
	if cfg.Tracing.Exporter == "" {
		switch {
		case cfg.Tracing.OTLPEndpoint != "":
			cfg.Tracing.Exporter = TracingOTLP
		case cfg.Log.Development:
			cfg.Tracing.Exporter = TracingStdout
		default:
			cfg.Tracing.Exporter = TracingNone
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Compare.Backend {
	case BackendRekognition:
	case BackendGRPC:
		if c.Compare.ServiceAddr == "" {
			return fmt.Errorf("config: FACE_SERVICE_ADDR is required for the %s backend", BackendGRPC)
		}
	default:
		return fmt.Errorf("config: unknown compare backend %q", c.Compare.Backend)
	}
	if c.Compare.Timeout < 0 {
		return fmt.Errorf("config: compare timeout must not be negative")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("config: HTTP_ADDR must not be empty")
	}
	switch c.Tracing.Exporter {
	case "", TracingNone, TracingStdout:
	case TracingOTLP:
		if c.Tracing.OTLPEndpoint == "" {
			return fmt.Errorf("config: OTEL_EXPORTER_OTLP_ENDPOINT is required for the %s exporter", TracingOTLP)
		}
	default:
		return fmt.Errorf("config: unknown tracing exporter %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("config: tracing sample ratio must be within [0, 1]")
	}
	return nil
}

// UsesDefaultJWTSecret reports whether tokens are checked against the
// well-known development secret.
func (c *Config) UsesDefaultJWTSecret() bool {
	return c.Auth.JWTSecret == DefaultJWTSecret
}

// HistoryEnabled reports whether finished passes are persisted.
func (c *Config) HistoryEnabled() bool {
	return c.Database.DSN != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// envInt returns fallback when the variable is unset or not a positive integer.
func envInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return fallback
}

// envList splits a comma separated variable, dropping blanks.
func envList(key string, fallback []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
