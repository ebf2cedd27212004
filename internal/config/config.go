package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Failure policies for the semantic analyzer.
const (
	PolicyAllOrNothing    = "all_or_nothing"
	PolicyPatternFallback = "pattern_fallback"
)

type Config struct {
	Server struct {
		Port                int      `yaml:"port"`
		ReadTimeoutSeconds  int      `yaml:"readTimeoutSeconds"`
		WriteTimeoutSeconds int      `yaml:"writeTimeoutSeconds"`
		MaxBodyBytes        int64    `yaml:"maxBodyBytes"`
		AllowedOrigins      []string `yaml:"allowedOrigins"`
	} `yaml:"server"`

	Database struct {
		// mysql, postgres, sqlite or memory
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
		// Path is the database file for sqlite
		Path string `yaml:"path"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	OpenAI struct {
		APIKey          string `yaml:"apiKey"`
		Model           string `yaml:"model"`
		BaseURL         string `yaml:"baseURL"`
		TimeoutSeconds  int    `yaml:"timeoutSeconds"`
		MaxInputChars   int    `yaml:"maxInputChars"`
		CacheTTLSeconds int    `yaml:"cacheTTLSeconds"`
	} `yaml:"openai"`

	Analysis struct {
		MaxConcurrent     int    `yaml:"maxConcurrent"`
		StaleAfterMinutes int    `yaml:"staleAfterMinutes"`
		FailurePolicy     string `yaml:"failurePolicy"`
		PatternsFile      string `yaml:"patternsFile"`
	} `yaml:"analysis"`

	Logger struct {
		Level       string `yaml:"level"`
		JSONFormat  bool   `yaml:"jsonFormat"`
		DisableTime bool   `yaml:"disableTime"`
	} `yaml:"logger"`

	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requestsPerSecond"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rateLimit"`

	Auth struct {
		// APIKeys maps a client name to its key. Empty disables auth.
		APIKeys map[string]string `yaml:"apiKeys"`
	} `yaml:"auth"`
}

// Default returns a config that runs fully in memory without external services.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load baca file config.yaml, fills defaults and validates
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills defaults and validates. Call it again after applying
// overrides from flags or the environment.
func (c *Config) Normalize() error {
	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 15
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 5 << 20
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "mysql":
			c.Database.Port = 3306
		case "postgres":
			c.Database.Port = 5432
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.Path == "" {
		c.Database.Path = "contractrisk.db"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.TimeoutSeconds == 0 {
		c.OpenAI.TimeoutSeconds = 60
	}
	if c.OpenAI.MaxInputChars == 0 {
		c.OpenAI.MaxInputChars = 100000
	}
	if c.Analysis.MaxConcurrent == 0 {
		c.Analysis.MaxConcurrent = 4
	}
	if c.Analysis.StaleAfterMinutes == 0 {
		c.Analysis.StaleAfterMinutes = 30
	}
	if c.Analysis.FailurePolicy == "" {
		c.Analysis.FailurePolicy = PolicyAllOrNothing
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "INFO"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "memory", "sqlite":
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, fmt.Errorf("database.host and database.name are required for %s", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.BucketName == "") {
		errs = append(errs, errors.New("minio.endpoint and minio.bucketName are required when minio is enabled"))
	}
	if c.Analysis.MaxConcurrent < 0 {
		errs = append(errs, errors.New("analysis.maxConcurrent must not be negative"))
	}
	switch c.Analysis.FailurePolicy {
	case PolicyAllOrNothing, PolicyPatternFallback:
	default:
		errs = append(errs, fmt.Errorf("unknown analysis.failurePolicy %q", c.Analysis.FailurePolicy))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rateLimit values must not be negative"))
	}
	return errors.Join(errs...)
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection URL.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: url.Values{"sslmode": {c.Database.SSLMode}}.Encode(),
	}
	return u.String()
}

func (c *Config) OpenAITimeout() time.Duration {
	return time.Duration(c.OpenAI.TimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.OpenAI.CacheTTLSeconds) * time.Second
}

func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Analysis.StaleAfterMinutes) * time.Minute
}

// SemanticEnabled reports whether an OpenAI key is configured.
func (c *Config) SemanticEnabled() bool {
	return strings.TrimSpace(c.OpenAI.APIKey) != ""
}
