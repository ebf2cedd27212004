package logger

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/bryanwahyu/contract-risk/internal/config"
)

// LevelEnv overrides the configured log level when set.
const LevelEnv = "CONTRACTRISK_LOG_LEVEL"

// New creates a named hclog.Logger from the logger section of cfg.
// A nil cfg uses INFO text output.
func New(cfg *config.Config, name string) hclog.Logger {
	return NewWithOutput(cfg, name, os.Stderr)
}

func NewWithOutput(cfg *config.Config, name string, out io.Writer) hclog.Logger {
	opts := &hclog.LoggerOptions{
		Name:   name,
		Output: out,
		Level:  determineLevel(cfg),
	}
	if cfg != nil {
		opts.JSONFormat = cfg.Logger.JSONFormat
		opts.DisableTime = cfg.Logger.DisableTime
	}
	return hclog.New(opts)
}

// determineLevel prefers the environment, then the config, then INFO.
func determineLevel(cfg *config.Config) hclog.Level {
	if v := os.Getenv(LevelEnv); v != "" {
		return parseLevel(v)
	}
	if cfg != nil {
		return parseLevel(cfg.Logger.Level)
	}
	return hclog.Info
}

func parseLevel(v string) hclog.Level {
	lvl := hclog.LevelFromString(strings.TrimSpace(v))
	if lvl == hclog.NoLevel {
		return hclog.Info
	}
	return lvl
}
