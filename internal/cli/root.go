package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanwahyu/contract-risk/internal/config"
)

// Version is set at build time with -ldflags "-X ...cli.Version=v1.2.3".
var Version = "dev"

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "contractrisk",
	Short: "Contract risk analysis engine",
	Long: `contractrisk flags risky clauses in construction and service contracts.

Findings come from a curated pattern catalog and, when an OpenAI key is
configured, from a semantic analyzer. Both are merged, deduplicated and
scored into one overall severity: HIGH, MEDIUM or LOW.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (CONTRACTRISK_*, OPENAI_API_KEY)
3. Config file (--config, CONFIG_PATH or ./config.yaml)
4. Defaults`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "contractrisk %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $CONFIG_PATH or ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	_ = viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig wires environment variables that match CONTRACTRISK_*
func initConfig() {
	viper.SetEnvPrefix("CONTRACTRISK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("openai.apikey", "CONTRACTRISK_OPENAI_APIKEY", "OPENAI_API_KEY")
}

// configPath resolves the config file: flag, then CONFIG_PATH, then ./config.yaml.
func configPath() (string, bool) {
	if cfgFile != "" {
		return cfgFile, true
	}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v, true
	}
	return "config.yaml", false
}

// loadConfig reads the config file when present and layers viper
// overrides on top. A missing default file means built-in defaults.
func loadConfig() (*config.Config, error) {
	path, explicit := configPath()
	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg = config.Default()
	default:
		return nil, fmt.Errorf("config load error: %w", err)
	}
	applyOverrides(cfg, viper.GetViper())
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyOverrides copies every key set by a flag or the environment into cfg.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	flag := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	num("server.port", &cfg.Server.Port)
	str("database.driver", &cfg.Database.Driver)
	str("database.host", &cfg.Database.Host)
	num("database.port", &cfg.Database.Port)
	str("database.user", &cfg.Database.User)
	str("database.password", &cfg.Database.Password)
	str("database.name", &cfg.Database.Name)
	str("database.path", &cfg.Database.Path)
	flag("minio.enabled", &cfg.Minio.Enabled)
	str("minio.endpoint", &cfg.Minio.Endpoint)
	str("minio.accesskey", &cfg.Minio.AccessKey)
	str("minio.secretkey", &cfg.Minio.SecretKey)
	str("minio.bucketname", &cfg.Minio.BucketName)
	str("openai.apikey", &cfg.OpenAI.APIKey)
	str("openai.model", &cfg.OpenAI.Model)
	str("openai.baseurl", &cfg.OpenAI.BaseURL)
	num("openai.timeoutseconds", &cfg.OpenAI.TimeoutSeconds)
	num("analysis.maxconcurrent", &cfg.Analysis.MaxConcurrent)
	str("analysis.failurepolicy", &cfg.Analysis.FailurePolicy)
	str("analysis.patternsfile", &cfg.Analysis.PatternsFile)
	str("logger.level", &cfg.Logger.Level)
	flag("logger.jsonformat", &cfg.Logger.JSONFormat)
}
