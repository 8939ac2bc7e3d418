package cmd

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spigell/doc-reviewer/internal/retry"
	"github.com/spigell/doc-reviewer/internal/review"
	"github.com/spigell/doc-reviewer/internal/server"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app       = "doc-reviewer"
	envPrefix = "DOC_REVIEWER"
)

type Config struct {
	AI       *AIConfig       `mapstructure:"ai"`
	Retry    retry.Policy    `mapstructure:"retry"`
	Cache    *CacheConfig    `mapstructure:"cache"`
	Pipeline *PipelineConfig `mapstructure:"pipeline"`
	Server   server.Config   `mapstructure:"server"`
}

type AIConfig struct {
	Provider        string  `mapstructure:"provider"`
	Model           string  `mapstructure:"model"`
	APIKey          string  `mapstructure:"api-key"`
	APIKeyFile      string  `mapstructure:"api-key-file"`
	BaseURL         string  `mapstructure:"base-url"`
	Temperature     float32 `mapstructure:"temperature"`
	MaxOutputTokens int32   `mapstructure:"max-output-tokens"`
	MaxLogLength    int     `mapstructure:"max-log-length"`
}

type CacheConfig struct {
	Backend  string        `mapstructure:"backend"`
	TTL      time.Duration `mapstructure:"ttl"`
	RedisURL string        `mapstructure:"redis-url"`
}

type PipelineConfig struct {
	MinEvaluateChars  int  `mapstructure:"min-evaluate-chars"`
	MinSummarizeChars int  `mapstructure:"min-summarize-chars"`
	MaxPromptChars    int  `mapstructure:"max-prompt-chars"`
	DedupeInflight    bool `mapstructure:"dedupe-inflight"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "doc-reviewer summarizes and scores documents with a generative AI backend",
		// results go to stdout; usage noise on errors is not wanted there
		SilenceUsage: true,
	}
)

// Execute executes the root command. SIGINT and SIGTERM cancel its context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is doc-reviewer.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.api-key", "")
	v.SetDefault("ai.api-key-file", "")
	v.SetDefault("ai.base-url", "")
	v.SetDefault("ai.temperature", review.DefaultTemperature)
	v.SetDefault("ai.max-output-tokens", review.DefaultMaxOutputTokens)
	v.SetDefault("ai.max-log-length", 200)

	v.SetDefault("retry.max-attempts", retry.DefaultMaxAttempts)
	v.SetDefault("retry.base-delay", retry.DefaultBaseDelay)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.redis-url", "")

	v.SetDefault("pipeline.min-evaluate-chars", review.DefaultMinEvaluateChars)
	v.SetDefault("pipeline.min-summarize-chars", review.DefaultMinSummarizeChars)
	v.SetDefault("pipeline.max-prompt-chars", review.DefaultMaxPromptChars)
	v.SetDefault("pipeline.dedupe-inflight", true)

	v.SetDefault("server.addr", server.DefaultAddr)
	v.SetDefault("server.allowed-origins", []string{})
	v.SetDefault("server.max-upload-bytes", server.DefaultMaxUploadBytes)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

func initConfig() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env file: %v", err)
	}

	if err := readConfig(viper.GetViper(), cfgFile); err != nil {
		log.Fatal(err)
	}
}

// readConfig reads the explicit config file or the default one when present.
// Only an explicitly requested file is mandatory.
func readConfig(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
		return v.ReadInConfig()
	}

	v.AddConfigPath(".")
	v.SetConfigName(app)
	v.SetConfigType("yaml")

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func getConfig() (*Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var config *Config
	err := v.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config.AI == nil || config.Cache == nil || config.Pipeline == nil {
		return nil, errors.New("config is incomplete")
	}

	return config, nil
}

func (c *Config) pipelineOptions() review.Options {
	temperature := c.AI.Temperature
	return review.Options{
		MinEvaluateChars:  c.Pipeline.MinEvaluateChars,
		MinSummarizeChars: c.Pipeline.MinSummarizeChars,
		MaxPromptChars:    c.Pipeline.MaxPromptChars,
		DedupeInflight:    c.Pipeline.DedupeInflight,
		Temperature:       &temperature,
		MaxOutputTokens:   c.AI.MaxOutputTokens,
		MaxLogLength:      c.AI.MaxLogLength,
		Retry:             c.Retry,
	}
}
