// Package config loads the process configuration of the s3rewrite command
// from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jobstoit/s3rewrite"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	S3       S3Config
	Rewrite  RewriteConfig
	LogLevel slog.Level
}

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	Retries   int
}

type RewriteConfig struct {
	Newline          string
	RemoveEmptyLines bool
	Concurrency      int
	PartConcurrency  int
	PartSize         int
	PageSize         int32
	MaxLineSize      int
	FailFast         bool
}

// Load reads the config from the environment, after loading the env file if it exists.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file '%s': %w", envFile, err)
		}
	}

	v := viper.New()

	v.SetDefault("AWS_REGION", "")
	v.SetDefault("AWS_S3_ENDPOINT", "")
	v.SetDefault("AWS_ACCESS_KEY_ID", "")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	v.SetDefault("S3REWRITE_PATH_STYLE", false)
	v.SetDefault("S3REWRITE_RETRIES", 3)
	v.SetDefault("S3REWRITE_NEWLINE", `\n`)
	v.SetDefault("S3REWRITE_REMOVE_EMPTY_LINES", true)
	v.SetDefault("S3REWRITE_CONCURRENCY", s3rewrite.DefaultConfig().Concurrency)
	v.SetDefault("S3REWRITE_PART_CONCURRENCY", 1)
	v.SetDefault("S3REWRITE_PART_SIZE", s3rewrite.DefaultPartSize)
	v.SetDefault("S3REWRITE_PAGE_SIZE", 0)
	v.SetDefault("S3REWRITE_MAX_LINE_SIZE", s3rewrite.DefaultMaxLineSize)
	v.SetDefault("S3REWRITE_FAIL_FAST", false)
	v.SetDefault("S3REWRITE_LOG_LEVEL", "info")

	v.AutomaticEnv()

	newline, err := unescape(v.GetString("S3REWRITE_NEWLINE"))
	if err != nil {
		return nil, fmt.Errorf("parsing S3REWRITE_NEWLINE: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("S3REWRITE_LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("parsing S3REWRITE_LOG_LEVEL: %w", err)
	}

	return &Config{
		S3: S3Config{
			Region:    v.GetString("AWS_REGION"),
			Endpoint:  v.GetString("AWS_S3_ENDPOINT"),
			AccessKey: v.GetString("AWS_ACCESS_KEY_ID"),
			SecretKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
			PathStyle: v.GetBool("S3REWRITE_PATH_STYLE"),
			Retries:   v.GetInt("S3REWRITE_RETRIES"),
		},
		Rewrite: RewriteConfig{
			Newline:          newline,
			RemoveEmptyLines: v.GetBool("S3REWRITE_REMOVE_EMPTY_LINES"),
			Concurrency:      v.GetInt("S3REWRITE_CONCURRENCY"),
			PartConcurrency:  v.GetInt("S3REWRITE_PART_CONCURRENCY"),
			PartSize:         v.GetInt("S3REWRITE_PART_SIZE"),
			PageSize:         v.GetInt32("S3REWRITE_PAGE_SIZE"),
			MaxLineSize:      v.GetInt("S3REWRITE_MAX_LINE_SIZE"),
			FailFast:         v.GetBool("S3REWRITE_FAIL_FAST"),
		},
		LogLevel: level,
	}, nil
}

// unescape turns escape sequences like `\r\n` into the characters they stand for.
// A bare `"` is taken literally.
func unescape(s string) (string, error) {
	var sb strings.Builder
	sb.WriteByte('"')

	var escaped bool
	for _, r := range s {
		if r == '"' && !escaped {
			sb.WriteByte('\\')
		}

		escaped = r == '\\' && !escaped
		sb.WriteRune(r)
	}

	sb.WriteByte('"')

	return strconv.Unquote(sb.String())
}

// Options returns the rewriter options for the config.
func (c *Config) Options(logger *slog.Logger) []s3rewrite.RewriterOption {
	opts := []s3rewrite.RewriterOption{
		s3rewrite.WithRewriterLogger(logger),
		s3rewrite.WithRewriterRetries(c.S3.Retries),
		s3rewrite.WithRewriterNewline(c.Rewrite.Newline),
		s3rewrite.WithRewriterRemoveEmptyLines(c.Rewrite.RemoveEmptyLines),
		s3rewrite.WithRewriterConcurrency(c.Rewrite.Concurrency),
		s3rewrite.WithRewriterPartConcurrency(c.Rewrite.PartConcurrency),
		s3rewrite.WithRewriterPartSize(c.Rewrite.PartSize),
		s3rewrite.WithRewriterPageSize(c.Rewrite.PageSize),
		s3rewrite.WithRewriterMaxLineSize(c.Rewrite.MaxLineSize),
	}

	if c.Rewrite.FailFast {
		opts = append(opts, s3rewrite.WithRewriterFailFast())
	}

	switch {
	case c.S3.Endpoint != "":
		opts = append(opts, s3rewrite.WithRewriterHost(c.S3.Endpoint, c.S3.Region, c.S3.PathStyle))
	case c.S3.Region != "":
		opts = append(opts, s3rewrite.WithRewriterCliLoaderOptions(awsconfig.WithRegion(c.S3.Region)))
	}

	if c.S3.AccessKey != "" && c.S3.SecretKey != "" {
		opts = append(opts, s3rewrite.WithRewriterCredentials(c.S3.AccessKey, c.S3.SecretKey))
	}

	return opts
}
