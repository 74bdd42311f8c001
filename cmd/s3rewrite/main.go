package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jobstoit/s3rewrite"
	"github.com/jobstoit/s3rewrite/internal/config"
	"github.com/urfave/cli/v2"
)

type contextKey string

const (
	rewriterKey contextKey = "rewriter"
	loggerKey   contextKey = "logger"
)

func bucketFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "bucket",
		Usage:    "Bucket of the objects",
		Required: true,
		EnvVars:  []string{"S3REWRITE_BUCKET"},
	}
}

func prefixFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "prefix",
		Usage:    "Key prefix of the objects",
		Required: true,
	}
}

func envFileFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "env-file",
		Usage: "File to load environment variables from",
		Value: ".env",
	}
}

// initRewriter loads the config and stores the rewriter and logger in the context.
func initRewriter(c *cli.Context) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}

	if c.IsSet("concurrency") {
		cfg.Rewrite.Concurrency = c.Int("concurrency")
	}

	if c.Bool("fail-fast") {
		cfg.Rewrite.FailFast = true
	}

	if c.Bool("keep-empty-lines") {
		cfg.Rewrite.RemoveEmptyLines = false
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	rw, err := s3rewrite.New(c.Context, cfg.Options(logger)...)
	if err != nil {
		return fmt.Errorf("creating rewriter: %w", err)
	}

	c.Context = context.WithValue(c.Context, rewriterKey, rw)
	c.Context = context.WithValue(c.Context, loggerKey, logger)

	return nil
}

func fromContext(c *cli.Context) (*s3rewrite.Rewriter, *slog.Logger) {
	rw, _ := c.Context.Value(rewriterKey).(*s3rewrite.Rewriter)
	logger, _ := c.Context.Value(loggerKey).(*slog.Logger)

	return rw, logger
}

func main() {
	app := &cli.App{
		Name:  "s3rewrite",
		Usage: "Rewrite text objects in s3 line by line, keeping their metadata and tags",
		Commands: []*cli.Command{
			{
				Name:  "file",
				Usage: "Rewrite a single object",
				Flags: append([]cli.Flag{
					envFileFlag(),
					bucketFlag(),
					&cli.StringFlag{
						Name:     "key",
						Usage:    "Key of the object",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "keep-empty-lines",
						Usage: "Keep blank lines in the output",
					},
				}, transformFlags()...),
				Before: initRewriter,
				Action: rewriteFile,
			},
			{
				Name:  "all",
				Usage: "Rewrite every object under a prefix",
				Flags: append([]cli.Flag{
					envFileFlag(),
					bucketFlag(),
					prefixFlag(),
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Number of objects rewritten at the same time",
					},
					&cli.BoolFlag{
						Name:  "fail-fast",
						Usage: "Stop at the first failing object",
					},
					&cli.BoolFlag{
						Name:  "keep-empty-lines",
						Usage: "Keep blank lines in the output",
					},
				}, transformFlags()...),
				Before: initRewriter,
				Action: rewriteAll,
			},
			{
				Name:  "list",
				Usage: "List the keys under a prefix",
				Flags: []cli.Flag{
					envFileFlag(),
					bucketFlag(),
					prefixFlag(),
				},
				Before: initRewriter,
				Action: list,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rewriteFile(c *cli.Context) error {
	rw, logger := fromContext(c)

	transform, err := transformFromFlags(c)
	if err != nil {
		return err
	}

	bucket, key := c.String("bucket"), c.String("key")

	if err := rw.RewriteFile(c.Context, bucket, key, transform); err != nil {
		return report(logger, err)
	}

	logger.Info("rewrote object", "bucket", bucket, "key", key)

	return nil
}

func rewriteAll(c *cli.Context) error {
	rw, logger := fromContext(c)

	transform, err := transformFromFlags(c)
	if err != nil {
		return err
	}

	bucket, prefix := c.String("bucket"), c.String("prefix")

	if err := rw.RewriteAll(c.Context, bucket, prefix, transform); err != nil {
		return report(logger, err)
	}

	logger.Info("rewrote objects", "bucket", bucket, "prefix", prefix)

	return nil
}

func list(c *cli.Context) error {
	rw, _ := fromContext(c)

	keys, err := rw.List(c.Context, c.String("bucket"), c.String("prefix"))
	if err != nil {
		return err
	}

	for _, key := range keys {
		fmt.Fprintln(c.App.Writer, key)
	}

	return nil
}

// report logs the details of a rewrite failure and returns the exit error.
func report(logger *slog.Logger, err error) error {
	var bulkErr *s3rewrite.BulkError
	if errors.As(err, &bulkErr) {
		for _, f := range bulkErr.Failures {
			logger.Error("rewrite failed", "bucket", bulkErr.Bucket, "key", f.Key, "code", f.Code, "error", f.Err)
		}

		return cli.Exit(fmt.Sprintf("%d of %d objects failed", len(bulkErr.Failures), len(bulkErr.Failures)+len(bulkErr.Succeeded)), 1)
	}

	var tagErr *s3rewrite.TagRestoreError
	if errors.As(err, &tagErr) {
		logger.Warn("content replaced but tags were not restored", "bucket", tagErr.Bucket, "key", tagErr.Key, "error", tagErr.Err)

		return cli.Exit(err.Error(), 2)
	}

	return err
}
