package s3rewrite

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds the settings of a Rewriter. It is fixed once the Rewriter is built.
type Config struct {
	// Newline is placed between the rewritten lines, never after the last one.
	Newline string
	// RemoveEmptyLines drops lines that are empty or only whitespace after the transform.
	RemoveEmptyLines bool
	// Concurrency is the amount of objects rewritten at the same time.
	Concurrency int
	// PartConcurrency is the amount of parts uploaded at the same time per object.
	PartConcurrency int
	// PartSize is the size of the uploaded parts.
	PartSize int
	// PageSize is the amount of keys asked per list request, zero leaves it to the server.
	PageSize int32
	// MaxLineSize is the longest line the rewriter reads.
	MaxLineSize int
	// FailFast stops a bulk rewrite on the first failing object.
	FailFast bool
}

// DefaultConfig returns the config a Rewriter uses without options.
func DefaultConfig() Config {
	return Config{
		Newline:          DefaultNewline,
		RemoveEmptyLines: true,
		Concurrency:      defaultConcurrency,
		PartConcurrency:  1,
		PartSize:         DefaultPartSize,
		MaxLineSize:      DefaultMaxLineSize,
	}
}

func (c *Config) normalize() error {
	if c.PartSize < MinPartSize {
		return ErrMinPartSize
	}

	if c.Concurrency < 1 {
		c.Concurrency = 1
	}

	if c.PartConcurrency < 1 {
		c.PartConcurrency = 1
	}

	if c.MaxLineSize < 1 {
		c.MaxLineSize = DefaultMaxLineSize
	}

	if c.PageSize < 0 {
		c.PageSize = 0
	}

	return nil
}

type rewriterBuilder struct {
	cfg     Config
	cli     S3API
	retries int
	logger  *slog.Logger
	err     error

	// client options
	cliOpts []func(*config.LoadOptions) error
	s3Opts  []func(*s3.Options)
}

func newRewriterBuilder() *rewriterBuilder {
	return &rewriterBuilder{
		cfg:    DefaultConfig(),
		logger: slog.New(slog.DiscardHandler),
	}
}

// RewriterOption configures a Rewriter
type RewriterOption func(*rewriterBuilder)

// RewriterOptions bundles rewriter options
func RewriterOptions(opts ...RewriterOption) RewriterOption {
	return func(b *rewriterBuilder) {
		for _, op := range opts {
			op(b)
		}
	}
}

func (b *rewriterBuilder) Build(ctx context.Context) (*Rewriter, error) {
	if b.err != nil {
		return nil, b.err
	}

	if err := b.cfg.normalize(); err != nil {
		return nil, err
	}

	cli := b.cli
	if cli == nil {
		cfg, err := config.LoadDefaultConfig(ctx, b.cliOpts...)
		if err != nil {
			return nil, err
		}

		s3Opts := b.s3Opts
		if b.retries > 0 {
			s3Opts = append(s3Opts, withS3Retries(b.retries))
		}

		cli = s3.NewFromConfig(cfg, s3Opts...)
	}

	return &Rewriter{
		cli:    cli,
		cfg:    b.cfg,
		logger: b.logger,
	}, nil
}

// WithRewriterCli directly sets the s3 client for the rewriter.
func WithRewriterCli(cli S3API) RewriterOption {
	return func(b *rewriterBuilder) {
		b.cli = cli
	}
}

// WithRewriterConfig replaces the whole config, options given after it still apply.
func WithRewriterConfig(cfg Config) RewriterOption {
	return func(b *rewriterBuilder) {
		b.cfg = cfg
	}
}

// WithRewriterCliLoaderOptions sets the config.LoaderOptions for the aws config.
// Only works if the cli is not already provided.
func WithRewriterCliLoaderOptions(opts ...func(*config.LoadOptions) error) RewriterOption {
	return func(b *rewriterBuilder) {
		b.cliOpts = append(b.cliOpts, opts...)
	}
}

// WithRewriterS3Options sets the s3 options for the s3 client.
// Only works if the cli is not already provided.
func WithRewriterS3Options(opts ...func(*s3.Options)) RewriterOption {
	return func(b *rewriterBuilder) {
		b.s3Opts = append(b.s3Opts, opts...)
	}
}

// WithRewriterHost sets the endpoint, region and if it uses a pathstyle for the cli.
// Only works if the cli is not already provided.
func WithRewriterHost(url, region string, usePathStyle bool) RewriterOption {
	return func(b *rewriterBuilder) {
		b.cliOpts = append(b.cliOpts, config.WithRegion(region))
		if url != "" {
			b.cliOpts = append(b.cliOpts, config.WithBaseEndpoint(url))
		}

		b.s3Opts = append(b.s3Opts, func(o *s3.Options) {
			o.UsePathStyle = usePathStyle
		})
	}
}

// WithRewriterCredentials sets the access key and secret key for the cli.
// Only works if the cli is not already provided.
func WithRewriterCredentials(accessKey, secretKey string) RewriterOption {
	return func(b *rewriterBuilder) {
		b.cliOpts = append(b.cliOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		)
	}
}

// WithRewriterRetries sets the max attempts of the s3 client for any given operation.
// Only works if the cli is not already provided.
func WithRewriterRetries(i int) RewriterOption {
	return func(b *rewriterBuilder) {
		if i < 1 {
			i = 1
		}

		b.retries = i
	}
}

// WithRewriterNewline sets the line terminator placed between rewritten lines
func WithRewriterNewline(newline string) RewriterOption {
	return func(b *rewriterBuilder) {
		b.cfg.Newline = newline
	}
}

// WithRewriterRemoveEmptyLines sets whether blank lines are dropped after the transform
func WithRewriterRemoveEmptyLines(remove bool) RewriterOption {
	return func(b *rewriterBuilder) {
		b.cfg.RemoveEmptyLines = remove
	}
}

// WithRewriterConcurrency sets the amount of objects rewritten at once
func WithRewriterConcurrency(size int) RewriterOption {
	return func(b *rewriterBuilder) {
		if size < 1 {
			size = 1
		}

		b.cfg.Concurrency = size
	}
}

// WithRewriterPartConcurrency sets the amount of parts uploaded at once per object.
// Every part in flight holds a part sized buffer.
func WithRewriterPartConcurrency(size int) RewriterOption {
	return func(b *rewriterBuilder) {
		if size < 1 {
			size = 1
		}

		b.cfg.PartConcurrency = size
	}
}

// WithRewriterPartSize sets the size of the uploaded parts
func WithRewriterPartSize(size int) RewriterOption {
	return func(b *rewriterBuilder) {
		if size < MinPartSize {
			b.err = ErrMinPartSize
			return
		}

		b.cfg.PartSize = size
	}
}

// WithRewriterPageSize sets the amount of keys requested per list call
func WithRewriterPageSize(size int32) RewriterOption {
	return func(b *rewriterBuilder) {
		if size < 0 {
			size = 0
		}

		b.cfg.PageSize = size
	}
}

// WithRewriterMaxLineSize sets the longest line that can be read
func WithRewriterMaxLineSize(size int) RewriterOption {
	return func(b *rewriterBuilder) {
		if size < 1 {
			size = DefaultMaxLineSize
		}

		b.cfg.MaxLineSize = size
	}
}

// WithRewriterFailFast stops a bulk rewrite on the first failure instead of
// rewriting all objects and reporting every failure.
func WithRewriterFailFast() RewriterOption {
	return func(b *rewriterBuilder) {
		b.cfg.FailFast = true
	}
}

// WithRewriterLogger sets the logger for any operation.
// Setting the logger provides debug logs.
func WithRewriterLogger(logger *slog.Logger) RewriterOption {
	return func(b *rewriterBuilder) {
		if logger == nil {
			logger = slog.New(slog.DiscardHandler)
		}

		b.logger = logger
	}
}
