package s3rewrite

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

// Rewriter rewrites the content of s3 objects line by line while keeping
// their metadata and tags.
type Rewriter struct {
	cli    S3API
	cfg    Config
	logger *slog.Logger
}

// New returns a Rewriter with an s3 client built from the given options.
func New(ctx context.Context, opts ...RewriterOption) (*Rewriter, error) {
	builder := newRewriterBuilder()
	RewriterOptions(opts...)(builder)

	return builder.Build(ctx)
}

// NewWithClient returns a Rewriter that uses the given client.
func NewWithClient(ctx context.Context, cli S3API, opts ...RewriterOption) (*Rewriter, error) {
	builder := newRewriterBuilder()
	RewriterOptions(append(opts, WithRewriterCli(cli))...)(builder)

	return builder.Build(ctx)
}

// RewriteFile replaces the content of the object with the transformed lines.
//
// The object is streamed, transformed and uploaded again under the same key
// with the metadata and tags of the original. The object is never held
// in memory as a whole.
func (r *Rewriter) RewriteFile(ctx context.Context, bucket, key string, transform Transform) error {
	if err := validate("bucket", bucket); err != nil {
		return err
	}

	if err := validate("key", key); err != nil {
		return err
	}

	if transform == nil {
		return fmt.Errorf("%w: transform must not be nil", ErrInvalidArgument)
	}

	obj, err := r.openObject(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer obj.Close()

	lines := newLineScanner(obj.Body, r.cfg.MaxLineSize)

	rewritten := transform(lines.All())
	if r.cfg.RemoveEmptyLines {
		rewritten = withoutBlankLines(rewritten)
	}

	wr := newObjectWriter(ctx, r.cli, obj, r.cfg, r.logger)

	for chunk := range withSeparatingNewlines(rewritten, r.cfg.Newline) {
		if _, err := io.WriteString(wr, chunk); err != nil {
			return wr.Abort(err)
		}
	}

	if err := lines.Err(); err != nil {
		return wr.Abort(fmt.Errorf("reading s3://%s/%s: %w", bucket, key, err))
	}

	if err := wr.Close(); err != nil {
		return err
	}

	r.logger.DebugContext(ctx, "object rewritten", slog.String("bucket", bucket), slog.String("key", key))

	return nil
}

// RewriteAll rewrites every object whose key starts with the prefix.
//
// The objects are rewritten concurrently. By default all objects are
// rewritten and a *BulkError lists the keys that failed. With
// WithRewriterFailFast the first failure stops the remaining rewrites
// and is returned as a *KeyError.
//
// The transform is called concurrently, once per object.
func (r *Rewriter) RewriteAll(ctx context.Context, bucket, prefix string, transform Transform) error {
	if err := validate("bucket", bucket); err != nil {
		return err
	}

	if err := validate("prefix", prefix); err != nil {
		return err
	}

	if transform == nil {
		return fmt.Errorf("%w: transform must not be nil", ErrInvalidArgument)
	}

	keys, err := r.List(ctx, bucket, prefix)
	if err != nil {
		return err
	}

	r.logger.DebugContext(ctx, "rewriting objects",
		slog.String("bucket", bucket),
		slog.String("prefix", prefix),
		slog.Int("keys", len(keys)),
		slog.Bool("fail_fast", r.cfg.FailFast),
	)

	if r.cfg.FailFast {
		return r.rewriteAllFailFast(ctx, bucket, keys, transform)
	}

	return r.rewriteAllCollect(ctx, bucket, prefix, keys, transform)
}

func (r *Rewriter) rewriteAllCollect(ctx context.Context, bucket, prefix string, keys []string, transform Transform) error {
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	var mux sync.Mutex
	bulk := &BulkError{
		Bucket: bucket,
		Prefix: prefix,
	}

	for _, key := range keys {
		g.Go(func() error {
			err := r.RewriteFile(ctx, bucket, key, transform)

			mux.Lock()
			defer mux.Unlock()

			if err != nil {
				r.logger.DebugContext(ctx, "rewrite failed", slog.String("key", key), slog.Any("error", err))
				bulk.Failures = append(bulk.Failures, newKeyError(key, err))

				return nil
			}

			bulk.Succeeded = append(bulk.Succeeded, key)

			return nil
		})
	}

	_ = g.Wait()

	if len(bulk.Failures) == 0 {
		return nil
	}

	slices.Sort(bulk.Succeeded)
	slices.SortFunc(bulk.Failures, func(a, b *KeyError) int {
		return cmp.Compare(a.Key, b.Key)
	})

	return bulk
}

func (r *Rewriter) rewriteAllFailFast(ctx context.Context, bucket string, keys []string, transform Transform) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, key := range keys {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			if err := r.RewriteFile(gctx, bucket, key, transform); err != nil {
				return newKeyError(key, err)
			}

			return nil
		})
	}

	return g.Wait()
}

// List returns the keys of all objects that start with the prefix.
// It follows the continuation tokens until the listing is no longer truncated.
func (r *Rewriter) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	if err := validate("bucket", bucket); err != nil {
		return nil, err
	}

	if err := validate("prefix", prefix); err != nil {
		return nil, err
	}

	var keys []string
	var token *string
	var pages int

	for {
		input := &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		}
		if r.cfg.PageSize > 0 {
			input.MaxKeys = aws.Int32(r.cfg.PageSize)
		}

		res, err := r.cli.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", bucket, prefix, err)
		}

		pages++

		for _, obj := range res.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}

		if !aws.ToBool(res.IsTruncated) {
			break
		}

		if aws.ToString(res.NextContinuationToken) == "" {
			return nil, fmt.Errorf("listing s3://%s/%s: truncated page %d without continuation token", bucket, prefix, pages)
		}

		token = res.NextContinuationToken
	}

	r.logger.DebugContext(ctx, "listed objects",
		slog.String("bucket", bucket),
		slog.String("prefix", prefix),
		slog.Int("pages", pages),
		slog.Int("keys", len(keys)),
	)

	return keys, nil
}

// PutTags sets the tags of an object.
// Use it to retry the tags of a *TagRestoreError.
func (r *Rewriter) PutTags(ctx context.Context, bucket, key string, tags []types.Tag) error {
	if err := validate("bucket", bucket); err != nil {
		return err
	}

	if err := validate("key", key); err != nil {
		return err
	}

	if err := putTags(ctx, r.cli, bucket, key, tags); err != nil {
		return fmt.Errorf("putting tags of s3://%s/%s: %w", bucket, key, err)
	}

	return nil
}

// Config returns the config of the rewriter
func (r *Rewriter) Config() Config {
	return r.cfg
}
