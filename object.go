package s3rewrite

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// object is a snapshot of an s3 object taken before it gets rewritten.
// It holds the content stream, the headers and the tag set of the original.
type object struct {
	Bucket string
	Key    string
	Body   io.ReadCloser
	Tags   []types.Tag

	head *s3.GetObjectOutput
}

func (r *Rewriter) openObject(ctx context.Context, bucket, key string) (*object, error) {
	r.logger.DebugContext(ctx, "get object", slog.String("bucket", bucket), slog.String("key", key))

	res, err := r.cli.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("getting s3://%s/%s: %w", bucket, key, err)
	}

	body := res.Body
	if body == nil {
		body = io.NopCloser(bytes.NewReader(nil))
	}

	tagging, err := r.cli.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		body.Close()

		return nil, fmt.Errorf("getting tags of s3://%s/%s: %w", bucket, key, err)
	}

	r.logger.DebugContext(ctx, "object snapshot",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Int64("content_length", aws.ToInt64(res.ContentLength)),
		slog.Int("tags", len(tagging.TagSet)),
	)

	return &object{
		Bucket: bucket,
		Key:    key,
		Body:   body,
		Tags:   slices.Clone(tagging.TagSet),
		head:   res,
	}, nil
}

// Close releases the content stream
func (o *object) Close() error {
	return o.Body.Close()
}

// createMultipartUploadInput carries the headers of the original object over
// to the upload that replaces it.
func (o *object) createMultipartUploadInput() *s3.CreateMultipartUploadInput {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(o.Bucket),
		Key:    aws.String(o.Key),
	}

	h := o.head
	if h == nil {
		return input
	}

	input.Metadata = maps.Clone(h.Metadata)
	input.ContentType = h.ContentType
	input.ContentEncoding = h.ContentEncoding
	input.ContentLanguage = h.ContentLanguage
	input.ContentDisposition = h.ContentDisposition
	input.CacheControl = h.CacheControl
	input.StorageClass = h.StorageClass
	input.ServerSideEncryption = h.ServerSideEncryption
	input.SSEKMSKeyId = h.SSEKMSKeyId
	input.BucketKeyEnabled = h.BucketKeyEnabled
	input.WebsiteRedirectLocation = h.WebsiteRedirectLocation

	return input
}
