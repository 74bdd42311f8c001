package s3rewrite

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	MinPartSize     = 1024 * 1024 * 5
	DefaultPartSize = 1024 * 1024 * 5

	DefaultNewline     = "\n"
	DefaultMaxLineSize = 1024 * 1024
)

var (
	ErrMinPartSize     = errors.New("given value is less than minimum partsize of 5mb")
	ErrInvalidArgument = errors.New("invalid argument")
)

var defaultConcurrency = runtime.GOMAXPROCS(0)

// S3API is the part of the s3 client the rewriter depends on.
// It is satisfied by *s3.Client.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ S3API = (*s3.Client)(nil)

type concurrencyLock struct {
	l chan struct{}
}

func newConcurrencyLock(size int) *concurrencyLock {
	if size < 1 {
		size = 1
	}

	return &concurrencyLock{
		l: make(chan struct{}, size),
	}
}

func (c *concurrencyLock) Lock() {
	c.l <- struct{}{}
}

func (c *concurrencyLock) Unlock() {
	<-c.l
}

func withS3Retries(i int) func(*s3.Options) {
	return func(o *s3.Options) {
		o.RetryMaxAttempts = i
	}
}

func validate(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidArgument, name)
	}

	return nil
}
