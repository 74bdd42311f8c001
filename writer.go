package s3rewrite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectWriter replaces the content of an object through a multipart upload.
//
// Written bytes are buffered until a full part is gathered, so at most
// one part per concurrent upload is held in memory. The new content only
// becomes visible once Close completes the upload, after which the
// original tags are put back on the object.
type ObjectWriter struct {
	ctx      context.Context
	cli      S3API
	obj      *object
	logger   *slog.Logger
	partSize int

	buf      []byte
	uploadID *string
	partNr   int32
	closed   bool
	closeErr error

	cl    *concurrencyLock
	wg    sync.WaitGroup
	mux   sync.Mutex
	parts []types.CompletedPart
	err   error
}

func newObjectWriter(ctx context.Context, cli S3API, obj *object, cfg Config, logger *slog.Logger) *ObjectWriter {
	return &ObjectWriter{
		ctx:      ctx,
		cli:      cli,
		obj:      obj,
		logger:   logger,
		partSize: cfg.PartSize,
		cl:       newConcurrencyLock(cfg.PartConcurrency),
	}
}

// Write is the io.Writer implementation of the ObjectWriter
func (w *ObjectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}

	if err := w.failure(); err != nil {
		return 0, err
	}

	var n int
	for len(p) > 0 {
		if w.buf == nil {
			w.buf = make([]byte, 0, w.partSize)
		}

		free := w.partSize - len(w.buf)
		if len(p) < free {
			w.buf = append(w.buf, p...)
			n += len(p)

			break
		}

		w.buf = append(w.buf, p[:free]...)
		p = p[free:]
		n += free

		if err := w.flush(); err != nil {
			return n, err
		}
	}

	return n, nil
}

// Close uploads the remaining bytes, completes the upload and restores the tags.
//
// A failing upload is aborted. A failure to restore the tags is returned as
// a *TagRestoreError since the content is already replaced at that point.
func (w *ObjectWriter) Close() error {
	if w.closed {
		return w.closeErr
	}

	w.closed = true
	w.closeErr = w.close()

	return w.closeErr
}

func (w *ObjectWriter) close() error {
	if w.failure() == nil && (len(w.buf) > 0 || w.partNr == 0) {
		if err := w.flush(); err != nil {
			return w.abort(err)
		}
	}

	w.wg.Wait()

	if err := w.failure(); err != nil {
		return w.abort(err)
	}

	if err := w.completeUpload(); err != nil {
		return w.abort(err)
	}

	return w.restoreTags()
}

// Abort discards the upload. The original object is left untouched.
// It returns the cause joined with any error from aborting the upload.
func (w *ObjectWriter) Abort(cause error) error {
	if w.closed {
		return errors.Join(cause, w.closeErr)
	}

	w.closed = true
	w.closeErr = w.abort(cause)

	return w.closeErr
}

// abort discards the upload, also when the context of the writer is cancelled.
func (w *ObjectWriter) abort(cause error) error {
	w.wg.Wait()
	w.buf = nil

	if w.uploadID == nil {
		return cause
	}

	w.logger.DebugContext(w.ctx, "abort upload",
		slog.String("upload_id", *w.uploadID),
		slog.Any("error", cause),
	)

	_, err := w.cli.AbortMultipartUpload(context.WithoutCancel(w.ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.obj.Bucket),
		Key:      aws.String(w.obj.Key),
		UploadId: w.uploadID,
	})
	if err != nil {
		err = fmt.Errorf("aborting upload of s3://%s/%s: %w", w.obj.Bucket, w.obj.Key, err)
	}

	return errors.Join(cause, err)
}

func (w *ObjectWriter) failure() error {
	w.mux.Lock()
	defer w.mux.Unlock()

	return w.err
}

// flush hands the buffered bytes to a part upload.
// It blocks while the maximum amount of parts is in flight.
func (w *ObjectWriter) flush() error {
	if w.uploadID == nil {
		if err := w.createMultipartUpload(); err != nil {
			return err
		}
	}

	w.partNr++
	partNr := w.partNr
	by := w.buf
	w.buf = nil

	w.cl.Lock()
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		defer w.cl.Unlock()

		part, err := w.uploadPart(partNr, by)

		w.mux.Lock()
		defer w.mux.Unlock()

		if err != nil {
			if w.err == nil {
				w.err = err
			}

			return
		}

		w.parts = append(w.parts, part)
	}()

	return nil
}

func (w *ObjectWriter) createMultipartUpload() error {
	w.logger.DebugContext(w.ctx, "starting multipart upload",
		slog.String("bucket", w.obj.Bucket),
		slog.String("key", w.obj.Key),
	)

	res, err := w.cli.CreateMultipartUpload(w.ctx, w.obj.createMultipartUploadInput())
	if err != nil {
		return fmt.Errorf("creating upload for s3://%s/%s: %w", w.obj.Bucket, w.obj.Key, err)
	}

	w.uploadID = res.UploadId

	return nil
}

func (w *ObjectWriter) uploadPart(partNr int32, by []byte) (types.CompletedPart, error) {
	w.logger.DebugContext(
		w.ctx,
		"upload part",
		slog.String("upload_id", *w.uploadID),
		slog.Int("part_nr", int(partNr)),
		slog.Int("size", len(by)),
	)

	res, err := w.cli.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:        aws.String(w.obj.Bucket),
		Key:           aws.String(w.obj.Key),
		UploadId:      w.uploadID,
		PartNumber:    aws.Int32(partNr),
		ContentLength: aws.Int64(int64(len(by))),
		Body:          bytes.NewReader(by),
	})
	if err != nil {
		return types.CompletedPart{}, fmt.Errorf("uploading part %d of s3://%s/%s: %w", partNr, w.obj.Bucket, w.obj.Key, err)
	}

	return types.CompletedPart{
		ChecksumCRC32:  res.ChecksumCRC32,
		ChecksumCRC32C: res.ChecksumCRC32C,
		ChecksumSHA1:   res.ChecksumSHA1,
		ChecksumSHA256: res.ChecksumSHA256,
		ETag:           res.ETag,
		PartNumber:     aws.Int32(partNr),
	}, nil
}

func (w *ObjectWriter) completeUpload() error {
	w.mux.Lock()
	parts := make([]types.CompletedPart, len(w.parts))
	copy(parts, w.parts)
	w.mux.Unlock()

	// parts finish out of order when uploaded concurrently
	sort.Slice(parts, func(i, j int) bool {
		return *parts[i].PartNumber < *parts[j].PartNumber
	})

	w.logger.DebugContext(w.ctx, "complete upload", slog.String("upload_id", *w.uploadID), slog.Int("parts", len(parts)))

	_, err := w.cli.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(w.obj.Bucket),
		Key:      aws.String(w.obj.Key),
		UploadId: w.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		return fmt.Errorf("completing upload of s3://%s/%s: %w", w.obj.Bucket, w.obj.Key, err)
	}

	return nil
}

// restoreTags puts the original tags back, a completed upload carries none.
func (w *ObjectWriter) restoreTags() error {
	if len(w.obj.Tags) == 0 {
		return nil
	}

	w.logger.DebugContext(w.ctx, "restore tags",
		slog.String("bucket", w.obj.Bucket),
		slog.String("key", w.obj.Key),
		slog.Int("tags", len(w.obj.Tags)),
	)

	if err := putTags(w.ctx, w.cli, w.obj.Bucket, w.obj.Key, w.obj.Tags); err != nil {
		return &TagRestoreError{
			Bucket: w.obj.Bucket,
			Key:    w.obj.Key,
			Tags:   w.obj.Tags,
			Err:    err,
		}
	}

	return nil
}

func putTags(ctx context.Context, cli S3API, bucket, key string, tags []types.Tag) error {
	_, err := cli.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Tagging: &types.Tagging{
			TagSet: tags,
		},
	})

	return err
}
