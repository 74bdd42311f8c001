package s3rewrite_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jobstoit/s3rewrite"
)

var _ s3rewrite.S3API = &MemoryClient{}

type memoryObject struct {
	body        []byte
	metadata    map[string]string
	contentType *string
	tags        []types.Tag
}

type memoryUpload struct {
	bucket string
	key    string
	input  *s3.CreateMultipartUploadInput
	parts  map[int32][]byte
}

// MemoryClient is an in memory s3 mock that records the operations called on it.
type MemoryClient struct {
	Invocations []string
	Params      []interface{}

	ListObjectsV2Fn    func(*MemoryClient, *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error)
	GetObjectFn        func(*MemoryClient, *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	PutObjectTaggingFn func(*MemoryClient, *s3.PutObjectTaggingInput) (*s3.PutObjectTaggingOutput, error)
	UploadPartFn       func(*MemoryClient, *s3.UploadPartInput) (*s3.UploadPartOutput, error)

	objects  map[string]*memoryObject
	uploads  map[string]*memoryUpload
	uploadNr int

	m sync.Mutex
}

// NewMemoryClient returns an empty MemoryClient
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		objects: map[string]*memoryObject{},
		uploads: map[string]*memoryUpload{},
	}
}

func objectPath(bucket, key string) string {
	return bucket + "/" + key
}

// Put stores an object without recording an invocation
func (c *MemoryClient) Put(bucket, key, body string, metadata map[string]string, tags ...types.Tag) {
	c.m.Lock()
	defer c.m.Unlock()

	c.objects[objectPath(bucket, key)] = &memoryObject{
		body:        []byte(body),
		metadata:    metadata,
		contentType: aws.String("text/plain"),
		tags:        tags,
	}
}

// Body returns the content of the stored object
func (c *MemoryClient) Body(bucket, key string) string {
	c.m.Lock()
	defer c.m.Unlock()

	obj, ok := c.objects[objectPath(bucket, key)]
	if !ok {
		return ""
	}

	return string(obj.body)
}

// Object returns a copy of the stored object
func (c *MemoryClient) Object(bucket, key string) (memoryObject, bool) {
	c.m.Lock()
	defer c.m.Unlock()

	obj, ok := c.objects[objectPath(bucket, key)]
	if !ok {
		return memoryObject{}, false
	}

	return memoryObject{
		body:        slices.Clone(obj.body),
		metadata:    maps.Clone(obj.metadata),
		contentType: obj.contentType,
		tags:        slices.Clone(obj.tags),
	}, true
}

// Count returns how often the operation got called
func (c *MemoryClient) Count(op string) int {
	c.m.Lock()
	defer c.m.Unlock()

	var n int
	for _, v := range c.Invocations {
		if v == op {
			n++
		}
	}

	return n
}

// OpenUploads returns the amount of uploads that are neither completed nor aborted
func (c *MemoryClient) OpenUploads() int {
	c.m.Lock()
	defer c.m.Unlock()

	return len(c.uploads)
}

func (c *MemoryClient) traceOperation(name string, params interface{}) {
	c.Invocations = append(c.Invocations, name)
	c.Params = append(c.Params, params)
}

func noSuchKey(bucket, key string) error {
	return &types.NoSuchKey{Message: aws.String(fmt.Sprintf("no such key: %s", objectPath(bucket, key)))}
}

// ListObjectsV2 is the S3 ListObjectsV2 API.
// The continuation token is the last key of the previous page.
func (c *MemoryClient) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.m.Lock()
	defer c.m.Unlock()

	c.traceOperation("ListObjectsV2", params)

	if c.ListObjectsV2Fn != nil {
		return c.ListObjectsV2Fn(c, params)
	}

	bucket := aws.ToString(params.Bucket)
	prefix := objectPath(bucket, aws.ToString(params.Prefix))
	after := objectPath(bucket, aws.ToString(params.ContinuationToken))

	var keys []string
	for p := range c.objects {
		if strings.HasPrefix(p, prefix) && (params.ContinuationToken == nil || p > after) {
			keys = append(keys, strings.TrimPrefix(p, bucket+"/"))
		}
	}

	sort.Strings(keys)

	maxKeys := int(aws.ToInt32(params.MaxKeys))
	if maxKeys == 0 {
		maxKeys = 1000
	}

	res := &s3.ListObjectsV2Output{
		IsTruncated: aws.Bool(false),
	}

	if len(keys) > maxKeys {
		keys = keys[:maxKeys]
		res.IsTruncated = aws.Bool(true)
		res.NextContinuationToken = aws.String(keys[len(keys)-1])
	}

	for _, key := range keys {
		res.Contents = append(res.Contents, types.Object{Key: aws.String(key)})
	}

	res.KeyCount = aws.Int32(int32(len(keys)))

	return res, nil
}

// GetObject is the S3 GetObject API.
func (c *MemoryClient) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.m.Lock()
	defer c.m.Unlock()

	c.traceOperation("GetObject", params)

	if c.GetObjectFn != nil {
		return c.GetObjectFn(c, params)
	}

	return c.getObject(params)
}

// getObject is the default GetObject behavior, the caller holds the lock.
func (c *MemoryClient) getObject(params *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	bucket, key := aws.ToString(params.Bucket), aws.ToString(params.Key)

	obj, ok := c.objects[objectPath(bucket, key)]
	if !ok {
		return nil, noSuchKey(bucket, key)
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(slices.Clone(obj.body))),
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   obj.contentType,
		Metadata:      maps.Clone(obj.metadata),
	}, nil
}

// GetObjectTagging is the S3 GetObjectTagging API.
func (c *MemoryClient) GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
	c.m.Lock()
	defer c.m.Unlock()

	c.traceOperation("GetObjectTagging", params)

	bucket, key := aws.ToString(params.Bucket), aws.ToString(params.Key)

	obj, ok := c.objects[objectPath(bucket, key)]
	if !ok {
		return nil, noSuchKey(bucket, key)
	}

	return &s3.GetObjectTaggingOutput{
		TagSet: slices.Clone(obj.tags),
	}, nil
}

// PutObjectTagging is the S3 PutObjectTagging API.
func (c *MemoryClient) PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
	c.m.Lock()
	defer c.m.Unlock()

	c.traceOperation("PutObjectTagging", params)

	if c.PutObjectTaggingFn != nil {
		return c.PutObjectTaggingFn(c, params)
	}

	bucket, key := aws.ToString(params.Bucket), aws.ToString(params.Key)

	obj, ok := c.objects[objectPath(bucket, key)]
	if !ok {
		return nil, noSuchKey(bucket, key)
	}

	obj.tags = slices.Clone(params.Tagging.TagSet)

	return &s3.PutObjectTaggingOutput{}, nil
}

// CreateMultipartUpload is the S3 CreateMultipartUpload API.
func (c *MemoryClient) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	c.m.Lock()
	defer c.m.Unlock()

	c.traceOperation("CreateMultipartUpload", params)

	c.uploadNr++
	id := "UPLOAD-ID-" + strconv.Itoa(c.uploadNr)

	c.uploads[id] = &memoryUpload{
		bucket: aws.ToString(params.Bucket),
		key:    aws.ToString(params.Key),
		input:  params,
		parts:  map[int32][]byte{},
	}

	return &s3.CreateMultipartUploadOutput{
		UploadId: aws.String(id),
	}, nil
}

// UploadPart is the S3 UploadPart API.
func (c *MemoryClient) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	c.m.Lock()
	defer c.m.Unlock()

	c.traceOperation("UploadPart", params)

	if c.UploadPartFn != nil {
		return c.UploadPartFn(c, params)
	}

	up, ok := c.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}

	by, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	partNr := aws.ToInt32(params.PartNumber)
	up.parts[partNr] = by

	return &s3.UploadPartOutput{
		ETag: aws.String(fmt.Sprintf("ETAG%d", partNr)),
	}, nil
}

// CompleteMultipartUpload is the S3 CompleteMultipartUpload API.
// Like s3 it does not carry the tags of the replaced object.
func (c *MemoryClient) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	c.m.Lock()
	defer c.m.Unlock()

	c.traceOperation("CompleteMultipartUpload", params)

	id := aws.ToString(params.UploadId)

	up, ok := c.uploads[id]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}

	var body []byte
	for _, part := range params.MultipartUpload.Parts {
		by, ok := up.parts[aws.ToInt32(part.PartNumber)]
		if !ok {
			return nil, fmt.Errorf("invalid part %d", aws.ToInt32(part.PartNumber))
		}

		body = append(body, by...)
	}

	c.objects[objectPath(up.bucket, up.key)] = &memoryObject{
		body:        body,
		metadata:    maps.Clone(up.input.Metadata),
		contentType: up.input.ContentType,
	}

	delete(c.uploads, id)

	return &s3.CompleteMultipartUploadOutput{
		Location: aws.String("http://location"),
	}, nil
}

// AbortMultipartUpload is the S3 AbortMultipartUpload API.
func (c *MemoryClient) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	c.m.Lock()
	defer c.m.Unlock()

	c.traceOperation("AbortMultipartUpload", params)

	delete(c.uploads, aws.ToString(params.UploadId))

	return &s3.AbortMultipartUploadOutput{}, nil
}
