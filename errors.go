package s3rewrite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// TagRestoreError is returned when the content of an object was replaced
// but its original tags could not be put back.
// The object content is final, only the tags are stale.
type TagRestoreError struct {
	Bucket string
	Key    string
	Tags   []types.Tag
	Err    error
}

func (e *TagRestoreError) Error() string {
	return fmt.Sprintf("content of s3://%s/%s replaced but restoring %d tags failed: %v", e.Bucket, e.Key, len(e.Tags), e.Err)
}

func (e *TagRestoreError) Unwrap() error {
	return e.Err
}

// KeyError is the failure of a single key during a bulk rewrite.
type KeyError struct {
	Key string
	// Code is the s3 api error code, empty when the failure didn't come from the api.
	Code string
	Err  error
}

func newKeyError(key string, err error) *KeyError {
	ke := &KeyError{
		Key: key,
		Err: err,
	}

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		ke.Code = apiError.ErrorCode()
	}

	return ke
}

func (e *KeyError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %v", e.Key, e.Code, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// BulkError reports which keys of a bulk rewrite failed and which succeeded.
type BulkError struct {
	Bucket    string
	Prefix    string
	Succeeded []string
	Failures  []*KeyError
}

func (e *BulkError) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "rewriting s3://%s/%s: %d of %d objects failed",
		e.Bucket, e.Prefix, len(e.Failures), len(e.Failures)+len(e.Succeeded))

	for _, f := range e.Failures {
		sb.WriteString("\n\t")
		sb.WriteString(f.Error())
	}

	return sb.String()
}

// Unwrap makes every key failure reachable by errors.Is and errors.As.
func (e *BulkError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}

	return errs
}
