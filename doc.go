// Package s3rewrite rewrites the text of s3 objects line by line.
//
// A Rewriter streams an object, hands its lines to a Transform and uploads the
// result under the same key through a multipart upload. The metadata and tags
// of the original object are carried over to the new one.
//
//	rw, err := s3rewrite.New(ctx, s3rewrite.WithRewriterCredentials("access-key", "secret-key"))
//
// Rewrite a single object:
//
//	err := rw.RewriteFile(ctx, "my-bucket", "path/to/object.txt", s3rewrite.MapLines(strings.ToUpper))
//
// Or every object under a prefix, concurrently:
//
//	err := rw.RewriteAll(ctx, "my-bucket", "path/to/", s3rewrite.MapLines(strings.ToUpper))
//
//	var bulkErr *s3rewrite.BulkError
//	if errors.As(err, &bulkErr) {
//	  for _, f := range bulkErr.Failures {
//	    log.Printf("%s: %v", f.Key, f.Err)
//	  }
//	}
//
// Blank lines left by the transform are dropped unless disabled with
// WithRewriterRemoveEmptyLines(false). The lines are joined with "\n", or the
// terminator given with WithRewriterNewline, without a terminator after the
// last line.
package s3rewrite
