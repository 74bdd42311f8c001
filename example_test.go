package s3rewrite

import (
	"context"
	"errors"
	"iter"
	"log"
	"strings"
)

func ExampleRewriter_RewriteFile() {
	ctx := context.Background()

	rw, err := New(ctx,
		WithRewriterHost("http://localhost:9000", "local", true),
		WithRewriterCredentials("access-key", "access-secret"),
	)
	if err != nil {
		log.Fatal(err)
	}

	err = rw.RewriteFile(ctx, "bucket-name", "path/to/object.txt", MapLines(func(line string) string {
		return strings.ReplaceAll(line, "http://", "https://")
	}))
	if err != nil {
		log.Fatal(err)
	}
}

func ExampleRewriter_RewriteAll() {
	ctx := context.Background()

	rw, err := New(ctx, WithRewriterConcurrency(8))
	if err != nil {
		log.Fatal(err)
	}

	// drop comment lines
	withoutComments := func(lines iter.Seq[string]) iter.Seq[string] {
		return func(yield func(string) bool) {
			for line := range lines {
				if strings.HasPrefix(line, "#") {
					continue
				}

				if !yield(line) {
					return
				}
			}
		}
	}

	err = rw.RewriteAll(ctx, "bucket-name", "path/to/", withoutComments)

	var bulkErr *BulkError
	if errors.As(err, &bulkErr) {
		for _, f := range bulkErr.Failures {
			log.Printf("%s failed: %v", f.Key, f.Err)
		}
	}
}
