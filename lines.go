package s3rewrite

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"strings"
)

// Transform rewrites the lines of an object.
//
// It receives every line of the object once, in order, without line terminators
// and returns the lines that make up the new content. The returned sequence may
// hold more, fewer or different lines than the input.
type Transform func(lines iter.Seq[string]) iter.Seq[string]

// Identity returns the lines unchanged
func Identity(lines iter.Seq[string]) iter.Seq[string] {
	return lines
}

// MapLines returns a Transform that applies fn to every line.
func MapLines(fn func(line string) string) Transform {
	return func(lines iter.Seq[string]) iter.Seq[string] {
		return func(yield func(string) bool) {
			for line := range lines {
				if !yield(fn(line)) {
					return
				}
			}
		}
	}
}

// ScanLines is a bufio.SplitFunc that splits on "\n", "\r\n" and a lone "\r".
// The terminator is not part of the token and a terminator at the end of
// the input does not produce a trailing empty line.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}

		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}

			return i + 1, data[:i], nil
		}

		if atEOF {
			return i + 1, data[:i], nil
		}

		// a "\r" at the end of the buffer might be followed by "\n"
		return 0, nil, nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

// lineScanner decodes a reader into a forward only sequence of lines.
type lineScanner struct {
	sc       *bufio.Scanner
	consumed bool
}

func newLineScanner(rd io.Reader, maxLineSize int) *lineScanner {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, min(maxLineSize, bufio.MaxScanTokenSize)), maxLineSize)
	sc.Split(ScanLines)

	return &lineScanner{sc: sc}
}

// All returns the lines of the reader. The sequence can only be ranged over once,
// any following range yields nothing.
func (l *lineScanner) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		if l.consumed {
			return
		}

		l.consumed = true

		for l.sc.Scan() {
			if !yield(l.sc.Text()) {
				return
			}
		}
	}
}

// Err returns the read error that ended the sequence, if any.
func (l *lineScanner) Err() error {
	return l.sc.Err()
}

func withoutBlankLines(lines iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}

			if !yield(line) {
				return
			}
		}
	}
}

// withSeparatingNewlines appends the newline to every line but the last.
// It holds back a single line to know whether it is the last one.
func withSeparatingNewlines(lines iter.Seq[string], newline string) iter.Seq[string] {
	return func(yield func(string) bool) {
		var prev string
		var hasPrev bool

		for line := range lines {
			if hasPrev && !yield(prev+newline) {
				return
			}

			prev, hasPrev = line, true
		}

		if hasPrev {
			yield(prev)
		}
	}
}
