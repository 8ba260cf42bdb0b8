package llm

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strings"
)

const maxLineSize = 1 << 20

// sseDone is the data payload OpenAI sends as its final event.
const sseDone = "[DONE]"

// errTruncated ends a stream whose body closed before the provider's end marker.
var errTruncated = fmt.Errorf("stream ended before completion: %w", io.ErrUnexpectedEOF)

// sseData yields the data payload of each server-sent event in r. Multi-line data
// fields are joined with newlines.
func sseData(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLineSize)
		var data []string
		flush := func() bool {
			if len(data) == 0 {
				return true
			}
			payload := strings.Join(data, "\n")
			data = data[:0]
			return yield(payload, nil)
		}
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				if !flush() {
					return
				}
				continue
			}
			if v, ok := strings.CutPrefix(line, "data:"); ok {
				data = append(data, strings.TrimPrefix(v, " "))
			}
		}
		if err := sc.Err(); err != nil {
			yield("", err)
			return
		}
		flush()
	}
}

// ndjsonLines yields each non-empty line of a newline-delimited JSON stream.
func ndjsonLines(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLineSize)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if !yield(line, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield("", err)
		}
	}
}
