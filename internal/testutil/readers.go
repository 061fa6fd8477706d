// Package testutil provides shared testing utilities for the classroom-kit
// test suite: scripted event-stream servers and chunked readers.
package testutil

import (
	"encoding/json"
	"io"
)

// Frame encodes v as one wire frame: "data: <json>\n\n".
func Frame(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return "data: " + string(b) + "\n\n"
}

// Event builds a frame for status with the given content.
func Event(status string, content interface{}) string {
	return Frame(map[string]interface{}{"status": status, "content": content})
}

// SplitEvery cuts s into pieces of n bytes. The last piece may be shorter.
// Pieces may split multi-byte runes.
func SplitEvery(s string, n int) []string {
	if n <= 0 {
		return []string{s}
	}
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// SplitAt cuts s at the given byte offsets, which must be increasing.
func SplitAt(s string, offsets ...int) []string {
	var out []string
	prev := 0
	for _, off := range offsets {
		out = append(out, s[prev:off])
		prev = off
	}
	return append(out, s[prev:])
}

// ChunkReader returns one scripted chunk per Read call, so tests control
// exactly where chunk boundaries fall.
type ChunkReader struct {
	chunks []string
	cur    string
	reads  int
}

// NewChunkReader creates a reader over chunks
func NewChunkReader(chunks []string) *ChunkReader {
	return &ChunkReader{chunks: chunks}
}

// Read implements io.Reader
func (r *ChunkReader) Read(p []byte) (int, error) {
	for r.cur == "" {
		if len(r.chunks) == 0 {
			return 0, io.EOF
		}
		r.cur, r.chunks = r.chunks[0], r.chunks[1:]
	}
	r.reads++
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

// Reads returns the number of non-EOF reads served
func (r *ChunkReader) Reads() int {
	return r.reads
}
