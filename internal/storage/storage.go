package storage

import (
	"context"
	"io"
	"os"
	"strings"
)

type ReaderAtSeeker interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// File is an open, seekable object.
type File interface {
	ReaderAtSeeker
	io.Closer
}

func isHttpUrl(name string) bool {
	return strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://")
}

func isUrl(name string) bool {
	return strings.Contains(name, "://")
}

// NewReader opens a local path, an http(s) URL, or a blob URL
// (e.g. s3://bucket/key) for reading.
func NewReader(ctx context.Context, name string) (File, error) {
	if isHttpUrl(name) {
		return NewHttpReader(ctx, name)
	}
	if isUrl(name) {
		return NewBlobReader(ctx, name)
	}
	return os.Open(name)
}
