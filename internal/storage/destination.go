package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
)

// Destination is a directory-like location that output files are written to.
type Destination interface {
	// Location returns the full href of a named file in the destination.
	Location(name string) string

	// Create opens a named file for writing, replacing any existing file.
	// The file is committed when the writer is closed.
	Create(ctx context.Context, name string) (io.WriteCloser, error)

	Close() error
}

// NewDestination opens a local directory (created if missing) or a blob
// prefix for writing.
func NewDestination(ctx context.Context, href string, options map[string]any) (Destination, error) {
	href = strings.TrimPrefix(href, "file://")
	if !isUrl(href) {
		if err := os.MkdirAll(href, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", href, err)
		}
		return &localDestination{dir: href}, nil
	}

	if isHttpUrl(href) && !isAzureHref(href) {
		return nil, fmt.Errorf("cannot write to %s, expected a local path or a bucket URL", href)
	}

	bucket, prefix, err := openLocation(ctx, href, options)
	if err != nil {
		return nil, err
	}
	return NewBucketDestination(href, bucket, prefix, true), nil
}

type localDestination struct {
	dir string
}

func (d *localDestination) Location(name string) string {
	return filepath.Join(d.dir, name)
}

func (d *localDestination) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	return os.Create(d.Location(name))
}

func (d *localDestination) Close() error {
	return nil
}

type bucketDestination struct {
	location string
	bucket   *blob.Bucket
	prefix   string
	owned    bool
}

// NewBucketDestination writes files under prefix in the bucket.  If owned,
// closing the destination closes the bucket.
func NewBucketDestination(location string, bucket *blob.Bucket, prefix string, owned bool) Destination {
	return &bucketDestination{
		location: strings.TrimSuffix(location, "/"),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		owned:    owned,
	}
}

func (d *bucketDestination) key(name string) string {
	if d.prefix == "" {
		return name
	}
	return path.Join(d.prefix, name)
}

func (d *bucketDestination) Location(name string) string {
	return d.location + "/" + name
}

func (d *bucketDestination) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	writer, err := d.bucket.NewWriter(ctx, d.key(name), &blob.WriterOptions{ContentType: "text/csv"})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", d.Location(name), err)
	}
	return writer, nil
}

func (d *bucketDestination) Close() error {
	if !d.owned {
		return nil
	}
	return d.bucket.Close()
}
