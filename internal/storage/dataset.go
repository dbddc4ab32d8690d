package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
)

var ErrNoFiles = errors.New("no data files found")

// Dataset is a single file or a directory of part files.
type Dataset interface {
	// Location is the href the dataset was opened with.
	Location() string

	// Files lists the data files in lexical order.
	Files(ctx context.Context) ([]string, error)

	Open(ctx context.Context, name string) (File, error)
	Close() error
}

// OpenDataset resolves an href to a dataset.  Supported hrefs are local paths,
// file://, abfs://, az://, s3://, gs://, azblob://, mem://, and http(s) URLs.
func OpenDataset(ctx context.Context, href string, options map[string]any) (Dataset, error) {
	if isHttpUrl(href) && !isAzureHref(href) {
		return &httpDataset{url: href}, nil
	}

	bucket, prefix, err := openLocation(ctx, href, options)
	if err != nil {
		return nil, err
	}
	return NewBucketDataset(href, bucket, prefix, true), nil
}

// openLocation opens the bucket holding href and returns the key prefix of
// href within it.
func openLocation(ctx context.Context, href string, options map[string]any) (*blob.Bucket, string, error) {
	if isAzureHref(href) {
		loc, err := ParseAzureHref(href, options)
		if err != nil {
			return nil, "", err
		}
		bucket, err := openAzureBucket(ctx, loc)
		if err != nil {
			return nil, "", err
		}
		return bucket, strings.TrimSuffix(loc.Path, "/"), nil
	}

	href = strings.TrimPrefix(href, "file://")
	if !isUrl(href) {
		return openLocalPath(href)
	}

	u, err := url.Parse(href)
	if err != nil {
		return nil, "", fmt.Errorf("invalid href %q: %w", href, err)
	}
	key := strings.Trim(u.Path, "/")
	u.Path = ""
	bucket, err := blob.OpenBucket(ctx, u.String())
	if err != nil {
		return nil, "", fmt.Errorf("failed to open bucket %s, %w", u.String(), err)
	}
	return bucket, key, nil
}

func openLocalPath(name string) (*blob.Bucket, string, error) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return nil, "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, "", err
	}

	dir, prefix := abs, ""
	if !info.IsDir() {
		dir, prefix = filepath.Dir(abs), filepath.Base(abs)
	}
	bucket, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open directory %s, %w", dir, err)
	}
	return bucket, prefix, nil
}

type bucketDataset struct {
	location string
	bucket   *blob.Bucket
	prefix   string
	owned    bool
}

// NewBucketDataset treats prefix within the bucket as a dataset.  If owned,
// closing the dataset closes the bucket.
func NewBucketDataset(location string, bucket *blob.Bucket, prefix string, owned bool) Dataset {
	return &bucketDataset{
		location: location,
		bucket:   bucket,
		prefix:   prefix,
		owned:    owned,
	}
}

func (d *bucketDataset) Location() string {
	return d.location
}

func (d *bucketDataset) Files(ctx context.Context) ([]string, error) {
	if d.prefix != "" {
		exists, err := d.bucket.Exists(ctx, d.prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", d.location, err)
		}
		if exists {
			return []string{d.prefix}, nil
		}
	}

	listPrefix := ""
	if d.prefix != "" {
		listPrefix = d.prefix + "/"
	}

	files := []string{}
	iter := d.bucket.List(&blob.ListOptions{Prefix: listPrefix})
	for {
		obj, err := iter.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to list %s: %w", d.location, err)
		}
		if obj.IsDir || obj.Size == 0 || IsHidden(strings.TrimPrefix(obj.Key, listPrefix)) {
			continue
		}
		files = append(files, obj.Key)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFiles, d.location)
	}
	return files, nil
}

func (d *bucketDataset) Open(ctx context.Context, name string) (File, error) {
	return NewBucketReader(ctx, d.bucket, name)
}

func (d *bucketDataset) Close() error {
	if !d.owned {
		return nil
	}
	return d.bucket.Close()
}

// IsHidden reports whether any part of a relative key starts with "_" or ".",
// as with _SUCCESS markers, _delta_log directories, and .crc files.
func IsHidden(key string) bool {
	for _, part := range strings.Split(key, "/") {
		if strings.HasPrefix(part, "_") || strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

type httpDataset struct {
	url string
}

func (d *httpDataset) Location() string {
	return d.url
}

func (d *httpDataset) Files(ctx context.Context) ([]string, error) {
	return []string{d.url}, nil
}

func (d *httpDataset) Open(ctx context.Context, name string) (File, error) {
	return NewHttpReader(ctx, name)
}

func (d *httpDataset) Close() error {
	return nil
}
