package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// BlobReader reads a single object with ranged requests.
type BlobReader struct {
	ctx        context.Context
	bucket     *blob.Bucket
	ownsBucket bool
	key        string
	size       int64
	offset     int64
}

// splitBlobUrl separates a name in the form <scheme>://<bucket>/<key> into
// the bucket URL and the object key.
func splitBlobUrl(name string) (string, string, error) {
	parts := strings.Split(name, "/")
	if len(parts) < 4 {
		return "", "", fmt.Errorf("expected a name in the form <scheme>://<bucket>/<key>, got %q", name)
	}
	if parts[0] == "file:" {
		return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
	}
	return strings.Join(parts[:3], "/"), strings.Join(parts[3:], "/"), nil
}

func NewBlobReader(ctx context.Context, name string) (*BlobReader, error) {
	bucketName, key, err := splitBlobUrl(name)
	if err != nil {
		return nil, err
	}

	bucket, err := blob.OpenBucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s, %w", bucketName, err)
	}

	reader, err := NewBucketReader(ctx, bucket, key)
	if err != nil {
		_ = bucket.Close()
		return nil, err
	}
	reader.ownsBucket = true
	return reader, nil
}

// NewBucketReader reads an object from an already open bucket.  Closing the
// reader leaves the bucket open.
func NewBucketReader(ctx context.Context, bucket *blob.Bucket, key string) (*BlobReader, error) {
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes for %s, %w", key, err)
	}

	reader := &BlobReader{
		ctx:    ctx,
		bucket: bucket,
		key:    key,
		size:   attrs.Size,
	}
	return reader, nil
}

func (r *BlobReader) Size() int64 {
	return r.size
}

func (r *BlobReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		offset = r.offset + offset
	case io.SeekEnd:
		offset = r.size + offset
	}

	if offset < 0 {
		return 0, fmt.Errorf("attempt to seek to a negative offset: %d", offset)
	}
	r.offset = offset
	return offset, nil
}

func (r *BlobReader) ReadAt(data []byte, offset int64) (int, error) {
	_, err := r.Seek(offset, io.SeekStart)
	if err != nil {
		return 0, err
	}
	return r.readFull(data)
}

func (r *BlobReader) Read(data []byte) (int, error) {
	return r.readFull(data)
}

func (r *BlobReader) readFull(data []byte) (int, error) {
	if r.offset >= r.size {
		return 0, io.EOF
	}
	rangeReader, err := r.bucket.NewRangeReader(r.ctx, r.key, r.offset, int64(len(data)), nil)
	if err != nil {
		return 0, err
	}
	defer rangeReader.Close()

	total := 0
	for {
		n, err := rangeReader.Read(data[total:])
		total = total + n
		r.offset += int64(n)
		if total >= len(data) {
			break
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *BlobReader) Close() error {
	if !r.ownsBucket {
		return nil
	}
	if err := r.bucket.Close(); err != nil {
		if gcerrors.Code(err) == gcerrors.FailedPrecondition {
			// allow mutiple calls to Close
			return nil
		}
		return err
	}
	return nil
}
