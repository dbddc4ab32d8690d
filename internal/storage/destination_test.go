package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/planetlabs/gbifprep/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

func TestLocalDestination(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "output")

	dest, err := storage.NewDestination(ctx, dir, nil)
	require.NoError(t, err)
	defer dest.Close()

	assert.Equal(t, filepath.Join(dir, "output-0.csv"), dest.Location("output-0.csv"))

	writer, err := dest.Create(ctx, "output-0.csv")
	require.NoError(t, err)
	_, err = writer.Write([]byte("a,b\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "output-0.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalDestinationOverwrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output-0.csv"), []byte("stale content\n"), 0o644))

	dest, err := storage.NewDestination(ctx, "file://"+dir, nil)
	require.NoError(t, err)

	writer, err := dest.Create(ctx, "output-0.csv")
	require.NoError(t, err)
	_, err = writer.Write([]byte("x\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "output-0.csv"))
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(data))
}

func TestBucketDestination(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	dest := storage.NewBucketDestination("mem://results/", bucket, "results/", false)
	assert.Equal(t, "mem://results/output-1.csv", dest.Location("output-1.csv"))

	writer, err := dest.Create(ctx, "output-1.csv")
	require.NoError(t, err)
	_, err = writer.Write([]byte("species\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	data, err := bucket.ReadAll(ctx, "results/output-1.csv")
	require.NoError(t, err)
	assert.Equal(t, "species\n", string(data))

	attrs, err := bucket.Attributes(ctx, "results/output-1.csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", attrs.ContentType)
}

func TestNewDestinationRejectsHttp(t *testing.T) {
	_, err := storage.NewDestination(context.Background(), "https://example.com/output", nil)
	assert.ErrorContains(t, err, "cannot write to")
}
