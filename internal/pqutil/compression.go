package pqutil

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v16/parquet/compress"
)

// CompressionCodecs lists the names accepted by GetCompression.
var CompressionCodecs = []string{"uncompressed", "snappy", "gzip", "brotli", "zstd", "lz4"}

func GetCompression(codec string) (compress.Compression, error) {
	switch strings.ToLower(codec) {
	case "uncompressed", "none":
		return compress.Codecs.Uncompressed, nil
	case "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "zstd", "":
		return compress.Codecs.Zstd, nil
	case "lz4":
		return compress.Codecs.Lz4, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("invalid compression codec %q, expected one of %s", codec, strings.Join(CompressionCodecs, ", "))
	}
}
