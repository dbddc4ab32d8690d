package geoparquet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/compress"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
)

type WriterConfig struct {
	Writer             io.Writer
	Metadata           *Metadata
	ParquetWriterProps *parquet.WriterProperties
	ArrowWriterProps   *pqarrow.ArrowWriterProperties
	ArrowSchema        *arrow.Schema
}

// RecordWriter writes arrow records to a GeoParquet file.  The geo metadata
// is appended on Close.
type RecordWriter struct {
	fileWriter *pqarrow.FileWriter
	metadata   *Metadata
}

func NewRecordWriter(config *WriterConfig) (*RecordWriter, error) {
	parquetProps := config.ParquetWriterProps
	if parquetProps == nil {
		parquetProps = parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Zstd))
	}

	arrowProps := config.ArrowWriterProps
	if arrowProps == nil {
		defaults := pqarrow.DefaultWriterProps()
		arrowProps = &defaults
	}

	if config.ArrowSchema == nil {
		return nil, errors.New("schema is required")
	}

	if config.Writer == nil {
		return nil, errors.New("writer is required")
	}

	if config.Metadata == nil {
		return nil, errors.New("metadata is required")
	}

	// geo metadata carried by the schema is replaced by the writer metadata
	existing := config.ArrowSchema.Metadata()
	keys := []string{}
	values := []string{}
	for i, key := range existing.Keys() {
		if key != MetadataKey {
			keys = append(keys, key)
			values = append(values, existing.Values()[i])
		}
	}
	md := arrow.NewMetadata(keys, values)
	arrowSchema := arrow.NewSchema(config.ArrowSchema.Fields(), &md)

	fileWriter, fileErr := pqarrow.NewFileWriter(arrowSchema, config.Writer, parquetProps, *arrowProps)
	if fileErr != nil {
		return nil, fileErr
	}

	writer := &RecordWriter{
		fileWriter: fileWriter,
		metadata:   config.Metadata,
	}

	return writer, nil
}

func (w *RecordWriter) Write(record arrow.Record) error {
	return w.fileWriter.WriteBuffered(record)
}

func (w *RecordWriter) Close() error {
	data, err := json.Marshal(w.metadata)
	if err != nil {
		return fmt.Errorf("failed to encode %s file metadata", MetadataKey)
	}
	if err := w.fileWriter.AppendKeyValueMetadata(MetadataKey, string(data)); err != nil {
		return fmt.Errorf("failed to append %s file metadata", MetadataKey)
	}
	return w.fileWriter.Close()
}
