package test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
	"github.com/stretchr/testify/require"
)

// ParquetFromRecords writes rows given as a JSON array with an explicit schema.
func ParquetFromRecords(t *testing.T, schema *arrow.Schema, data string, writerProperties *parquet.WriterProperties) []byte {
	if writerProperties == nil {
		writerProperties = parquet.NewWriterProperties()
	}

	rec, _, err := array.RecordFromJSON(memory.DefaultAllocator, schema, strings.NewReader(data))
	require.NoError(t, err)
	defer rec.Release()

	output := &bytes.Buffer{}

	writer, err := pqarrow.NewFileWriter(schema, output, writerProperties, pqarrow.DefaultWriterProps())
	require.NoError(t, err)

	require.NoError(t, writer.Write(rec))
	require.NoError(t, writer.Close())

	return output.Bytes()
}
