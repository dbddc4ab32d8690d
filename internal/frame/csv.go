package frame

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/planetlabs/gbifprep/internal/geo"
	"github.com/planetlabs/gbifprep/internal/geoparquet"
	"github.com/zeebo/xxh3"
)

type countingWriter struct {
	writer io.Writer
	bytes  int64
}

func (w *countingWriter) Write(data []byte) (int, error) {
	n, err := w.writer.Write(data)
	w.bytes += int64(n)
	return n, err
}

// csvWriter writes records with a header row.  WKB geometry columns named in
// the geo metadata are written as WKT.
type csvWriter struct {
	writer     *csv.Writer
	counter    *countingWriter
	hasher     *xxh3.Hasher
	geometries map[int]string
	rows       int64
	row        []string
}

func newCSVWriter(output io.Writer, schema *arrow.Schema) (*csvWriter, error) {
	hasher := xxh3.New()
	counter := &countingWriter{writer: io.MultiWriter(output, hasher)}

	geometries := map[int]string{}
	metadata, err := geoparquet.GetMetadataFromSchema(schema)
	if err == nil {
		for name, column := range metadata.Columns {
			for _, index := range schema.FieldIndices(name) {
				geometries[index] = column.Encoding
			}
		}
	}

	w := &csvWriter{
		writer:     csv.NewWriter(counter),
		counter:    counter,
		hasher:     hasher,
		geometries: geometries,
		row:        make([]string, len(schema.Fields())),
	}

	header := make([]string, len(schema.Fields()))
	for i, field := range schema.Fields() {
		header[i] = field.Name
	}
	if err := w.writer.Write(header); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends the rows of the record and adds their geometries to stats.
func (w *csvWriter) Write(record arrow.Record, stats *geo.GeometryStats) error {
	for row := 0; row < int(record.NumRows()); row++ {
		for col := range w.row {
			value, err := w.value(record.Column(col), col, row, stats)
			if err != nil {
				return fmt.Errorf("column %q: %w", record.ColumnName(col), err)
			}
			w.row[col] = value
		}
		if err := w.writer.Write(w.row); err != nil {
			return err
		}
		w.rows += 1
	}
	return nil
}

func (w *csvWriter) value(values arrow.Array, col int, row int, stats *geo.GeometryStats) (string, error) {
	if values.IsNull(row) {
		return "", nil
	}
	encoding, isGeometry := w.geometries[col]
	if !isGeometry {
		return values.ValueStr(row), nil
	}

	var raw any
	switch v := values.(type) {
	case *array.Binary:
		raw = v.Value(row)
	case *array.String:
		raw = v.Value(row)
	default:
		return "", fmt.Errorf("unexpected geometry type %s", values.DataType())
	}
	g, err := geo.DecodeGeometry(raw, encoding)
	if err != nil {
		return "", err
	}
	if g == nil {
		return "", nil
	}
	if stats != nil {
		stats.Add(g)
	}
	return wkt.MarshalString(g), nil
}

func (w *csvWriter) Flush() error {
	w.writer.Flush()
	return w.writer.Error()
}

func (w *csvWriter) Rows() int64 {
	return w.rows
}

// Bytes is the number of bytes flushed so far.
func (w *csvWriter) Bytes() int64 {
	return w.counter.bytes
}

// Digest is the xxh3 hash of the bytes flushed so far.
func (w *csvWriter) Digest() string {
	return fmt.Sprintf("%016x", w.hasher.Sum64())
}
