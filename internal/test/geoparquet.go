package test

import (
	"bytes"
	"testing"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/planetlabs/gbifprep/internal/geoparquet"
	"github.com/stretchr/testify/require"
)

// GeoParquetFromRegions writes the regions as a GeoParquet file with string
// attribute columns and a WKB geometry column.  The geo metadata is used as
// given.
func GeoParquetFromRegions(t *testing.T, regions []*Region, metadata *geoparquet.Metadata) []byte {
	fields := []arrow.Field{}
	for _, name := range EcoregionFields {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true})
	}
	fields = append(fields, arrow.Field{Name: metadata.PrimaryColumn, Type: arrow.BinaryTypes.Binary, Nullable: true})
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for _, region := range regions {
		builder.Field(0).(*array.StringBuilder).Append(region.Code)
		builder.Field(1).(*array.StringBuilder).Append(region.Name)
		builder.Field(2).(*array.StringBuilder).Append(region.Code + "  " + region.Name)

		var data []byte
		var err error
		if len(region.Polygons) == 1 {
			data, err = wkb.Marshal(region.Polygons[0])
		} else {
			data, err = wkb.Marshal(MultiPolygon(region))
		}
		require.NoError(t, err)
		builder.Field(3).(*array.BinaryBuilder).Append(data)
	}

	record := builder.NewRecord()
	defer record.Release()

	output := &bytes.Buffer{}
	writer, err := geoparquet.NewRecordWriter(&geoparquet.WriterConfig{
		Writer:      output,
		Metadata:    metadata,
		ArrowSchema: schema,
	})
	require.NoError(t, err)
	require.NoError(t, writer.Write(record))
	require.NoError(t, writer.Close())

	return output.Bytes()
}
