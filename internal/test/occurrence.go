package test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/stretchr/testify/require"
)

// OccurrenceSchema mirrors the columns of the GBIF occurrence table that the
// pipeline touches, plus a few that pass through.
var OccurrenceSchema = arrow.NewSchema([]arrow.Field{
	{Name: "gbifid", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "class", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "species", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "decimallatitude", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "decimallongitude", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "stateprovince", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "month", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "day", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "eventdate", Type: &arrow.TimestampType{Unit: arrow.Microsecond}, Nullable: true},
}, nil)

type Occurrence struct {
	GbifId        int64    `json:"gbifid"`
	Class         *string  `json:"class"`
	Species       *string  `json:"species"`
	Latitude      *float64 `json:"decimallatitude"`
	Longitude     *float64 `json:"decimallongitude"`
	StateProvince *string  `json:"stateprovince"`
	Month         *int32   `json:"month"`
	Day           *int32   `json:"day"`
	EventDate     *string  `json:"eventdate"`
}

func Ptr[T any](v T) *T {
	return &v
}

// NewOccurrence returns a Washington record that passes every filter.
func NewOccurrence(id int64, class string, species string, lon float64, lat float64) *Occurrence {
	return &Occurrence{
		GbifId:        id,
		Class:         Ptr(class),
		Species:       Ptr(species),
		Latitude:      Ptr(lat),
		Longitude:     Ptr(lon),
		StateProvince: Ptr("Washington"),
		Month:         Ptr(int32(5)),
		Day:           Ptr(int32(17)),
		EventDate:     Ptr("2021-05-17 08:30:00"),
	}
}

// OccurrenceParquet writes occurrences with at most rowGroupLength rows per
// row group.
func OccurrenceParquet(t *testing.T, occurrences []*Occurrence, rowGroupLength int64) []byte {
	data, err := json.Marshal(occurrences)
	require.NoError(t, err)

	props := parquet.NewWriterProperties(
		parquet.WithMaxRowGroupLength(rowGroupLength),
		parquet.WithStats(true),
	)
	return ParquetFromRecords(t, OccurrenceSchema, string(data), props)
}

// OccurrenceRecord builds an in-memory record.  The caller releases it.
func OccurrenceRecord(t *testing.T, occurrences []*Occurrence) arrow.Record {
	data, err := json.Marshal(occurrences)
	require.NoError(t, err)

	record, _, err := array.RecordFromJSON(memory.DefaultAllocator, OccurrenceSchema, strings.NewReader(string(data)))
	require.NoError(t, err)
	return record
}
