// Package occurrence holds the row-level rules applied to GBIF occurrence
// records.
package occurrence

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/planetlabs/gbifprep/internal/geoparquet"
)

const (
	ClassColumn         = "class"
	SpeciesColumn       = "species"
	LongitudeColumn     = "decimallongitude"
	LatitudeColumn      = "decimallatitude"
	MonthColumn         = "month"
	DayColumn           = "day"
	StateProvinceColumn = "stateprovince"
	GeometryColumn      = geoparquet.DefaultGeometryColumn
	RegionNameColumn    = "US_L3NAME"

	StateProvince = "Washington"
	Collection    = "gbif"
	AssetKey      = "data"
)

var (
	Classes     = []string{"Aves", "Mammalia", "Reptilia", "Amphibia"}
	RegionNames = []string{"Puget Lowland", "North Cascades"}

	requiredColumns = []string{SpeciesColumn, MonthColumn, DayColumn}
)

// FilterRecord keeps rows with a class in Classes and non-null species,
// month, and day.  Applying it to its own output changes nothing.
func FilterRecord(ctx context.Context, record arrow.Record) (arrow.Record, error) {
	classes, err := Strings(record, ClassColumn)
	if err != nil {
		return nil, err
	}

	required := make([]arrow.Array, len(requiredColumns))
	for i, name := range requiredColumns {
		index, err := columnIndex(record.Schema(), name)
		if err != nil {
			return nil, err
		}
		required[i] = record.Column(index)
	}

	return geoparquet.FilterRecord(ctx, record, func(row int64) (bool, error) {
		class, ok := classes(int(row))
		if !ok || !slices.Contains(Classes, class) {
			return false, nil
		}
		for _, column := range required {
			if column.IsNull(int(row)) {
				return false, nil
			}
		}
		return true, nil
	})
}

func validCoordinates(lon float64, lat float64) bool {
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// WithGeometry appends a WKB point column built from the longitude and
// latitude columns.  Rows with missing or out of range coordinates are
// dropped.  The schema of the result carries geo metadata for the new column.
func WithGeometry(ctx context.Context, record arrow.Record) (arrow.Record, error) {
	schema := record.Schema()
	if schema.HasField(GeometryColumn) {
		return nil, fmt.Errorf("record already has a %q column", GeometryColumn)
	}

	lons, err := Floats(record, LongitudeColumn)
	if err != nil {
		return nil, err
	}
	lats, err := Floats(record, LatitudeColumn)
	if err != nil {
		return nil, err
	}

	valid, err := geoparquet.FilterRecord(ctx, record, func(row int64) (bool, error) {
		lon, lonOk := lons(int(row))
		lat, latOk := lats(int(row))
		return lonOk && latOk && validCoordinates(lon, lat), nil
	})
	if err != nil {
		return nil, err
	}
	defer valid.Release()

	lons, _ = Floats(valid, LongitudeColumn)
	lats, _ = Floats(valid, LatitudeColumn)

	builder := array.NewBinaryBuilder(memory.DefaultAllocator, arrow.BinaryTypes.Binary)
	defer builder.Release()
	builder.Reserve(int(valid.NumRows()))

	for row := 0; row < int(valid.NumRows()); row++ {
		lon, _ := lons(row)
		lat, _ := lats(row)
		data, err := wkb.Marshal(orb.Point{lon, lat})
		if err != nil {
			return nil, fmt.Errorf("trouble encoding point %d: %w", row, err)
		}
		builder.Append(data)
	}
	geometries := builder.NewArray()
	defer geometries.Release()

	fields := append(slices.Clone(schema.Fields()), arrow.Field{
		Name: GeometryColumn,
		Type: arrow.BinaryTypes.Binary,
	})
	md := schema.Metadata()
	geoSchema, err := geoparquet.SchemaWithMetadata(arrow.NewSchema(fields, &md), geoparquet.NewMetadata(GeometryColumn, "Point"))
	if err != nil {
		return nil, err
	}

	columns := append(slices.Clone(valid.Columns()), geometries)
	return array.NewRecord(geoSchema, columns, valid.NumRows()), nil
}

// RegionFilter returns a filter that keeps joined rows whose region name is
// one of names.
func RegionFilter(names ...string) func(context.Context, arrow.Record) (arrow.Record, error) {
	return func(ctx context.Context, record arrow.Record) (arrow.Record, error) {
		regions, err := Strings(record, RegionNameColumn)
		if err != nil {
			return nil, err
		}
		return geoparquet.FilterRecord(ctx, record, func(row int64) (bool, error) {
			name, ok := regions(int(row))
			return ok && slices.Contains(names, name), nil
		})
	}
}
