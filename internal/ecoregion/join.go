package ecoregion

import (
	"context"
	"fmt"
	"slices"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/compute"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/paulmach/orb"
	"github.com/planetlabs/gbifprep/internal/geo"
)

const (
	// IndexColumn holds the index of the matched region.
	IndexColumn = "index_right"

	rightSuffix = "_right"
)

// Join pairs every row of the record with each region its point geometry
// intersects.  Rows without a match are dropped.  Matched rows keep the
// input column order followed by the region index and region attributes.
func Join(ctx context.Context, set *Set, record arrow.Record, geometryColumn string) (arrow.Record, error) {
	schema := record.Schema()
	indices := schema.FieldIndices(geometryColumn)
	if len(indices) != 1 {
		return nil, fmt.Errorf("expected one %q column", geometryColumn)
	}
	geometries, ok := record.Column(indices[0]).(*array.Binary)
	if !ok {
		return nil, fmt.Errorf("expected WKB values in %q, got %s", geometryColumn, record.Column(indices[0]).DataType())
	}

	left := array.NewInt64Builder(memory.DefaultAllocator)
	defer left.Release()
	right := array.NewInt64Builder(memory.DefaultAllocator)
	defer right.Release()

	attributeBuilders := make([]*array.StringBuilder, len(set.Fields()))
	for i := range attributeBuilders {
		attributeBuilders[i] = array.NewStringBuilder(memory.DefaultAllocator)
		defer attributeBuilders[i].Release()
	}

	for row := 0; row < geometries.Len(); row++ {
		if geometries.IsNull(row) {
			continue
		}
		g, err := geo.DecodeGeometry(geometries.Value(row), geo.EncodingWKB)
		if err != nil {
			return nil, fmt.Errorf("trouble decoding geometry in row %d: %w", row, err)
		}
		point, ok := g.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("expected a point in row %d, got %s", row, g.GeoJSONType())
		}

		for _, region := range set.Intersecting(point) {
			left.Append(int64(row))
			right.Append(int64(region.Index))
			for i, field := range set.Fields() {
				value, ok := region.Attributes[field]
				if ok {
					attributeBuilders[i].Append(value)
				} else {
					attributeBuilders[i].AppendNull()
				}
			}
		}
	}

	take := left.NewArray()
	defer take.Release()

	fields := slices.Clone(schema.Fields())
	columns := make([]arrow.Array, 0, len(fields)+1+len(attributeBuilders))
	defer func() {
		for _, column := range columns {
			column.Release()
		}
	}()

	for i := range fields {
		taken, err := compute.TakeArray(ctx, record.Column(i), take)
		if err != nil {
			return nil, fmt.Errorf("trouble taking column %q: %w", fields[i].Name, err)
		}
		columns = append(columns, taken)
	}

	fields = append(fields, arrow.Field{Name: rightName(schema, IndexColumn), Type: arrow.PrimitiveTypes.Int64})
	columns = append(columns, right.NewArray())

	for i, name := range set.Fields() {
		fields = append(fields, arrow.Field{Name: rightName(schema, name), Type: arrow.BinaryTypes.String, Nullable: true})
		columns = append(columns, attributeBuilders[i].NewArray())
	}

	md := schema.Metadata()
	return array.NewRecord(arrow.NewSchema(fields, &md), columns, int64(take.Len())), nil
}

func rightName(left *arrow.Schema, name string) string {
	if left.HasField(name) {
		return name + rightSuffix
	}
	return name
}
