// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/planetlabs/gbifprep/internal/ecoregion"
	"github.com/planetlabs/gbifprep/internal/geo"
	"github.com/planetlabs/gbifprep/internal/geoparquet"
	"github.com/planetlabs/gbifprep/internal/pqutil"
)

type RegionsCmd struct {
	Input       string   `arg:"" optional:"" name:"input" help:"Ecoregion reference file." default:"us_eco_l3.zip"`
	Output      string   `arg:"" optional:"" name:"output" help:"Output GeoParquet file.  If not provided, output is written to stdout."`
	Names       []string `help:"Only write regions with these names."`
	Compression string   `help:"Parquet compression codec.  Possible values: ${enum}." enum:"uncompressed, snappy, gzip, brotli, zstd, lz4" default:"zstd"`
}

func (c *RegionsCmd) Run(logger *slog.Logger) error {
	ctx := context.Background()

	set, err := ecoregion.Load(ctx, c.Input, &ecoregion.LoadOptions{Logger: logger})
	if err != nil {
		return NewCommandError("%w", err)
	}

	regions := set.Regions()
	if len(c.Names) > 0 {
		regions = slices.DeleteFunc(slices.Clone(regions), func(region *ecoregion.Region) bool {
			return !slices.Contains(c.Names, region.Name())
		})
	}

	codec, err := pqutil.GetCompression(c.Compression)
	if err != nil {
		return NewCommandError("%w", err)
	}

	var output io.Writer = os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return NewCommandError("failed to open %q for writing: %w", c.Output, err)
		}
		defer f.Close()
		output = f
	}

	record, metadata, err := regionsRecord(set.Fields(), regions)
	if err != nil {
		return err
	}
	defer record.Release()

	writer, err := geoparquet.NewRecordWriter(&geoparquet.WriterConfig{
		Writer:             output,
		Metadata:           metadata,
		ArrowSchema:        record.Schema(),
		ParquetWriterProps: parquet.NewWriterProperties(parquet.WithCompression(codec)),
	})
	if err != nil {
		return NewCommandError("trouble getting record writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	logger.Info("wrote regions", slog.Int("regions", len(regions)), slog.String("compression", c.Compression))
	return nil
}

// regionsRecord builds one row per region with string attributes and a WKB
// geometry column.
func regionsRecord(fields []string, regions []*ecoregion.Region) (arrow.Record, *geoparquet.Metadata, error) {
	arrowFields := []arrow.Field{}
	for _, name := range fields {
		arrowFields = append(arrowFields, arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true})
	}
	arrowFields = append(arrowFields, arrow.Field{Name: geoparquet.DefaultGeometryColumn, Type: arrow.BinaryTypes.Binary})

	builder := array.NewRecordBuilder(memory.DefaultAllocator, arrow.NewSchema(arrowFields, nil))
	defer builder.Release()

	stats := geo.NewGeometryStats(false)
	for _, region := range regions {
		for i, name := range fields {
			value, ok := region.Attributes[name]
			if !ok {
				builder.Field(i).AppendNull()
				continue
			}
			builder.Field(i).(*array.StringBuilder).Append(value)
		}
		data, err := wkb.Marshal(region.Geometry)
		if err != nil {
			return nil, nil, fmt.Errorf("trouble encoding region %d: %w", region.Index, err)
		}
		builder.Field(len(fields)).(*array.BinaryBuilder).Append(data)
		stats.Add(region.Geometry)
	}

	types := stats.Types()
	slices.Sort(types)
	metadata := geoparquet.NewMetadata(geoparquet.DefaultGeometryColumn, types...)
	if bounds := stats.Bounds(); bounds != nil {
		metadata.Columns[geoparquet.DefaultGeometryColumn].Bounds = []float64{bounds.Xmin, bounds.Ymin, bounds.Xmax, bounds.Ymax}
	}
	return builder.NewRecord(), metadata, nil
}
