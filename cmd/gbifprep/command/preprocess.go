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
	"log/slog"

	"github.com/planetlabs/gbifprep/internal/catalog"
	"github.com/planetlabs/gbifprep/internal/cluster"
	"github.com/planetlabs/gbifprep/internal/ecoregion"
	"github.com/planetlabs/gbifprep/internal/frame"
	"github.com/planetlabs/gbifprep/internal/occurrence"
	"github.com/planetlabs/gbifprep/internal/storage"
)

const OutputPattern = "output-*.csv"

type PreprocessCmd struct {
	OutputPath string `name:"output-path" aliases:"output_path" required:"" help:"Directory or bucket URL for the output CSV files."`
	Regions    string `help:"Ecoregion reference file (zipped shapefile, shapefile, GeoJSON, or GeoParquet)." default:"us_eco_l3.zip"`
	Catalog    string `help:"STAC API endpoint." default:"https://planetarycomputer.microsoft.com/api/stac/v1"`
	SasApi     string `name:"sas-api" help:"Endpoint for short lived storage tokens." default:"https://planetarycomputer.microsoft.com/api/sas/v1"`
	Workers    int    `help:"Number of worker goroutines.  Zero uses one per CPU." default:"0"`
	BatchSize  int    `help:"Maximum number of rows per record batch." default:"65536"`
	Format     string `help:"Summary format.  Possible values: ${enum}." enum:"text, json" default:"text"`
}

func (c *PreprocessCmd) Run(logger *slog.Logger) error {
	ctx := context.Background()

	signer := catalog.NewPlanetaryComputerSigner(c.SasApi)
	client := catalog.NewClient(c.Catalog, catalog.WithSigner(signer), catalog.WithLogger(logger))

	item, err := client.Latest(ctx, occurrence.Collection)
	if err != nil {
		return NewCommandError("trouble finding the latest %s item: %w", occurrence.Collection, err)
	}
	asset, err := item.Asset(occurrence.AssetKey)
	if err != nil {
		return NewCommandError("trouble with item %s: %w", item.Id, err)
	}
	logger.Info("reading occurrences", slog.String("href", asset.Href))

	dataset, err := storage.OpenDataset(ctx, asset.Href, asset.StorageOptions)
	if err != nil {
		return NewCommandError("trouble opening %s: %w", asset.Href, err)
	}
	defer dataset.Close()

	regions, err := ecoregion.Load(ctx, c.Regions, &ecoregion.LoadOptions{Logger: logger})
	if err != nil {
		return NewCommandError("%w", err)
	}

	destination, err := storage.NewDestination(ctx, c.OutputPath, nil)
	if err != nil {
		return NewCommandError("trouble opening %s for writing: %w", c.OutputPath, err)
	}
	defer destination.Close()

	workers, err := cluster.New(ctx, &cluster.Options{Workers: c.Workers, Logger: logger})
	if err != nil {
		return NewCommandError("%w", err)
	}
	defer workers.Close()

	plan := frame.ReadParquet(dataset, &frame.ReadOptions{
		Filters:   []*frame.Predicate{frame.Equal(occurrence.StateProvinceColumn, occurrence.StateProvince)},
		BatchSize: c.BatchSize,
	}).
		Filter("taxonomy", occurrence.FilterRecord).
		Map("geometry", occurrence.WithGeometry).
		Join(regions, occurrence.GeometryColumn).
		Filter("ecoregion", occurrence.RegionFilter(occurrence.RegionNames...)).
		ToCSV(destination, OutputPattern)

	for _, stage := range plan.Describe() {
		logger.Debug("planned stage", slog.String("stage", stage))
	}

	report, err := plan.Execute(ctx, workers)
	if err != nil {
		return NewCommandError("preprocessing failed: %w", err)
	}
	logger.Info("finished",
		slog.Int("files", report.Partitions()),
		slog.Int64("rows", report.Rows()),
		slog.Duration("elapsed", report.Elapsed),
	)

	summary := NewSummary(item.Id, destination.Location(OutputPattern), report)
	if c.Format == "json" {
		return summary.formatJSON()
	}
	return summary.formatText()
}
