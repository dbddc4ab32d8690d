package command_test

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/paulmach/orb"
	"github.com/planetlabs/gbifprep/cmd/gbifprep/command"
	"github.com/planetlabs/gbifprep/internal/catalog"
	"github.com/planetlabs/gbifprep/internal/geo"
	"github.com/planetlabs/gbifprep/internal/test"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func albers(s *Suite) func(orb.Point) orb.Point {
	projection, err := geo.ParseProjection(test.USGSAlbers)
	s.Require().NoError(err)
	aea, ok := projection.(*geo.AlbersEqualArea)
	s.Require().True(ok)
	return aea.Forward
}

func ecoregions() []*test.Region {
	return []*test.Region{
		{Code: "2", Name: "Puget Lowland", Polygons: []orb.Polygon{test.Box(-123, 47, -122, 48)}},
		{Code: "77", Name: "North Cascades", Polygons: []orb.Polygon{test.Box(-122, 48, -120, 49)}},
		{Code: "10", Name: "Columbia Plateau", Polygons: []orb.Polygon{test.Box(-120, 46, -117, 48)}},
	}
}

func (s *Suite) writeOccurrences(dir string) {
	fungi := test.NewOccurrence(2, "Fungi", "Amanita muscaria", -122.5, 47.5)
	oregon := test.NewOccurrence(3, "Aves", "Corvus corax", -122.5, 47.5)
	oregon.StateProvince = test.Ptr("Oregon")

	occurrences := []*test.Occurrence{
		test.NewOccurrence(0, "Aves", "Corvus corax", -122.5, 47.5),
		test.NewOccurrence(1, "Mammalia", "Lynx rufus", -121, 48.5),
		fungi,
		oregon,
		test.NewOccurrence(4, "Reptilia", "Thamnophis sirtalis", -119, 47),
	}
	data := test.OccurrenceParquet(s.T(), occurrences, 3)
	s.Require().NoError(os.WriteFile(filepath.Join(dir, "part-0.parquet"), data, 0o644))
}

func (s *Suite) TestPreprocess() {
	dataDir := s.T().TempDir()
	s.writeOccurrences(dataDir)
	s.addItem("gbif-2023-04-01", dataDir)

	regions := test.EcoregionZip(s.T(), s.T().TempDir(), "us_eco_l3", ecoregions(), test.USGSAlbers, albers(s))
	outputDir := filepath.Join(s.T().TempDir(), "out")

	cmd := &command.PreprocessCmd{
		OutputPath: outputDir,
		Regions:    regions,
		Catalog:    s.server.URL,
		SasApi:     s.server.URL,
		Workers:    2,
		BatchSize:  2,
		Format:     "json",
	}
	s.Require().NoError(cmd.Run(discard()))

	summary := &command.Summary{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), summary))

	s.Equal("gbif-2023-04-01", summary.Item)
	s.Equal(2, summary.RowGroups)
	s.Equal(int64(2), summary.Rows)
	s.Require().Len(summary.Files, 2)
	s.Equal("output-0.csv", summary.Files[0].Name)
	s.Equal("output-1.csv", summary.Files[1].Name)
	s.Equal(int64(2), summary.Files[0].Rows)
	s.Equal(int64(0), summary.Files[1].Rows)
	s.Require().NotNil(summary.Bounds)

	stages := map[string]int64{}
	for _, stage := range summary.Stages {
		stages[stage.Name] = stage.Rows
	}
	s.Equal(int64(5), stages["read"])
	s.Equal(int64(4), stages[`stateprovince == "Washington"`])
	s.Equal(int64(3), stages["taxonomy"])
	s.Equal(int64(2), stages["ecoregion"])

	input, err := os.Open(filepath.Join(outputDir, "output-0.csv"))
	s.Require().NoError(err)
	defer input.Close()
	rows, err := csv.NewReader(input).ReadAll()
	s.Require().NoError(err)
	s.Require().Len(rows, 3)
	s.Contains(rows[0], "US_L3NAME")
	s.Contains(rows[0], "geometry")
	s.Contains(rows[0], "index_right")
}

func (s *Suite) TestPreprocessNoItems() {
	cmd := &command.PreprocessCmd{
		OutputPath: s.T().TempDir(),
		Regions:    "us_eco_l3.zip",
		Catalog:    s.server.URL,
		SasApi:     s.server.URL,
		Format:     "json",
	}
	err := cmd.Run(discard())
	s.Require().Error(err)
	s.ErrorIs(err, catalog.ErrNoItems)

	var commandErr *command.CommandError
	s.ErrorAs(err, &commandErr)
}

func (s *Suite) TestPreprocessMissingRegions() {
	dataDir := s.T().TempDir()
	s.writeOccurrences(dataDir)
	s.addItem("gbif-2023-04-01", dataDir)

	cmd := &command.PreprocessCmd{
		OutputPath: s.T().TempDir(),
		Regions:    filepath.Join(s.T().TempDir(), "missing.zip"),
		Catalog:    s.server.URL,
		SasApi:     s.server.URL,
		Format:     "json",
	}
	s.Error(cmd.Run(discard()))
}

func (s *Suite) TestPreprocessOutputPathAlias() {
	for _, flag := range []string{"--output-path", "--output_path"} {
		var cli struct {
			Preprocess command.PreprocessCmd `cmd:""`
		}
		parser, err := kong.New(&cli, kong.Exit(func(int) { s.FailNow("unexpected exit") }))
		s.Require().NoError(err)

		_, err = parser.Parse([]string{"preprocess", flag, "gs://bucket/prefix"})
		s.Require().NoError(err, flag)
		s.Equal("gs://bucket/prefix", cli.Preprocess.OutputPath, flag)
		s.Equal("us_eco_l3.zip", cli.Preprocess.Regions)
	}
}
