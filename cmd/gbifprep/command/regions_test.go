package command_test

import (
	"context"
	"path/filepath"

	"github.com/planetlabs/gbifprep/cmd/gbifprep/command"
	"github.com/planetlabs/gbifprep/internal/ecoregion"
	"github.com/planetlabs/gbifprep/internal/test"
)

func (s *Suite) TestRegions() {
	input := test.EcoregionZip(s.T(), s.T().TempDir(), "us_eco_l3", ecoregions(), test.USGSAlbers, albers(s))
	output := filepath.Join(s.T().TempDir(), "regions.parquet")

	cmd := &command.RegionsCmd{
		Input:       input,
		Output:      output,
		Names:       []string{"Puget Lowland", "North Cascades"},
		Compression: "zstd",
	}
	s.Require().NoError(cmd.Run(discard()))

	set, err := ecoregion.Load(context.Background(), output, nil)
	s.Require().NoError(err)
	s.Equal(2, set.Len())
	s.ElementsMatch([]string{"Puget Lowland", "North Cascades"}, set.Names())
	s.Equal(test.EcoregionFields, set.Fields())
}

func (s *Suite) TestRegionsBadCompression() {
	input := test.EcoregionZip(s.T(), s.T().TempDir(), "us_eco_l3", ecoregions(), test.WGS84, nil)

	cmd := &command.RegionsCmd{
		Input:       input,
		Output:      filepath.Join(s.T().TempDir(), "regions.parquet"),
		Compression: "zip",
	}
	s.Error(cmd.Run(discard()))
}
