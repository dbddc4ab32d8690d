package command_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/planetlabs/gbifprep/cmd/gbifprep/command"
	"github.com/planetlabs/gbifprep/internal/test"
)

func (s *Suite) describeFixture() string {
	texas := test.NewOccurrence(1, "Aves", "Corvus corax", -97.7, 30.3)
	texas.StateProvince = test.Ptr("Texas")
	texas2 := test.NewOccurrence(2, "Aves", "Corvus corax", -97.7, 30.3)
	texas2.StateProvince = test.Ptr("Texas")

	occurrences := []*test.Occurrence{
		test.NewOccurrence(0, "Aves", "Corvus corax", -122.5, 47.5),
		texas,
		texas2,
	}
	name := filepath.Join(s.T().TempDir(), "occurrence.parquet")
	s.Require().NoError(os.WriteFile(name, test.OccurrenceParquet(s.T(), occurrences, 1), 0o644))
	return name
}

func (s *Suite) TestDescribe() {
	cmd := &command.DescribeCmd{
		Input:  s.describeFixture(),
		Column: "stateprovince",
		Value:  "Washington",
		Format: "json",
	}

	s.Require().NoError(cmd.Run())

	info := &command.DescribeInfo{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), info))

	s.Equal(int64(3), info.NumRows)
	s.Equal(3, info.NumRowGroups)
	s.Nil(info.Metadata)
	s.Require().Len(info.Schema.Fields, len(test.OccurrenceSchema.Fields()))

	s.Equal("gbifid", info.Schema.Fields[0].Name)
	s.Equal("int64", info.Schema.Fields[0].Type)
	s.True(info.Schema.Fields[0].Optional)

	s.Equal("class", info.Schema.Fields[1].Name)
	s.Equal("binary", info.Schema.Fields[1].Type)
	s.Equal("string", info.Schema.Fields[1].Annotation)

	s.Equal("stateprovince", info.StatisticsColumn)
	s.Require().Len(info.RowGroups, 3)
	s.Equal("Washington", info.RowGroups[0].Min)
	s.True(info.RowGroups[0].MayMatch)
	s.Equal("Texas", info.RowGroups[1].Max)
	s.False(info.RowGroups[1].MayMatch)
	s.False(info.RowGroups[2].MayMatch)
}

func (s *Suite) TestDescribeStdin() {
	data, err := os.ReadFile(s.describeFixture())
	s.Require().NoError(err)
	s.writeStdin(data)

	cmd := &command.DescribeCmd{
		Format: "json",
	}
	s.Require().NoError(cmd.Run())

	info := &command.DescribeInfo{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), info))
	s.Equal(int64(3), info.NumRows)
	s.Empty(info.RowGroups)
}

func (s *Suite) TestDescribeMissingColumn() {
	cmd := &command.DescribeCmd{
		Input:  s.describeFixture(),
		Column: "county",
		Format: "json",
	}
	s.ErrorContains(cmd.Run(), `column "county" not found`)
}
