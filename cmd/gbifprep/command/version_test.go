package command_test

import (
	"strings"

	"github.com/planetlabs/gbifprep/cmd/gbifprep/command"
)

func (s *Suite) TestVersion() {
	cmd := &command.VersionCmd{}
	info := &command.VersionInfo{Version: "v1.2.3", Commit: "abc123", Date: "2024-01-01"}
	s.Require().NoError(cmd.Run(info))
	s.Equal("v1.2.3\n", string(s.readStdout()))
}

func (s *Suite) TestVersionDetail() {
	cmd := &command.VersionCmd{Detail: true}
	info := &command.VersionInfo{Version: "v1.2.3", Commit: "abc123", Date: "2024-01-01"}
	s.Require().NoError(cmd.Run(info))
	output := string(s.readStdout())
	s.True(strings.HasPrefix(output, "v1.2.3 (abc123 2024-01-01 go"), output)
}
