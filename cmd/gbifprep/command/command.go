package command

import (
	"fmt"

	"github.com/alecthomas/kong"
)

var CLI struct {
	LogLevel string           `help:"Log level.  Possible values: ${enum}." enum:"debug, info, warn, error" default:"info"`
	Version  kong.VersionFlag `help:"Print the version of this program and exit."`

	Preprocess PreprocessCmd `cmd:"" default:"withargs" help:"Write Washington occurrences within the selected ecoregions to CSV files."`
	Describe   DescribeCmd   `cmd:"" help:"Describe an occurrence parquet file."`
	Regions    RegionsCmd    `cmd:"" help:"Write the reprojected ecoregions to a GeoParquet file."`
	Info       VersionCmd    `cmd:"" name:"version" help:"Print the version of this program."`
}

// CommandError is an error with a message meant for the user of the command.
type CommandError struct {
	err error
}

func NewCommandError(format string, a ...any) *CommandError {
	return &CommandError{err: fmt.Errorf(format, a...)}
}

func (e *CommandError) Error() string {
	return e.err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.err
}
