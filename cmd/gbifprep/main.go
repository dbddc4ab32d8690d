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

package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/planetlabs/gbifprep/cmd/gbifprep/command"
)

var (
	version = "development"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	info := &command.VersionInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	ctx := kong.Parse(&command.CLI,
		kong.Name("gbifprep"),
		kong.Description("Prepare GBIF occurrences of Washington ecoregions for analysis."),
		kong.Vars{"version": info.String()},
		kong.Bind(info),
	)

	var level slog.Level
	if err := level.UnmarshalText([]byte(command.CLI.LogLevel)); err != nil {
		ctx.FatalIfErrorf(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With(slog.String("run", uuid.NewString()))
	slog.SetDefault(logger)

	err := ctx.Run(logger)
	ctx.FatalIfErrorf(err)
}
