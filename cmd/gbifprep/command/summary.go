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
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/planetlabs/gbifprep/internal/frame"
	"github.com/planetlabs/gbifprep/internal/geo"
	"golang.org/x/term"
)

type Summary struct {
	Item        string          `json:"item"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	RowGroups   int             `json:"row_groups"`
	Rows        int64           `json:"rows"`
	Stages      []*StageSummary `json:"stages"`
	Files       []*FileSummary  `json:"files"`
	Bounds      *geo.Bbox       `json:"bounds,omitempty"`
	Elapsed     string          `json:"elapsed"`
}

type StageSummary struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

type FileSummary struct {
	Name   string `json:"name"`
	Rows   int64  `json:"rows"`
	Bytes  int64  `json:"bytes"`
	Digest string `json:"digest"`
}

func NewSummary(item string, destination string, report *frame.Report) *Summary {
	summary := &Summary{
		Item:        item,
		Source:      report.Source,
		Destination: destination,
		RowGroups:   report.RowGroups,
		Rows:        report.Rows(),
		Bounds:      report.Geometry.Bounds(),
		Elapsed:     report.Elapsed.String(),
	}
	for _, stage := range report.Stages {
		summary.Stages = append(summary.Stages, &StageSummary{Name: stage.Name, Rows: stage.Rows})
	}
	for _, file := range report.Files {
		summary.Files = append(summary.Files, &FileSummary{
			Name:   file.Name,
			Rows:   file.Rows,
			Bytes:  file.Bytes,
			Digest: file.Digest,
		})
	}
	return summary
}

func (s *Summary) formatJSON() error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(s); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

func newTable() table.Writer {
	out := os.Stdout
	tbl := table.NewWriter()
	if term.IsTerminal(int(out.Fd())) {
		width, _, err := term.GetSize(int(out.Fd()))
		if err == nil {
			tbl.SetAllowedRowLength(width)
		}
	}
	tbl.SetStyle(table.StyleRounded)
	tbl.SetOutputMirror(out)
	return tbl
}

func (s *Summary) formatText() error {
	stages := newTable()
	stages.SetTitle("Stages")
	stages.AppendHeader(table.Row{"Stage", "Rows"})
	stages.SetColumnConfigs([]table.ColumnConfig{{Name: "Rows", Align: text.AlignRight}})
	for _, stage := range s.Stages {
		stages.AppendRow(table.Row{stage.Name, stage.Rows})
	}
	stages.Render()

	files := newTable()
	files.SetTitle("Files")
	files.AppendHeader(table.Row{"File", "Rows", "Bytes", "Digest"})
	files.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Rows", Align: text.AlignRight},
		{Name: "Bytes", Align: text.AlignRight},
	})
	var bytes int64
	for _, file := range s.Files {
		files.AppendRow(table.Row{file.Name, file.Rows, file.Bytes, file.Digest})
		bytes += file.Bytes
	}
	files.AppendFooter(table.Row{"Total", s.Rows, bytes, ""})
	files.Render()

	if s.Bounds != nil {
		fmt.Printf("Bounds: %s\n", s.Bounds)
	}
	if s.Rows == 0 {
		color.Yellow("No rows matched.  Wrote %d empty file%s to %s", len(s.Files), maybeS(len(s.Files)), s.Destination)
		return nil
	}
	color.Green("Wrote %d row%s to %d file%s at %s in %s", s.Rows, maybeS(int(s.Rows)), len(s.Files), maybeS(len(s.Files)), s.Destination, s.Elapsed)
	return nil
}

func maybeS(count int) string {
	if count == 1 {
		return ""
	}
	return "s"
}
