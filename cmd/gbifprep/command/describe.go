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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/schema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/planetlabs/gbifprep/internal/geoparquet"
	"github.com/planetlabs/gbifprep/internal/occurrence"
	"github.com/planetlabs/gbifprep/internal/pqutil"
	"github.com/planetlabs/gbifprep/internal/storage"
)

type DescribeCmd struct {
	Input    string `arg:"" optional:"" name:"input" help:"Path or URL of a parquet file.  If not provided, input is read from stdin."`
	Column   string `help:"Column whose row group statistics are listed." default:"stateprovince"`
	Value    string `help:"Value to test row groups against." default:"Washington"`
	Format   string `help:"Report format.  Possible values: ${enum}." enum:"text, json" default:"text"`
	Unpretty bool   `help:"No newlines or indentation in the JSON output."`
}

const (
	ColName        = "Column"
	ColType        = "Type"
	ColAnnotation  = "Annotation"
	ColRepetition  = "Repetition"
	ColCompression = "Compression"
	ColRowGroup    = "Row Group"
	ColRows        = "Rows"
	ColMin         = "Min"
	ColMax         = "Max"
	ColMatch       = "May Match"
)

func (c *DescribeCmd) Run() error {
	var input parquet.ReaderAtSeeker
	if c.Input == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("trouble reading from stdin: %w", err)
		}
		input = bytes.NewReader(data)
	} else {
		i, readErr := storage.NewReader(context.Background(), c.Input)
		if readErr != nil {
			return NewCommandError("failed to read from %q: %w", c.Input, readErr)
		}
		defer i.Close()
		input = i
	}

	fileReader, fileErr := file.NewParquetReader(input)
	if fileErr != nil {
		return NewCommandError("failed to read %q as parquet: %w", c.Input, fileErr)
	}

	fileMetadata := fileReader.MetaData()
	metadata, geoErr := geoparquet.GetMetadata(fileMetadata.KeyValueMetadata())
	if geoErr != nil {
		if !errors.Is(geoErr, geoparquet.ErrNoMetadata) {
			return geoErr
		}
	}

	info := &DescribeInfo{
		Schema:       buildSchema(fileReader, "", fileMetadata.Schema.Root()),
		Metadata:     metadata,
		NumRows:      fileMetadata.NumRows,
		NumRowGroups: fileReader.NumRowGroups(),
	}

	if c.Column != "" {
		rowGroups, err := describeRowGroups(fileReader, c.Column, c.Value)
		if err != nil {
			return NewCommandError("%w", err)
		}
		info.StatisticsColumn = c.Column
		info.RowGroups = rowGroups
	}

	if c.Format == "json" {
		return c.formatJSON(info)
	}
	return c.formatText(info)
}

func describeRowGroups(fileReader *file.Reader, column string, value string) ([]*DescribeRowGroup, error) {
	if _, ok := pqutil.LookupPrimitiveNode(fileReader.MetaData().Schema, column); !ok {
		return nil, fmt.Errorf("column %q not found", column)
	}

	rowGroups := make([]*DescribeRowGroup, fileReader.NumRowGroups())
	for i := range rowGroups {
		info := &DescribeRowGroup{
			Index:    i,
			NumRows:  fileReader.MetaData().RowGroup(i).NumRows(),
			MayMatch: true,
		}
		min, max, ok, err := geoparquet.GetColumnMinMax(fileReader.MetaData(), i, column)
		if err != nil {
			return nil, err
		}
		if ok {
			info.Min = string(min)
			info.Max = string(max)
		}
		if value != "" {
			mayMatch, err := geoparquet.RowGroupMayEqual(fileReader.MetaData(), i, column, value)
			if err != nil {
				return nil, err
			}
			info.MayMatch = mayMatch
		}
		rowGroups[i] = info
	}
	return rowGroups, nil
}

func (c *DescribeCmd) formatText(info *DescribeInfo) error {
	metadata := info.Metadata

	header := table.Row{ColName, ColType, ColAnnotation, ColRepetition, ColCompression}
	tbl := newTable()
	tbl.AppendHeader(header)

	for _, field := range info.Schema.Fields {
		name := field.Name
		if metadata != nil && metadata.PrimaryColumn == name {
			name = text.Bold.Sprint(name)
		}
		if field.Name == occurrence.StateProvinceColumn || field.Name == info.StatisticsColumn {
			name = text.Underline.Sprint(name)
		}
		repetition := "1"
		if field.Repeated {
			repetition = "0..*"
		} else if field.Optional {
			repetition = "0..1"
		}
		tbl.AppendRow(table.Row{name, field.Type, field.Annotation, repetition, field.Compression})
	}

	tbl.AppendFooter(makeFooter("Rows", info.NumRows, header), table.RowConfig{AutoMerge: true})
	tbl.AppendFooter(makeFooter("Row Groups", info.NumRowGroups, header), table.RowConfig{AutoMerge: true})
	if metadata != nil {
		tbl.AppendFooter(makeFooter("Geometry", metadata.PrimaryColumn, header), table.RowConfig{AutoMerge: true, AutoMergeAlign: text.AlignLeft})
	}
	tbl.Render()

	if len(info.RowGroups) == 0 {
		return nil
	}

	groups := newTable()
	groups.SetTitle(fmt.Sprintf("%s statistics", info.StatisticsColumn))
	groups.AppendHeader(table.Row{ColRowGroup, ColRows, ColMin, ColMax, ColMatch})
	groups.SetColumnConfigs([]table.ColumnConfig{
		{Name: ColMin, WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
		{Name: ColMax, WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
	})
	matches := 0
	for _, rowGroup := range info.RowGroups {
		groups.AppendRow(table.Row{rowGroup.Index, rowGroup.NumRows, rowGroup.Min, rowGroup.Max, rowGroup.MayMatch})
		if rowGroup.MayMatch {
			matches += 1
		}
	}
	groups.AppendFooter(table.Row{"Matching", matches, "", "", ""})
	groups.Render()
	return nil
}

func makeFooter(key string, value any, header table.Row) table.Row {
	row := table.Row{key, value}
	for i := len(row); i < len(header); i += 1 {
		row = append(row, "")
	}
	return row
}

func (c *DescribeCmd) formatJSON(info *DescribeInfo) error {
	encoder := json.NewEncoder(os.Stdout)
	if !c.Unpretty {
		encoder.SetIndent("", "  ")
		encoder.SetEscapeHTML(false)
	}
	if err := encoder.Encode(info); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	return nil
}

type DescribeInfo struct {
	Schema           *DescribeSchema      `json:"schema"`
	Metadata         *geoparquet.Metadata `json:"metadata"`
	NumRows          int64                `json:"rows"`
	NumRowGroups     int                  `json:"row_groups"`
	StatisticsColumn string               `json:"statistics_column,omitempty"`
	RowGroups        []*DescribeRowGroup  `json:"row_group_statistics,omitempty"`
}

type DescribeRowGroup struct {
	Index    int    `json:"index"`
	NumRows  int64  `json:"rows"`
	Min      string `json:"min,omitempty"`
	Max      string `json:"max,omitempty"`
	MayMatch bool   `json:"may_match"`
}

type DescribeSchema struct {
	Name        string            `json:"name,omitempty"`
	Optional    bool              `json:"optional,omitempty"`
	Repeated    bool              `json:"repeated,omitempty"`
	Type        string            `json:"type,omitempty"`
	Annotation  string            `json:"annotation,omitempty"`
	Compression string            `json:"compression,omitempty"`
	Fields      []*DescribeSchema `json:"fields,omitempty"`
}

func getCompression(fileReader *file.Reader, node schema.Node) string {
	if _, ok := node.(*schema.GroupNode); ok {
		return ""
	}
	if fileReader.NumRowGroups() == 0 {
		return "unknown"
	}
	rowGroupReader := fileReader.RowGroup(0)
	colIndex := fileReader.MetaData().Schema.ColumnIndexByName(node.Path())
	if colIndex < 0 {
		return "unknown"
	}
	col, err := rowGroupReader.MetaData().ColumnChunk(colIndex)
	if err != nil {
		return "unknown"
	}
	return strings.ToLower(col.Compression().String())
}

func buildSchema(fileReader *file.Reader, name string, node schema.Node) *DescribeSchema {
	annotation := ""
	logicalType := node.LogicalType()
	if !logicalType.IsNone() {
		annotation = strings.ToLower(logicalType.String())
	} else if _, isGroup := node.(*schema.GroupNode); isGroup {
		annotation = "group"
	}

	repetition := node.RepetitionType()
	field := &DescribeSchema{
		Name:        name,
		Optional:    repetition == parquet.Repetitions.Optional,
		Repeated:    repetition == parquet.Repetitions.Repeated,
		Annotation:  annotation,
		Compression: getCompression(fileReader, node),
	}

	if leaf, ok := node.(*schema.PrimitiveNode); ok {
		switch leaf.PhysicalType() {
		case parquet.Types.ByteArray:
			field.Type = "binary"
		case parquet.Types.FixedLenByteArray:
			field.Type = fmt.Sprintf("fixed_len_byte_array(%d)", leaf.TypeLength())
		default:
			field.Type = strings.ToLower(leaf.PhysicalType().String())
		}
		return field
	}

	if group, ok := node.(*schema.GroupNode); ok {
		count := group.NumFields()
		field.Fields = make([]*DescribeSchema, count)
		for i := 0; i < count; i += 1 {
			groupField := group.Field(i)
			field.Fields[i] = buildSchema(fileReader, groupField.Name(), groupField)
		}
	}
	return field
}
