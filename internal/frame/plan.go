package frame

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
	"github.com/planetlabs/gbifprep/internal/cluster"
	"github.com/planetlabs/gbifprep/internal/geo"
	"github.com/planetlabs/gbifprep/internal/geoparquet"
	"github.com/planetlabs/gbifprep/internal/storage"
)

// ReadStage names the row count of rows read from surviving row groups.
const ReadStage = "read"

// Plan is a frame bound to an output.  Execute performs all I/O.
type Plan struct {
	frame       *Frame
	destination storage.Destination
	pattern     string
}

type partition struct {
	index    int
	file     string
	rowGroup int
	rows     int64
}

// Describe lists the stages that will run for each partition.
func (p *Plan) Describe() []string {
	stages := []string{"read parquet from " + p.frame.dataset.Location()}
	stages = append(stages, p.frame.Steps()...)
	return append(stages, "write csv to "+p.destination.Location(p.pattern))
}

func (p *Plan) outputName(index int) string {
	return strings.Replace(p.pattern, "*", strconv.Itoa(index), 1)
}

// Execute discovers the partitions and runs one task per partition on the
// cluster.  The first failure stops the run.  Files written before the
// failure are left in place.
func (p *Plan) Execute(ctx context.Context, c *cluster.Cluster) (*Report, error) {
	if strings.Count(p.pattern, "*") != 1 {
		return nil, fmt.Errorf("output pattern %q must contain a single *", p.pattern)
	}

	start := time.Now()
	logger := c.Logger()

	partitions, totalRowGroups, err := p.discover(ctx, c)
	if err != nil {
		return nil, err
	}
	logger.Info("discovered partitions",
		slog.String("source", p.frame.dataset.Location()),
		slog.Int("row_groups", totalRowGroups),
		slog.Int("partitions", len(partitions)),
	)

	report := newReport(p.frame.dataset.Location(), totalRowGroups, p.frame.Steps())
	report.Files = make([]*FileReport, len(partitions))

	tasks := make([]*cluster.Task, len(partitions))
	for i, part := range partitions {
		i, part := i, part
		tasks[i] = &cluster.Task{
			Name: fmt.Sprintf("partition %d", part.index),
			Run: func(ctx context.Context) error {
				fileReport, err := p.writePartition(ctx, part, report)
				if err != nil {
					return err
				}
				report.Files[i] = fileReport
				logger.Debug("wrote partition",
					slog.String("file", fileReport.Location),
					slog.Int64("rows", fileReport.Rows),
				)
				return nil
			},
		}
	}

	if err := c.Run(ctx, tasks); err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(start)
	return report, nil
}

type fileRowGroups struct {
	rowGroups []int
	rows      []int64
	total     int
}

func (p *Plan) discover(ctx context.Context, c *cluster.Cluster) ([]*partition, int, error) {
	files, err := p.frame.dataset.Files(ctx)
	if err != nil {
		return nil, 0, err
	}

	results := make([]*fileRowGroups, len(files))
	tasks := make([]*cluster.Task, len(files))
	for i, name := range files {
		i, name := i, name
		tasks[i] = &cluster.Task{
			Name: "discover " + name,
			Run: func(ctx context.Context) error {
				result, err := p.rowGroups(ctx, name)
				if err != nil {
					return fmt.Errorf("trouble reading %s: %w", name, err)
				}
				results[i] = result
				return nil
			},
		}
	}
	if err := c.Run(ctx, tasks); err != nil {
		return nil, 0, err
	}

	partitions := []*partition{}
	total := 0
	for i, result := range results {
		total += result.total
		for j, rowGroup := range result.rowGroups {
			partitions = append(partitions, &partition{
				index:    len(partitions),
				file:     files[i],
				rowGroup: rowGroup,
				rows:     result.rows[j],
			})
		}
	}
	return partitions, total, nil
}

func (p *Plan) rowGroups(ctx context.Context, name string) (*fileRowGroups, error) {
	input, err := p.frame.dataset.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	fileReader, err := file.NewParquetReader(input)
	if err != nil {
		return nil, err
	}
	defer fileReader.Close()

	numRowGroups := fileReader.NumRowGroups()
	keep := make([]int, numRowGroups)
	for i := range keep {
		keep[i] = i
	}
	for _, predicate := range p.frame.options.Filters {
		matches, err := geoparquet.GetRowGroupsByEquality(fileReader, predicate.Column, predicate.Value)
		if err != nil {
			return nil, err
		}
		keep = slices.DeleteFunc(keep, func(rowGroup int) bool {
			return !slices.Contains(matches, rowGroup)
		})
	}

	result := &fileRowGroups{rowGroups: keep, total: numRowGroups}
	for _, rowGroup := range keep {
		result.rows = append(result.rows, fileReader.MetaData().RowGroup(rowGroup).NumRows())
	}
	return result, nil
}

func (p *Plan) writePartition(ctx context.Context, part *partition, report *Report) (*FileReport, error) {
	input, err := p.frame.dataset.Open(ctx, part.file)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	fileReader, err := file.NewParquetReader(input)
	if err != nil {
		return nil, fmt.Errorf("trouble reading %s: %w", part.file, err)
	}
	defer fileReader.Close()

	arrowReader, err := geoparquet.NewArrowFileReader(&geoparquet.ReaderConfig{BatchSize: p.frame.options.BatchSize}, fileReader)
	if err != nil {
		return nil, err
	}
	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, err
	}

	// the header comes from running the steps on an empty record so that
	// partitions without surviving rows still get one
	empty := array.NewRecord(schema, emptyColumns(schema), 0)
	header, err := p.frame.apply(ctx, empty, nil)
	empty.Release()
	if err != nil {
		return nil, err
	}
	outputSchema := header.Schema()
	header.Release()

	name := p.outputName(part.index)
	output, err := p.destination.Create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("trouble creating %s: %w", name, err)
	}

	writer, err := newCSVWriter(output, outputSchema)
	if err != nil {
		output.Close()
		return nil, err
	}

	writeErr := p.streamPartition(ctx, arrowReader, part, writer, report)
	if writeErr == nil {
		writeErr = writer.Flush()
	}
	closeErr := output.Close()
	if writeErr != nil {
		return nil, fmt.Errorf("trouble writing %s: %w", name, writeErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("trouble closing %s: %w", name, closeErr)
	}

	return &FileReport{
		Name:      name,
		Location:  p.destination.Location(name),
		Partition: part.index,
		Source:    part.file,
		RowGroup:  part.rowGroup,
		Rows:      writer.Rows(),
		Bytes:     writer.Bytes(),
		Digest:    writer.Digest(),
	}, nil
}

func (p *Plan) streamPartition(ctx context.Context, arrowReader *pqarrow.FileReader, part *partition, writer *csvWriter, report *Report) error {
	recordReader, err := arrowReader.GetRecordReader(ctx, nil, []int{part.rowGroup})
	if err != nil {
		return err
	}
	defer recordReader.Release()

	counts := make([]int64, len(p.frame.steps))
	var read int64
	for {
		record, err := recordReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		read += record.NumRows()

		output, err := p.frame.apply(ctx, record, counts)
		if err != nil {
			return err
		}
		err = writer.Write(output, report.Geometry)
		output.Release()
		if err != nil {
			return err
		}
	}

	report.add(read, counts)
	return nil
}

func emptyColumns(schema *arrow.Schema) []arrow.Array {
	columns := make([]arrow.Array, len(schema.Fields()))
	for i, field := range schema.Fields() {
		columns[i] = array.MakeArrayOfNull(memory.DefaultAllocator, field.Type, 0)
	}
	return columns
}

// Report summarizes an executed plan.
type Report struct {
	Source    string
	RowGroups int
	Stages    []*StageCount
	Files     []*FileReport
	Geometry  *geo.GeometryStats
	Elapsed   time.Duration

	mutex sync.Mutex
}

type StageCount struct {
	Name string
	Rows int64
}

type FileReport struct {
	Name      string
	Location  string
	Partition int
	Source    string
	RowGroup  int
	Rows      int64
	Bytes     int64
	Digest    string
}

func newReport(source string, rowGroups int, steps []string) *Report {
	stages := []*StageCount{{Name: ReadStage}}
	for _, name := range steps {
		stages = append(stages, &StageCount{Name: name})
	}
	return &Report{
		Source:    source,
		RowGroups: rowGroups,
		Stages:    stages,
		Geometry:  geo.NewGeometryStats(true),
	}
}

func (r *Report) add(read int64, counts []int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Stages[0].Rows += read
	for i, count := range counts {
		r.Stages[i+1].Rows += count
	}
}

// Partitions is the number of files written.
func (r *Report) Partitions() int {
	return len(r.Files)
}

// Rows is the number of rows written to all files.
func (r *Report) Rows() int64 {
	var total int64
	for _, f := range r.Files {
		total += f.Rows
	}
	return total
}

// Stage returns the row count after the named stage or false if there is
// no such stage.
func (r *Report) Stage(name string) (int64, bool) {
	for _, stage := range r.Stages {
		if stage.Name == name {
			return stage.Rows, true
		}
	}
	return 0, false
}
