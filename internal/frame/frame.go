// Package frame describes a partitioned parquet read followed by a chain of
// record transformations.  Nothing is read until a plan is executed.
package frame

import (
	"context"
	"fmt"
	"slices"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/planetlabs/gbifprep/internal/ecoregion"
	"github.com/planetlabs/gbifprep/internal/geoparquet"
	"github.com/planetlabs/gbifprep/internal/occurrence"
	"github.com/planetlabs/gbifprep/internal/storage"
)

const defaultBatchSize = 64 * 1024

// Predicate is an equality test against a string column.  It is used both
// to prune row groups by their statistics and to filter rows.
type Predicate struct {
	Column string
	Value  string
}

func Equal(column string, value string) *Predicate {
	return &Predicate{Column: column, Value: value}
}

func (p *Predicate) String() string {
	return fmt.Sprintf("%s == %q", p.Column, p.Value)
}

func (p *Predicate) apply(ctx context.Context, record arrow.Record) (arrow.Record, error) {
	values, err := occurrence.Strings(record, p.Column)
	if err != nil {
		return nil, err
	}
	return geoparquet.FilterRecord(ctx, record, func(row int64) (bool, error) {
		value, ok := values(int(row))
		return ok && value == p.Value, nil
	})
}

// StepFunc transforms a record.  The caller releases both the input and the
// returned record.
type StepFunc func(ctx context.Context, record arrow.Record) (arrow.Record, error)

type step struct {
	name string
	fn   StepFunc
}

type ReadOptions struct {
	Filters   []*Predicate
	BatchSize int
}

// Frame is an immutable description of a computation.  Methods that add a
// step return a new frame.
type Frame struct {
	dataset storage.Dataset
	options ReadOptions
	steps   []*step
}

// ReadParquet describes reading every parquet file of the dataset with one
// partition per row group.  Row groups whose statistics rule out any of the
// filters are skipped and the filters are applied to the remaining rows.
func ReadParquet(dataset storage.Dataset, options *ReadOptions) *Frame {
	f := &Frame{dataset: dataset}
	if options != nil {
		f.options = *options
		f.options.Filters = slices.Clone(options.Filters)
	}
	if f.options.BatchSize <= 0 {
		f.options.BatchSize = defaultBatchSize
	}
	for _, predicate := range f.options.Filters {
		f.steps = append(f.steps, &step{name: predicate.String(), fn: predicate.apply})
	}
	return f
}

func (f *Frame) with(name string, fn StepFunc) *Frame {
	return &Frame{
		dataset: f.dataset,
		options: f.options,
		steps:   append(slices.Clone(f.steps), &step{name: name, fn: fn}),
	}
}

// Filter adds a step that drops rows.
func (f *Frame) Filter(name string, fn StepFunc) *Frame {
	return f.with(name, fn)
}

// Map adds a step that may change the columns of each record.
func (f *Frame) Map(name string, fn StepFunc) *Frame {
	return f.with(name, fn)
}

// Join adds an inner spatial join of the point geometry column with the
// regions of the set.
func (f *Frame) Join(set *ecoregion.Set, geometryColumn string) *Frame {
	return f.with("join "+geometryColumn, func(ctx context.Context, record arrow.Record) (arrow.Record, error) {
		return ecoregion.Join(ctx, set, record, geometryColumn)
	})
}

// Steps lists the names of the transformations in order.
func (f *Frame) Steps() []string {
	names := make([]string, len(f.steps))
	for i, s := range f.steps {
		names[i] = s.name
	}
	return names
}

// ToCSV describes writing each partition to its own CSV file.  The single *
// in pattern is replaced by the partition index.
func (f *Frame) ToCSV(destination storage.Destination, pattern string) *Plan {
	return &Plan{frame: f, destination: destination, pattern: pattern}
}

func (f *Frame) apply(ctx context.Context, record arrow.Record, counts []int64) (arrow.Record, error) {
	current := record
	current.Retain()
	for i, s := range f.steps {
		next, err := s.fn(ctx, current)
		current.Release()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		current = next
		if counts != nil {
			counts[i] += current.NumRows()
		}
	}
	return current, nil
}
