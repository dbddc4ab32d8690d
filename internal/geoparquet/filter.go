package geoparquet

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/compute"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/metadata"
	"github.com/planetlabs/gbifprep/internal/pqutil"
)

// PREDICATE PUSHDOWN - ROW GROUP PRUNING

type rowGroupMatchResult struct {
	Index   int
	Matches bool
	Error   error
}

// GetRowGroupsByEquality returns the indices of row groups that may hold rows
// where the string column equals value, judged by the row group statistics.
// Row groups without usable statistics are kept.
func GetRowGroupsByEquality(fileReader *file.Reader, column string, value string) ([]int, error) {
	fileMetadata := fileReader.MetaData()
	node, ok := pqutil.LookupPrimitiveNode(fileMetadata.Schema, column)
	if !ok {
		return nil, fmt.Errorf("column %q not found", column)
	}
	if node.PhysicalType() != parquet.Types.ByteArray {
		return nil, fmt.Errorf("expected column %q to be a byte array, got %s", column, node.PhysicalType())
	}

	numRowGroups := fileReader.NumRowGroups()
	matchingRowGroups := make([]int, 0, numRowGroups)

	// process row groups concurrently
	queue := make(chan *rowGroupMatchResult)
	for i := 0; i < numRowGroups; i += 1 {
		go func(i int) {
			result := &rowGroupMatchResult{Index: i}
			result.Matches, result.Error = RowGroupMayEqual(fileMetadata, i, column, value)
			queue <- result
		}(i)
	}

	// read goroutine results
	var firstErr error
	for i := 0; i < numRowGroups; i += 1 {
		res := <-queue
		if res.Error != nil {
			if firstErr == nil {
				firstErr = res.Error
			}
			continue
		}
		if res.Matches {
			matchingRowGroups = append(matchingRowGroups, res.Index)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	slices.Sort(matchingRowGroups)
	return matchingRowGroups, nil
}

// Return min/max statistics for a given byte array column and RowGroup.
// The ok value is false when the statistics are missing.
func GetColumnMinMax(fileMetadata *metadata.FileMetaData, rowGroup int, columnPath string) (min []byte, max []byte, ok bool, err error) {
	fieldStats, err := columnStatistics(fileMetadata, rowGroup, columnPath)
	if err != nil || fieldStats == nil {
		return nil, nil, false, err
	}

	byteStats, isByteArray := fieldStats.(*metadata.ByteArrayStatistics)
	if !isByteArray {
		return nil, nil, false, fmt.Errorf("expected byte array statistics for %v, got %T", columnPath, fieldStats)
	}
	if !byteStats.HasMinMax() {
		return nil, nil, false, nil
	}
	return byteStats.Min(), byteStats.Max(), true, nil
}

func columnStatistics(fileMetadata *metadata.FileMetaData, rowGroup int, columnPath string) (metadata.TypedStatistics, error) {
	rowGroupMetadata := fileMetadata.RowGroup(rowGroup)
	if rowGroupMetadata == nil {
		return nil, fmt.Errorf("metadata for RowGroup %v is nil", rowGroup)
	}

	rowGroupSchema := rowGroupMetadata.Schema
	if rowGroupSchema == nil {
		return nil, fmt.Errorf("schema for RowGroup %v is nil", rowGroup)
	}

	columnIdx := rowGroupSchema.ColumnIndexByName(columnPath)
	if columnIdx == -1 {
		return nil, fmt.Errorf("column %v not found", columnPath)
	}

	fieldMetadata, err := rowGroupMetadata.ColumnChunk(columnIdx)
	if err != nil {
		return nil, fmt.Errorf("couldn't get ColumnChunkMetadata for RowGroup %v/Column %v: %w", rowGroup, columnPath, err)
	}
	set, err := fieldMetadata.StatsSet()
	if err != nil {
		return nil, fmt.Errorf("couldn't check ColumnChunkMetadata stats: %w", err)
	}
	if !set {
		return nil, nil
	}
	fieldStats, err := fieldMetadata.Statistics()
	if err != nil {
		return nil, fmt.Errorf("couldn't get ColumnChunkMetadata stats: %w", err)
	}
	return fieldStats, nil
}

// RowGroupMayEqual checks whether the min/max statistics of a row group allow
// a row where the column equals value.  Row groups of nulls only never match.
func RowGroupMayEqual(fileMetadata *metadata.FileMetaData, rowGroup int, column string, value string) (bool, error) {
	fieldStats, err := columnStatistics(fileMetadata, rowGroup, column)
	if err != nil {
		return false, fmt.Errorf("could not get statistics for %v: %w", column, err)
	}
	if fieldStats == nil {
		return true, nil
	}

	if fieldStats.HasNullCount() && fieldStats.NullCount() == fileMetadata.RowGroup(rowGroup).NumRows() {
		return false, nil
	}

	min, max, ok, err := GetColumnMinMax(fileMetadata, rowGroup, column)
	if err != nil {
		return false, fmt.Errorf("could not get min/max statistics for %v: %w", column, err)
	}
	if !ok {
		return true, nil
	}

	target := []byte(value)
	return bytes.Compare(min, target) <= 0 && bytes.Compare(target, max) <= 0, nil
}

// ROW FILTERING

// FilterRecord keeps the rows of a record for which the predicate returns
// true, preserving their order.  The caller owns the returned record.
func FilterRecord(ctx context.Context, record arrow.Record, predicate func(int64) (bool, error)) (arrow.Record, error) {
	// we build a boolean mask and pass it to compute.FilterRecordBatch later
	maskBuilder := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer maskBuilder.Release()

	maskBuilder.Reserve(int(record.NumRows()))
	for idx := int64(0); idx < record.NumRows(); idx++ {
		p, err := predicate(idx)
		if err != nil {
			return nil, err
		}
		maskBuilder.UnsafeAppend(p)
	}

	mask := maskBuilder.NewBooleanArray()
	defer mask.Release()

	r, filterErr := compute.FilterRecordBatch(ctx, record, mask, compute.DefaultFilterOptions())
	if filterErr != nil {
		return nil, fmt.Errorf("trouble filtering record batch: %w", filterErr)
	}
	return r, nil
}
