package occurrence

import (
	"fmt"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
)

// StringAccessor returns the value at a row and false when the value is null.
type StringAccessor func(row int) (string, bool)

type FloatAccessor func(row int) (float64, bool)

func columnIndex(schema *arrow.Schema, name string) (int, error) {
	indices := schema.FieldIndices(name)
	if len(indices) == 0 {
		return -1, fmt.Errorf("missing column %q", name)
	}
	if len(indices) > 1 {
		return -1, fmt.Errorf("found more than one %q column", name)
	}
	return indices[0], nil
}

// Strings provides access to a string-like column of a record.  Dictionary
// encoded columns are resolved through their dictionary.
func Strings(record arrow.Record, name string) (StringAccessor, error) {
	index, err := columnIndex(record.Schema(), name)
	if err != nil {
		return nil, err
	}
	accessor, err := stringAccessor(record.Column(index))
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}
	return accessor, nil
}

func stringAccessor(arr arrow.Array) (StringAccessor, error) {
	switch values := arr.(type) {
	case *array.String:
		return func(row int) (string, bool) {
			if values.IsNull(row) {
				return "", false
			}
			return values.Value(row), true
		}, nil
	case *array.LargeString:
		return func(row int) (string, bool) {
			if values.IsNull(row) {
				return "", false
			}
			return values.Value(row), true
		}, nil
	case *array.Binary:
		return func(row int) (string, bool) {
			if values.IsNull(row) {
				return "", false
			}
			return string(values.Value(row)), true
		}, nil
	case *array.Dictionary:
		dictionary, err := stringAccessor(values.Dictionary())
		if err != nil {
			return nil, err
		}
		return func(row int) (string, bool) {
			if values.IsNull(row) {
				return "", false
			}
			return dictionary(values.GetValueIndex(row))
		}, nil
	}
	return nil, fmt.Errorf("expected string values, got %s", arr.DataType())
}

// Floats provides access to a floating point column of a record.
func Floats(record arrow.Record, name string) (FloatAccessor, error) {
	index, err := columnIndex(record.Schema(), name)
	if err != nil {
		return nil, err
	}
	switch values := record.Column(index).(type) {
	case *array.Float64:
		return func(row int) (float64, bool) {
			if values.IsNull(row) {
				return 0, false
			}
			return values.Value(row), true
		}, nil
	case *array.Float32:
		return func(row int) (float64, bool) {
			if values.IsNull(row) {
				return 0, false
			}
			return float64(values.Value(row)), true
		}, nil
	}
	return nil, fmt.Errorf("column %q: expected floating point values, got %s", name, record.Column(index).DataType())
}
