package jsonl

import (
	"fmt"
	"math"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/schema"
	"github.com/tidwall/gjson"
)

func parseValue(val gjson.Result, colName string, dtype array.DType) (float64, error) {
	// parse type
	switch dtype {
	case array.Bool:
		if val.Type != gjson.True && val.Type != gjson.False {
			return 0, fmt.Errorf("Column %s was not a boolean. Was: %s", colName, val.Raw)
		}
		if val.Type == gjson.True {
			return 1, nil
		}
		return 0, nil
	case array.Int64:
		if val.Type != gjson.Number {
			return 0, fmt.Errorf("Column %s was not a number. Was: %s", colName, val.Raw)
		}
		f, err := array.ExactInt64(val.Int())
		if err != nil {
			return 0, fmt.Errorf("Column %s: %w", colName, err)
		}
		return f, nil
	default:
		if val.Type == gjson.Null {
			return math.NaN(), nil
		}
		if val.Type != gjson.Number {
			return 0, fmt.Errorf("Column %s was not a number. Was: %s", colName, val.Raw)
		}
		return val.Float(), nil
	}
}

// ParseJSONRow extracts the value of a column, addressed by a gjson path, from a parsed row.
// Missing float values become NaN; vector columns must be arrays of exactly the column's width.
func ParseJSONRow(colName string, colType schema.ColumnType, row gjson.Result, out []float64) error {
	val := row.Get(colName)
	if !val.Exists() {
		if colType.DType == array.Float64 {
			for k := range out {
				out[k] = math.NaN()
			}
			return nil
		}
		return fmt.Errorf("Column %s is missing", colName)
	}
	if colType.Width <= 1 {
		v, err := parseValue(val, colName, colType.DType)
		if err != nil {
			return err
		}
		out[0] = v
		return nil
	}
	if !val.IsArray() {
		return fmt.Errorf("Column %s was not an array. Was: %s", colName, val.Raw)
	}
	items := val.Array()
	if len(items) != colType.Width {
		return fmt.Errorf("Column %s has %d components, expected %d", colName, len(items), colType.Width)
	}
	for k, item := range items {
		v, err := parseValue(item, colName, colType.DType)
		if err != nil {
			return err
		}
		out[k] = v
	}
	return nil
}
