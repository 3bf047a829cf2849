package schema

import (
	"encoding/json"
	"fmt"

	"github.com/go-sif/catalog/array"
	"github.com/tidwall/gjson"
)

// ColumnType describes the elements stored in a column
type ColumnType struct {
	DType array.DType // DType is the element type
	Width int         // Width is the number of components per row (1 for scalars, 3 for 3-vectors)
}

// String returns a short description of this ColumnType, e.g. "float64[3]"
func (t ColumnType) String() string {
	if t.Width <= 1 {
		return t.DType.String()
	}
	return fmt.Sprintf("%s[%d]", t.DType, t.Width)
}

// Column describes the position and type of a column within a Schema
type Column struct {
	idx     int
	colType ColumnType
}

// Index returns the index of this Column within a Schema
func (c *Column) Index() int {
	return c.idx
}

// Type returns the ColumnType of this Column
func (c *Column) Type() ColumnType {
	return c.colType
}

// Schema is an ordered mapping from column names to column types
type Schema struct {
	schema map[string]*Column
}

// CreateSchema is a factory for Schemas
func CreateSchema() *Schema {
	return &Schema{schema: make(map[string]*Column)}
}

// NumColumns returns the number of columns in this Schema
func (s *Schema) NumColumns() int {
	return len(s.schema)
}

// GetColumn returns the Column with a particular name
func (s *Schema) GetColumn(colName string) (*Column, error) {
	col, ok := s.schema[colName]
	if !ok {
		return nil, fmt.Errorf("Schema does not contain column with name %s", colName)
	}
	return col, nil
}

// HasColumn returns true iff this Schema contains a column with the given name
func (s *Schema) HasColumn(colName string) bool {
	_, ok := s.schema[colName]
	return ok
}

// CreateColumn defines a new column at the end of the Schema
func (s *Schema) CreateColumn(colName string, columnType ColumnType) error {
	if s.HasColumn(colName) {
		return fmt.Errorf("Schema already contains column with name %s", colName)
	}
	if columnType.Width < 1 {
		columnType.Width = 1
	}
	s.schema[colName] = &Column{len(s.schema), columnType}
	return nil
}

// ColumnNames returns the names in the Schema, in index order
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.schema))
	for k, v := range s.schema {
		names[v.idx] = k
	}
	return names
}

// ForEachColumn iterates over the columns in this Schema, in index order
func (s *Schema) ForEachColumn(fn func(name string, col *Column) error) error {
	for _, k := range s.ColumnNames() {
		if err := fn(k, s.schema[k]); err != nil {
			return err
		}
	}
	return nil
}

type jsonColumn struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Width int    `json:"width"`
}

// MarshalJSON encodes the columns of this Schema as an ordered list
func (s *Schema) MarshalJSON() ([]byte, error) {
	cols := make([]jsonColumn, 0, len(s.schema))
	for _, name := range s.ColumnNames() {
		t := s.schema[name].colType
		cols = append(cols, jsonColumn{Name: name, DType: t.DType.String(), Width: t.Width})
	}
	return json.Marshal(cols)
}

// UnmarshalJSON replaces the contents of this Schema with an encoded column list
func (s *Schema) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid schema json")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return fmt.Errorf("schema json must be a list of columns")
	}
	decoded := CreateSchema()
	var err error
	parsed.ForEach(func(_, col gjson.Result) bool {
		name := col.Get("name")
		if !name.Exists() || name.String() == "" {
			err = fmt.Errorf("schema column is missing a name: %s", col.Raw)
			return false
		}
		var dtype array.DType
		if dtype, err = array.ParseDType(col.Get("dtype").String()); err != nil {
			err = fmt.Errorf("column %s: %w", name.String(), err)
			return false
		}
		width := 1
		if w := col.Get("width"); w.Exists() {
			width = int(w.Int())
		}
		err = decoded.CreateColumn(name.String(), ColumnType{DType: dtype, Width: width})
		return err == nil
	})
	if err != nil {
		return err
	}
	*s = *decoded
	return nil
}
