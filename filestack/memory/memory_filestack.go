// Package memory provides a FileStack over columns which are already held in memory.
package memory

import (
	"context"
	"fmt"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/schema"
)

// FileStack is a set of in-memory column buffers of identical length
type FileStack struct {
	schema  *schema.Schema
	columns map[string]*array.Buffer
	attrs   map[string]any
	rows    int64
}

// Create is a factory for FileStacks. Every buffer must have the same number of rows,
// and be described by the schema.
func Create(sch *schema.Schema, columns map[string]*array.Buffer, attrs map[string]any) (*FileStack, error) {
	rows := int64(-1)
	err := sch.ForEachColumn(func(name string, col *schema.Column) error {
		buf, ok := columns[name]
		if !ok {
			return fmt.Errorf("no buffer for column %s", name)
		}
		if buf.Width() != col.Type().Width {
			return fmt.Errorf("buffer for column %s has width %d, schema expects %d", name, buf.Width(), col.Type().Width)
		}
		if rows >= 0 && int64(buf.Len()) != rows {
			return fmt.Errorf("buffer for column %s has %d rows, expected %d", name, buf.Len(), rows)
		}
		rows = int64(buf.Len())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rows < 0 {
		rows = 0
	}
	if attrs == nil {
		attrs = make(map[string]any)
	}
	return &FileStack{schema: sch, columns: columns, attrs: attrs, rows: rows}, nil
}

// Schema returns the columns of this FileStack
func (fs *FileStack) Schema() *schema.Schema {
	return fs.schema
}

// TotalRows returns the number of rows in every column
func (fs *FileStack) TotalRows() int64 {
	return fs.rows
}

// Attrs returns the metadata attached to this FileStack
func (fs *FileStack) Attrs() map[string]any {
	return fs.attrs
}

// Fetch copies rows [start, stop) of a column
func (fs *FileStack) Fetch(_ context.Context, column string, start, stop int64) (*array.Buffer, error) {
	buf, ok := fs.columns[column]
	if !ok {
		return nil, fmt.Errorf("no such column %s", column)
	}
	if start < 0 || stop > fs.rows || start > stop {
		return nil, fmt.Errorf("rows [%d, %d) out of bounds for %d rows", start, stop, fs.rows)
	}
	return buf.Take(array.RowRange(int(start), int(stop))), nil
}

// String describes this FileStack
func (fs *FileStack) String() string {
	return fmt.Sprintf("memory(%d rows, %d columns)", fs.rows, fs.schema.NumColumns())
}
