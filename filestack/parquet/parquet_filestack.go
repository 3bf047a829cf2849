// Package parquet reads the flat numeric and boolean columns of a parquet file
// as a FileStack. Files may be local, or remote over HTTP range requests.
package parquet

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/schema"
	"github.com/parquet-go/parquet-go"
	"howett.net/ranger"
)

// FileStack reads columns of a parquet file
type FileStack struct {
	path      string
	file      *parquet.File
	closer    io.Closer
	schema    *schema.Schema
	leaves    map[string]int // leaf column index by name
	totalRows int64
	attrs     map[string]any
}

// Open opens a local parquet file, or a remote one if path is an http(s) URL
func Open(path string) (*FileStack, error) {
	if isHTTPURL(path) {
		return openHTTP(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to get file stats: %w", err)
	}
	fs, err := Create(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	fs.path = path
	fs.closer = f
	return fs, nil
}

func isHTTPURL(path string) bool {
	u, err := url.Parse(path)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func openHTTP(urlStr string) (*FileStack, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	reader, err := ranger.NewReader(&ranger.HTTPRanger{URL: parsedURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP reader: %w", err)
	}
	length, err := reader.Length()
	if err != nil {
		return nil, fmt.Errorf("failed to get HTTP content length: %w", err)
	}
	fs, err := Create(reader, length)
	if err != nil {
		return nil, err
	}
	fs.path = urlStr
	return fs, nil
}

// Create opens parquet data held by a ReaderAt
func Create(r io.ReaderAt, size int64) (*FileStack, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	fs := &FileStack{
		path:      "parquet",
		file:      file,
		schema:    schema.CreateSchema(),
		leaves:    make(map[string]int),
		totalRows: file.NumRows(),
		attrs:     make(map[string]any),
	}
	for _, col := range file.Root().Columns() {
		if !col.Leaf() || col.MaxRepetitionLevel() > 0 {
			continue
		}
		dtype, ok := toDType(col.Type().Kind())
		if !ok {
			continue
		}
		if err := fs.schema.CreateColumn(col.Name(), schema.ColumnType{DType: dtype, Width: 1}); err != nil {
			return nil, err
		}
		fs.leaves[col.Name()] = col.Index()
	}
	for _, kv := range file.Metadata().KeyValueMetadata {
		fs.attrs[kv.Key] = kv.Value
	}
	return fs, nil
}

func toDType(kind parquet.Kind) (array.DType, bool) {
	switch kind {
	case parquet.Boolean:
		return array.Bool, true
	case parquet.Int32, parquet.Int64:
		return array.Int64, true
	case parquet.Float, parquet.Double:
		return array.Float64, true
	default:
		return 0, false
	}
}

func toFloat64(v parquet.Value, dtype array.DType) (float64, error) {
	if v.IsNull() {
		if dtype == array.Float64 {
			return math.NaN(), nil
		}
		return 0, nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		if v.Boolean() {
			return 1, nil
		}
		return 0, nil
	case parquet.Int32:
		return float64(v.Int32()), nil
	case parquet.Int64:
		return array.ExactInt64(v.Int64())
	case parquet.Float:
		return float64(v.Float()), nil
	default:
		return v.Double(), nil
	}
}

// Schema returns the flat numeric and boolean columns of this file
func (fs *FileStack) Schema() *schema.Schema {
	return fs.schema
}

// TotalRows returns the number of rows in the file
func (fs *FileStack) TotalRows() int64 {
	return fs.totalRows
}

// Attrs returns the key/value metadata of the file
func (fs *FileStack) Attrs() map[string]any {
	return fs.attrs
}

// Fetch reads rows [start, stop) of a column, skipping row groups and pages outside that range
func (fs *FileStack) Fetch(_ context.Context, column string, start, stop int64) (*array.Buffer, error) {
	leaf, ok := fs.leaves[column]
	if !ok {
		return nil, fmt.Errorf("no such column %s", column)
	}
	if start < 0 || stop > fs.totalRows || start > stop {
		return nil, fmt.Errorf("rows [%d, %d) out of bounds for %d rows", start, stop, fs.totalRows)
	}
	col, _ := fs.schema.GetColumn(column)
	dtype := col.Type().DType
	buf := array.NewBuffer(dtype, 1, int(stop-start))
	data := buf.Data()

	var groupStart int64
	for _, rg := range fs.file.RowGroups() {
		groupStop := groupStart + rg.NumRows()
		if groupStop <= start || groupStart >= stop {
			groupStart = groupStop
			continue
		}
		if err := readChunk(rg.ColumnChunks()[leaf], groupStart, start, stop, dtype, data); err != nil {
			return nil, fmt.Errorf("unable to read column %s: %w", column, err)
		}
		groupStart = groupStop
	}
	return buf, nil
}

// readChunk copies the values of one column chunk which fall in [start, stop) into data
func readChunk(chunk parquet.ColumnChunk, row, start, stop int64, dtype array.DType, data []float64) error {
	pages := chunk.Pages()
	defer pages.Close()
	for row < stop {
		page, err := pages.ReadPage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		n := page.NumRows()
		if row+n <= start {
			row += n
			parquet.Release(page)
			continue
		}
		values := make([]parquet.Value, page.NumValues())
		read, err := page.Values().ReadValues(values)
		parquet.Release(page)
		if err != nil && err != io.EOF {
			return err
		}
		for i, v := range values[:read] {
			r := row + int64(i)
			if r >= start && r < stop {
				f, err := toFloat64(v, dtype)
				if err != nil {
					return fmt.Errorf("row %d: %w", r, err)
				}
				data[r-start] = f
			}
		}
		row += n
	}
	return nil
}

// Close releases the underlying file, if any
func (fs *FileStack) Close() error {
	if fs.closer != nil {
		return fs.closer.Close()
	}
	return nil
}

// String describes this FileStack
func (fs *FileStack) String() string {
	return fmt.Sprintf("%s(%d rows)", fs.path, fs.totalRows)
}
