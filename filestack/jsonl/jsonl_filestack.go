package jsonl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/schema"
	"github.com/tidwall/gjson"
)

// Conf configures a JSONL FileStack
type Conf struct {
	HeaderLines   int  // The number of lines to ignore from the beginning of the file. Defaults to 0.
	Comment       rune // Lines beginning with the comment character are ignored. Defaults to no comment character.
	MaxBufferSize int  // Maximum size in bytes of a line
}

// FileStack reads rows of a JSONL file on demand, using an index of line offsets built when it is opened
type FileStack struct {
	r      io.ReaderAt
	closer io.Closer
	schema *schema.Schema
	lines  [][2]int64 // byte range of each data line
	name   string
}

// Open indexes a JSONL file
func Open(path string, sch *schema.Schema, conf *Conf) (*FileStack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error in os.Open: %w", err)
	}
	fs, err := Create(f, sch, conf)
	if err != nil {
		f.Close()
		return nil, err
	}
	fs.closer = f
	fs.name = path
	return fs, nil
}

// Create indexes JSONL data held by a ReaderAt
func Create(r io.ReaderAt, sch *schema.Schema, conf *Conf) (*FileStack, error) {
	if conf == nil {
		conf = &Conf{}
	}
	if conf.MaxBufferSize == 0 {
		conf.MaxBufferSize = bufio.MaxScanTokenSize
	}
	fs := &FileStack{r: r, schema: sch, name: "jsonl"}
	reader := bufio.NewReaderSize(io.NewSectionReader(r, 0, math.MaxInt64), 4096)
	var offset int64
	for lineNo := 0; ; lineNo++ {
		line, err := reader.ReadString('\n')
		start := offset
		offset += int64(len(line))
		if len(line) > conf.MaxBufferSize {
			return nil, fmt.Errorf("line %d exceeds %d bytes", lineNo+1, conf.MaxBufferSize)
		}
		trimmed := strings.TrimSpace(line)
		if lineNo >= conf.HeaderLines && trimmed != "" && (conf.Comment == 0 || !strings.HasPrefix(trimmed, string(conf.Comment))) {
			fs.lines = append(fs.lines, [2]int64{start, offset})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return fs, nil
}

// Schema returns the columns of this FileStack
func (fs *FileStack) Schema() *schema.Schema {
	return fs.schema
}

// TotalRows returns the number of data lines
func (fs *FileStack) TotalRows() int64 {
	return int64(len(fs.lines))
}

// Attrs returns no metadata; JSONL files carry none
func (fs *FileStack) Attrs() map[string]any {
	return map[string]any{}
}

// Fetch parses rows [start, stop) of a column
func (fs *FileStack) Fetch(_ context.Context, column string, start, stop int64) (*array.Buffer, error) {
	col, err := fs.schema.GetColumn(column)
	if err != nil {
		return nil, err
	}
	if start < 0 || stop > int64(len(fs.lines)) || start > stop {
		return nil, fmt.Errorf("rows [%d, %d) out of bounds for %d rows", start, stop, len(fs.lines))
	}
	colType := col.Type()
	buf := array.NewBuffer(colType.DType, colType.Width, int(stop-start))
	if start == stop {
		return buf, nil
	}
	lo, hi := fs.lines[start][0], fs.lines[stop-1][1]
	data := make([]byte, hi-lo)
	if _, err := fs.r.ReadAt(data, lo); err != nil && err != io.EOF {
		return nil, err
	}
	for i := start; i < stop; i++ {
		line := data[fs.lines[i][0]-lo : fs.lines[i][1]-lo]
		if err := ParseJSONRow(column, colType, gjson.ParseBytes(line), buf.Row(int(i-start))); err != nil {
			return nil, fmt.Errorf("unable to parse row %d: %w", i, err)
		}
	}
	return buf, nil
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
	return fmt.Sprintf("%s(%d rows)", fs.name, len(fs.lines))
}
