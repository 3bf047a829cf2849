package array

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// DType describes the element type of an Array
type DType uint8

const (
	// Float64 elements are double precision floating point values
	Float64 DType = iota
	// Int64 elements are integers
	Int64
	// Bool elements are booleans, stored as 0 or 1
	Bool
)

// String returns the name of a DType
func (d DType) String() string {
	switch d {
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	default:
		return "float64"
	}
}

// ParseDType translates a DType name back into a DType
func ParseDType(name string) (DType, error) {
	switch name {
	case "float64", "f8":
		return Float64, nil
	case "int64", "i8":
		return Int64, nil
	case "bool", "?":
		return Bool, nil
	default:
		return Float64, fmt.Errorf("unknown dtype %q", name)
	}
}

// MaxExactInt is the largest magnitude of an integer element. Int64 elements
// are stored as float64 values, which represent every integer up to 2^53.
const MaxExactInt = 1 << 53

// ExactInt64 converts an integer element to its stored form, failing if the
// conversion would round it
func ExactInt64(v int64) (float64, error) {
	if v > MaxExactInt || v < -MaxExactInt {
		return 0, fmt.Errorf("integer %d exceeds the exactly representable range of +/-2^53", v)
	}
	return float64(v), nil
}

// Buffer is a materialized, in-memory block of rows. Each row holds Width()
// components stored contiguously. Integer and boolean elements are stored as
// float64 values.
type Buffer struct {
	dtype DType
	width int
	data  []float64
}

// NewBuffer allocates a zeroed Buffer of the given number of rows
func NewBuffer(dtype DType, width int, rows int) *Buffer {
	if width < 1 {
		width = 1
	}
	return &Buffer{dtype: dtype, width: width, data: make([]float64, rows*width)}
}

// BufferOf wraps existing row-major data in a Buffer. len(data) must be a multiple of width.
func BufferOf(dtype DType, width int, data []float64) (*Buffer, error) {
	if width < 1 {
		return nil, fmt.Errorf("buffer width must be positive, got %d", width)
	}
	if len(data)%width != 0 {
		return nil, fmt.Errorf("buffer data length %d is not a multiple of width %d", len(data), width)
	}
	return &Buffer{dtype: dtype, width: width, data: data}, nil
}

// DType returns the element type of this Buffer
func (b *Buffer) DType() DType { return b.dtype }

// Width returns the number of components per row
func (b *Buffer) Width() int { return b.width }

// Len returns the number of rows
func (b *Buffer) Len() int { return len(b.data) / b.width }

// Data returns the underlying row-major data
func (b *Buffer) Data() []float64 { return b.data }

// Row returns the components of row i. The returned slice aliases the Buffer.
func (b *Buffer) Row(i int) []float64 {
	return b.data[i*b.width : (i+1)*b.width]
}

// At returns component k of row i
func (b *Buffer) At(i, k int) float64 {
	return b.data[i*b.width+k]
}

// Bools returns the first component of each row as booleans
func (b *Buffer) Bools() []bool {
	result := make([]bool, b.Len())
	for i := range result {
		result[i] = b.data[i*b.width] != 0
	}
	return result
}

// Int64s returns the first component of each row as integers
func (b *Buffer) Int64s() []int64 {
	result := make([]int64, b.Len())
	for i := range result {
		result[i] = int64(b.data[i*b.width])
	}
	return result
}

// Take gathers the given rows into a new Buffer
func (b *Buffer) Take(rows Rows) *Buffer {
	if rows.IsRange() {
		start, stop := rows.Bounds()
		data := make([]float64, (stop-start)*b.width)
		copy(data, b.data[start*b.width:stop*b.width])
		return &Buffer{dtype: b.dtype, width: b.width, data: data}
	}
	result := NewBuffer(b.dtype, b.width, rows.Len())
	for i := 0; i < rows.Len(); i++ {
		copy(result.Row(i), b.Row(rows.At(i)))
	}
	return result
}

// Equal returns true iff two Buffers have the same shape and identical elements (NaNs compare equal)
func (b *Buffer) Equal(o *Buffer) bool {
	if b.width != o.width || len(b.data) != len(o.data) {
		return false
	}
	for i, v := range b.data {
		w := o.data[i]
		if v != w && !(math.IsNaN(v) && math.IsNaN(w)) {
			return false
		}
	}
	return true
}

// Concatenate joins Buffers of identical width end to end
func Concatenate(bufs ...*Buffer) (*Buffer, error) {
	if len(bufs) == 0 {
		return NewBuffer(Float64, 1, 0), nil
	}
	total := 0
	for _, buf := range bufs {
		if buf.width != bufs[0].width {
			return nil, fmt.Errorf("cannot concatenate buffers of width %d and %d", bufs[0].width, buf.width)
		}
		total += len(buf.data)
	}
	data := make([]float64, 0, total)
	for _, buf := range bufs {
		data = append(data, buf.data...)
	}
	return &Buffer{dtype: bufs[0].dtype, width: bufs[0].width, data: data}, nil
}

// String produces a short representation of a Buffer, eliding the middle rows
func (b *Buffer) String() string {
	var res strings.Builder
	n := b.Len()
	fmt.Fprintf(&res, "%s[%d x %d](", b.dtype, n, b.width)
	for i := 0; i < n; i++ {
		if n > 6 && i == 3 {
			fmt.Fprintf(&res, "... %d more, ", n-6)
			i = n - 3
		}
		if b.width == 1 {
			fmt.Fprint(&res, b.formatElement(b.data[i]))
		} else {
			row := b.Row(i)
			parts := make([]string, len(row))
			for k, v := range row {
				parts[k] = b.formatElement(v)
			}
			fmt.Fprintf(&res, "[%s]", strings.Join(parts, " "))
		}
		if i < n-1 {
			fmt.Fprint(&res, ", ")
		}
	}
	fmt.Fprint(&res, ")")
	return res.String()
}

func (b *Buffer) formatElement(v float64) string {
	switch b.dtype {
	case Bool:
		return fmt.Sprintf("%t", v != 0)
	case Int64:
		return fmt.Sprintf("%d", int64(v))
	default:
		return fmt.Sprintf("%g", v)
	}
}

const bufferHeaderSize = 1 + 4 + 8

// MarshalBinary encodes a Buffer as a little-endian header (dtype, width, rows) followed by its elements
func (b *Buffer) MarshalBinary() ([]byte, error) {
	out := make([]byte, bufferHeaderSize+8*len(b.data))
	out[0] = byte(b.dtype)
	binary.LittleEndian.PutUint32(out[1:5], uint32(b.width))
	binary.LittleEndian.PutUint64(out[5:13], uint64(b.Len()))
	for i, v := range b.data {
		binary.LittleEndian.PutUint64(out[bufferHeaderSize+8*i:], math.Float64bits(v))
	}
	return out, nil
}

// UnmarshalBinary decodes a Buffer produced by MarshalBinary
func (b *Buffer) UnmarshalBinary(in []byte) error {
	if len(in) < bufferHeaderSize {
		return fmt.Errorf("buffer encoding too short: %d bytes", len(in))
	}
	dtype := DType(in[0])
	width := int(binary.LittleEndian.Uint32(in[1:5]))
	rows := int(binary.LittleEndian.Uint64(in[5:13]))
	if width < 1 || len(in) != bufferHeaderSize+8*rows*width {
		return fmt.Errorf("buffer encoding of %d bytes does not hold %d rows of width %d", len(in), rows, width)
	}
	data := make([]float64, rows*width)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(in[bufferHeaderSize+8*i:]))
	}
	b.dtype, b.width, b.data = dtype, width, data
	return nil
}
