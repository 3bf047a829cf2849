// Package bigfile persists catalogs as a directory of compressed column blocks.
//
// A bigfile holds two header objects, Header/schema.json and Header/attrs.json,
// and one object per column and block, named <column>/<start>-<stop>.blk, where
// [start, stop) is the global row range of the block. Every column is split
// into the same blocks.
package bigfile

import (
	"fmt"
	"path"
	"sort"

	"github.com/go-sif/catalog/schema"
	"github.com/tidwall/gjson"
)

const (
	// SchemaKey is the key of the schema header
	SchemaKey = "Header/schema.json"
	// AttrsKey is the key of the attrs header
	AttrsKey = "Header/attrs.json"
)

// Block is a global row range [Start, Stop) stored as one object per column
type Block struct {
	Start int64 `json:"start"`
	Stop  int64 `json:"stop"`
}

// Header describes the contents of a bigfile
type Header struct {
	Schema      *schema.Schema `json:"columns"`
	TotalRows   int64          `json:"total_rows"`
	Compression Compression    `json:"compression"`
	Blocks      []Block        `json:"blocks"`
}

// BlockKey returns the key of the object holding a block of a column
func BlockKey(column string, b Block) string {
	return path.Join(column, fmt.Sprintf("%d-%d.blk", b.Start, b.Stop))
}

// Validate checks that the blocks of a Header tile [0, TotalRows) in order
func (h *Header) Validate() error {
	sort.Slice(h.Blocks, func(i, j int) bool {
		if h.Blocks[i].Start != h.Blocks[j].Start {
			return h.Blocks[i].Start < h.Blocks[j].Start
		}
		return h.Blocks[i].Stop < h.Blocks[j].Stop
	})
	var next int64
	for _, b := range h.Blocks {
		if b.Start != next || b.Stop < b.Start {
			return fmt.Errorf("block [%d, %d) does not continue from row %d", b.Start, b.Stop, next)
		}
		next = b.Stop
	}
	if next != h.TotalRows {
		return fmt.Errorf("blocks cover %d rows, header declares %d", next, h.TotalRows)
	}
	return nil
}

// UnmarshalJSON decodes a Header
func (h *Header) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid bigfile header")
	}
	parsed := gjson.ParseBytes(data)
	h.Schema = schema.CreateSchema()
	if err := h.Schema.UnmarshalJSON([]byte(parsed.Get("columns").Raw)); err != nil {
		return err
	}
	h.TotalRows = parsed.Get("total_rows").Int()
	h.Compression = Compression(parsed.Get("compression").String())
	h.Blocks = nil
	for _, b := range parsed.Get("blocks").Array() {
		h.Blocks = append(h.Blocks, Block{Start: b.Get("start").Int(), Stop: b.Get("stop").Int()})
	}
	return h.Validate()
}
