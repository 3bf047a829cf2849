package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/attrs"
	"github.com/go-sif/catalog/comm"
	"github.com/go-sif/catalog/schema"
	"github.com/tidwall/gjson"
)

// FileStack is a columnar data source which a Catalog reads hard columns from.
// Schema, TotalRows and Attrs are only consulted on rank 0; Fetch is called on
// every rank, for rows of its own shard.
type FileStack interface {
	Schema() *schema.Schema
	TotalRows() int64
	Attrs() map[string]any
	// Fetch reads global rows [start, stop) of a column
	Fetch(ctx context.Context, column string, start, stop int64) (*array.Buffer, error)
}

// RawAttrsReader is implemented by FileStacks which persist attrs as a JSON
// document, so that key order survives loading
type RawAttrsReader interface {
	ReadAttrs(ctx context.Context) ([]byte, error)
}

// fileStackHeader is the part of a FileStack broadcast from rank 0
type fileStackHeader struct {
	Schema    *schema.Schema  `json:"schema"`
	TotalRows int64           `json:"total_rows"`
	Attrs     json.RawMessage `json:"attrs"`
}

// readHeader reads the schema, size and attrs of a FileStack on the root rank
func readHeader(ctx context.Context, fs FileStack) ([]byte, error) {
	header := fileStackHeader{Schema: fs.Schema(), TotalRows: fs.TotalRows()}
	if r, ok := fs.(RawAttrsReader); ok {
		raw, err := r.ReadAttrs(ctx)
		if err != nil {
			return nil, err
		}
		header.Attrs = raw
	} else {
		a, err := attrs.FromMap(fs.Attrs())
		if err != nil {
			return nil, err
		}
		if header.Attrs, err = a.MarshalJSON(); err != nil {
			return nil, err
		}
	}
	return json.Marshal(header)
}

// broadcastHeader distributes the header of a FileStack from rank 0 to all ranks
func broadcastHeader(ctx context.Context, c comm.Comm, fs FileStack) (*schema.Schema, int64, *attrs.Attrs, error) {
	var data []byte
	var readErr error
	if c.Rank() == 0 {
		data, readErr = readHeader(ctx, fs)
		if readErr != nil {
			// other ranks learn of the failure through an empty header
			data = nil
		}
	}
	data, err := c.Broadcast(ctx, 0, data)
	if err != nil {
		return nil, 0, nil, err
	}
	if readErr != nil {
		return nil, 0, nil, fmt.Errorf("unable to read file stack header: %w", readErr)
	}
	if len(data) == 0 {
		return nil, 0, nil, fmt.Errorf("rank 0 was unable to read the file stack header")
	}
	parsed := gjson.ParseBytes(data)
	sch := schema.CreateSchema()
	if err := sch.UnmarshalJSON([]byte(parsed.Get("schema").Raw)); err != nil {
		return nil, 0, nil, err
	}
	a := attrs.New()
	if raw := parsed.Get("attrs").Raw; raw != "" && raw != "null" {
		if err := a.UnmarshalJSON([]byte(raw)); err != nil {
			return nil, 0, nil, err
		}
	}
	return sch, parsed.Get("total_rows").Int(), a, nil
}
