package bigfile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/datastore"
	"github.com/go-sif/catalog/schema"
	"golang.org/x/sync/errgroup"
)

// Writer writes the blocks and headers of a bigfile
type Writer struct {
	store      datastore.DataStore
	compressor Compressor
}

// NewWriter creates a Writer compressing blocks with an algorithm (lz4 if empty)
func NewWriter(store datastore.DataStore, compression Compression) (*Writer, error) {
	compressor, err := NewCompressor(compression)
	if err != nil {
		return nil, err
	}
	return &Writer{store: store, compressor: compressor}, nil
}

// WriteBlock writes one block of one column
func (w *Writer) WriteBlock(ctx context.Context, column string, b Block, buf *array.Buffer) error {
	if int64(buf.Len()) != b.Stop-b.Start {
		return fmt.Errorf("block [%d, %d) of column %s given %d rows", b.Start, b.Stop, column, buf.Len())
	}
	raw, err := buf.MarshalBinary()
	if err != nil {
		return err
	}
	data, err := w.compressor.Compress(raw)
	if err != nil {
		return fmt.Errorf("unable to compress block of column %s: %w", column, err)
	}
	return w.store.WriteFile(ctx, BlockKey(column, b), data)
}

// WriteBlocks writes the same block of several columns concurrently
func (w *Writer) WriteBlocks(ctx context.Context, b Block, columns []string, bufs []*array.Buffer) error {
	if len(columns) != len(bufs) {
		return fmt.Errorf("%d columns given %d buffers", len(columns), len(bufs))
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := range columns {
		column, buf := columns[i], bufs[i]
		g.Go(func() error {
			return w.WriteBlock(ctx, column, b, buf)
		})
	}
	return g.Wait()
}

// WriteHeader writes Header/schema.json
func (w *Writer) WriteHeader(ctx context.Context, sch *schema.Schema, blocks []Block) error {
	var total int64
	if len(blocks) > 0 {
		total = blocks[len(blocks)-1].Stop
	}
	header := &Header{Schema: sch, TotalRows: total, Compression: w.compressor.Type(), Blocks: blocks}
	if err := header.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(header)
	if err != nil {
		return err
	}
	return w.store.WriteFile(ctx, SchemaKey, data)
}

// WriteAttrs writes Header/attrs.json from an already-encoded JSON object
func (w *Writer) WriteAttrs(ctx context.Context, data []byte) error {
	return w.store.WriteFile(ctx, AttrsKey, data)
}
