package catalog

import (
	"context"
	"fmt"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/comm"
	"github.com/go-sif/catalog/datastore"
	errors "github.com/go-sif/catalog/errors"
	"github.com/go-sif/catalog/filestack/bigfile"
	"github.com/go-sif/catalog/schema"
)

// SaveOptions configure Save
type SaveOptions struct {
	Compression bigfile.Compression // block compression (lz4 if empty)
}

// Save writes columns (every column if nil) and attrs to a bigfile. Each rank
// writes its own rows as one block; rank 0 writes the headers. Either every
// rank succeeds or every rank returns an error. It is a collective operation.
func (c *Catalog) Save(ctx context.Context, store datastore.DataStore, columns []string, opts *SaveOptions) error {
	if opts == nil {
		opts = &SaveOptions{}
	}
	if c.Size() == Unresolved {
		return errors.ConfigurationError{Missing: []string{"size"}, Reason: "cannot save a catalog of unresolved size"}
	}
	if columns == nil {
		columns = c.Columns()
	}
	accessors := make([]*ColumnAccessor, len(columns))
	for i, name := range columns {
		col, err := c.Get(name)
		if err != nil {
			return err
		}
		accessors[i] = col
	}
	w, err := bigfile.NewWriter(store, opts.Compression)
	if err != nil {
		return err
	}

	bufs, err := c.Compute(ctx, accessors...)
	if err := agree(ctx, c.Comm(), err); err != nil {
		return fmt.Errorf("unable to compute columns to save: %w", err)
	}
	sizes, err := comm.GatherInt64(ctx, c.Comm(), int64(c.Size()))
	if err != nil {
		return err
	}
	blocks := make([]bigfile.Block, len(sizes))
	var offset int64
	for rank, size := range sizes {
		blocks[rank] = bigfile.Block{Start: offset, Stop: offset + size}
		offset += size
	}
	err = w.WriteBlocks(ctx, blocks[c.Comm().Rank()], columns, bufs)
	if err := agree(ctx, c.Comm(), err); err != nil {
		return fmt.Errorf("unable to write blocks to %s: %w", store, err)
	}

	if c.Comm().Rank() == 0 {
		err = c.writeHeaders(ctx, w, columns, bufs, blocks)
	}
	if err := agree(ctx, c.Comm(), err); err != nil {
		return fmt.Errorf("unable to write headers to %s: %w", store, err)
	}
	if c.Comm().Rank() == 0 {
		c.fam.logger.Info().Str("store", store.String()).Int64("rows", offset).Int("columns", len(columns)).Msg("saved catalog")
	}
	return nil
}

func (c *Catalog) writeHeaders(ctx context.Context, w *bigfile.Writer, columns []string, bufs []*array.Buffer, blocks []bigfile.Block) error {
	sch := schema.CreateSchema()
	for i, name := range columns {
		if err := sch.CreateColumn(name, schema.ColumnType{DType: bufs[i].DType(), Width: bufs[i].Width()}); err != nil {
			return err
		}
	}
	if err := w.WriteHeader(ctx, sch, blocks); err != nil {
		return err
	}
	data, err := c.attrs.MarshalJSON()
	if err != nil {
		return err
	}
	return w.WriteAttrs(ctx, data)
}
