package bigfile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/datastore"
	"github.com/go-sif/catalog/schema"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const maxCachedBlocks = 16

// FileStack reads a bigfile from a DataStore
type FileStack struct {
	store      datastore.DataStore
	header     *Header
	compressor Compressor
	logger     zerolog.Logger
	lock       sync.Mutex
	blocks     map[string]*array.Buffer // recently decompressed blocks, by key
	attrsOnce  sync.Once
	attrs      map[string]any
}

// ReadHeader reads and validates Header/schema.json
func ReadHeader(ctx context.Context, store datastore.DataStore) (*Header, error) {
	data, err := store.ReadFile(ctx, SchemaKey)
	if err != nil {
		return nil, fmt.Errorf("unable to read bigfile schema: %w", err)
	}
	header := &Header{}
	if err := header.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("unable to parse bigfile schema: %w", err)
	}
	return header, nil
}

// Open reads the schema header of a bigfile. Attrs are read on first use.
func Open(ctx context.Context, store datastore.DataStore, logger *zerolog.Logger) (*FileStack, error) {
	header, err := ReadHeader(ctx, store)
	if err != nil {
		return nil, err
	}
	return FromHeader(store, header, logger)
}

// FromHeader creates a FileStack over a header which was already read, without
// touching the store until blocks or attrs are requested
func FromHeader(store datastore.DataStore, header *Header, logger *zerolog.Logger) (*FileStack, error) {
	compressor, err := NewCompressor(header.Compression)
	if err != nil {
		return nil, err
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &FileStack{
		store:      store,
		header:     header,
		compressor: compressor,
		logger:     l,
		blocks:     make(map[string]*array.Buffer),
	}, nil
}

// Schema returns the columns of this bigfile
func (fs *FileStack) Schema() *schema.Schema {
	return fs.header.Schema
}

// TotalRows returns the number of rows in every column
func (fs *FileStack) TotalRows() int64 {
	return fs.header.TotalRows
}

// Attrs returns the decoded contents of Header/attrs.json, or an empty map if
// they are missing or unreadable. Attribute order is not preserved by this
// accessor; use ReadAttrs for the raw document.
func (fs *FileStack) Attrs() map[string]any {
	fs.attrsOnce.Do(func() {
		fs.attrs = make(map[string]any)
		data, err := fs.ReadAttrs(context.Background())
		if err != nil {
			fs.logger.Warn().Err(err).Msg("unable to read bigfile attrs")
			return
		}
		if data == nil {
			return
		}
		if !gjson.ValidBytes(data) {
			fs.logger.Warn().Msg("invalid bigfile attrs")
			return
		}
		if m, ok := gjson.ParseBytes(data).Value().(map[string]any); ok {
			fs.attrs = m
		}
	})
	return fs.attrs
}

// ReadAttrs returns the raw contents of Header/attrs.json, or nil if the bigfile has no attrs
func (fs *FileStack) ReadAttrs(ctx context.Context) ([]byte, error) {
	data, err := fs.store.ReadFile(ctx, AttrsKey)
	if err == nil {
		return data, nil
	}
	if ok, existsErr := fs.store.Exists(ctx, AttrsKey); existsErr == nil && !ok {
		return nil, nil
	}
	return nil, fmt.Errorf("unable to read bigfile attrs: %w", err)
}

// Header returns the schema header of this bigfile
func (fs *FileStack) Header() *Header {
	return fs.header
}

// Fetch reads rows [start, stop) of a column from the blocks which hold them
func (fs *FileStack) Fetch(ctx context.Context, column string, start, stop int64) (*array.Buffer, error) {
	col, err := fs.header.Schema.GetColumn(column)
	if err != nil {
		return nil, err
	}
	if start < 0 || stop > fs.header.TotalRows || start > stop {
		return nil, fmt.Errorf("rows [%d, %d) out of bounds for %d rows", start, stop, fs.header.TotalRows)
	}
	blocks := fs.header.Blocks
	first := sort.Search(len(blocks), func(i int) bool { return blocks[i].Stop > start })
	parts := []*array.Buffer{array.NewBuffer(col.Type().DType, col.Type().Width, 0)}
	for i := first; i < len(blocks) && blocks[i].Start < stop; i++ {
		b := blocks[i]
		if b.Start == b.Stop {
			continue
		}
		buf, err := fs.readBlock(ctx, column, b)
		if err != nil {
			return nil, err
		}
		lo, hi := start, stop
		if lo < b.Start {
			lo = b.Start
		}
		if hi > b.Stop {
			hi = b.Stop
		}
		parts = append(parts, buf.Take(array.RowRange(int(lo-b.Start), int(hi-b.Start))))
	}
	out, err := array.Concatenate(parts...)
	if err != nil {
		return nil, err
	}
	if int64(out.Len()) != stop-start {
		return nil, fmt.Errorf("blocks of column %s hold %d of rows [%d, %d)", column, out.Len(), start, stop)
	}
	return out, nil
}

func (fs *FileStack) readBlock(ctx context.Context, column string, b Block) (*array.Buffer, error) {
	key := BlockKey(column, b)
	fs.lock.Lock()
	buf, ok := fs.blocks[key]
	fs.lock.Unlock()
	if ok {
		return buf, nil
	}
	data, err := fs.store.ReadFile(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("unable to read block %s: %w", key, err)
	}
	raw, err := fs.compressor.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("unable to decompress block %s: %w", key, err)
	}
	buf = &array.Buffer{}
	if err := buf.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unable to decode block %s: %w", key, err)
	}
	if int64(buf.Len()) != b.Stop-b.Start {
		return nil, fmt.Errorf("block %s holds %d rows", key, buf.Len())
	}
	fs.logger.Debug().Str("block", key).Int("rows", buf.Len()).Msg("read bigfile block")
	fs.lock.Lock()
	if len(fs.blocks) >= maxCachedBlocks {
		fs.blocks = make(map[string]*array.Buffer)
	}
	fs.blocks[key] = buf
	fs.lock.Unlock()
	return buf, nil
}

// String describes this FileStack
func (fs *FileStack) String() string {
	return fmt.Sprintf("bigfile(%s, %d rows)", fs.store, fs.header.TotalRows)
}
