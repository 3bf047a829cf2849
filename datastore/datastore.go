// Package datastore abstracts the storage a catalog is persisted to. Keys are
// slash-separated paths relative to the root of a store.
package datastore

import (
	"context"
)

// DataStore reads and writes whole objects
type DataStore interface {
	// ReadFile returns the contents of an object
	ReadFile(ctx context.Context, key string) ([]byte, error)
	// WriteFile creates or replaces an object
	WriteFile(ctx context.Context, key string, data []byte) error
	// Exists reports whether an object is present
	Exists(ctx context.Context, key string) (bool, error)
	// String describes the location of this store, for logging
	String() string
	Shutdown(ctx context.Context) error
}
