package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DiskDataStore stores objects as files beneath a root directory
type DiskDataStore struct {
	rootPath string
}

// NewDiskDataStore creates a DiskDataStore, creating its root directory if necessary
func NewDiskDataStore(rootPath string) (*DiskDataStore, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	return &DiskDataStore{rootPath: rootPath}, nil
}

func (dds *DiskDataStore) path(key string) string {
	return filepath.Join(dds.rootPath, filepath.FromSlash(key))
}

// ReadFile returns the contents of a file
func (dds *DiskDataStore) ReadFile(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(dds.path(key))
	if err != nil {
		return nil, fmt.Errorf("error in os.ReadFile: %w", err)
	}
	return data, nil
}

// WriteFile creates or replaces a file, creating parent directories as necessary
func (dds *DiskDataStore) WriteFile(_ context.Context, key string, data []byte) error {
	p := dds.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("error in os.WriteFile: %w", err)
	}
	return nil
}

// Exists reports whether a file is present
func (dds *DiskDataStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(dds.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("error in os.Stat: %w", err)
}

func (dds *DiskDataStore) String() string {
	return dds.rootPath
}

// Shutdown is a no-op for a DiskDataStore
func (dds *DiskDataStore) Shutdown(_ context.Context) error {
	return nil
}
