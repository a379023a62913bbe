// Copyright 2024-2026 Aiku AI

// Package storage persists bridge state as YAML documents on disk.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// File is a YAML document holding a single value of type T. Writes go to a
// temporary file which then replaces the target, so readers never see a
// partially written document.
type File[T any] struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a document stored at path. The file is not touched until
// Load or Save is called.
func NewFile[T any](path string) *File[T] {
	return &File[T]{path: filepath.Clean(path)}
}

// Path returns the location of the document.
func (f *File[T]) Path() string {
	return f.path
}

// Load reads and decodes the document. A missing or empty file yields the
// zero value of T.
func (f *File[T]) Load() (T, error) {
	var value T
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return value, nil
	} else if err != nil {
		return value, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return value, nil
	}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("failed to decode %s: %w", f.path, err)
	}
	return value, nil
}

// Save encodes value and atomically replaces the document.
func (f *File[T]) Save(value T) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f.path, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}
