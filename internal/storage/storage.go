// Package storage keeps session transcripts as JSON documents on disk.
//
// Documents are addressed by key segments, so ("transcript", "abc") lives at
// <root>/transcript/abc.json. Writers of one document are serialized through
// a FileLock and replace the file atomically.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when no document exists under a key.
var ErrNotFound = errors.New("not found")

const ext = ".json"

// Storage is a directory of JSON documents.
type Storage struct {
	root string

	mu    sync.Mutex
	locks map[string]*FileLock
}

// New creates a Storage rooted at dir. The directory is created on first
// write.
func New(dir string) *Storage {
	return &Storage{root: dir, locks: make(map[string]*FileLock)}
}

func (s *Storage) dir(key []string) string {
	return filepath.Join(append([]string{s.root}, key...)...)
}

func (s *Storage) file(key []string) string {
	return s.dir(key) + ext
}

func (s *Storage) lockFor(file string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[file]
	if !ok {
		l = NewFileLock(file)
		s.locks[file] = l
	}
	return l
}

func (s *Storage) locked(file string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("storage: create directory: %w", err)
	}
	l := s.lockFor(file)
	if err := l.Lock(); err != nil {
		return fmt.Errorf("storage: lock %s: %w", file, err)
	}
	defer l.Unlock()
	return fn()
}

func read(file string, v any) error {
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage: read: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("storage: decode %s: %w", file, err)
	}
	return nil
}

// write replaces file through a sibling temp file so readers never see a
// partial document.
func write(file string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode: %w", err)
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("storage: write: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: replace: %w", err)
	}
	return nil
}

// Get decodes the document under key into v.
func (s *Storage) Get(ctx context.Context, key []string, v any) error {
	return read(s.file(key), v)
}

// Update decodes the document under key into v, calls fn and writes v back,
// all while holding the document's lock. exists reports whether a document
// was there. Nothing is written when fn fails.
func (s *Storage) Update(ctx context.Context, key []string, v any, fn func(exists bool) error) error {
	file := s.file(key)
	return s.locked(file, func() error {
		err := read(file, v)
		exists := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := fn(exists); err != nil {
			return err
		}
		return write(file, v)
	})
}

// Delete removes the document under key. Removing a missing document is not
// an error.
func (s *Storage) Delete(ctx context.Context, key []string) error {
	file := s.file(key)
	return s.locked(file, func() error {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: delete: %w", err)
		}
		return nil
	})
}

// List returns the sorted names of the documents directly under key.
func (s *Storage) List(ctx context.Context, key []string) ([]string, error) {
	entries, err := os.ReadDir(s.dir(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ext); ok && !e.IsDir() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
