// Package fsutil abstracts the imaging working directory: task scripts are
// written into it and stale CASA products are swept out of it.
package fsutil

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileSystem is the subset of file operations the pipeline performs.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error

	// RemoveAll removes path and anything below it. CASA images are
	// directories.
	RemoveAll(path string) error

	// Glob returns the files and directories matching pattern.
	Glob(pattern string) ([]string, error)

	Exists(name string) bool
}

// OSFileSystem is the real disk.
type OSFileSystem struct{}

func (OSFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (OSFileSystem) RemoveAll(path string) error                  { return os.RemoveAll(path) }
func (OSFileSystem) Glob(pattern string) ([]string, error)        { return filepath.Glob(pattern) }

func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// RemoveMatching removes every path matching any of the glob patterns and
// returns the removed paths sorted. No match is not an error.
func RemoveMatching(fsys FileSystem, patterns ...string) ([]string, error) {
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		found, err := fsys.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad glob pattern %q: %w", pattern, err)
		}
		for _, m := range found {
			seen[m] = true
		}
	}
	matches := make([]string, 0, len(seen))
	for m := range seen {
		matches = append(matches, m)
	}
	sort.Strings(matches)

	for i, m := range matches {
		if err := fsys.RemoveAll(m); err != nil {
			return matches[:i], fmt.Errorf("failed to remove %s: %w", m, err)
		}
	}
	return matches, nil
}

// DirCleaner sweeps stale artifacts out of Dir. Patterns are relative to it.
type DirCleaner struct {
	FS  FileSystem
	Dir string
}

// RemoveMatching removes the artifacts in c.Dir matching patterns.
func (c DirCleaner) RemoveMatching(ctx context.Context, patterns ...string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := make([]string, len(patterns))
	for i, p := range patterns {
		full[i] = filepath.Join(c.Dir, p)
	}
	return RemoveMatching(c.FS, full...)
}

// MemoryFileSystem keeps a tree in memory for tests. A nil entry is a
// directory.
type MemoryFileSystem struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{entries: make(map[string][]byte)}
}

func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)
	data, ok := m.entries[name]
	switch {
	case !ok:
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	case data == nil:
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrInvalid}
	}
	return bytes.Clone(data), nil
}

// WriteFile stores data and creates any missing parent directories.
func (m *MemoryFileSystem) WriteFile(name string, data []byte, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = filepath.Clean(name)
	if old, ok := m.entries[name]; ok && old == nil {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrExist}
	}
	if data == nil {
		data = []byte{}
	}
	m.entries[name] = bytes.Clone(data)
	m.mkdirs(filepath.Dir(name))
	return nil
}

func (m *MemoryFileSystem) MkdirAll(path string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirs(filepath.Clean(path))
	return nil
}

func (m *MemoryFileSystem) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	prefix := path + string(filepath.Separator)
	for name := range m.entries {
		if name == path || strings.HasPrefix(name, prefix) {
			delete(m.entries, name)
		}
	}
	return nil
}

func (m *MemoryFileSystem) Glob(pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	pattern = filepath.Clean(pattern)
	var out []string
	for name := range m.entries {
		if ok, _ := filepath.Match(pattern, name); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryFileSystem) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[filepath.Clean(name)]
	return ok
}

// mkdirs marks dir and its ancestors as directories. Callers hold mu.
func (m *MemoryFileSystem) mkdirs(dir string) {
	for ; dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if _, ok := m.entries[dir]; !ok {
			m.entries[dir] = nil
		}
	}
}
