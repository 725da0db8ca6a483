package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore is an ObjectStore over a local directory tree. Each archive
// path becomes a file under the base directory; writes go through a
// temporary file and rename so readers never observe partial documents.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve archive dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FileStore{baseDir: abs}, nil
}

// Name identifies the backend.
func (s *FileStore) Name() string { return "file" }

// resolve maps an archive path to an absolute file path, refusing anything
// that would land outside the base directory.
func (s *FileStore) resolve(path string) (string, error) {
	full := filepath.Join(s.baseDir, filepath.FromSlash(path))
	if full != s.baseDir && !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes archive dir", path)
	}
	return full, nil
}

// Put writes data to path atomically, overwriting any existing file.
func (s *FileStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if werr := classifyCtx(s.Name(), path, ctx.Err()); werr != nil {
		return werr
	}

	full, err := s.resolve(path)
	if err != nil {
		return Permanent(s.Name(), path, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return s.classify(path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".barrow-*")
	if err != nil {
		return s.classify(path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return s.classify(path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return s.classify(path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return s.classify(path, err)
	}
	return nil
}

// Get reads the file at path.
func (s *FileStore) Get(ctx context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// List walks the tree and returns archive paths with the given prefix,
// sorted.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list archive dir: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes the file at path.
func (s *FileStore) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// Ping verifies the base directory is still reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileStore) classify(path string, err error) *WriteError {
	if errors.Is(err, fs.ErrPermission) {
		return Permanent(s.Name(), path, err)
	}
	return Transient(s.Name(), path, err)
}
