package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps blobs on the filesystem below a fixed root directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("local blob store requires a base path")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, unavailable("create root", abs, err)
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	full, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, unavailable("mkdir", path, err)
	}

	// Readers never observe a half-written file: content lands in a sibling temp
	// file that replaces the target only after a complete copy.
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, unavailable("create", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return 0, unavailable("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, unavailable("close", path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return 0, unavailable("rename", path, err)
	}

	info, err := os.Stat(full)
	if err != nil {
		return 0, unavailable("stat", path, err)
	}
	return info.Size(), nil
}

func (s *LocalStore) Read(ctx context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read", path, err)
	}
	return data, nil
}

// resolve maps a relative slash path onto the root and refuses anything that
// would land outside it.
func (s *LocalStore) resolve(path string) (string, error) {
	if path == "" || strings.HasPrefix(path, "/") || filepath.IsAbs(path) {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	full := filepath.Join(s.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	return full, nil
}
