package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects under a directory served by the HTTP server at
// /uploads.
type LocalStore struct {
	root    string
	baseURL string
}

func NewLocalStore(root, publicBaseURL string) *LocalStore {
	return &LocalStore{root: root, baseURL: strings.TrimRight(publicBaseURL, "/")}
}

func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, _ string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	file, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(full)
		return fmt.Errorf("write file: %w", err)
	}
	return file.Close()
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (s *LocalStore) URL(key string) string {
	return s.baseURL + "/uploads/" + key
}
