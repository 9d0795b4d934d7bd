package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// AttachmentWriter persists attachment bytes. Callers must only record
// metadata for a file after Write returns, so metadata can never point at
// bytes that were not durably written.
type AttachmentWriter interface {
	Write(ctx context.Context, filename string, data []byte) (path string, err error)
	Open(ctx context.Context, filename string) ([]byte, error)
}

// DiskWriter stores attachments under a single directory. Filenames are
// expected to be sanitized by the caller; the writer still refuses anything
// that escapes its root.
type DiskWriter struct {
	root string
}

// NewDiskWriter ensures the attachment directory exists.
func NewDiskWriter(root string) (*DiskWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}
	return &DiskWriter{root: root}, nil
}

func (w *DiskWriter) Write(_ context.Context, filename string, data []byte) (string, error) {
	path, err := w.resolve(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return filepath.Join("attachments", filename), nil
}

func (w *DiskWriter) Open(_ context.Context, filename string) ([]byte, error) {
	path, err := w.resolve(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return data, nil
}

func (w *DiskWriter) resolve(filename string) (string, error) {
	path := filepath.Join(w.root, filepath.Base(filename))
	if filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid attachment filename %q", filename)
	}
	return path, nil
}
