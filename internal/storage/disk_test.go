package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndOpenRoundTrip(t *testing.T) {
	w, err := NewDiskWriter(t.TempDir())
	require.NoError(t, err)

	path, err := w.Write(context.Background(), "abc123_report.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("attachments", "abc123_report.pdf"), path)

	data, err := w.Open(context.Background(), "abc123_report.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)
}

func TestRejectsPathTraversal(t *testing.T) {
	w, err := NewDiskWriter(t.TempDir())
	require.NoError(t, err)

	_, err = w.Write(context.Background(), "../escape.txt", []byte("x"))
	assert.Error(t, err)

	_, err = w.Open(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	w, err := NewDiskWriter(t.TempDir())
	require.NoError(t, err)

	_, err = w.Open(context.Background(), "nothing.pdf")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
