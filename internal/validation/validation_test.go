package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContent(t *testing.T) {
	require.NoError(t, MessageContent("hello"))
	require.NoError(t, MessageContent(strings.Repeat("a", MaxMessageLength)))

	assert.ErrorIs(t, MessageContent(""), ErrValidation)
	assert.ErrorIs(t, MessageContent("   \t\n  "), ErrValidation)
	assert.ErrorIs(t, MessageContent(strings.Repeat("a", MaxMessageLength+1)), ErrValidation)
}

func TestAttachmentValidation(t *testing.T) {
	require.NoError(t, Attachment("report.pdf", "application/pdf", 1024))
	require.NoError(t, Attachment("photo.jpg", "image/jpeg", MaxAttachmentSize))

	assert.ErrorIs(t, Attachment("", "application/pdf", 1024), ErrValidation)
	assert.ErrorIs(t, Attachment(strings.Repeat("x", MaxFilenameLength+1)+".pdf", "application/pdf", 1024), ErrValidation)
	assert.ErrorIs(t, Attachment("virus.exe", "application/x-msdownload", 1024), ErrValidation)
	assert.ErrorIs(t, Attachment("big.pdf", "application/pdf", MaxAttachmentSize+1), ErrValidation)
	assert.ErrorIs(t, Attachment("empty.pdf", "application/pdf", 0), ErrValidation)
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"test file.pdf", "testfile.pdf"},
		{"../../../etc/passwd", "etcpasswd"},
		{"weird<>:\"|?*.txt", "weird.txt"},
		{"...dots...", "dots"},
		{"résumé.pdf", "résumé.pdf"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeFilename(tc.in), "input %q", tc.in)
	}
}

func TestFileContent(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 32))
	require.NoError(t, FileContent(png, "image/png"))

	// Declared PNG but sniffed as plain text.
	assert.ErrorIs(t, FileContent([]byte("just some text"), "image/png"), ErrValidation)

	// Text declarations accept any text/* sniff.
	require.NoError(t, FileContent([]byte("plain notes file"), "text/plain"))
}
