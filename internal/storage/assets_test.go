package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T, opts Options) *AssetStorage {
	t.Helper()
	opts.BaseDir = t.TempDir()
	s, err := NewAssetStorage(opts)
	require.NoError(t, err)
	return s
}

func TestSaveContentHashDedup(t *testing.T) {
	s := newTestStorage(t, Options{UseContentHash: true, MaxFileSize: 1 << 20})

	content := []byte("the same bytes every time")
	first, err := s.Save(content, "id-1", "page.html", "text/html", "")
	require.NoError(t, err)
	require.NotEmpty(t, first.ContentHash)
	assert.Equal(t, int64(len(content)), first.Size)

	// Tamper with the stored file. If the second save performed a physical
	// write, the tampering would be undone.
	require.NoError(t, os.WriteFile(first.AbsolutePath, []byte("tampered"), 0o644))

	second, err := s.Save(content, "id-2", "other-name.html", "text/html", "")
	require.NoError(t, err)
	assert.Equal(t, first.FilePath, second.FilePath)
	assert.Equal(t, first.ContentHash, second.ContentHash)

	got, err := os.ReadFile(first.AbsolutePath)
	require.NoError(t, err)
	assert.Equal(t, "tampered", string(got), "dedup save must not rewrite the existing file")
}

func TestSaveHashedFilenameShape(t *testing.T) {
	s := newTestStorage(t, Options{UseContentHash: true, MaxFileSize: 1 << 20})

	info, err := s.Save([]byte("abc"), "id", "notes.txt", "text/plain", "")
	require.NoError(t, err)

	base := filepath.Base(info.FilePath)
	require.True(t, strings.HasSuffix(base, ".txt"))
	name := strings.TrimSuffix(base, ".txt")
	assert.Len(t, name, hashPrefixLen)
	assert.True(t, strings.HasPrefix(info.ContentHash, name))
}

func TestSaveOversizeRejectedBeforeIO(t *testing.T) {
	s := newTestStorage(t, Options{UseContentHash: true, MaxFileSize: 10})

	_, err := s.Save(make([]byte, 11), "id", "big.bin", "", "")
	require.ErrorIs(t, err, ErrInvalidData)

	entries, err := os.ReadDir(s.BaseDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected save must not touch the filesystem")
}

func TestSaveNamedAtomicOverwrite(t *testing.T) {
	s := newTestStorage(t, Options{UseContentHash: false, MaxFileSize: 1 << 20})

	first, err := s.Save([]byte("v1"), "doc-7", "Report.pdf", "application/pdf", "")
	require.NoError(t, err)
	assert.Empty(t, first.ContentHash)

	second, err := s.Save([]byte("v2 longer"), "doc-7", "Report.pdf", "application/pdf", "")
	require.NoError(t, err)
	assert.Equal(t, first.FilePath, second.FilePath)

	got, err := os.ReadFile(second.AbsolutePath)
	require.NoError(t, err)
	assert.Equal(t, "v2 longer", string(got))

	// No temp files may survive a completed save.
	entries, err := os.ReadDir(s.BaseDir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "."), "leftover temp file %s", e.Name())
	}
}

func TestSaveNamedUppercaseExtensionNotDuplicated(t *testing.T) {
	s := newTestStorage(t, Options{UseContentHash: false, MaxFileSize: 1 << 20})

	info, err := s.Save([]byte("pdf bytes"), "doc-7", "Report.PDF", "application/pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "doc-7_Report.pdf", info.FilePath)
	assert.NotContains(t, info.FilePath, ".PDF.pdf")
}

func TestSaveOrganizeByType(t *testing.T) {
	s := newTestStorage(t, Options{UseContentHash: true, OrganizeByType: true, MaxFileSize: 1 << 20})

	info, err := s.Save([]byte("tweets"), "id", "list.json", "application/json", "tweet_list")
	require.NoError(t, err)
	assert.Equal(t, "tweet_list", filepath.Dir(info.FilePath))
	_, err = os.Stat(info.AbsolutePath)
	require.NoError(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		`a/b\c:d*e?f"g<h>i|j`:    "a_b_c_d_e_f_g_h_i_j",
		"  spaced   out  ":       "spaced out",
		"...dots...":             "dots",
		"":                       "unnamed",
		"///":                    "unnamed",
		"ctrl\x00\x1fchars":      "ctrl__chars",
		"ok name.txt":            "ok name.txt",
		strings.Repeat("x", 200): strings.Repeat("x", 100),
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func TestSanitizeFilenameProperties(t *testing.T) {
	inputs := []string{
		"normal", "unicode: héllo wörld", "tab\there", "trailing. ", ". leading",
		`C:\Users\someone\Desktop\file?.txt`, strings.Repeat("é", 150),
		"\x01\x02\x03", "mixed / path \\ with * every ? bad \" char < > |",
	}
	for _, in := range inputs {
		out := SanitizeFilename(in)
		assert.NotEmpty(t, out, "input %q", in)
		assert.LessOrEqual(t, len(out), maxFilenameLen, "input %q", in)
		assert.NotContains(t, out, "/", "input %q", in)
		for _, bad := range `\:*?"<>|` {
			assert.NotContains(t, out, string(bad), "input %q", in)
		}
		assert.False(t, strings.HasPrefix(out, "."), "input %q", in)
		assert.False(t, strings.HasSuffix(out, " "), "input %q", in)
	}
}
