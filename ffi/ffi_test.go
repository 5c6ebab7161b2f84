package ffi

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/carx/internal/testutil"
)

// writeArchive writes a CAR holding docs/readme.txt and notes.md and
// returns its path and root.
func writeArchive(t *testing.T) (string, cid.Cid) {
	t.Helper()
	readme := testutil.FileLeaf(t, []byte("read me"))
	notes := testutil.FileLeaf(t, []byte("# notes"))
	docs := testutil.Dir(t, testutil.NamedLink("readme.txt", readme))
	root := testutil.Dir(t, testutil.NamedLink("docs", docs), testutil.NamedLink("notes.md", notes))

	path := filepath.Join(t.TempDir(), "archive.car")
	data := testutil.CARv1(t, []cid.Cid{root.CID}, root, docs, readme, notes)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, root.CID
}

// captureLogs routes ffi logs to a buffer for the duration of the test.
// Tests using it must not run in parallel.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := logger.Load()
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { logger.Store(prev) })
	return &buf
}

func TestExtractAllCar(t *testing.T) {
	captureLogs(t)
	carPath, _ := writeArchive(t)
	out := t.TempDir()

	require.True(t, ExtractAllCar(carPath, out))

	got, err := os.ReadFile(filepath.Join(out, "docs", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "read me", string(got))
	got, err = os.ReadFile(filepath.Join(out, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "# notes", string(got))
}

func TestExtractFileCar(t *testing.T) {
	captureLogs(t)
	carPath, _ := writeArchive(t)
	out := t.TempDir()

	require.True(t, ExtractFileCar(carPath, ".md", out))

	_, err := os.Stat(filepath.Join(out, "notes.md"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "docs"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractVerifiedByCIDFromCar(t *testing.T) {
	logs := captureLogs(t)
	carPath, root := writeArchive(t)

	out := t.TempDir()
	require.True(t, ExtractVerifiedByCIDFromCar(carPath, root.String(), out))
	_, err := os.Stat(filepath.Join(out, "notes.md"))
	require.NoError(t, err)

	other := testutil.FileLeaf(t, []byte("other")).CID
	empty := t.TempDir()
	assert.False(t, ExtractVerifiedByCIDFromCar(carPath, other.String(), empty))
	entries, err := os.ReadDir(empty)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Contains(t, logs.String(), "root mismatch")

	assert.False(t, ExtractVerifiedByCIDFromCar(carPath, "not-a-cid", t.TempDir()))
	assert.Contains(t, logs.String(), "not-a-cid")
}

func TestFailuresReturnFalse(t *testing.T) {
	logs := captureLogs(t)
	missing := filepath.Join(t.TempDir(), "missing.car")

	assert.False(t, ExtractAllCar(missing, t.TempDir()))
	assert.False(t, ExtractFileCar(missing, ".md", t.TempDir()))
	assert.Contains(t, logs.String(), "extraction failed")
	assert.Contains(t, logs.String(), "op=extract_all_car")
}

func TestSetLoggerNil(t *testing.T) {
	prev := logger.Load()
	t.Cleanup(func() { logger.Store(prev) })

	SetLogger(nil)
	assert.False(t, ExtractAllCar(filepath.Join(t.TempDir(), "missing.car"), t.TempDir()))
}
