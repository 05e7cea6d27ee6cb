package logstore

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawdesk/clawdesk/internal/paths"
)

func newTestStore(t *testing.T) (*Store, paths.Paths) {
	t.Helper()
	base := paths.New(t.TempDir(), "")
	require.NoError(t, base.EnsureDirs())
	return New(base), base
}

func writeLog(t *testing.T, base paths.Paths, name, content string) string {
	t.Helper()
	path := filepath.Join(base.LogsDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestListNewestFirst(t *testing.T) {
	store, base := newTestStore(t)
	oldPath := writeLog(t, base, "clawdesk.log", "old")
	require.NoError(t, os.Chtimes(oldPath, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))
	writeLog(t, base, "openclaw-stdout.log", "new")

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "openclaw-stdout.log", entries[0].Name)
	assert.Equal(t, "clawdesk.log", entries[1].Name)
}

func TestReadTail(t *testing.T) {
	store, base := newTestStore(t)
	var content string
	for i := 1; i <= 10; i++ {
		content += fmt.Sprintf("line %d\n", i)
	}
	writeLog(t, base, "clawdesk.log", content)

	lines, err := store.Read("clawdesk.log", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"line 8", "line 9", "line 10"}, lines)

	// zero means the default bound, which exceeds the file here
	lines, err = store.Read("clawdesk.log", 0)
	require.NoError(t, err)
	assert.Len(t, lines, 10)
}

func TestReadRejectsPathTraversal(t *testing.T) {
	store, _ := newTestStore(t)
	for _, name := range []string{"../secret.log", `..\secret.log`, "sub/inner.log", ""} {
		_, err := store.Read(name, 10)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestReadMissingFile(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Read("absent.log", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestExport(t *testing.T) {
	store, base := newTestStore(t)
	writeLog(t, base, "clawdesk.log", "content\n")
	destDir := t.TempDir()

	dest, err := store.Export("clawdesk.log", destDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "clawdesk.log"), dest)

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "content\n", string(raw))
}

func TestExportExpandsEnvReferences(t *testing.T) {
	store, base := newTestStore(t)
	writeLog(t, base, "clawdesk.log", "content\n")
	destDir := t.TempDir()
	t.Setenv("CLAWDESK_EXPORT_DIR", destDir)

	dest, err := store.Export("clawdesk.log", filepath.Join("%CLAWDESK_EXPORT_DIR%", "out.log"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "out.log"), dest)
	assert.FileExists(t, dest)
}
