package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedArchives(t *testing.T, dir string, days ...int) []string {
	t.Helper()
	var names []string
	for _, d := range days {
		name := fmt.Sprintf("docker_backup_202601%02d_030000.tar.gz", d)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("archive"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataName(name)), []byte("{}"), 0644))
		names = append(names, name)
	}
	return names
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestEnforce(t *testing.T) {
	dir := t.TempDir()
	seedArchives(t, dir, 1, 2, 3, 4, 5)

	removed, err := NewRetention(dir).Enforce(3)
	require.NoError(t, err)

	// The two oldest go, each together with its sidecar.
	require.Len(t, removed, 2)
	assert.Contains(t, removed, filepath.Join(dir, "docker_backup_20260101_030000.tar.gz"))
	assert.Contains(t, removed, filepath.Join(dir, "docker_backup_20260102_030000.tar.gz"))

	assert.Equal(t, []string{
		"docker_backup_20260103_030000.metadata",
		"docker_backup_20260103_030000.tar.gz",
		"docker_backup_20260104_030000.metadata",
		"docker_backup_20260104_030000.tar.gz",
		"docker_backup_20260105_030000.metadata",
		"docker_backup_20260105_030000.tar.gz",
	}, listDir(t, dir))
}

func TestEnforce_UnderCountIsNoOp(t *testing.T) {
	dir := t.TempDir()
	seedArchives(t, dir, 1, 2)

	removed, err := NewRetention(dir).Enforce(3)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Len(t, listDir(t, dir), 4)
}

func TestEnforce_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	seedArchives(t, dir, 1, 2, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep me"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup.tar.gz"), []byte("foreign"), 0644))

	removed, err := NewRetention(dir).Enforce(1)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	remaining := listDir(t, dir)
	assert.Contains(t, remaining, "notes.txt")
	assert.Contains(t, remaining, "backup.tar.gz")
	assert.Contains(t, remaining, "docker_backup_20260103_030000.tar.gz")
}

func TestEnforce_RejectsNonPositiveKeep(t *testing.T) {
	_, err := NewRetention(t.TempDir()).Enforce(0)
	assert.Error(t, err)
}
