package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveName(t *testing.T) {
	ts := time.Date(2026, 8, 26, 14, 30, 52, 0, time.Local)

	assert.Equal(t, "docker_backup_20260826_143052.tar.gz", ArchiveName(ts, ""))
	assert.Equal(t, "docker_backup_20260826_143052-weekly.tar.gz", ArchiveName(ts, "weekly"))
	// Unsafe characters are stripped from the label, not from the archive.
	assert.Equal(t, "docker_backup_20260826_143052-pre-upgrade.tar.gz", ArchiveName(ts, "pre upgrade!"))
	assert.Equal(t, "docker_backup_20260826_143052.tar.gz", ArchiveName(ts, "///"))
}

func TestMetadataName(t *testing.T) {
	assert.Equal(t, "docker_backup_20260826_143052.metadata",
		MetadataName("docker_backup_20260826_143052.tar.gz"))
	assert.Equal(t, "docker_backup_20260826_143052-weekly.metadata",
		MetadataName("docker_backup_20260826_143052-weekly.tar.gz"))
}

func TestParseArchiveName(t *testing.T) {
	ts, label, ok := ParseArchiveName("docker_backup_20260826_143052-weekly.tar.gz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 26, 14, 30, 52, 0, time.Local), ts)
	assert.Equal(t, "weekly", label)

	ts, label, ok = ParseArchiveName("docker_backup_20260826_143052.tar.gz")
	require.True(t, ok)
	assert.Empty(t, label)
	assert.Equal(t, 2026, ts.Year())

	for _, name := range []string{
		"docker_backup_20260826.tar.gz",
		"docker_backup_20260826_143052.tgz",
		"notes.txt",
		"docker_backup_20260826_143052.metadata",
	} {
		_, _, ok := ParseArchiveName(name)
		assert.False(t, ok, name)
	}
}

func TestEntryName(t *testing.T) {
	assert.Equal(t, "opt/portainer/data", EntryName("/opt/portainer/data"))
	assert.Equal(t, "opt/npm", EntryName("/opt/npm"))
}
