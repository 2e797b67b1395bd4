package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "/opt/backups", cfg.ArchiveDir)
	assert.Equal(t, filepath.Join("/opt/backups", ".restore"), cfg.ScratchDir)
	assert.Equal(t, 1, cfg.PortainerEndpointID)
	assert.Equal(t, 7, cfg.RetentionCount)
	assert.Equal(t, []string{"portainer", "npm"}, cfg.ManagedContainers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("RETENTION_COUNT", "3")
	t.Setenv("MANAGED_CONTAINERS", "portainer, npm , traefik")
	t.Setenv("TLS_SKIP_VERIFY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.ServerPort)
	assert.Equal(t, 3, cfg.RetentionCount)
	assert.Equal(t, []string{"portainer", "npm", "traefik"}, cfg.ManagedContainers)
	assert.True(t, cfg.TLSSkipVerify)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveRetention(t *testing.T) {
	t.Setenv("RETENTION_COUNT", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestDataRoots(t *testing.T) {
	custom := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(custom, "gitea"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(custom, "grafana"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(custom, "README"), []byte("not a root"), 0644))

	cfg := &Config{
		PortainerDataDir: "/opt/portainer",
		ProxyDataDir:     "/opt/npm",
		CustomStackRoot:  custom,
	}

	roots, err := cfg.DataRoots()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/opt/portainer",
		"/opt/npm",
		filepath.Join(custom, "gitea"),
		filepath.Join(custom, "grafana"),
	}, roots)
}

func TestDataRoots_NoCustomRoot(t *testing.T) {
	cfg := &Config{PortainerDataDir: "/opt/portainer", ProxyDataDir: "/opt/npm"}

	roots, err := cfg.DataRoots()
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/portainer", "/opt/npm"}, roots)

	cfg.CustomStackRoot = filepath.Join(t.TempDir(), "never-created")
	roots, err = cfg.DataRoots()
	require.NoError(t, err)
	assert.Len(t, roots, 2)
}
