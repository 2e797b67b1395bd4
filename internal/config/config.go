package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the application configuration. Every component receives the
// values it needs at construction time; nothing reads this implicitly through
// a package-level variable.
type Config struct {
	ServerPort   int
	DatabasePath string

	// ArchiveDir is where backup archives and their metadata sidecars live.
	ArchiveDir string
	// ScratchDir is where restore runs extract archives before touching
	// live data roots. Defaults to a directory under ArchiveDir so the
	// final move stays on one filesystem where possible.
	ScratchDir string

	// Orchestration manager endpoint.
	PortainerURL        string
	PortainerEndpointID int
	CredentialsFile     string
	TLSSkipVerify       bool

	// Managed data roots.
	PortainerDataDir string
	ProxyDataDir     string
	// CustomStackRoot is a parent directory whose immediate children are
	// treated as additional data roots (one per custom stack).
	CustomStackRoot string

	// ManagedContainers are stopped before data placement during restore
	// and started again afterwards, when a Docker socket is reachable.
	ManagedContainers []string

	RetentionCount int

	// ServiceUser is the non-privileged account that owns archives after
	// creation. Empty means ownership is left alone (useful in tests and
	// when not running as root).
	ServiceUser string

	JWTSecret string
}

// Load loads configuration from environment variables or sets defaults.
func Load() (*Config, error) {
	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	endpointStr := getEnv("PORTAINER_ENDPOINT_ID", "1")
	endpointID, err := strconv.Atoi(endpointStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PORTAINER_ENDPOINT_ID: %w", err)
	}

	keepStr := getEnv("RETENTION_COUNT", "7")
	keep, err := strconv.Atoi(keepStr)
	if err != nil || keep < 1 {
		return nil, fmt.Errorf("invalid RETENTION_COUNT %q", keepStr)
	}

	archiveDir := getEnv("ARCHIVE_DIR", "/opt/backups")

	cfg := &Config{
		ServerPort:          port,
		DatabasePath:        getEnv("DATABASE_PATH", "./stackvault.db"),
		ArchiveDir:          archiveDir,
		ScratchDir:          getEnv("SCRATCH_DIR", filepath.Join(archiveDir, ".restore")),
		PortainerURL:        getEnv("PORTAINER_URL", "https://localhost:9443"),
		PortainerEndpointID: endpointID,
		CredentialsFile:     getEnv("CREDENTIALS_FILE", "/etc/stackvault/credentials.json"),
		TLSSkipVerify:       getEnv("TLS_SKIP_VERIFY", "false") == "true",
		PortainerDataDir:    getEnv("PORTAINER_DATA_DIR", "/opt/portainer"),
		ProxyDataDir:        getEnv("PROXY_DATA_DIR", "/opt/npm"),
		CustomStackRoot:     getEnv("CUSTOM_STACK_ROOT", ""),
		RetentionCount:      keep,
		ServiceUser:         getEnv("SERVICE_USER", ""),
		JWTSecret:           getEnv("JWT_SECRET", ""),
	}

	containers := getEnv("MANAGED_CONTAINERS", "portainer,npm")
	for _, name := range strings.Split(containers, ",") {
		if name = strings.TrimSpace(name); name != "" {
			cfg.ManagedContainers = append(cfg.ManagedContainers, name)
		}
	}

	return cfg, nil
}

// DataRoots returns the absolute paths included in every archive: the manager
// data directory, the reverse-proxy data directory, and one root per child of
// CustomStackRoot. Only paths inside this list are ever archived or replaced.
func (c *Config) DataRoots() ([]string, error) {
	roots := []string{c.PortainerDataDir, c.ProxyDataDir}
	if c.CustomStackRoot == "" {
		return roots, nil
	}
	entries, err := os.ReadDir(c.CustomStackRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return roots, nil
		}
		return nil, fmt.Errorf("scanning custom stack root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			roots = append(roots, filepath.Join(c.CustomStackRoot, e.Name()))
		}
	}
	return roots, nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
