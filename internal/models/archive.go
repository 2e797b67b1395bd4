package models

import "time"

// ArchiveInfo is the indexed view of one backup archive on disk.
type ArchiveInfo struct {
	Name       string    `json:"name"`
	Path       string    `json:"-"` // Internal use, not exposed to client
	Label      string    `json:"label,omitempty"`
	Size       int64     `json:"size"`
	StackCount int       `json:"stackCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ArchiveMetadata is the sidecar document written next to every archive so
// listings do not have to open the tarball.
type ArchiveMetadata struct {
	Timestamp     string   `json:"timestamp"` // "YYYY-MM-DD HH:MM:SS"
	Hostname      string   `json:"hostname"`
	BackupPath    string   `json:"backup_path"`
	PortainerPath string   `json:"portainer_path"`
	NPMPath       string   `json:"npm_path"`
	BackupSize    int64    `json:"backup_size"`
	Stacks        []string `json:"stacks"`
}
