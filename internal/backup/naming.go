package backup

import (
	"regexp"
	"strings"
	"time"
)

// Archive filename convention: docker_backup_<YYYYMMDD>_<HHMMSS>[-<label>].tar.gz
// with a sidecar of the same base name and a .metadata extension.
const (
	archiveTimeLayout = "20060102_150405"
	archiveSuffix     = ".tar.gz"
	metadataSuffix    = ".metadata"
	recordSetFileName = "stack_states.json"
)

var archiveNamePattern = regexp.MustCompile(`^docker_backup_(\d{8}_\d{6})(?:-([A-Za-z0-9_.-]+))?\.tar\.gz$`)

// ArchiveName builds the archive filename for a capture time and an optional
// label. Characters outside the filename-safe set are stripped from the label.
func ArchiveName(t time.Time, label string) string {
	name := "docker_backup_" + t.Format(archiveTimeLayout)
	if label = sanitizeLabel(label); label != "" {
		name += "-" + label
	}
	return name + archiveSuffix
}

// MetadataName returns the sidecar filename for an archive filename.
func MetadataName(archiveName string) string {
	return strings.TrimSuffix(archiveName, archiveSuffix) + metadataSuffix
}

// ParseArchiveName extracts the embedded timestamp and label from an archive
// filename. ok is false for files that do not follow the convention.
func ParseArchiveName(name string) (ts time.Time, label string, ok bool) {
	m := archiveNamePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, "", false
	}
	ts, err := time.ParseInLocation(archiveTimeLayout, m[1], time.Local)
	if err != nil {
		return time.Time{}, "", false
	}
	return ts, m[2], true
}

var labelStrip = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

func sanitizeLabel(label string) string {
	return strings.Trim(labelStrip.ReplaceAllString(label, "-"), "-")
}

// EntryName maps an absolute data-root path onto its archive entry name,
// e.g. /opt/portainer/data -> opt/portainer/data.
func EntryName(absPath string) string {
	return strings.TrimPrefix(strings.ReplaceAll(absPath, "\\", "/"), "/")
}
