package backup

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/seralvz/stackvault/internal/models"
)

// ErrArchiveCorrupt marks an archive that failed a structural or integrity
// check. Restores abort on it before touching anything.
var ErrArchiveCorrupt = errors.New("archive corrupt")

// ValidationReport is the result of a successful validation pass.
type ValidationReport struct {
	Archive   string                   `json:"archive"`
	Entries   int                      `json:"entries"`
	RecordSet *models.ArchiveRecordSet `json:"recordSet"`
	// Warnings are non-fatal findings, e.g. a declared data root with no
	// entries in the archive.
	Warnings []string `json:"warnings,omitempty"`
}

// Validator checks existing archives. It is used standalone and as the
// mandatory first step of every restore.
type Validator struct {
	// dataRoots are the roots whose presence is checked in the file list.
	dataRoots []string
}

// NewValidator creates a Validator expecting the given data roots.
func NewValidator(dataRoots []string) *Validator {
	return &Validator{dataRoots: dataRoots}
}

// Validate reads the archive stream to completion and checks:
//   - the gzip/tar stream is well formed end to end,
//   - exactly one stack_states.json exists at the archive root,
//   - the record set parses and TotalStacks matches the records present,
//   - stack names are unique,
//   - each declared data-root prefix appears in the file list (warning only;
//     a legitimately empty root is not a failure).
func (v *Validator) Validate(archivePath string) (*ValidationReport, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: not a gzip stream: %v", ErrArchiveCorrupt, err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	var (
		entries        int
		recordSets     int
		recordSetBytes []byte
		seenPrefix     = make(map[string]bool)
	)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: tar stream unreadable after %d entries: %v", ErrArchiveCorrupt, entries, err)
		}
		entries++

		name := strings.TrimPrefix(hdr.Name, "./")
		if name == recordSetFileName {
			recordSets++
			if recordSetBytes, err = io.ReadAll(tr); err != nil {
				return nil, fmt.Errorf("%w: reading %s: %v", ErrArchiveCorrupt, recordSetFileName, err)
			}
			continue
		}

		for _, root := range v.dataRoots {
			if strings.HasPrefix(name, EntryName(root)) {
				seenPrefix[root] = true
			}
		}

		// Drain the entry so stream corruption deeper in the file is
		// still detected.
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return nil, fmt.Errorf("%w: entry %s unreadable: %v", ErrArchiveCorrupt, name, err)
		}
	}

	if recordSets == 0 {
		return nil, fmt.Errorf("%w: no %s at archive root", ErrArchiveCorrupt, recordSetFileName)
	}
	if recordSets > 1 {
		return nil, fmt.Errorf("%w: %d copies of %s found", ErrArchiveCorrupt, recordSets, recordSetFileName)
	}

	var recordSet models.ArchiveRecordSet
	if err := json.Unmarshal(recordSetBytes, &recordSet); err != nil {
		return nil, fmt.Errorf("%w: %s does not parse: %v", ErrArchiveCorrupt, recordSetFileName, err)
	}

	if recordSet.TotalStacks != len(recordSet.Stacks) {
		return nil, fmt.Errorf("%w: total_stacks is %d but %d records present",
			ErrArchiveCorrupt, recordSet.TotalStacks, len(recordSet.Stacks))
	}
	names := make(map[string]bool, len(recordSet.Stacks))
	for _, s := range recordSet.Stacks {
		if names[s.Name] {
			return nil, fmt.Errorf("%w: duplicate stack name %q in record set", ErrArchiveCorrupt, s.Name)
		}
		names[s.Name] = true
	}

	report := &ValidationReport{
		Archive:   archivePath,
		Entries:   entries,
		RecordSet: &recordSet,
	}
	for _, root := range v.dataRoots {
		if !seenPrefix[root] {
			report.Warnings = append(report.Warnings, fmt.Sprintf("data root %s has no entries in the archive", root))
		}
	}
	return report, nil
}
