package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

// Retention prunes a directory of archives down to the most recent N,
// ordered by the timestamp embedded in the filename. Filesystem mtimes are
// deliberately ignored since copy operations rewrite them.
type Retention struct {
	dir string
}

// NewRetention creates a Retention manager for one archive directory.
func NewRetention(dir string) *Retention {
	return &Retention{dir: dir}
}

type archiveEntry struct {
	name string
	ts   time.Time
}

// Enforce deletes every archive beyond the keep most recent ones, together
// with its metadata sidecar, and returns the removed archive paths. Fewer
// archives than keep is a no-op, not an error.
func (r *Retention) Enforce(keep int) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("retention keep count must be positive, got %d", keep)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("listing archive directory: %w", err)
	}

	var archives []archiveEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ts, _, ok := ParseArchiveName(e.Name()); ok {
			archives = append(archives, archiveEntry{name: e.Name(), ts: ts})
		}
	}

	if len(archives) <= keep {
		return nil, nil
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].ts.After(archives[j].ts)
	})

	var (
		removed []string
		errs    *multierror.Error
	)
	for _, a := range archives[keep:] {
		archivePath := filepath.Join(r.dir, a.name)
		if err := os.Remove(archivePath); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("removing %s: %w", a.name, err))
			continue
		}
		// The sidecar goes with its archive; an orphaned metadata file
		// would show up in listings as a phantom backup.
		metaPath := filepath.Join(r.dir, MetadataName(a.name))
		if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, fmt.Errorf("removing sidecar for %s: %w", a.name, err))
		}
		removed = append(removed, archivePath)
		log.Info().Str("archive", a.name).Msg("Pruned archive beyond retention count")
	}

	return removed, errs.ErrorOrNil()
}
