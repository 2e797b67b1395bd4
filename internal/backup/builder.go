package backup

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/seralvz/stackvault/internal/models"
)

// ErrInsufficientSpace is returned when the archive directory's filesystem
// cannot hold the estimated archive size.
var ErrInsufficientSpace = errors.New("insufficient free space for archive")

// Builder combines a captured record set with filesystem copies of the
// managed data roots into one gzip-compressed tar archive. Archives are
// all-or-nothing: the file is written under a temporary name and renamed into
// place only after every entry was added successfully.
type Builder struct {
	archiveDir string
	dataRoots  []string
	// owner is the non-privileged account that takes ownership of the
	// archive and its sidecar after creation. Empty leaves ownership alone.
	owner string
}

// NewBuilder creates a Builder writing into archiveDir. Only paths inside
// dataRoots are ever added to an archive.
func NewBuilder(archiveDir string, dataRoots []string, owner string) *Builder {
	return &Builder{archiveDir: archiveDir, dataRoots: dataRoots, owner: owner}
}

// Build writes one archive plus its metadata sidecar and returns the index
// entry for it. label may be empty.
func (b *Builder) Build(recordSet *models.ArchiveRecordSet, label string) (models.ArchiveInfo, error) {
	now := time.Now()
	name := ArchiveName(now, label)
	finalPath := filepath.Join(b.archiveDir, name)
	tmpPath := finalPath + ".partial"

	if err := b.preflightSpace(); err != nil {
		return models.ArchiveInfo{}, err
	}

	if err := b.writeArchive(tmpPath, recordSet); err != nil {
		// Never leave a truncated archive behind.
		os.Remove(tmpPath)
		return models.ArchiveInfo{}, err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return models.ArchiveInfo{}, fmt.Errorf("moving archive into place: %w", err)
	}

	fi, err := os.Stat(finalPath)
	if err != nil {
		return models.ArchiveInfo{}, fmt.Errorf("could not stat finished archive: %w", err)
	}

	metaPath := filepath.Join(b.archiveDir, MetadataName(name))
	if err := b.writeMetadata(metaPath, finalPath, now, fi.Size(), recordSet); err != nil {
		// The sidecar is a listing convenience; the archive itself is
		// intact, so log and carry on.
		log.Warn().Err(err).Str("archive", name).Msg("Failed to write metadata sidecar")
	}

	if err := b.transferOwnership(finalPath, metaPath); err != nil {
		log.Warn().Err(err).Str("archive", name).Msg("Failed to transfer archive ownership")
	}

	return models.ArchiveInfo{
		Name:       name,
		Path:       finalPath,
		Label:      sanitizeLabel(label),
		Size:       fi.Size(),
		StackCount: recordSet.TotalStacks,
		CreatedAt:  now,
	}, nil
}

// preflightSpace compares the free space on the archive filesystem against
// the (uncompressed) size of the data roots. Compression only shrinks the
// result, so this errs on the safe side.
func (b *Builder) preflightSpace() error {
	var needed uint64
	for _, root := range b.dataRoots {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.Mode().IsRegular() {
				needed += uint64(info.Size())
			}
			return nil
		})
		// A missing root is handled during the archive walk; anything else
		// means the estimate undercounts.
		if err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("root", root).Msg("Could not fully size data root for space preflight")
		}
	}

	usage, err := disk.Usage(b.archiveDir)
	if err != nil {
		return fmt.Errorf("checking free space on %s: %w", b.archiveDir, err)
	}
	if usage.Free < needed {
		return fmt.Errorf("%w: need %d bytes, %d free on %s", ErrInsufficientSpace, needed, usage.Free, b.archiveDir)
	}
	return nil
}

// writeArchive streams the record set followed by every data root into a
// gzip/tar file at path. Any failure aborts the whole write.
func (b *Builder) writeArchive(path string, recordSet *models.ArchiveRecordSet) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	defer f.Close()

	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)

	// The record set goes in first so integrity checks can find it without
	// scanning the whole stream.
	if err := b.addRecordSet(tw, recordSet); err != nil {
		return err
	}

	for _, root := range b.dataRoots {
		if err := b.addDataRoot(tw, root); err != nil {
			return fmt.Errorf("archiving %s: %w", root, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing tar stream: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("finalizing gzip stream: %w", err)
	}
	return f.Close()
}

func (b *Builder) addRecordSet(tw *tar.Writer, recordSet *models.ArchiveRecordSet) error {
	data, err := json.MarshalIndent(recordSet, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding stack record set: %w", err)
	}
	hdr := &tar.Header{
		Name:    recordSetFileName,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = tw.Write(data)
	return err
}

// addDataRoot walks one data root recursively, preserving permissions,
// ownership and empty directories. A missing root is not an error; it simply
// contributes nothing (e.g. no custom stacks deployed yet).
func (b *Builder) addDataRoot(tw *tar.Writer, root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		log.Warn().Str("root", root).Msg("Data root does not exist, skipping")
		return nil
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			// Sockets, devices and pipes have no place in a backup.
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = EntryName(path)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			hdr.Uid = int(st.Uid)
			hdr.Gid = int(st.Gid)
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}

func (b *Builder) writeMetadata(metaPath, archivePath string, ts time.Time, size int64, recordSet *models.ArchiveRecordSet) error {
	hostname := "unknown"
	if info, err := host.Info(); err == nil {
		hostname = info.Hostname
	}

	meta := models.ArchiveMetadata{
		Timestamp:  ts.Format("2006-01-02 15:04:05"),
		Hostname:   hostname,
		BackupPath: archivePath,
		BackupSize: size,
	}
	if len(b.dataRoots) > 0 {
		meta.PortainerPath = b.dataRoots[0]
	}
	if len(b.dataRoots) > 1 {
		meta.NPMPath = b.dataRoots[1]
	}
	for _, s := range recordSet.Stacks {
		meta.Stacks = append(meta.Stacks, s.Name)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, data, 0644)
}

// transferOwnership chowns the archive and sidecar to the configured service
// account. The builder may run with elevated privileges to read protected
// data roots; the finished files belong to the operating account.
func (b *Builder) transferOwnership(paths ...string) error {
	if b.owner == "" {
		return nil
	}
	uid, gid, err := lookupUser(b.owner)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := os.Chown(p, uid, gid); err != nil {
			return fmt.Errorf("chown %s: %w", p, err)
		}
	}
	return nil
}

func lookupUser(name string) (uid, gid int, err error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, fmt.Errorf("looking up user %s: %w", name, err)
	}
	if uid, err = strconv.Atoi(u.Uid); err != nil {
		return 0, 0, err
	}
	if gid, err = strconv.Atoi(u.Gid); err != nil {
		return 0, 0, err
	}
	return uid, gid, nil
}
