package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/seralvz/stackvault/internal/backup"
	"github.com/seralvz/stackvault/internal/models"
	"github.com/seralvz/stackvault/internal/portainer"
	"github.com/seralvz/stackvault/internal/websocket"
)

// BackupServiceProvider defines the interface for backup services.
type BackupServiceProvider interface {
	CreateBackup(label string) (models.ArchiveInfo, error)
	ListArchives() ([]models.ArchiveInfo, error)
	GetArchive(name string) (models.ArchiveInfo, error)
	DeleteArchive(name string) error
	ValidateArchive(name string) (*backup.ValidationReport, error)
	EnforceRetention() ([]string, error)
	ListLiveStacks(ctx context.Context) ([]models.StackRecord, error)
	DeleteLiveStack(ctx context.Context, id int64) error
}

// BackupService ties the capture and archive machinery to the credentials
// file, the archive index and the audit trail.
type BackupService struct {
	db           *sql.DB
	api          portainer.StackAPI
	eventService EventServiceProvider
	hub          *websocket.Hub

	archiveDir      string
	dataRoots       []string
	endpointID      int
	credentialsFile string
	retentionCount  int
	owner           string

	// gate serializes backups and restores within this process. It is
	// shared with RestoreService; cross-process exclusivity remains an
	// operational concern.
	gate *sync.Mutex
}

// NewBackupService creates a new BackupService.
func NewBackupService(db *sql.DB, api portainer.StackAPI, eventService EventServiceProvider, hub *websocket.Hub,
	archiveDir string, dataRoots []string, endpointID int, credentialsFile string, retentionCount int, owner string,
	gate *sync.Mutex) *BackupService {

	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		log.Error().Err(err).Str("dir", archiveDir).Msg("Failed to create archive directory")
	}
	return &BackupService{
		db:              db,
		api:             api,
		eventService:    eventService,
		hub:             hub,
		archiveDir:      archiveDir,
		dataRoots:       dataRoots,
		endpointID:      endpointID,
		credentialsFile: credentialsFile,
		retentionCount:  retentionCount,
		owner:           owner,
		gate:            gate,
	}
}

func (s *BackupService) authenticate(ctx context.Context) error {
	creds, err := portainer.CredentialsFromFile(s.credentialsFile)
	if err != nil {
		return err
	}
	if _, err := s.api.Authenticate(ctx, creds.Username, creds.Password); err != nil {
		return err
	}
	return nil
}

// CreateBackup captures the live stacks and builds one archive. Capture
// aborts on authentication failure; a stack with missing manifest content is
// recorded as a warning, not a failure. Retention is enforced after every
// successful build.
func (s *BackupService) CreateBackup(label string) (models.ArchiveInfo, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	ctx := context.Background()
	s.broadcast("backup.started", label)

	if err := s.authenticate(ctx); err != nil {
		s.eventService.CreateEvent("backup.create.fail", "error", fmt.Sprintf("Backup aborted: %v", err), nil)
		return models.ArchiveInfo{}, fmt.Errorf("authenticating against orchestration manager: %w", err)
	}

	capturer := backup.NewCapturer(s.api, s.endpointID)
	recordSet, warnings, err := capturer.Capture(ctx)
	if err != nil {
		s.eventService.CreateEvent("backup.create.fail", "error", fmt.Sprintf("Stack capture failed: %v", err), nil)
		return models.ArchiveInfo{}, err
	}
	for _, w := range warnings {
		s.eventService.CreateEvent("backup.capture.warning", "warn", w, nil)
	}

	builder := backup.NewBuilder(s.archiveDir, s.dataRoots, s.owner)
	info, err := builder.Build(recordSet, label)
	if err != nil {
		s.eventService.CreateEvent("backup.create.fail", "error", fmt.Sprintf("Archive build failed: %v", err), nil)
		return models.ArchiveInfo{}, err
	}

	if err := s.indexArchive(info); err != nil {
		log.Warn().Err(err).Str("archive", info.Name).Msg("Failed to index archive")
	}

	msg := fmt.Sprintf("Archive '%s' created with %d stacks (%d bytes).", info.Name, info.StackCount, info.Size)
	s.eventService.CreateEvent("backup.create", "info", msg, &info.Name)
	s.broadcast("backup.finished", info)

	if removed, err := s.enforceRetentionLocked(); err != nil {
		log.Warn().Err(err).Msg("Retention enforcement after backup failed")
	} else if len(removed) > 0 {
		log.Info().Int("removed", len(removed)).Msg("Retention pruned old archives")
	}

	return info, nil
}

func (s *BackupService) indexArchive(info models.ArchiveInfo) error {
	_, err := s.db.Exec(
		"INSERT INTO archives (name, path, label, size, stack_count, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		info.Name, info.Path, info.Label, info.Size, info.StackCount, info.CreatedAt)
	return err
}

// ListArchives returns the indexed archives, newest first.
func (s *BackupService) ListArchives() ([]models.ArchiveInfo, error) {
	rows, err := s.db.Query("SELECT name, path, label, size, stack_count, created_at FROM archives ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var archives []models.ArchiveInfo
	for rows.Next() {
		var a models.ArchiveInfo
		var label sql.NullString
		if err := rows.Scan(&a.Name, &a.Path, &label, &a.Size, &a.StackCount, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Label = label.String
		archives = append(archives, a)
	}
	return archives, rows.Err()
}

// GetArchive retrieves a single archive by filename.
func (s *BackupService) GetArchive(name string) (models.ArchiveInfo, error) {
	var a models.ArchiveInfo
	var label sql.NullString
	row := s.db.QueryRow("SELECT name, path, label, size, stack_count, created_at FROM archives WHERE name = ?", name)
	if err := row.Scan(&a.Name, &a.Path, &label, &a.Size, &a.StackCount, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return models.ArchiveInfo{}, fmt.Errorf("archive %s not found", name)
		}
		return models.ArchiveInfo{}, err
	}
	a.Label = label.String
	return a, nil
}

// DeleteArchive removes one archive, its sidecar and its index row.
func (s *BackupService) DeleteArchive(name string) error {
	archive, err := s.GetArchive(name)
	if err != nil {
		return err
	}
	if err := os.Remove(archive.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing archive file: %w", err)
	}
	metaPath := filepath.Join(filepath.Dir(archive.Path), backup.MetadataName(archive.Name))
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("archive", name).Msg("Could not remove metadata sidecar")
	}

	if _, err := s.db.Exec("DELETE FROM archives WHERE name = ?", name); err != nil {
		return err
	}
	s.eventService.CreateEvent("backup.delete", "warn", fmt.Sprintf("Archive '%s' was deleted.", name), &name)
	return nil
}

// ValidateArchive runs the standalone integrity check against one archive.
func (s *BackupService) ValidateArchive(name string) (*backup.ValidationReport, error) {
	archive, err := s.GetArchive(name)
	if err != nil {
		return nil, err
	}
	report, err := backup.NewValidator(s.dataRoots).Validate(archive.Path)
	if err != nil {
		s.eventService.CreateEvent("backup.validate.fail", "error", fmt.Sprintf("Archive '%s' failed validation: %v", name, err), &name)
		return nil, err
	}
	return report, nil
}

// EnforceRetention prunes the archive directory down to the configured count.
func (s *BackupService) EnforceRetention() ([]string, error) {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.enforceRetentionLocked()
}

func (s *BackupService) enforceRetentionLocked() ([]string, error) {
	removed, err := backup.NewRetention(s.archiveDir).Enforce(s.retentionCount)
	if err != nil {
		return removed, err
	}
	for _, path := range removed {
		if _, dbErr := s.db.Exec("DELETE FROM archives WHERE path = ?", path); dbErr != nil {
			log.Warn().Err(dbErr).Str("path", path).Msg("Could not drop index row for pruned archive")
		}
	}
	if len(removed) > 0 {
		msg := fmt.Sprintf("Retention removed %d archives beyond the %d most recent.", len(removed), s.retentionCount)
		s.eventService.CreateEvent("retention.enforce", "info", msg, nil)
	}
	return removed, nil
}

// ListLiveStacks enumerates the stacks currently on the orchestration endpoint.
func (s *BackupService) ListLiveStacks(ctx context.Context) ([]models.StackRecord, error) {
	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}
	return s.api.ListStacks(ctx, s.endpointID)
}

// DeleteLiveStack removes one stack from the orchestration endpoint.
func (s *BackupService) DeleteLiveStack(ctx context.Context, id int64) error {
	if err := s.authenticate(ctx); err != nil {
		return err
	}
	if err := s.api.DeleteStack(ctx, id, s.endpointID); err != nil {
		return err
	}
	s.eventService.CreateEvent("stack.delete", "warn", fmt.Sprintf("Stack %d was deleted from the endpoint.", id), nil)
	return nil
}

func (s *BackupService) broadcast(action string, payload interface{}) {
	if s.hub == nil {
		return
	}
	msg, err := json.Marshal(websocket.Message{Action: action, Payload: payload})
	if err != nil {
		return
	}
	s.hub.Broadcast <- msg
}
