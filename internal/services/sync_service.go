package services

import (
	"fmt"

	"github.com/seralvz/stackvault/internal/syncgen"
)

// SyncServiceProvider defines the interface for sync-client generation.
type SyncServiceProvider interface {
	GenerateSyncClient(primaryHost, loginUser, remoteDir, scriptName string, keep int) (string, error)
}

// SyncService generates pull-sync clients for remote archive copies.
type SyncService struct {
	archiveDir   string
	outputDir    string
	eventService EventServiceProvider
}

// NewSyncService creates a new SyncService. Generated scripts are written to
// outputDir for the operator to hand to the remote host.
func NewSyncService(archiveDir, outputDir string, eventService EventServiceProvider) *SyncService {
	return &SyncService{archiveDir: archiveDir, outputDir: outputDir, eventService: eventService}
}

// GenerateSyncClient creates a fresh key pair, authorizes it for the login
// account on this host and emits the self-contained pull script.
func (s *SyncService) GenerateSyncClient(primaryHost, loginUser, remoteDir, scriptName string, keep int) (string, error) {
	path, err := syncgen.Generate(syncgen.Options{
		PrimaryHost: primaryHost,
		LoginUser:   loginUser,
		ArchiveDir:  s.archiveDir,
		RemoteDir:   remoteDir,
		ScriptName:  scriptName,
		Keep:        keep,
		OutputDir:   s.outputDir,
	})
	if err != nil {
		s.eventService.CreateEvent("sync.generate.fail", "error", fmt.Sprintf("Sync client generation failed: %v", err), nil)
		return "", err
	}
	msg := fmt.Sprintf("Sync client '%s' generated for %s@%s.", scriptName, loginUser, primaryHost)
	s.eventService.CreateEvent("sync.generate", "info", msg, nil)
	return path, nil
}
