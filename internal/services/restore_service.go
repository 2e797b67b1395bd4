package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/seralvz/stackvault/internal/backup"
	"github.com/seralvz/stackvault/internal/models"
	"github.com/seralvz/stackvault/internal/portainer"
	"github.com/seralvz/stackvault/internal/restore"
	"github.com/seralvz/stackvault/internal/websocket"
)

// RestoreServiceProvider defines the interface for restore services.
type RestoreServiceProvider interface {
	RestoreArchive(name string) (*models.RestoreReport, error)
}

// RestoreService runs the restore orchestrator against indexed archives.
type RestoreService struct {
	backupService   BackupServiceProvider
	api             portainer.StackAPI
	eventService    EventServiceProvider
	hub             *websocket.Hub
	containers      restore.ContainerManager
	managedNames    []string
	dataRoots       []string
	scratchDir      string
	endpointID      int
	credentialsFile string
	owner           string

	gate *sync.Mutex // shared with BackupService
}

// NewRestoreService creates a new RestoreService.
func NewRestoreService(backupService BackupServiceProvider, api portainer.StackAPI, eventService EventServiceProvider,
	hub *websocket.Hub, containers restore.ContainerManager, managedNames, dataRoots []string,
	scratchDir string, endpointID int, credentialsFile, owner string, gate *sync.Mutex) *RestoreService {

	return &RestoreService{
		backupService:   backupService,
		api:             api,
		eventService:    eventService,
		hub:             hub,
		containers:      containers,
		managedNames:    managedNames,
		dataRoots:       dataRoots,
		scratchDir:      scratchDir,
		endpointID:      endpointID,
		credentialsFile: credentialsFile,
		owner:           owner,
		gate:            gate,
	}
}

// RestoreArchive drives one archive through the full restore sequence. The
// report is returned even when the run failed so callers can distinguish
// "nothing was changed" from "partially changed".
func (s *RestoreService) RestoreArchive(name string) (*models.RestoreReport, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	archive, err := s.backupService.GetArchive(name)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	creds, err := portainer.CredentialsFromFile(s.credentialsFile)
	if err != nil {
		return nil, err
	}
	if _, err := s.api.Authenticate(ctx, creds.Username, creds.Password); err != nil {
		// Fatal before any mutation: the reconciliation step could never
		// succeed without a session.
		s.eventService.CreateEvent("restore.fail", "error", fmt.Sprintf("Restore of '%s' aborted: %v", name, err), &name)
		return nil, err
	}

	s.eventService.CreateEvent("restore.start", "warn", fmt.Sprintf("Restoration from archive '%s' started.", name), &name)
	s.broadcast("restore.started", name)

	orch := restore.New(restore.Options{
		API:               s.api,
		EndpointID:        s.endpointID,
		Validator:         backup.NewValidator(s.dataRoots),
		DataRoots:         s.dataRoots,
		ScratchDir:        s.scratchDir,
		Owner:             s.owner,
		Containers:        s.containers,
		ManagedContainers: s.managedNames,
	})

	report, err := orch.Run(ctx, archive.Path)
	if err != nil {
		level := "error"
		msg := fmt.Sprintf("Restore of '%s' failed in phase %s: %v", name, report.Phase, err)
		if !report.Mutated {
			msg += " (nothing was changed)"
		}
		s.eventService.CreateEvent("restore.fail", level, msg, &name)
		s.broadcast("restore.failed", report)
		return report, err
	}

	msg := fmt.Sprintf("Archive '%s' restored: %d stacks created, %d already present.", name, report.Created, report.Skipped)
	s.eventService.CreateEvent("restore.finish", "info", msg, &name)
	s.broadcast("restore.finished", report)
	return report, nil
}

func (s *RestoreService) broadcast(action string, payload interface{}) {
	if s.hub == nil {
		return
	}
	msg, err := json.Marshal(websocket.Message{Action: action, Payload: payload})
	if err != nil {
		return
	}
	s.hub.Broadcast <- msg
}
