package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seralvz/stackvault/internal/models"
	"github.com/seralvz/stackvault/internal/portainer"
)

// CaptureVersion is stamped into every record set so restores can tell which
// tool release produced an archive.
const CaptureVersion = "1.2.0"

// Capturer snapshots the live stack definitions of one orchestration endpoint
// into an ArchiveRecordSet.
type Capturer struct {
	api        portainer.StackAPI
	endpointID int
}

// NewCapturer creates a Capturer for an already-authenticated client.
func NewCapturer(api portainer.StackAPI, endpointID int) *Capturer {
	return &Capturer{api: api, endpointID: endpointID}
}

// Capture enumerates the endpoint's stacks and freezes them into a record
// set. Manifest content is kept exactly as the manager stores it (enveloped
// or plain); unwrapping is a restore-time concern so captures round-trip the
// manager's native format.
//
// A stack whose manifest could not be fetched is kept in the record set with
// ManifestMissing set and reported in the returned warnings rather than being
// silently dropped. TotalStacks counts the records actually collected.
func (c *Capturer) Capture(ctx context.Context) (*models.ArchiveRecordSet, []string, error) {
	stacks, err := c.api.ListStacks(ctx, c.endpointID)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerating stacks: %w", err)
	}

	var warnings []string
	for _, s := range stacks {
		if s.ManifestMissing || s.ComposeContent == "" {
			warnings = append(warnings, fmt.Sprintf("stack %q captured without manifest content", s.Name))
			log.Warn().Str("stack", s.Name).Msg("Capturing stack without manifest content")
		}
	}

	set := &models.ArchiveRecordSet{
		CaptureTimestamp: time.Now().Format(time.RFC3339),
		CaptureVersion:   CaptureVersion,
		TotalStacks:      len(stacks),
		Stacks:           stacks,
	}
	return set, warnings, nil
}
