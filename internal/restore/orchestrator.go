// Package restore drives one archive back onto a live host: validation,
// scratch extraction, data placement and stack reconciliation, in that order.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/seralvz/stackvault/internal/backup"
	"github.com/seralvz/stackvault/internal/models"
	"github.com/seralvz/stackvault/internal/portainer"
)

// ContainerManager is the slice of the Docker client the orchestrator needs.
// A nil manager skips container stop/start entirely.
type ContainerManager interface {
	StopByName(ctx context.Context, name string) error
	StartByName(ctx context.Context, name string) error
}

// Options configures one Orchestrator.
type Options struct {
	API        portainer.StackAPI
	EndpointID int
	Validator  *backup.Validator
	// DataRoots are the live directories eligible for replacement. A root
	// present in the archive but not listed here is never touched.
	DataRoots  []string
	ScratchDir string
	// Owner resets ownership of placed data roots; empty leaves it alone.
	Owner string

	Containers        ContainerManager
	ManagedContainers []string
}

// Orchestrator runs the restore state machine over a single archive. Phases
// advance strictly in order; a failure in any phase moves to PhaseFailed and
// stays there. The phase is inspectable at any time so a caller can tell a
// pre-mutation abort from a partial restore.
type Orchestrator struct {
	opts  Options
	phase models.RestorePhase
}

// New creates an Orchestrator in the Selected phase.
func New(opts Options) *Orchestrator {
	return &Orchestrator{opts: opts, phase: models.PhaseSelected}
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() models.RestorePhase {
	return o.phase
}

// allowed transitions; everything may fall into PhaseFailed.
var transitions = map[models.RestorePhase]models.RestorePhase{
	models.PhaseSelected:         models.PhaseValidated,
	models.PhaseValidated:        models.PhaseExtracted,
	models.PhaseExtracted:        models.PhaseDataPlaced,
	models.PhaseDataPlaced:       models.PhaseStacksReconciled,
	models.PhaseStacksReconciled: models.PhaseComplete,
}

func (o *Orchestrator) advance(report *models.RestoreReport, next models.RestorePhase) error {
	if transitions[o.phase] != next {
		return fmt.Errorf("illegal restore transition %s -> %s", o.phase, next)
	}
	o.phase = next
	report.Phase = next
	log.Info().Str("archive", report.Archive).Str("phase", string(next)).Msg("Restore phase reached")
	return nil
}

func (o *Orchestrator) fail(report *models.RestoreReport, err error) (*models.RestoreReport, error) {
	o.phase = models.PhaseFailed
	report.Phase = models.PhaseFailed
	report.Error = err.Error()
	if report.Mutated {
		log.Error().Err(err).Str("archive", report.Archive).Msg("Restore failed after data placement began; re-run restore to converge")
	} else {
		log.Error().Err(err).Str("archive", report.Archive).Msg("Restore failed; nothing was changed")
	}
	return report, err
}

// Run executes the full restore sequence for one archive. The returned report
// is non-nil even on failure so callers can inspect how far the run got.
//
// Restore is idempotent with respect to stacks: already-present names are
// skipped, so re-running after a partial failure is safe and converges.
func (o *Orchestrator) Run(ctx context.Context, archivePath string) (*models.RestoreReport, error) {
	report := &models.RestoreReport{
		Archive: filepath.Base(archivePath),
		Phase:   models.PhaseSelected,
	}
	o.phase = models.PhaseSelected

	// Validate before any destructive action.
	vr, err := o.opts.Validator.Validate(archivePath)
	if err != nil {
		return o.fail(report, fmt.Errorf("archive validation: %w", err))
	}
	if err := o.advance(report, models.PhaseValidated); err != nil {
		return o.fail(report, err)
	}

	// Extract to scratch first so a mid-extraction failure cannot corrupt
	// the live data roots.
	if err := os.MkdirAll(o.opts.ScratchDir, 0700); err != nil {
		return o.fail(report, fmt.Errorf("creating scratch dir: %w", err))
	}
	scratch, err := os.MkdirTemp(o.opts.ScratchDir, "restore-*")
	if err != nil {
		return o.fail(report, fmt.Errorf("creating scratch dir: %w", err))
	}
	defer os.RemoveAll(scratch)

	if err := extractArchive(archivePath, scratch); err != nil {
		return o.fail(report, fmt.Errorf("extracting archive: %w", err))
	}
	if err := o.advance(report, models.PhaseExtracted); err != nil {
		return o.fail(report, err)
	}

	// From here on the live system is being mutated. There is no way back;
	// a failure leaves a partial state that a re-run repairs.
	report.Mutated = true
	o.stopManagedContainers(ctx)
	if err := o.placeDataRoots(scratch); err != nil {
		o.startManagedContainers(ctx)
		return o.fail(report, fmt.Errorf("placing data roots: %w", err))
	}
	o.startManagedContainers(ctx)
	if err := o.advance(report, models.PhaseDataPlaced); err != nil {
		return o.fail(report, err)
	}

	o.reconcileStacks(ctx, vr.RecordSet, report)
	if err := o.advance(report, models.PhaseStacksReconciled); err != nil {
		return o.fail(report, err)
	}

	// Complete only when every archived stack was created or skipped.
	if report.Failed > 0 {
		return o.fail(report, fmt.Errorf("%d of %d stacks failed to restore", report.Failed, len(report.Stacks)))
	}
	if err := o.advance(report, models.PhaseComplete); err != nil {
		return o.fail(report, err)
	}
	return report, nil
}

// placeDataRoots swaps every live data root that has a counterpart in the
// extracted archive. The old contents are moved aside first and only removed
// once the new contents are in place.
func (o *Orchestrator) placeDataRoots(scratch string) error {
	for _, root := range o.opts.DataRoots {
		src := filepath.Join(scratch, filepath.FromSlash(backup.EntryName(root)))
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				log.Warn().Str("root", root).Msg("Archive carries no data for this root, leaving it untouched")
				continue
			}
			return err
		}
		if err := swapDirectory(src, root); err != nil {
			return fmt.Errorf("replacing %s: %w", root, err)
		}
		if o.opts.Owner != "" {
			if err := chownTree(root, o.opts.Owner); err != nil {
				log.Warn().Err(err).Str("root", root).Msg("Failed to reset ownership on restored root")
			}
		}
	}
	return nil
}

// reconcileStacks recreates every archived stack that is absent from the
// target endpoint. Failures are collected per stack; one bad manifest never
// blocks the rest.
func (o *Orchestrator) reconcileStacks(ctx context.Context, recordSet *models.ArchiveRecordSet, report *models.RestoreReport) {
	existing := make(map[string]bool)
	live, err := o.opts.API.ListStacks(ctx, o.opts.EndpointID)
	if err != nil {
		// The existence check is an optimization; creation conflicts
		// still catch already-present stacks below.
		log.Warn().Err(err).Msg("Could not enumerate target stacks, relying on create conflicts")
	} else {
		for _, s := range live {
			existing[s.Name] = true
		}
	}

	var errs *multierror.Error
	for _, rec := range recordSet.Stacks {
		result := models.StackResult{Name: rec.Name}

		switch {
		case existing[rec.Name]:
			// Idempotent: present stacks are left untouched, never overwritten.
			result.Outcome = models.StackOutcomeSkipped

		case rec.ManifestMissing || rec.ComposeContent == "":
			result.Outcome = models.StackOutcomeFailed
			result.Error = "manifest was not captured for this stack"
			errs = multierror.Append(errs, fmt.Errorf("stack %s: %s", rec.Name, result.Error))

		default:
			manifest := models.UnwrapManifest(rec.ComposeContent)
			_, err := o.opts.API.CreateStack(ctx, rec.Name, manifest, o.opts.EndpointID)
			switch {
			case err == nil:
				result.Outcome = models.StackOutcomeCreated
			case errors.Is(err, portainer.ErrConflict):
				result.Outcome = models.StackOutcomeSkipped
			default:
				result.Outcome = models.StackOutcomeFailed
				result.Error = err.Error()
				errs = multierror.Append(errs, fmt.Errorf("stack %s: %w", rec.Name, err))
			}
		}

		switch result.Outcome {
		case models.StackOutcomeCreated:
			report.Created++
		case models.StackOutcomeSkipped:
			report.Skipped++
		case models.StackOutcomeFailed:
			report.Failed++
		}
		report.Stacks = append(report.Stacks, result)
	}

	if err := errs.ErrorOrNil(); err != nil {
		log.Error().Err(err).Msg("Stack reconciliation finished with failures")
	}
}

func (o *Orchestrator) stopManagedContainers(ctx context.Context) {
	if o.opts.Containers == nil {
		return
	}
	for _, name := range o.opts.ManagedContainers {
		if err := o.opts.Containers.StopByName(ctx, name); err != nil {
			log.Warn().Err(err).Str("container", name).Msg("Failed to stop container before data placement")
		}
	}
}

func (o *Orchestrator) startManagedContainers(ctx context.Context) {
	if o.opts.Containers == nil {
		return
	}
	for _, name := range o.opts.ManagedContainers {
		if err := o.opts.Containers.StartByName(ctx, name); err != nil {
			log.Warn().Err(err).Str("container", name).Msg("Failed to start container after data placement")
		}
	}
}
