package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seralvz/stackvault/internal/backup"
	"github.com/seralvz/stackvault/internal/models"
	"github.com/seralvz/stackvault/internal/portainer"
)

type fakeStackAPI struct {
	stacks     []models.StackRecord
	failCreate map[string]error
	nextID     int64
}

func (f *fakeStackAPI) Authenticate(ctx context.Context, username, password string) (string, error) {
	return "test-token", nil
}

func (f *fakeStackAPI) ListStacks(ctx context.Context, endpointID int) ([]models.StackRecord, error) {
	out := make([]models.StackRecord, len(f.stacks))
	copy(out, f.stacks)
	return out, nil
}

func (f *fakeStackAPI) CreateStack(ctx context.Context, name, manifest string, endpointID int) (models.StackRecord, error) {
	if err := f.failCreate[name]; err != nil {
		return models.StackRecord{}, err
	}
	for _, s := range f.stacks {
		if s.Name == name {
			return models.StackRecord{}, fmt.Errorf("%w: %s", portainer.ErrConflict, name)
		}
	}
	f.nextID++
	rec := models.StackRecord{ID: f.nextID, Name: name, Status: models.StackStatusActive, ComposeContent: manifest}
	f.stacks = append(f.stacks, rec)
	return rec, nil
}

func (f *fakeStackAPI) DeleteStack(ctx context.Context, id int64, endpointID int) error {
	return nil
}

type fakeContainers struct {
	stopped []string
	started []string
}

func (f *fakeContainers) StopByName(ctx context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeContainers) StartByName(ctx context.Context, name string) error {
	f.started = append(f.started, name)
	return nil
}

// fixture is a built archive plus the live roots it was captured from, with
// the live roots mutated afterwards so a restore has something to undo.
type fixture struct {
	archivePath string
	roots       []string
	recordSet   *models.ArchiveRecordSet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	portainerData := filepath.Join(base, "portainer", "data")
	npmData := filepath.Join(base, "npm")
	require.NoError(t, os.MkdirAll(filepath.Join(portainerData, "compose"), 0755))
	require.NoError(t, os.MkdirAll(npmData, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(portainerData, "portainer.db"), []byte("original db"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(npmData, "production.json"), []byte("original config"), 0644))
	roots := []string{portainerData, npmData}

	recordSet := &models.ArchiveRecordSet{
		CaptureTimestamp: "2026-08-26T10:00:00Z",
		CaptureVersion:   backup.CaptureVersion,
		TotalStacks:      2,
		Stacks: []models.StackRecord{
			{ID: 1, Name: "web", Status: models.StackStatusActive, ComposeContent: "services:\n  web:\n    image: nginx\n"},
			{ID: 2, Name: "db", Status: models.StackStatusActive, ComposeContent: `{"StackFileContent":"services:\n  db:\n    image: postgres\n"}`},
		},
	}

	info, err := backup.NewBuilder(t.TempDir(), roots, "").Build(recordSet, "")
	require.NoError(t, err)

	// Drift the live roots away from the captured state.
	require.NoError(t, os.WriteFile(filepath.Join(portainerData, "portainer.db"), []byte("drifted"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(npmData, "production.json"), []byte("drifted"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(npmData, "junk.tmp"), []byte("junk"), 0644))

	return &fixture{archivePath: info.Path, roots: roots, recordSet: recordSet}
}

func (fx *fixture) orchestrator(api portainer.StackAPI, containers ContainerManager, managed []string, scratch string) *Orchestrator {
	return New(Options{
		API:               api,
		EndpointID:        1,
		Validator:         backup.NewValidator(fx.roots),
		DataRoots:         fx.roots,
		ScratchDir:        scratch,
		Containers:        containers,
		ManagedContainers: managed,
	})
}

func TestRun_FullRestore(t *testing.T) {
	fx := newFixture(t)
	api := &fakeStackAPI{}
	containers := &fakeContainers{}
	o := fx.orchestrator(api, containers, []string{"portainer", "npm"}, t.TempDir())

	report, err := o.Run(context.Background(), fx.archivePath)
	require.NoError(t, err)

	assert.Equal(t, models.PhaseComplete, report.Phase)
	assert.Equal(t, models.PhaseComplete, o.Phase())
	assert.True(t, report.Mutated)
	assert.Equal(t, 2, report.Created)
	assert.Zero(t, report.Skipped)
	assert.Zero(t, report.Failed)

	// Data roots are back at the captured state, drift included.
	db, err := os.ReadFile(filepath.Join(fx.roots[0], "portainer.db"))
	require.NoError(t, err)
	assert.Equal(t, "original db", string(db))
	_, err = os.Stat(filepath.Join(fx.roots[1], "junk.tmp"))
	assert.True(t, os.IsNotExist(err), "post-capture files must not survive the restore")

	// The enveloped manifest was unwrapped before stack creation.
	require.Len(t, api.stacks, 2)
	assert.Equal(t, "services:\n  db:\n    image: postgres\n", api.stacks[1].ComposeContent)

	// Managed containers were cycled around data placement.
	assert.Equal(t, []string{"portainer", "npm"}, containers.stopped)
	assert.Equal(t, []string{"portainer", "npm"}, containers.started)

	// Nothing stays behind in the scratch area.
	assert.Empty(t, listNames(t, o.opts.ScratchDir))
}

func TestRun_SecondRunConverges(t *testing.T) {
	fx := newFixture(t)
	api := &fakeStackAPI{}
	scratch := t.TempDir()

	_, err := fx.orchestrator(api, nil, nil, scratch).Run(context.Background(), fx.archivePath)
	require.NoError(t, err)

	report, err := fx.orchestrator(api, nil, nil, scratch).Run(context.Background(), fx.archivePath)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseComplete, report.Phase)
	assert.Zero(t, report.Created)
	assert.Equal(t, 2, report.Skipped)
	assert.Len(t, api.stacks, 2, "present stacks are never duplicated or overwritten")
}

func TestRun_CorruptArchiveAbortsBeforeMutation(t *testing.T) {
	fx := newFixture(t)
	badPath := filepath.Join(t.TempDir(), "docker_backup_20260826_120000.tar.gz")
	require.NoError(t, os.WriteFile(badPath, []byte("not an archive"), 0600))

	api := &fakeStackAPI{}
	o := fx.orchestrator(api, nil, nil, t.TempDir())

	report, err := o.Run(context.Background(), badPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrArchiveCorrupt)
	assert.Equal(t, models.PhaseFailed, report.Phase)
	assert.False(t, report.Mutated, "validation failure must abort before anything changes")

	// The drifted live state is untouched.
	db, err := os.ReadFile(filepath.Join(fx.roots[0], "portainer.db"))
	require.NoError(t, err)
	assert.Equal(t, "drifted", string(db))
	assert.Empty(t, api.stacks)
}

func TestRun_PartialStackFailure(t *testing.T) {
	fx := newFixture(t)
	api := &fakeStackAPI{failCreate: map[string]error{"db": errors.New("manager rejected manifest")}}
	o := fx.orchestrator(api, nil, nil, t.TempDir())

	report, err := o.Run(context.Background(), fx.archivePath)
	require.Error(t, err)
	assert.Equal(t, models.PhaseFailed, report.Phase)
	assert.True(t, report.Mutated)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Failed)

	// One bad stack never blocks the others.
	require.Len(t, api.stacks, 1)
	assert.Equal(t, "web", api.stacks[0].Name)

	require.Len(t, report.Stacks, 2)
	assert.Equal(t, models.StackOutcomeCreated, report.Stacks[0].Outcome)
	assert.Equal(t, models.StackOutcomeFailed, report.Stacks[1].Outcome)
	assert.NotEmpty(t, report.Stacks[1].Error)
}

func TestRun_MissingManifestFailsThatStack(t *testing.T) {
	fx := newFixture(t)

	// Rebuild the archive with one record lacking its manifest.
	fx.recordSet.Stacks[1].ComposeContent = ""
	fx.recordSet.Stacks[1].ManifestMissing = true
	info, err := backup.NewBuilder(t.TempDir(), fx.roots, "").Build(fx.recordSet, "")
	require.NoError(t, err)

	api := &fakeStackAPI{}
	report, err := fx.orchestrator(api, nil, nil, t.TempDir()).Run(context.Background(), info.Path)
	require.Error(t, err)
	assert.Equal(t, models.PhaseFailed, report.Phase)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Failed)
}

func TestRun_CreateConflictCountsAsSkipped(t *testing.T) {
	fx := newFixture(t)
	// The list is empty but creation still conflicts, e.g. a stack created
	// between enumeration and reconciliation.
	api := &fakeStackAPI{failCreate: map[string]error{
		"web": fmt.Errorf("%w: web", portainer.ErrConflict),
	}}

	report, err := fx.orchestrator(api, nil, nil, t.TempDir()).Run(context.Background(), fx.archivePath)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseComplete, report.Phase)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Skipped)
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
