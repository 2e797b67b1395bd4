package backup

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seralvz/stackvault/internal/models"
)

// fakeStackAPI is an in-memory portainer.StackAPI for tests.
type fakeStackAPI struct {
	stacks     []models.StackRecord
	listErr    error
	failCreate map[string]error
	nextID     int64
}

func (f *fakeStackAPI) Authenticate(ctx context.Context, username, password string) (string, error) {
	return "test-token", nil
}

func (f *fakeStackAPI) ListStacks(ctx context.Context, endpointID int) ([]models.StackRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.StackRecord, len(f.stacks))
	copy(out, f.stacks)
	return out, nil
}

func (f *fakeStackAPI) CreateStack(ctx context.Context, name, manifest string, endpointID int) (models.StackRecord, error) {
	if err := f.failCreate[name]; err != nil {
		return models.StackRecord{}, err
	}
	f.nextID++
	rec := models.StackRecord{ID: f.nextID, Name: name, Status: models.StackStatusActive, ComposeContent: manifest}
	f.stacks = append(f.stacks, rec)
	return rec, nil
}

func (f *fakeStackAPI) DeleteStack(ctx context.Context, id int64, endpointID int) error {
	for i, s := range f.stacks {
		if s.ID == id {
			f.stacks = append(f.stacks[:i], f.stacks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("stack %d not found", id)
}

func TestCapture(t *testing.T) {
	api := &fakeStackAPI{stacks: []models.StackRecord{
		{ID: 1, Name: "web", Status: models.StackStatusActive, ComposeContent: "services:\n  web:\n    image: nginx\n"},
		{ID: 2, Name: "db", Status: models.StackStatusActive, ComposeContent: `{"StackFileContent":"services:\n  db:\n    image: postgres\n"}`},
		{ID: 3, Name: "broken", Status: models.StackStatusInactive, ManifestMissing: true},
	}}

	set, warnings, err := NewCapturer(api, 1).Capture(context.Background())
	require.NoError(t, err)

	// The incomplete stack stays in the record set and is counted.
	assert.Equal(t, 3, set.TotalStacks)
	require.Len(t, set.Stacks, 3)
	assert.Equal(t, CaptureVersion, set.CaptureVersion)
	assert.NotEmpty(t, set.CaptureTimestamp)

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "broken")

	// Manifest content is preserved in the manager's native form.
	assert.Equal(t, api.stacks[1].ComposeContent, set.Stacks[1].ComposeContent)
}

func TestCapture_ListFailureAborts(t *testing.T) {
	api := &fakeStackAPI{listErr: errors.New("api unavailable")}

	set, warnings, err := NewCapturer(api, 1).Capture(context.Background())
	assert.Error(t, err)
	assert.Nil(t, set)
	assert.Empty(t, warnings)
}

func TestCapture_EmptyEndpoint(t *testing.T) {
	set, warnings, err := NewCapturer(&fakeStackAPI{}, 1).Capture(context.Background())
	require.NoError(t, err)
	assert.Zero(t, set.TotalStacks)
	assert.Empty(t, warnings)
}
