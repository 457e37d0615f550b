package storage

import (
	"context"
	"testing"
	"time"

	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchive_Results(t *testing.T) {
	dir := t.TempDir()
	archive, err := OpenArchive(NewStorageBackendFactory(testLogger()), []string{"file://" + dir})
	require.NoError(t, err)

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	result := &interfaces.PipelineResult{
		RunID: "run-1",
		Name:  "demo",
		Process: &interfaces.ProvisionedProcess{
			Address: "agent1qdemo",
			Status:  interfaces.StatusCompiled,
			Secrets: []interfaces.SecretAssignment{{Name: "API_KEY", Value: "hunter2", AppliedAt: started}},
		},
		Steps: []interfaces.StepOutcome{
			{Step: interfaces.StepCreate, Status: interfaces.StepSuccess, StartedAt: started, Duration: time.Second},
		},
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
	}

	ctx := context.Background()
	id, err := archive.StoreResult(ctx, result)
	require.NoError(t, err)

	again, err := archive.StoreResult(ctx, result)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	fetched, err := archive.FetchResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "run-1", fetched.RunID)
	assert.Equal(t, interfaces.ProcessAddress("agent1qdemo"), fetched.Process.Address)
	require.Len(t, fetched.Process.Secrets, 1)
	assert.Empty(t, fetched.Process.Secrets[0].Value)
	assert.Equal(t, time.Second, fetched.Steps[0].Duration)

	_, err = archive.FetchResult(ctx, interfaces.ComputeID([]byte("missing")))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	_, err = archive.StoreResult(ctx, nil)
	assert.Error(t, err)
}

func TestArchive_Bundles(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	archive := NewArchive(backend)

	encoded := `[{"language":"python","name":"agent.py","value":"print(1)"}]`
	id, err := archive.StoreBundle(context.Background(), encoded)
	require.NoError(t, err)

	fetched, err := archive.FetchBundle(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, encoded, fetched)

	_, err = archive.FetchResult(context.Background(), id)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestOpenArchive_Errors(t *testing.T) {
	factory := NewStorageBackendFactory(testLogger())

	_, err := OpenArchive(factory, nil)
	assert.ErrorIs(t, err, ErrNoArchiveLocations)

	_, err = OpenArchive(factory, []string{"github://owner/repo"})
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}
