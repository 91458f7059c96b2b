package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/config"
	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
)

func TestNewWiresAllComponentsOverAnInMemoryManifestStore(t *testing.T) {
	cfg := config.New()
	rt, err := New(context.Background(), cfg,
		WithManifestStore(manifeststore.NewMemoryStore()),
		WithPartitionRoot(t.TempDir()),
	)
	require.NoError(t, err)
	defer rt.Close()

	assert.NotNil(t, rt.ManifestStore)
	assert.NotNil(t, rt.ManifestCache)
	assert.NotNil(t, rt.Compaction)
	assert.NotNil(t, rt.Retention)
	assert.NotNil(t, rt.AuditPruner)
	assert.NotNil(t, rt.Lifecycle)
	assert.NotNil(t, rt.Workflows)
	assert.NotNil(t, rt.Triggers)
	assert.NotNil(t, rt.Claims)
	assert.NotNil(t, rt.Timeline)
	assert.Nil(t, rt.DB, "no Postgres connection should be opened when a manifest store override is supplied")
}

func TestRunOnceSweepsWithNoActiveDatasets(t *testing.T) {
	cfg := config.New()
	rt, err := New(context.Background(), cfg,
		WithManifestStore(manifeststore.NewMemoryStore()),
		WithPartitionRoot(t.TempDir()),
	)
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.Lifecycle.RunOnce(context.Background()))
}
