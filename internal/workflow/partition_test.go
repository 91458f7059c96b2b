package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
	"github.com/R3E-Network/workflow_platform/internal/dag"
)

func hourGranularityDef() *dag.WorkflowDefinition {
	return &dag.WorkflowDefinition{
		Steps: []dag.WorkflowStep{
			{
				ID:   "a",
				Type: dag.StepJob,
				Produces: []dag.AssetDeclaration{
					{
						AssetID:   "ds",
						Direction: dag.AssetProduces,
						Partitioning: &dag.Partitioning{
							Type:        dag.PartitioningTimeWindow,
							Granularity: "hour",
							Format:      time.RFC3339,
						},
					},
				},
			},
		},
	}
}

func TestValidatePartitionKeyRejectsUnalignedMinutes(t *testing.T) {
	def := hourGranularityDef()
	key := "2026-07-31T10:15:00Z"
	err := ValidatePartitionKey(def, &key)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindPartitionKeyInvalid))
}

func TestValidatePartitionKeyAcceptsHourAlignedKey(t *testing.T) {
	def := hourGranularityDef()
	key := "2026-07-31T10:00:00Z"
	require.NoError(t, ValidatePartitionKey(def, &key))
}

func TestAlignedToGranularityCoversCalendarUnits(t *testing.T) {
	utc := time.UTC
	assert.True(t, alignedToGranularity(time.Date(2026, 7, 31, 10, 0, 0, 0, utc), "hour"))
	assert.False(t, alignedToGranularity(time.Date(2026, 7, 31, 10, 30, 0, 0, utc), "hour"))
	assert.True(t, alignedToGranularity(time.Date(2026, 7, 31, 0, 0, 0, 0, utc), "day"))
	assert.False(t, alignedToGranularity(time.Date(2026, 7, 31, 1, 0, 0, 0, utc), "day"))
	assert.True(t, alignedToGranularity(time.Date(2026, 8, 3, 0, 0, 0, 0, utc), "week")) // a Monday
	assert.False(t, alignedToGranularity(time.Date(2026, 8, 4, 0, 0, 0, 0, utc), "week"))
	assert.True(t, alignedToGranularity(time.Date(2026, 8, 1, 0, 0, 0, 0, utc), "month"))
	assert.False(t, alignedToGranularity(time.Date(2026, 8, 2, 0, 0, 0, 0, utc), "month"))
	assert.True(t, alignedToGranularity(time.Date(2027, 1, 1, 0, 0, 0, 0, utc), "year"))
	assert.False(t, alignedToGranularity(time.Date(2026, 8, 1, 0, 0, 0, 0, utc), "year"))
}
