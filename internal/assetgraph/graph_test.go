package assetgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/workflow_platform/internal/dag"
)

func TestBuildGraphDerivesUpstreamFromConsumesProduces(t *testing.T) {
	defs := []dag.WorkflowDefinition{
		{
			ID: "wf-1",
			Steps: []dag.WorkflowStep{
				{
					ID:       "rollup",
					Consumes: []dag.AssetDeclaration{{AssetID: "raw_events", Direction: dag.AssetConsumes}},
					Produces: []dag.AssetDeclaration{{AssetID: "daily_rollup", Direction: dag.AssetProduces}},
				},
			},
		},
	}
	g := BuildGraph(defs)
	assert.ElementsMatch(t, []string{"raw_events"}, g.Upstreams("daily_rollup"))
	assert.Nil(t, g.Upstreams("raw_events"))
}

func TestBuildGraphIgnoresSelfLoops(t *testing.T) {
	defs := []dag.WorkflowDefinition{
		{
			Steps: []dag.WorkflowStep{
				{
					ID:       "noop",
					Consumes: []dag.AssetDeclaration{{AssetID: "x"}},
					Produces: []dag.AssetDeclaration{{AssetID: "x"}},
				},
			},
		},
	}
	g := BuildGraph(defs)
	assert.Nil(t, g.Upstreams("x"))
}
