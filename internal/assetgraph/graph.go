package assetgraph

import "github.com/R3E-Network/workflow_platform/internal/dag"

// Graph is the producer/consumer dependency graph derived from every
// workflow definition's step declarations: a step that consumes asset X
// and produces asset Y makes X a direct upstream of Y, independent of
// which workflow produced or consumes either asset.
type Graph struct {
	upstreams map[string]map[string]struct{}
}

// BuildGraph derives a Graph from a set of workflow definitions.
func BuildGraph(defs []dag.WorkflowDefinition) *Graph {
	g := &Graph{upstreams: make(map[string]map[string]struct{})}
	for _, def := range defs {
		for _, step := range def.Steps {
			addStepEdges(g, step)
		}
	}
	return g
}

func addStepEdges(g *Graph, step dag.WorkflowStep) {
	for _, consumed := range step.Consumes {
		for _, produced := range step.Produces {
			g.addEdge(consumed.AssetID, produced.AssetID)
		}
	}
	if step.Template != nil {
		addStepEdges(g, *step.Template)
	}
}

func (g *Graph) addEdge(upstream, downstream string) {
	if upstream == "" || downstream == "" || upstream == downstream {
		return
	}
	set, ok := g.upstreams[downstream]
	if !ok {
		set = make(map[string]struct{})
		g.upstreams[downstream] = set
	}
	set[upstream] = struct{}{}
}

// Upstreams returns the direct upstream asset ids of assetID.
func (g *Graph) Upstreams(assetID string) []string {
	set := g.upstreams[assetID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
