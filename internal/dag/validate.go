package dag

import (
	"sort"
	"strings"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
)

// JobRegistry resolves a job bundle's entry point into a normalized
// binding, e.g. parsing "jobs/ingest@2/handler" into
// {slug:"ingest", version:"2", exportName:"handler"}. The real registry
// (which bundles are deployed, their entry points) lives outside this
// package; callers inject the lookup.
type JobRegistry interface {
	ResolveEntryPoint(entryPoint string) (JobBundleBinding, bool)
}

// Normalize applies spec.md §4.5's normalization pass: merges job-bundle
// bindings, deduplicates dependsOn, trims and lower-cases asset ids (the
// original case is not kept), and normalizes partitioning specs via
// NormalizePartitioning. It mutates def.Steps in place and returns def for
// chaining.
func Normalize(def *WorkflowDefinition, registry JobRegistry) *WorkflowDefinition {
	for i := range def.Steps {
		step := &def.Steps[i]
		step.DependsOn = dedupeStrings(step.DependsOn)

		if step.Type == StepJob && step.Bundle.Strategy == "" && registry != nil {
			if binding, ok := registry.ResolveEntryPoint(step.Bundle.Slug); ok {
				step.Bundle = binding
			}
		}
		if step.Type == StepJob && step.Bundle.Strategy == "" {
			step.Bundle.Strategy = BundleLatest
		}

		normalizeAssetIDs(step.Produces)
		normalizeAssetIDs(step.Consumes)

		if step.Type == StepFanout && step.Template != nil {
			step.Template.DependsOn = dedupeStrings(step.Template.DependsOn)
			normalizeAssetIDs(step.Template.Produces)
			normalizeAssetIDs(step.Template.Consumes)
		}
	}
	return def
}

func normalizeAssetIDs(decls []AssetDeclaration) {
	for i := range decls {
		decls[i].AssetID = strings.ToLower(strings.TrimSpace(decls[i].AssetID))
		NormalizePartitioning(decls[i].Partitioning)
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Validate builds the DAG's adjacency and topological order, failing with
// apperrors.KindDAGInvalid on an unknown dependency, a cycle, a fan-out
// template id colliding with a step id, or a duplicate storeResultAs key.
// On success, def.DAG is populated.
func Validate(def *WorkflowDefinition) error {
	byID := make(map[string]*WorkflowStep, len(def.Steps))
	order := make([]string, 0, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		if _, exists := byID[step.ID]; exists {
			return apperrors.DAGInvalid("duplicate step id", step.ID)
		}
		byID[step.ID] = step
		order = append(order, step.ID)
	}

	storeResultAsSeen := make(map[string]string)
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.StoreResultAs != "" {
			if existing, ok := storeResultAsSeen[step.StoreResultAs]; ok {
				return apperrors.DAGInvalid("duplicate storeResultAs", step.StoreResultAs+" used by "+existing+" and "+step.ID)
			}
			storeResultAsSeen[step.StoreResultAs] = step.ID
		}
		if step.Type == StepFanout && step.Template != nil {
			if _, collides := byID[step.Template.ID]; collides {
				return apperrors.DAGInvalid("fanout template id collides with step id", step.Template.ID)
			}
		}
		for _, dep := range step.DependsOn {
			if _, ok := byID[dep]; !ok {
				return apperrors.DAGInvalid("unknown dependency", step.ID+" depends on missing step "+dep)
			}
		}
		if len(step.DependsOn) > 25 {
			return apperrors.DAGInvalid("too many dependencies", step.ID)
		}
	}

	adjacency := make(map[string][]string, len(order))
	indegree := make(map[string]int, len(order))
	for _, id := range order {
		indegree[id] = 0
	}
	for _, id := range order {
		for _, dep := range byID[id].DependsOn {
			adjacency[dep] = append(adjacency[dep], id)
			indegree[id]++
		}
	}

	topo, roots, err := topologicalSort(order, adjacency, indegree)
	if err != nil {
		return err
	}

	def.DAG = DAGMetadata{TopologicalOrder: topo, Adjacency: adjacency, Roots: roots}
	return nil
}

// topologicalSort runs Kahn's algorithm, breaking ties by declaration order
// (the index of each id within order) so the result is stable and
// deterministic across runs for the same input.
func topologicalSort(order []string, adjacency map[string][]string, indegree map[string]int) ([]string, []string, error) {
	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}

	remaining := make(map[string]int, len(indegree))
	for k, v := range indegree {
		remaining[k] = v
	}

	var ready []string
	for _, id := range order {
		if remaining[id] == 0 {
			ready = append(ready, id)
		}
	}
	roots := append([]string(nil), ready...)
	sortByPosition(roots, position)
	sortByPosition(ready, position)

	var topo []string
	for len(ready) > 0 {
		sortByPosition(ready, position)
		next := ready[0]
		ready = ready[1:]
		topo = append(topo, next)

		for _, dependent := range adjacency[next] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(topo) != len(order) {
		var cyclic []string
		for _, id := range order {
			if remaining[id] > 0 {
				cyclic = append(cyclic, id)
			}
		}
		return nil, nil, apperrors.DAGInvalid("cycle detected", strings.Join(cyclic, ","))
	}

	return topo, roots, nil
}

func sortByPosition(ids []string, position map[string]int) {
	sort.Slice(ids, func(i, j int) bool { return position[ids[i]] < position[ids[j]] })
}

// NormalizePartitioning fills in format/timezone defaults for a timeWindow
// spec and defaults an unset dynamic maxKeys to 10000; a larger maxKeys is
// kept as given. Static specs are
// returned unchanged beyond trimming key strings.
func NormalizePartitioning(p *Partitioning) {
	if p == nil {
		return
	}
	switch p.Type {
	case PartitioningTimeWindow:
		if p.Timezone == "" {
			p.Timezone = "UTC"
		}
		if p.Format == "" {
			p.Format = "2006-01-02T15:04:05Z07:00"
		}
	case PartitioningStatic:
		for i, k := range p.Keys {
			p.Keys[i] = strings.TrimSpace(k)
		}
	case PartitioningDynamic:
		if p.MaxKeys <= 0 {
			p.MaxKeys = 10000
		}
	}
}
