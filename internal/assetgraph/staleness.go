package assetgraph

import "context"

// IsStale implements spec.md §4.8's staleness rule: a partition is stale if
// it is explicitly marked stale, or if any direct upstream asset's latest
// materialization is newer than this asset's latest materialization.
// Upstream freshness is compared against the same partitionKey when the
// upstream has a snapshot for it, falling back to the upstream's
// unpartitioned/global latest snapshot otherwise.
func IsStale(ctx context.Context, store Store, graph *Graph, assetID string, partitionKey map[string]string) (bool, error) {
	if marked, err := store.IsMarkedStale(ctx, assetID, partitionKey); err != nil {
		return false, err
	} else if marked {
		return true, nil
	}

	downstream, found, err := store.LatestSnapshot(ctx, assetID, partitionKey)
	if err != nil {
		return false, err
	}
	if !found {
		// Nothing materialized yet: absence of any materialization is not
		// itself staleness, whatever the upstreams hold.
		return false, nil
	}

	for _, upstreamID := range graph.Upstreams(assetID) {
		upstream, found, err := store.LatestSnapshot(ctx, upstreamID, partitionKey)
		if err != nil {
			return false, err
		}
		if !found {
			upstream, found, err = store.LatestSnapshot(ctx, upstreamID, nil)
			if err != nil {
				return false, err
			}
		}
		if found && upstream.ProducedAt.After(downstream.ProducedAt) {
			return true, nil
		}
	}
	return false, nil
}
