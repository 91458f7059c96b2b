package lifecycle

import (
	"context"
	"time"

	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
)

// AuditPruner periodically deletes audit-log events older than a retention
// window, in bounded batches so a single run never holds a long-lived
// transaction against the store.
type AuditPruner struct {
	store     manifeststore.Store
	retention time.Duration
	batchSize int
}

// NewAuditPruner builds an AuditPruner. batchSize is clamped to at least 1.
func NewAuditPruner(store manifeststore.Store, retention time.Duration, batchSize int) *AuditPruner {
	if batchSize < 1 {
		batchSize = 1
	}
	return &AuditPruner{store: store, retention: retention, batchSize: batchSize}
}

// Run deletes rows older than now-retention, batchSize at a time, stopping
// early if ctx is cancelled or a batch removes fewer than batchSize rows.
// The cutoff is computed once per call. It reports the total number of rows
// removed.
func (p *AuditPruner) Run(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-p.retention)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		removed, err := p.store.PruneAuditLog(ctx, cutoff, p.batchSize)
		if err != nil {
			return total, err
		}
		total += removed
		if removed < p.batchSize {
			return total, nil
		}
	}
}
