package timeline

import (
	"context"
	"sort"
	"sync"
	"time"
)

// SourceFunc fetches one kind of timeline entry within q's window. Sources
// are fetched concurrently by Fetch, mirroring the teacher's
// DeepHealthChecker fan-out pattern.
type SourceFunc func(ctx context.Context, q Query) ([]TimelineEntry, error)

// Aggregator merges multiple timeline sources (runs, deliveries,
// trigger/source pause and failure events) into one time-ordered feed.
type Aggregator struct {
	sources map[EntryKind]SourceFunc
}

// NewAggregator builds an Aggregator with the given named sources.
func NewAggregator(sources map[EntryKind]SourceFunc) *Aggregator {
	return &Aggregator{sources: sources}
}

// Fetch runs every registered source concurrently, merges their entries,
// sorts by timestamp descending (ties broken by id ascending), and
// truncates to q.Limit, per spec.md §4.9.
func (a *Aggregator) Fetch(ctx context.Context, q Query) ([]TimelineEntry, error) {
	resolved := q.Resolve(time.Now().UTC())

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		merged  []TimelineEntry
		firstErr error
	)

	for _, fn := range a.sources {
		fn := fn
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := fn(ctx, resolved)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			merged = append(merged, entries...)
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	filtered := merged
	if len(resolved.Statuses) > 0 {
		allowed := make(map[string]struct{}, len(resolved.Statuses))
		for _, s := range resolved.Statuses {
			allowed[s] = struct{}{}
		}
		filtered = filtered[:0]
		for _, e := range merged {
			if _, ok := allowed[e.Status]; ok {
				filtered = append(filtered, e)
			}
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		if !filtered[i].Timestamp.Equal(filtered[j].Timestamp) {
			return filtered[i].Timestamp.After(filtered[j].Timestamp)
		}
		return filtered[i].ID < filtered[j].ID
	})

	if len(filtered) > resolved.Limit {
		filtered = filtered[:resolved.Limit]
	}
	return filtered, nil
}
