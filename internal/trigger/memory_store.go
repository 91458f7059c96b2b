package trigger

import (
	"context"
	"sync"
)

// MemoryDeliveryStore is an in-process DeliveryStore used by tests and by
// the runtime when no database connection is opened.
type MemoryDeliveryStore struct {
	mu         sync.Mutex
	deliveries map[string]TriggerDelivery
	triggers   map[string]EventTrigger
}

// NewMemoryDeliveryStore returns an empty MemoryDeliveryStore.
func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{
		deliveries: make(map[string]TriggerDelivery),
		triggers:   make(map[string]EventTrigger),
	}
}

func (s *MemoryDeliveryStore) FindActiveDedupe(_ context.Context, triggerID, dedupeKey string) (TriggerDelivery, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deliveries {
		if d.TriggerID != triggerID || d.DedupeKey == nil || *d.DedupeKey != dedupeKey {
			continue
		}
		switch d.Status {
		case DeliveryMatched, DeliveryLaunched, DeliveryPending:
			return d, true, nil
		}
	}
	return TriggerDelivery{}, false, nil
}

func (s *MemoryDeliveryStore) CreateDelivery(_ context.Context, d TriggerDelivery) (TriggerDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = d
	return d, nil
}

func (s *MemoryDeliveryStore) UpdateDelivery(_ context.Context, d TriggerDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = d
	return nil
}

func (s *MemoryDeliveryStore) CountActiveRunsForTrigger(_ context.Context, triggerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, d := range s.deliveries {
		if d.TriggerID == triggerID && d.Status == DeliveryLaunched {
			count++
		}
	}
	return count, nil
}

func (s *MemoryDeliveryStore) UpdateTrigger(_ context.Context, t EventTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[t.ID] = t
	return nil
}

func (s *MemoryDeliveryStore) Trigger(id string) (EventTrigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	return t, ok
}
