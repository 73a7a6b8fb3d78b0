package analytics

import (
	"context"
	"sort"
	"sync"

	"github.com/tapon/qrengine/internal/model"
)

// DefaultMemoryCapacity bounds a MemoryLog created with a non-positive
// capacity.
const DefaultMemoryCapacity = 100000

// MemoryLog is a bounded in-process event log. It backs local runs without
// MongoDB and tests. When full, the oldest events are discarded.
type MemoryLog struct {
	mu       sync.RWMutex
	capacity int
	events   []*model.AnalyticsEvent // sorted by OccurredAt, then ID
	ids      map[string]struct{}
}

// NewMemoryLog creates an empty log holding at most capacity events.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryLog{
		capacity: capacity,
		ids:      make(map[string]struct{}),
	}
}

// InsertEvents implements EventSink.
func (m *MemoryLog) InsertEvents(ctx context.Context, events []*model.AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := m.ids[e.ID]; ok {
			continue
		}
		cp := *e
		i := sort.Search(len(m.events), func(i int) bool {
			return less(&cp, m.events[i])
		})
		m.events = append(m.events, nil)
		copy(m.events[i+1:], m.events[i:])
		m.events[i] = &cp
		m.ids[cp.ID] = struct{}{}
	}

	if over := len(m.events) - m.capacity; over > 0 {
		for _, e := range m.events[:over] {
			delete(m.ids, e.ID)
		}
		m.events = append(m.events[:0:0], m.events[over:]...)
	}
	return nil
}

// Each implements EventSource.
func (m *MemoryLog) Each(ctx context.Context, q EventQuery, limit int, fn func(*model.AnalyticsEvent) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for i := len(m.events) - 1; i >= 0; i-- {
		if limit > 0 && n >= limit {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e := m.events[i]
		if !q.Matches(e) {
			continue
		}
		cp := *e
		if err := fn(&cp); err != nil {
			return err
		}
		n++
	}
	return nil
}

// Count implements EventSource.
func (m *MemoryLog) Count(ctx context.Context, q EventQuery) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, e := range m.events {
		if q.Matches(e) {
			n++
		}
	}
	return n, ctx.Err()
}

// Len returns the number of stored events.
func (m *MemoryLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func less(a, b *model.AnalyticsEvent) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.ID < b.ID
}
