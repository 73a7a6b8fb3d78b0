package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tapon/qrengine/internal/model"
	"github.com/tapon/qrengine/internal/repository"
)

// memStore mirrors the repository in memory. Locked writes hold mu for the
// whole read-modify-write, as the row lock does. readDelay slows unlocked
// reads so concurrent callers interleave.
type memStore struct {
	mu        sync.Mutex
	recs      map[string]*model.QRRecord
	readDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*model.QRRecord)}
}

func (m *memStore) put(rec *model.QRRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Version == 0 {
		rec.Version = 1
	}
	m.recs[rec.ID] = rec.Clone()
}

func (m *memStore) CreateQRCode(_ context.Context, rec *model.QRRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.ID]; ok {
		return repository.ErrQRExists
	}
	rec.Version = 1
	m.recs[rec.ID] = rec.Clone()
	return nil
}

func (m *memStore) GetQRCode(_ context.Context, id string) (*model.QRRecord, error) {
	if m.readDelay > 0 {
		time.Sleep(m.readDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, repository.ErrQRNotFound
	}
	return rec.Clone(), nil
}

func (m *memStore) FindProfileCode(_ context.Context, profileID string) (*model.QRRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.Type == model.QRTypeProfile && rec.ProfileID != nil && *rec.ProfileID == profileID {
			return rec.Clone(), nil
		}
	}
	return nil, repository.ErrQRNotFound
}

func (m *memStore) ListQRCodes(_ context.Context, filter repository.QRFilter, _ string, limit int) ([]*model.QRRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.QRRecord
	for _, rec := range m.recs {
		if filter.OwnerID != "" && rec.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Active != nil && rec.IsActive != *filter.Active {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, rec.Type) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		return out[:limit], out[limit-1].ID, nil
	}
	return out, "", nil
}

func (m *memStore) UpdateQRCode(_ context.Context, id string, fn func(cur *model.QRRecord) error) (*model.QRRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.recs[id]
	if !ok {
		return nil, repository.ErrQRNotFound
	}
	cur := stored.Clone()
	if err := fn(cur); err != nil {
		return nil, err
	}
	cur.Version++
	cur.UpdatedAt = time.Now().UTC()
	m.recs[id] = cur.Clone()
	return cur, nil
}

func (m *memStore) ApplyScan(_ context.Context, id string, apply func(cur *model.QRRecord) (*model.QRRecord, error)) (*model.QRRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.recs[id]
	if !ok {
		return nil, repository.ErrQRNotFound
	}
	next, err := apply(stored.Clone())
	if err != nil {
		return nil, err
	}
	updated := stored.Clone()
	updated.Stats = next.Clone().Stats
	updated.Version++
	m.recs[id] = updated
	next.Version = updated.Version
	return next, nil
}

func (m *memStore) DeleteQRCode(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[id]; !ok {
		return repository.ErrQRNotFound
	}
	delete(m.recs, id)
	return nil
}

func containsType(types []model.QRType, t model.QRType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

type fakeVisitors struct {
	mu      sync.Mutex
	seen    map[string]bool
	resets  []string
	release int
}

func newFakeVisitors() *fakeVisitors {
	return &fakeVisitors{seen: make(map[string]bool)}
}

func (v *fakeVisitors) MarkVisitor(_ context.Context, qrID, fingerprint string, _ time.Duration) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := qrID + ":" + fingerprint
	if v.seen[key] {
		return false, nil
	}
	v.seen[key] = true
	return true, nil
}

func (v *fakeVisitors) ReleaseVisitor(_ context.Context, qrID, fingerprint string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.seen, qrID+":"+fingerprint)
	v.release++
	return nil
}

func (v *fakeVisitors) ResetVisitors(_ context.Context, qrID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key := range v.seen {
		if len(key) > len(qrID) && key[:len(qrID)+1] == qrID+":" {
			delete(v.seen, key)
		}
	}
	v.resets = append(v.resets, qrID)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []*model.AnalyticsEvent
}

func (f *fakeEvents) Record(_ context.Context, e *model.AnalyticsEvent) *model.AnalyticsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return e
}

func (f *fakeEvents) ofType(eventType string) []*model.AnalyticsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AnalyticsEvent
	for _, e := range f.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
	gets     int
}

func newFakeProfiles(profiles ...*model.Profile) *fakeProfiles {
	f := &fakeProfiles{profiles: make(map[string]*model.Profile)}
	for _, p := range profiles {
		f.profiles[p.ID] = p
	}
	return f
}

func (f *fakeProfiles) GetProfile(_ context.Context, id string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	p, ok := f.profiles[id]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) UpsertProfile(_ context.Context, p *model.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.profiles[p.ID] = &cp
	return nil
}
