// Package memory is an in-process Repository. Each record carries its own
// mutex so concurrent opens of one message serialize while unrelated
// records proceed in parallel.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mailtrack/internal/domain"
	"mailtrack/internal/store"
)

type entry struct {
	mu  sync.Mutex
	rec domain.Record
}

type Store struct {
	mu         sync.RWMutex
	owners     map[string]domain.Owner
	byID       map[string]*entry
	byTracking map[string]*entry
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		owners:     map[string]domain.Owner{},
		byID:       map[string]*entry{},
		byTracking: map[string]*entry{},
	}
}

func (s *Store) InsertOwner(ctx context.Context, owner domain.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[owner.Key]; !ok {
		s.owners[owner.Key] = owner
	}
	return nil
}

func (s *Store) EnsureOwner(ctx context.Context, key string, now time.Time) error {
	return s.InsertOwner(ctx, domain.Owner{Key: key, CreatedAt: now})
}

func (s *Store) InsertRecord(ctx context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byTracking[rec.TrackingID]; dup {
		return fmt.Errorf("%w: duplicate tracking id %s", domain.ErrStorage, rec.TrackingID)
	}
	e := &entry{rec: cloneRecord(rec)}
	s.byID[rec.ID] = e
	s.byTracking[rec.TrackingID] = e
	return nil
}

func (s *Store) ListRecords(ctx context.Context, ownerKey string) ([]domain.Record, error) {
	s.mu.RLock()
	entries := make([]*entry, 0)
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Record, 0)
	for _, e := range entries {
		e.mu.Lock()
		if e.rec.OwnerKey == ownerKey {
			out = append(out, cloneRecord(e.rec))
		}
		e.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) lookup(ownerKey, id string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok || e.rec.OwnerKey != ownerKey {
		return nil, false
	}
	return e, true
}

func (s *Store) GetRecord(ctx context.Context, ownerKey, id string) (domain.Record, error) {
	e, ok := s.lookup(ownerKey, id)
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRecord(e.rec), nil
}

func (s *Store) DeleteRecord(ctx context.Context, ownerKey, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok || e.rec.OwnerKey != ownerKey {
		return domain.ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byTracking, e.rec.TrackingID)
	return nil
}

func (s *Store) MarkSent(ctx context.Context, ownerKey, id string, now time.Time) (time.Time, error) {
	e, ok := s.lookup(ownerKey, id)
	if !ok {
		return time.Time{}, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.SentAt != nil {
		return *e.rec.SentAt, domain.ErrAlreadySent
	}
	ts := now
	e.rec.SentAt = &ts
	return ts, nil
}

func (s *Store) AppendOpen(ctx context.Context, trackingID string, fn store.OpenAppender) (domain.OpenEvent, bool, error) {
	s.mu.RLock()
	e, ok := s.byTracking[trackingID]
	s.mu.RUnlock()
	if !ok {
		return domain.OpenEvent{}, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ev := fn(&e.rec)
	return ev, true, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func cloneRecord(r domain.Record) domain.Record {
	out := r
	out.Opens = append([]domain.OpenEvent(nil), r.Opens...)
	if out.Opens == nil {
		out.Opens = []domain.OpenEvent{}
	}
	if r.SentAt != nil {
		ts := *r.SentAt
		out.SentAt = &ts
	}
	if r.LastOpened != nil {
		ts := *r.LastOpened
		out.LastOpened = &ts
	}
	return out
}
