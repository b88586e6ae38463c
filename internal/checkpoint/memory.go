package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a process-local checkpoint store for local runs and tests.
// Checkpoints do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	lease   time.Duration
	nowFunc func() time.Time
}

func NewMemoryStore(lease time.Duration) *MemoryStore {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &MemoryStore{
		records: map[string]Record{},
		lease:   lease,
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) EnsureTable(context.Context) error { return nil }

func (s *MemoryStore) Claim(_ context.Context, segment, owner string) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	rec, ok := s.records[segment]
	if ok && rec.Owner != "" && rec.Owner != owner && rec.LeaseExpiresAt >= now.UnixMilli() {
		return Position{}, fmt.Errorf("claim %s: %w", segment, ErrOwnedElsewhere)
	}
	rec.SegmentID = segment
	rec.Owner = owner
	rec.LeaseExpiresAt = now.Add(s.lease).UnixMilli()
	rec.UpdatedAt = now.UTC()
	s.records[segment] = rec
	if rec.Offset == nil {
		return Position{}, nil
	}
	return Position{Offset: *rec.Offset, Found: true}, nil
}

func (s *MemoryStore) owned(segment, owner string) (Record, bool) {
	rec, ok := s.records[segment]
	return rec, ok && rec.Owner == owner
}

func (s *MemoryStore) Commit(_ context.Context, segment, owner string, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.owned(segment, owner)
	if !ok {
		return fmt.Errorf("commit %s@%d: %w", segment, offset, ErrOwnershipLost)
	}
	now := s.nowFunc()
	rec.Offset = &offset
	rec.LeaseExpiresAt = now.Add(s.lease).UnixMilli()
	rec.UpdatedAt = now.UTC()
	s.records[segment] = rec
	return nil
}

func (s *MemoryStore) Renew(_ context.Context, segment, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.owned(segment, owner)
	if !ok {
		return fmt.Errorf("renew %s: %w", segment, ErrOwnershipLost)
	}
	now := s.nowFunc()
	rec.LeaseExpiresAt = now.Add(s.lease).UnixMilli()
	rec.UpdatedAt = now.UTC()
	s.records[segment] = rec
	return nil
}

func (s *MemoryStore) Release(_ context.Context, segment, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.owned(segment, owner)
	if !ok {
		return nil
	}
	rec.Owner = ""
	rec.LeaseExpiresAt = 0
	rec.UpdatedAt = s.nowFunc().UTC()
	s.records[segment] = rec
	return nil
}

// Get returns a copy of the segment's record, or nil.
func (s *MemoryStore) Get(_ context.Context, segment string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[segment]
	if !ok {
		return nil, nil
	}
	if rec.Offset != nil {
		off := *rec.Offset
		rec.Offset = &off
	}
	return &rec, nil
}

var _ Store = (*MemoryStore)(nil)
