package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BasalGCT/internal/domain/models"
	domrepo "BasalGCT/internal/domain/repository"
	"BasalGCT/internal/reservoir"
	"BasalGCT/pkg/cache"
)

// StateStore keeps reservoir snapshots and the latest result per symbol in a cache.Service.
// Snapshots never expire; latest results live for latestTTL.
type StateStore struct {
	c         cache.Service
	latestTTL time.Duration
}

func NewStateStore(c cache.Service, latestTTL time.Duration) *StateStore {
	return &StateStore{c: c, latestTTL: latestTTL}
}

func snapshotKey(symbol string) string { return cache.Key("snapshot", symbol) }

func latestKey(symbol string) string { return cache.Key("latest", symbol) }

func (s *StateStore) SaveSnapshot(ctx context.Context, symbol string, snap *reservoir.Snapshot) error {
	b, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", symbol, err)
	}
	if err := s.c.Set(ctx, snapshotKey(symbol), b, 0); err != nil {
		return fmt.Errorf("save snapshot %s: %w", symbol, err)
	}
	return nil
}

func (s *StateStore) LoadSnapshot(ctx context.Context, symbol string) (*reservoir.Snapshot, error) {
	var b []byte
	if err := s.c.Get(ctx, snapshotKey(symbol), &b); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot %s: %w", symbol, err)
	}
	return reservoir.UnmarshalSnapshot(b)
}

func (s *StateStore) SetLatest(ctx context.Context, r *models.EnhancedCoherenceResult) error {
	return s.c.Set(ctx, latestKey(r.Symbol), r, s.latestTTL)
}

func (s *StateStore) GetLatest(ctx context.Context, symbol string) (*models.EnhancedCoherenceResult, error) {
	var r models.EnhancedCoherenceResult
	if err := s.c.Get(ctx, latestKey(symbol), &r); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, domrepo.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// Lock takes the cluster-wide persistence lock for symbol.
func (s *StateStore) Lock(ctx context.Context, symbol string, ttl time.Duration) (bool, error) {
	return s.c.TryLock(ctx, cache.Key("lock", "snapshot", symbol), ttl)
}

func (s *StateStore) Unlock(ctx context.Context, symbol string) error {
	return s.c.Unlock(ctx, cache.Key("lock", "snapshot", symbol))
}

var (
	_ domrepo.SnapshotStore = (*StateStore)(nil)
	_ domrepo.LatestCache   = (*StateStore)(nil)
)
