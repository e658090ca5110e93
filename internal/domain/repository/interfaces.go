package repository

import (
	"context"
	"errors"
	"time"

	"BasalGCT/internal/domain/models"
	"BasalGCT/internal/reservoir"
)

var ErrNotFound = errors.New("not found")

type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Publisher fans results and alerts out to downstream consumers.
type Publisher interface {
	PublishResult(ctx context.Context, r *models.EnhancedCoherenceResult) error
	PublishAlert(ctx context.Context, a models.Alert) error
	Close() error
}

// ResultStore keeps the scored history for later querying.
type ResultStore interface {
	Init(ctx context.Context) error
	StoreResults(ctx context.Context, results []*models.EnhancedCoherenceResult) error
	StoreAlerts(ctx context.Context, alerts []models.Alert) error
	QueryResults(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.EnhancedCoherenceResult, error)
	Health(ctx context.Context) error
	Close() error
}

// SnapshotStore persists reservoir snapshots per symbol. Load returns ErrNotFound when absent.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, symbol string, s *reservoir.Snapshot) error
	LoadSnapshot(ctx context.Context, symbol string) (*reservoir.Snapshot, error)
}

// LatestCache holds the newest result per symbol.
type LatestCache interface {
	SetLatest(ctx context.Context, r *models.EnhancedCoherenceResult) error
	GetLatest(ctx context.Context, symbol string) (*models.EnhancedCoherenceResult, error)
}

type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordResult(r *models.EnhancedCoherenceResult)
	RecordAlert(a models.Alert)
}
