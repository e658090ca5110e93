package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	drepo "BasalGCT/internal/domain/repository"
	"BasalGCT/internal/reservoir"
	"BasalGCT/pkg/logger"
)

// ReservoirRegistry exposes per-symbol reservoirs. *analyzer.Analyzer satisfies it.
type ReservoirRegistry interface {
	Symbols() []string
	Snapshot(symbol string) (*reservoir.Snapshot, error)
	Restore(symbol string, snap *reservoir.Snapshot) error
}

// SnapshotLocker serialises snapshot writes across replicas.
type SnapshotLocker interface {
	Lock(ctx context.Context, symbol string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, symbol string) error
}

// SnapshotPersister periodically saves every reservoir and restores them on start.
type SnapshotPersister struct {
	reg        ReservoirRegistry
	store      drepo.SnapshotStore
	locker     SnapshotLocker
	metrics    drepo.Metrics
	log        *logger.Logger
	interval   time.Duration
	maxElapsed time.Duration
}

func NewSnapshotPersister(reg ReservoirRegistry, store drepo.SnapshotStore, locker SnapshotLocker, metrics drepo.Metrics, log *logger.Logger, interval, maxElapsed time.Duration) *SnapshotPersister {
	if log == nil {
		log = logger.Nop()
	}
	return &SnapshotPersister{
		reg:        reg,
		store:      store,
		locker:     locker,
		metrics:    metrics,
		log:        log.Component("snapshot_persister"),
		interval:   interval,
		maxElapsed: maxElapsed,
	}
}

// RestoreAll loads a snapshot for each symbol that has one and returns how many were restored.
func (p *SnapshotPersister) RestoreAll(ctx context.Context, symbols []string) (int, error) {
	restored := 0
	var errs []error
	for _, sym := range symbols {
		snap, err := p.store.LoadSnapshot(ctx, sym)
		if errors.Is(err, drepo.ErrNotFound) {
			continue
		}
		if err == nil {
			err = p.reg.Restore(sym, snap)
		}
		if err != nil {
			p.metrics.RecordError("snapshot_restore")
			errs = append(errs, fmt.Errorf("restore %s: %w", sym, err))
			continue
		}
		restored++
		p.log.Info("reservoir restored", logger.String("symbol", sym), logger.Int("nodes", len(snap.NodeStates)))
	}
	return restored, errors.Join(errs...)
}

// SaveAll writes a snapshot for every active symbol. Symbols locked by another
// replica are skipped.
func (p *SnapshotPersister) SaveAll(ctx context.Context) error {
	var errs []error
	for _, sym := range p.reg.Symbols() {
		if err := p.save(ctx, sym); err != nil {
			p.metrics.RecordError("snapshot_save")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *SnapshotPersister) save(ctx context.Context, sym string) error {
	if p.locker != nil {
		ok, err := p.locker.Lock(ctx, sym, p.interval)
		if err != nil {
			return fmt.Errorf("lock %s: %w", sym, err)
		}
		if !ok {
			p.log.Debug("snapshot locked elsewhere", logger.String("symbol", sym))
			return nil
		}
		defer func() { _ = p.locker.Unlock(context.Background(), sym) }()
	}

	snap, err := p.reg.Snapshot(sym)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", sym, err)
	}

	start := time.Now()
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = p.maxElapsed
	err = backoff.RetryNotify(func() error {
		return p.store.SaveSnapshot(ctx, sym, snap)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		p.log.Warn("snapshot save retry",
			logger.String("symbol", sym),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", sym, err)
	}
	p.metrics.RecordLatency("snapshot_save", time.Since(start).Seconds())
	return nil
}

// Run saves on every tick until ctx is done, then saves once more.
func (p *SnapshotPersister) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.SaveAll(fctx); err != nil {
				p.log.Error("final snapshot save failed", logger.Error(err))
			}
			cancel()
			return
		case <-t.C:
			if err := p.SaveAll(ctx); err != nil {
				p.log.Error("snapshot save failed", logger.Error(err))
			}
		}
	}
}
