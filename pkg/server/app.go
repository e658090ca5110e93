package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"BasalGCT/internal/analyzer"
	"BasalGCT/internal/domain/repository"
	"BasalGCT/internal/usecase"
	"BasalGCT/pkg/cache"
	pkgch "BasalGCT/pkg/clickhouse"
	"BasalGCT/pkg/config"
	xhttp "BasalGCT/pkg/http"
	pkgkafka "BasalGCT/pkg/kafka"
	applogger "BasalGCT/pkg/logger"
	"BasalGCT/pkg/queue"
)

// Components are the long-running parts the App starts and stops. Everything
// except Analyzer and HTTP is optional and nil when its backend is disabled.
type Components struct {
	Analyzer   *analyzer.Analyzer
	HTTP       *xhttp.Server
	Writer     *usecase.ResultWriter
	Collector  *usecase.TradeCollector
	Consumer   *pkgkafka.Consumer
	Ticks      pkgkafka.MessageHandler
	Persister  *usecase.SnapshotPersister
	Jobs       *queue.RedisQueue
	Publisher  repository.Publisher
	Store      repository.ResultStore
	ClickHouse *pkgch.Client
	Cache      cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *applogger.Logger
	c   Components

	wg sync.WaitGroup
}

func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, log: l.Component("app"), c: c}
}

// Run starts every component and blocks until ctx is done, a signal arrives or
// the HTTP listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.start(runCtx); err != nil {
		a.shutdown(cancel)
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-a.c.HTTP.Errors():
		runErr = fmt.Errorf("http server: %w", err)
	}

	a.shutdown(cancel)
	return runErr
}

func (a *App) start(ctx context.Context) error {
	if a.c.Persister != nil && a.cfg.Persistence.RestoreOnStart {
		n, err := a.c.Persister.RestoreAll(ctx, a.restoreSymbols())
		if err != nil {
			a.log.Warn("snapshot restore incomplete", applogger.Error(err))
		}
		a.log.Info("reservoirs restored", applogger.Int("count", n))
	}

	if a.c.Writer != nil {
		a.c.Writer.Start()
	}

	if a.c.Persister != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.c.Persister.Run(ctx)
		}()
	}

	if a.c.Jobs != nil {
		if err := a.c.Jobs.Start(); err != nil {
			return fmt.Errorf("job queue: %w", err)
		}
	}

	if a.c.Collector != nil {
		if err := a.c.Collector.Start(ctx); err != nil {
			a.log.Error("collector error", applogger.Error(err))
		} else {
			a.log.Info("collector started", applogger.Strings("symbols", a.cfg.Feed.Symbols))
		}
	}

	if a.c.Consumer != nil && a.c.Ticks != nil {
		a.c.Consumer.RegisterHandler(a.c.Ticks)
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.c.Ticks.Topic()))
	}

	return a.c.HTTP.Start()
}

// restoreSymbols lists every symbol a snapshot may exist for.
func (a *App) restoreSymbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{a.cfg.Analyzer.Symbols, a.cfg.Feed.Symbols} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// shutdown stops producers of work first, then the sinks they write to.
func (a *App) shutdown(cancel context.CancelFunc) {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, done := context.WithTimeout(context.Background(), timeout)
	defer done()

	a.log.Info("shutting down")

	if a.c.Collector != nil {
		if err := a.c.Collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.c.Jobs != nil {
		if err := a.c.Jobs.Stop(ctx); err != nil {
			a.log.Warn("job queue stop error", applogger.Error(err))
		}
	}
	if err := a.c.HTTP.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	// the persister saves once more on cancellation
	cancel()
	a.wg.Wait()

	if a.c.Writer != nil {
		a.c.Writer.Close(ctx)
	}

	// drop the log collector before the producer it publishes through
	a.log.RemoveCollector()

	if a.c.Publisher != nil {
		if err := a.c.Publisher.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	}
	if a.c.Store != nil {
		if err := a.c.Store.Close(); err != nil {
			a.log.Warn("result store close error", applogger.Error(err))
		}
	}
	if a.c.ClickHouse != nil {
		if err := a.c.ClickHouse.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.c.Cache != nil {
		if err := a.c.Cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
}
