package usecase

import (
	"context"

	"BasalGCT/internal/domain/models"
	drepo "BasalGCT/internal/domain/repository"
	mid "BasalGCT/internal/middleware"
	"BasalGCT/pkg/logger"
)

// TradeCollector reads trades from the market stream and pushes them through the pipeline.
type TradeCollector struct {
	stream  drepo.MarketStream
	pipe    *mid.RealtimePipeline
	metrics drepo.Metrics
	log     *logger.Logger
	done    chan struct{}
}

func NewTradeCollector(stream drepo.MarketStream, pipe *mid.RealtimePipeline, metrics drepo.Metrics, log *logger.Logger) *TradeCollector {
	if log == nil {
		log = logger.Nop()
	}
	return &TradeCollector{
		stream:  stream,
		pipe:    pipe,
		metrics: metrics,
		log:     log.Component("trade_collector"),
		done:    make(chan struct{}),
	}
}

func (c *TradeCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *TradeCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	trCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, trCh, errCh)
	return nil
}

func (c *TradeCollector) consume(ctx context.Context, trCh <-chan *models.Trade, errCh <-chan error) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			c.metrics.RecordError("stream")
			c.log.Warn("market stream error, reconnecting", logger.Error(err))
			if rerr := c.stream.Reconnect(ctx); rerr != nil {
				c.log.Error("reconnect failed", logger.Error(rerr))
			}
		case t, ok := <-trCh:
			if !ok {
				return
			}
			if t == nil {
				continue
			}
			_ = c.pipe.Process(ctx, t)
		}
	}
}

// Done is closed once the read loop exits.
func (c *TradeCollector) Done() <-chan struct{} { return c.done }

// Shutdown stops the pipeline and closes the stream.
func (c *TradeCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	return c.stream.Close()
}
