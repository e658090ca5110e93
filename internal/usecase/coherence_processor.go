package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BasalGCT/internal/domain/models"
	drepo "BasalGCT/internal/domain/repository"
	"BasalGCT/pkg/logger"
)

// PointScorer scores one streamed point. *analyzer.Analyzer satisfies it.
type PointScorer interface {
	Process(p models.MarketDataPoint) (*models.EnhancedCoherenceResult, error)
}

// CoherenceProcessor runs points through the analyzer and fans the result out to the
// latest-result cache, the publisher and the result writer. Every sink is optional.
type CoherenceProcessor struct {
	scorer  PointScorer
	pub     drepo.Publisher
	latest  drepo.LatestCache
	writer  *ResultWriter
	metrics drepo.Metrics
	log     *logger.Logger
	timeout time.Duration
	publish bool
}

type ProcessorOption func(*CoherenceProcessor)

func WithPublisher(pub drepo.Publisher, publishResults bool) ProcessorOption {
	return func(p *CoherenceProcessor) {
		p.pub = pub
		p.publish = publishResults
	}
}

func WithLatestCache(c drepo.LatestCache) ProcessorOption {
	return func(p *CoherenceProcessor) { p.latest = c }
}

func WithResultWriter(w *ResultWriter) ProcessorOption {
	return func(p *CoherenceProcessor) { p.writer = w }
}

// WithSinkTimeout bounds each downstream call.
func WithSinkTimeout(d time.Duration) ProcessorOption {
	return func(p *CoherenceProcessor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewCoherenceProcessor(scorer PointScorer, metrics drepo.Metrics, log *logger.Logger, opts ...ProcessorOption) *CoherenceProcessor {
	if log == nil {
		log = logger.Nop()
	}
	p := &CoherenceProcessor{
		scorer:  scorer,
		metrics: metrics,
		log:     log.Component("coherence_processor"),
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process scores p and forwards the result. Sink failures are counted and joined into
// the returned error, but the result is always returned once scoring succeeded.
func (p *CoherenceProcessor) Process(ctx context.Context, pt models.MarketDataPoint) (*models.EnhancedCoherenceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	res, err := p.scorer.Process(pt)
	if err != nil {
		p.metrics.RecordError("process")
		return nil, fmt.Errorf("process %s: %w", pt.Symbol, err)
	}
	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	p.metrics.RecordResult(res)
	if !res.Fallback {
		p.metrics.RecordLastPrice(res.Symbol, res.Price)
	}

	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var errs []error
	if p.latest != nil && !res.Fallback {
		if err := p.latest.SetLatest(sctx, res); err != nil {
			p.metrics.RecordError("latest_cache")
			errs = append(errs, fmt.Errorf("cache latest: %w", err))
		}
	}
	if p.pub != nil && p.publish {
		if err := p.pub.PublishResult(sctx, res); err != nil {
			p.metrics.RecordError("publish_result")
			errs = append(errs, fmt.Errorf("publish result: %w", err))
		} else {
			p.metrics.RecordMessageSent("kafka", res.Symbol)
		}
	}
	if p.writer != nil {
		p.writer.AddResult(res)
	}
	return res, errors.Join(errs...)
}

// ProcessTrade converts a feed trade into a data point and processes it. Only scoring
// failures are returned: a scored trade is already in the integrator and must not be retried.
func (p *CoherenceProcessor) ProcessTrade(ctx context.Context, t *models.Trade) error {
	if t == nil {
		return fmt.Errorf("trade is nil")
	}
	res, err := p.Process(ctx, t.Point())
	if err != nil && res != nil {
		p.log.Warn("trade sinks failed", logger.String("symbol", t.Symbol), logger.Error(err))
		return nil
	}
	return err
}

// HandleAlert is registered with the analyzer and forwards every alert to the sinks.
func (p *CoherenceProcessor) HandleAlert(a models.Alert) {
	p.metrics.RecordAlert(a)
	p.log.Info("coherence alert",
		logger.String("symbol", a.Symbol),
		logger.String("type", string(a.Type)),
		logger.String("severity", string(a.Severity)),
		logger.Float64("confidence", a.Confidence),
	)
	if p.writer != nil {
		p.writer.AddAlert(a)
	}
	if p.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.pub.PublishAlert(ctx, a); err != nil {
		p.metrics.RecordError("publish_alert")
		p.log.Warn("alert publish failed", logger.String("alert_id", a.ID), logger.Error(err))
		return
	}
	p.metrics.RecordMessageSent("kafka", a.Symbol)
}
