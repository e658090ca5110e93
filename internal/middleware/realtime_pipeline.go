package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"BasalGCT/internal/domain/models"
	domrepo "BasalGCT/internal/domain/repository"
)

// Proc is the minimal processor interface the pipeline needs. ProcessTrade returns an
// error only when the trade was not consumed; those trades are buffered and retried.
type Proc interface {
	ProcessTrade(ctx context.Context, t *models.Trade) error
}

// RealtimePipeline sits between the market stream and the coherence processor.
// It validates trades, throttles each symbol with a token bucket and buffers
// trades the processor rejected so they can be retried.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics

	maxRPS  float64
	burst   int
	bufSize int
	bufCh   chan *models.Trade

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	started  bool
	stopCh   chan struct{}
	done     chan struct{}

	transform func(*models.Trade) *models.Trade
	now       func() time.Time
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the sustained trades per second per symbol. Zero disables throttling.
func WithMaxRPS(n float64) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

func WithBurst(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.burst = n
		}
	}
}

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a hook that rewrites trades before they are throttled.
func WithTransform(fn func(*models.Trade) *models.Trade) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   20,
		burst:    5,
		bufSize:  1000,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Trade, p.bufSize)
	return p
}

// Start launches the retry loop for buffered trades.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stopCh, p.done
	p.mu.Unlock()

	go p.drain(ctx, stop, done)
}

func (p *RealtimePipeline) drain(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	wait := 50 * time.Millisecond
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case t := <-p.bufCh:
			if err := p.proc.ProcessTrade(ctx, t); err != nil {
				p.metrics.RecordError("pipeline_flush")
				select {
				case p.bufCh <- t:
				default:
					p.metrics.RecordError("pipeline_buffer_drop")
				}
				select {
				case <-stop:
					return
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				wait = min(wait*2, 2*time.Second)
				continue
			}
			wait = 50 * time.Millisecond
		}
	}
}

// Stop ends the retry loop and waits for it. Buffered trades are kept.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()
	<-done
}

// Buffered reports how many trades wait for a retry.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards t. Throttled trades are dropped
// without error; processor failures are buffered and returned.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Trade) error {
	start := p.now()
	if err := validateTrade(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := validateTrade(t); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.limiter(t.Symbol).AllowN(start, 1) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.ProcessTrade(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", p.now().Sub(start).Seconds())
	return nil
}

func (p *RealtimePipeline) limiter(symbol string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[symbol]
	if !ok {
		limit := rate.Limit(p.maxRPS)
		if p.maxRPS == 0 {
			limit = rate.Inf
		}
		l = rate.NewLimiter(limit, p.burst)
		p.limiters[symbol] = l
	}
	return l
}

func validateTrade(t *models.Trade) error {
	switch {
	case t == nil:
		return fmt.Errorf("trade nil")
	case t.Symbol == "":
		return fmt.Errorf("symbol empty")
	case t.Timestamp.IsZero():
		return fmt.Errorf("timestamp invalid")
	case math.IsNaN(t.Price) || t.Price <= 0 || t.Volume < 0:
		return fmt.Errorf("invalid price/volume")
	}
	return nil
}
