package integrator

import (
	"fmt"
	"sync"

	"BasalGCT/internal/coherence"
	"BasalGCT/internal/domain/models"
	"BasalGCT/internal/reservoir"
	"BasalGCT/pkg/logger"
	"BasalGCT/pkg/ring"
)

const (
	accuracyWindow  = 100
	stabilityWindow = 50
)

// Integrator drives one reservoir engine with a single symbol's stream and blends its
// output with the traditional coherence model. Methods are safe for concurrent use but
// points are processed strictly one at a time.
type Integrator struct {
	mu     sync.Mutex
	cfg    Config
	log    *logger.Logger
	engine *reservoir.Engine
	model  *coherence.TraditionalModel

	history   *ring.Buffer[models.MarketDataPoint]
	results   *ring.Buffer[*models.EnhancedCoherenceResult]
	accuracy  *ring.Buffer[float64]
	stability *ring.Buffer[float64]
	processed int64
	fallbacks int64
}

func New(log *logger.Logger, opts ...Option) (*Integrator, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	engine, err := reservoir.New(cfg.Reservoir)
	if err != nil {
		return nil, fmt.Errorf("build reservoir: %w", err)
	}
	cfg.Reservoir = engine.Config()

	if log == nil {
		log = logger.Nop()
	}

	return &Integrator{
		cfg:       cfg,
		log:       log.Component("integrator"),
		engine:    engine,
		model:     coherence.NewTraditionalModel(),
		history:   ring.New[models.MarketDataPoint](cfg.HistorySize),
		results:   ring.New[*models.EnhancedCoherenceResult](cfg.ResultSize),
		accuracy:  ring.New[float64](accuracyWindow),
		stability: ring.New[float64](stabilityWindow),
	}, nil
}

func (in *Integrator) Config() Config { return in.cfg }

// Process scores one data point. It never fails: invalid points and internal faults
// yield a neutral fallback result that is logged but not recorded.
func (in *Integrator) Process(p models.MarketDataPoint) (res *models.EnhancedCoherenceResult) {
	in.mu.Lock()
	defer in.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			in.fallbacks++
			in.log.Error("coherence step panicked",
				logger.String("symbol", p.Symbol),
				logger.Any("panic", r),
			)
			res = models.FallbackResult(p)
		}
	}()

	if err := p.Validate(); err != nil {
		in.fallbacks++
		in.log.Warn("rejecting market data point",
			logger.String("symbol", p.Symbol),
			logger.Error(err),
		)
		return models.FallbackResult(p)
	}

	return in.process(p)
}

func (in *Integrator) process(p models.MarketDataPoint) *models.EnhancedCoherenceResult {
	in.history.Push(p)
	in.processed++
	hist := in.history.Tail(marketWindow)

	trad := in.model.Compute(observations(hist), observation(p))
	market := marketArray(hist)

	in.engine.Step(encodeSignals(hist, p, in.engine.NodeCount()))
	basal := in.engine.ComputeCoherence()
	anticipation := in.engine.ComputeAnticipation()

	enhanced := blend(trad, basal, anticipation, in.engine.State(), in.cfg.Reservoir.IntegrationStrength)
	res := resonance(hist, p, in.engine.ActivationMomentum())

	conf := 0.0
	if in.cfg.EnablePrediction {
		conf = confidence(in.engine, market)
	}

	state := in.engine.State()
	result := &models.EnhancedCoherenceResult{
		Symbol:         p.Symbol,
		Timestamp:      p.Timestamp,
		Price:          p.Price,
		Traditional:    trad,
		Enhanced:       enhanced,
		Anticipation:   anticipation,
		Confidence:     conf,
		Resonance:      res,
		Efficiency:     efficiency(in.results.Tail(20)),
		ReservoirState: &state,
	}

	in.results.Push(result)
	in.track(hist, result)

	in.log.Debug("coherence computed",
		logger.String("symbol", p.Symbol),
		logger.Float64("psi", enhanced.Psi),
		logger.Float64("anticipation", anticipation),
		logger.Float64("confidence", conf),
	)
	return result
}

func (in *Integrator) track(hist []models.MarketDataPoint, r *models.EnhancedCoherenceResult) {
	if len(hist) >= 2 {
		prev := hist[len(hist)-2].Price
		change := (hist[len(hist)-1].Price - prev) / prev
		hit := 0.0
		if (change > 0 && r.Anticipation > 0) || (change < 0 && r.Anticipation < 0) {
			hit = 1.0
		}
		in.accuracy.Push(hit)
	}
	in.stability.Push(r.Enhanced.Psi)
}

// Predict forecasts k steps from series using the live engine. The engine advances.
func (in *Integrator) Predict(series []float64, k int) []float64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.engine.Predict(series, k)
}

// History returns up to n most recent accepted points, oldest first.
func (in *Integrator) History(n int) []models.MarketDataPoint {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.history.Tail(n)
}

// Results returns up to n most recent results, oldest first.
func (in *Integrator) Results(n int) []*models.EnhancedCoherenceResult {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.results.Tail(n)
}

func (in *Integrator) Latest() (*models.EnhancedCoherenceResult, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.results.Last()
}

func (in *Integrator) ReservoirState() reservoir.State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.engine.State()
}

func (in *Integrator) Snapshot() *reservoir.Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.engine.Snapshot()
}

// LoadSnapshot swaps the engine for one rebuilt from s. History and results are kept.
func (in *Integrator) LoadSnapshot(s *reservoir.Snapshot) error {
	engine, err := reservoir.Restore(s)
	if err != nil {
		return fmt.Errorf("restore reservoir: %w", err)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	in.engine = engine
	in.cfg.Reservoir = engine.Config()
	return nil
}
