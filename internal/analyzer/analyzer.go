package analyzer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"BasalGCT/internal/domain/models"
	"BasalGCT/internal/integrator"
	"BasalGCT/pkg/logger"
	"BasalGCT/pkg/ring"
)

var ErrUnknownSymbol = errors.New("symbol is not configured for analysis")

const priceWindow = 20

// session pairs one symbol with its own integrator; engines are never shared.
type session struct {
	integ       *integrator.Integrator
	mu          sync.Mutex
	predictions *ring.Buffer[*models.MarketPrediction]
}

// Analyzer owns a coherence integrator per symbol, runs batch analyses and raises alerts.
type Analyzer struct {
	cfg     Config
	log     *logger.Logger
	allowed map[string]struct{}
	started time.Time
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session

	alertMu   sync.RWMutex
	alerts    *ring.Buffer[models.Alert]
	callbacks []AlertCallback

	processed atomic.Int64
	lastConf  atomic.Value // float64
}

func New(cfg Config, log *logger.Logger) *Analyzer {
	if log == nil {
		log = logger.Nop()
	}
	a := &Analyzer{
		cfg:      cfg,
		log:      log.Component("analyzer"),
		started:  time.Now(),
		now:      time.Now,
		sessions: make(map[string]*session),
		alerts:   ring.New[models.Alert](cfg.AlertHistory),
	}
	if len(cfg.Symbols) > 0 {
		a.allowed = make(map[string]struct{}, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			a.allowed[s] = struct{}{}
		}
	}
	a.lastConf.Store(0.0)
	return a
}

// OnAlert registers a callback for every future alert.
func (a *Analyzer) OnAlert(cb AlertCallback) {
	a.alertMu.Lock()
	defer a.alertMu.Unlock()
	a.callbacks = append(a.callbacks, cb)
}

// Integrator returns the symbol's integrator, creating it on first use.
func (a *Analyzer) Integrator(symbol string) (*integrator.Integrator, error) {
	s, err := a.session(symbol)
	if err != nil {
		return nil, err
	}
	return s.integ, nil
}

func (a *Analyzer) session(symbol string) (*session, error) {
	if a.allowed != nil {
		if _, ok := a.allowed[symbol]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
	}

	a.mu.RLock()
	s, ok := a.sessions[symbol]
	a.mu.RUnlock()
	if ok {
		return s, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[symbol]; ok {
		return s, nil
	}

	icfg := a.cfg.Integrator
	icfg.Reservoir.Seed = symbolSeed(icfg.Reservoir.Seed, symbol)
	integ, err := integrator.New(a.log.With(logger.String("symbol", symbol)),
		integrator.WithReservoir(icfg.Reservoir),
		integrator.WithPrediction(icfg.EnablePrediction),
		integrator.WithCapacity(icfg.HistorySize, icfg.ResultSize),
	)
	if err != nil {
		return nil, fmt.Errorf("create integrator for %s: %w", symbol, err)
	}

	s = &session{integ: integ, predictions: ring.New[*models.MarketPrediction](a.cfg.PredictionHistory)}
	a.sessions[symbol] = s
	a.log.Info("analysis session created",
		logger.String("symbol", symbol),
		logger.Int("nodes", icfg.Reservoir.NumNodes),
	)
	return s, nil
}

// symbolSeed keeps a configured seed reproducible while giving each symbol its own topology.
func symbolSeed(base uint64, symbol string) uint64 {
	if base == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return base ^ h.Sum64()
}

// Process scores a single streamed point on its symbol's integrator and raises alerts.
func (a *Analyzer) Process(p models.MarketDataPoint) (*models.EnhancedCoherenceResult, error) {
	s, err := a.session(p.Symbol)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	res := s.integ.Process(p)
	s.mu.Unlock()

	a.processed.Add(1)
	if a.cfg.EnableAlerts && !res.Fallback {
		a.raise(DetectAlerts(p.Symbol, res, a.now()))
	}
	return res, nil
}

// Analyze groups points by symbol and analyses every symbol with at least MinDataPoints
// points in parallel. A failing symbol is logged and skipped. Results are ordered by symbol.
func (a *Analyzer) Analyze(ctx context.Context, points []models.MarketDataPoint) ([]*models.MarketPrediction, error) {
	if len(points) == 0 {
		a.log.Warn("no market data provided for analysis")
		return nil, nil
	}

	groups := make(map[string][]models.MarketDataPoint)
	for _, p := range points {
		groups[p.Symbol] = append(groups[p.Symbol], p)
	}

	symbols := make([]string, 0, len(groups))
	for sym, pts := range groups {
		if len(pts) < a.cfg.MinDataPoints {
			a.log.Warn("insufficient data for symbol",
				logger.String("symbol", sym),
				logger.Int("points", len(pts)),
				logger.Int("required", a.cfg.MinDataPoints),
			)
			continue
		}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := make([]*models.MarketPrediction, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			pred, err := a.analyzeSymbol(gctx, sym, groups[sym])
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				a.log.Error("symbol analysis failed", logger.String("symbol", sym), logger.Error(err))
				return nil
			}
			out[i] = pred
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analyze batch: %w", err)
	}

	a.processed.Add(int64(len(points)))

	preds := slices.DeleteFunc(out, func(p *models.MarketPrediction) bool { return p == nil })
	if len(preds) > 0 {
		var sum float64
		for _, p := range preds {
			sum += stat.Mean(p.ConfidenceScores, nil)
		}
		a.lastConf.Store(sum / float64(len(preds)))
	}
	return preds, nil
}

func (a *Analyzer) analyzeSymbol(ctx context.Context, symbol string, pts []models.MarketDataPoint) (*models.MarketPrediction, error) {
	s, err := a.session(symbol)
	if err != nil {
		return nil, err
	}

	sorted := slices.Clone(pts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	window := sorted
	if len(window) > a.cfg.AnalysisWindow {
		window = window[len(window)-a.cfg.AnalysisWindow:]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.EnhancedCoherenceResult
	for _, p := range window {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		latest = s.integ.Process(p)
	}

	prices := make([]float64, 0, priceWindow)
	for _, p := range tail(sorted, priceWindow) {
		prices = append(prices, p.Price)
	}
	predicted := s.integ.Predict(prices, a.cfg.PredictionHorizon)
	scores := ConfidenceScores(predicted, latest, prices)
	risk := AssessRisk(tail(sorted, 10), latest, predicted)

	pred := &models.MarketPrediction{
		Symbol:           symbol,
		CurrentPrice:     sorted[len(sorted)-1].Price,
		PredictedValues:  predicted,
		ConfidenceScores: scores,
		Coherence:        latest,
		HorizonMinutes:   a.cfg.PredictionHorizon,
		AnalyzedAt:       a.now(),
		Risk:             risk,
		Signal:           GenerateSignal(latest, predicted, scores, risk, a.cfg.ConfidenceThreshold),
	}
	s.predictions.Push(pred)

	if a.cfg.EnableAlerts && !latest.Fallback {
		a.raise(DetectAlerts(symbol, latest, pred.AnalyzedAt))
	}

	a.log.Info("symbol analysed",
		logger.String("symbol", symbol),
		logger.String("action", string(pred.Signal.Action)),
		logger.Float64("strength", pred.Signal.Strength),
		logger.Float64("risk", risk.Overall),
	)
	return pred, nil
}

func (a *Analyzer) raise(alerts []models.Alert) {
	if len(alerts) == 0 {
		return
	}

	a.alertMu.Lock()
	for _, al := range alerts {
		a.alerts.Push(al)
	}
	cbs := slices.Clone(a.callbacks)
	a.alertMu.Unlock()

	for _, al := range alerts {
		for _, cb := range cbs {
			a.dispatch(cb, al)
		}
	}
}

func (a *Analyzer) dispatch(cb AlertCallback, al models.Alert) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("alert callback panicked",
				logger.String("alert_id", al.ID),
				logger.Any("panic", r),
			)
		}
	}()
	cb(al)
}

// Latest returns the newest prediction for symbol.
func (a *Analyzer) Latest(symbol string) (*models.MarketPrediction, bool) {
	a.mu.RLock()
	s, ok := a.sessions[symbol]
	a.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predictions.Last()
}

// Alerts returns up to n most recent alerts, optionally for one symbol, oldest first.
func (a *Analyzer) Alerts(symbol string, n int) []models.Alert {
	a.alertMu.RLock()
	all := a.alerts.Slice()
	a.alertMu.RUnlock()

	if symbol != "" {
		all = slices.DeleteFunc(all, func(al models.Alert) bool { return al.Symbol != symbol })
	}
	return tail(all, n)
}

// Symbols lists the symbols with an active session.
func (a *Analyzer) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.sessions))
	for s := range a.sessions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type Summary struct {
	Uptime              time.Duration                            `json:"uptime"`
	ProcessedDataPoints int64                                    `json:"processed_data_points"`
	TotalPredictions    int                                      `json:"total_predictions"`
	TotalAlerts         int                                      `json:"total_alerts"`
	SymbolsAnalyzed     int                                      `json:"symbols_analyzed"`
	AverageConfidence   float64                                  `json:"average_confidence"`
	Integrators         map[string]integrator.PerformanceSummary `json:"integrator_performance"`
}

func (a *Analyzer) Summary() Summary {
	a.mu.RLock()
	sessions := make(map[string]*session, len(a.sessions))
	for k, v := range a.sessions {
		sessions[k] = v
	}
	a.mu.RUnlock()

	s := Summary{
		Uptime:              a.now().Sub(a.started),
		ProcessedDataPoints: a.processed.Load(),
		SymbolsAnalyzed:     len(sessions),
		AverageConfidence:   a.lastConf.Load().(float64),
		Integrators:         make(map[string]integrator.PerformanceSummary, len(sessions)),
	}
	for sym, sess := range sessions {
		sess.mu.Lock()
		s.TotalPredictions += sess.predictions.Len()
		sess.mu.Unlock()
		s.Integrators[sym] = sess.integ.Summary()
	}

	a.alertMu.RLock()
	s.TotalAlerts = a.alerts.Len()
	a.alertMu.RUnlock()
	return s
}

func tail[T any](xs []T, n int) []T {
	if n <= 0 || len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
