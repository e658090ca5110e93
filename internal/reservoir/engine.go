package reservoir

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"BasalGCT/pkg/ring"
)

const (
	historyCapacity = 1000
	frequencyWindow = 20
	minFrequency    = 5
	predictWindow   = 10
	maxInputNodes   = 10
	eps             = 1e-8
)

var ErrNodeMismatch = errors.New("snapshot node count does not match config")

// Engine is a spatial reservoir of energy-regulated nodes. It is not safe for concurrent
// use; each owner drives its own engine.
type Engine struct {
	cfg  Config
	dyn  Dynamics
	topo *Topology
	// nodes is indexed by node id.
	nodes []*Node

	psi          float64
	coherence    *ring.Buffer[float64]
	anticipation *ring.Buffer[float64]
	antMin       float64
	antMax       float64
	antSeen      bool

	prev []float64
}

// New builds an engine. A zero seed is replaced with a random one and recorded in the config.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64() | 1
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	e := newEngine(cfg)
	positions := randomPositions(rng, cfg.NumNodes, cfg.SpatialDimension)
	for i, pos := range positions {
		energy := 0.3 + 0.4*rng.Float64()
		target := 0.4 + 0.2*rng.Float64()
		e.nodes[i] = newNode(i, pos, energy, target, e.dyn.HistorySize)
	}
	e.topo = BuildTopology(positions, cfg.ConnectionRadius)
	e.topo.initWeights(rng, e.nodes)
	return e, nil
}

func newEngine(cfg Config) *Engine {
	return &Engine{
		cfg:          cfg,
		dyn:          DefaultDynamics(cfg.CoherenceCoupling),
		nodes:        make([]*Node, cfg.NumNodes),
		psi:          0.5,
		coherence:    ring.New[float64](historyCapacity),
		anticipation: ring.New[float64](historyCapacity),
		prev:         make([]float64, cfg.NumNodes),
	}
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Dynamics() Dynamics { return e.dyn }

func (e *Engine) Topology() *Topology { return e.topo }

func (e *Engine) NodeCount() int { return len(e.nodes) }

// Node returns the node with the given id.
func (e *Engine) Node(id int) *Node { return e.nodes[id] }

// Step advances the reservoir one tick. Every node reads the same snapshot of the
// previous activations; updates, learning and target adaptation run as three full passes.
// Keys of inputs are source node ids.
func (e *Engine) Step(inputs map[int]float64) []float64 {
	for i, n := range e.nodes {
		e.prev[i] = n.Activation
	}

	out := make([]float64, len(e.nodes))
	for i, n := range e.nodes {
		out[i] = n.Update(inputs, e.prev, e.dyn, e.cfg.EnergyDecay)
	}
	for _, n := range e.nodes {
		n.Learn(e.prev, e.cfg.LearningRate, e.dyn)
	}
	for _, n := range e.nodes {
		n.AdaptTarget(e.cfg.AdaptationRate, e.dyn)
	}
	return out
}

// ComputeCoherence integrates dpsi/dt one Euler step and records the new psi.
func (e *Engine) ComputeCoherence() float64 {
	deriv := e.dyn.Derivative(e.acceptance(), e.frequency(), e.activity(), e.deviation())
	e.psi = clamp(e.psi+e.dyn.Step*deriv, 0, 1)
	e.coherence.Push(e.psi)
	return e.psi
}

// ComputeAnticipation returns phi * sum(energy - target) and records it. It is not clamped.
func (e *Engine) ComputeAnticipation() float64 {
	a := e.dyn.Phi * e.deviation()
	e.anticipation.Push(a)
	if !e.antSeen || a < e.antMin {
		e.antMin = a
	}
	if !e.antSeen || a > e.antMax {
		e.antMax = a
	}
	e.antSeen = true
	return a
}

// acceptance is exp(-2 * var(activations)); consensus raises it.
func (e *Engine) acceptance() float64 {
	return math.Exp(-2 * stat.PopVariance(e.activations(), nil))
}

// frequency is the dominant non-DC bin of the recent coherence trace, scaled into [0,1].
func (e *Engine) frequency() float64 {
	if e.coherence.Len() < minFrequency {
		return 0
	}
	seq := e.coherence.Tail(frequencyWindow)
	n := len(seq)
	coeffs := fourier.NewFFT(n).Coefficients(nil, seq)

	dominant, best := 1, -1.0
	for k := 1; k < n/2; k++ {
		if p := cmplx.Abs(coeffs[k]); p > best {
			dominant, best = k, p
		}
	}
	return math.Min(1, 5*float64(dominant)/float64(n))
}

// activity is the mean absolute energy change over the last step.
func (e *Engine) activity() float64 {
	var sum float64
	var cnt int
	for _, n := range e.nodes {
		if d, ok := n.EnergyDelta(); ok {
			sum += d
			cnt++
		}
	}
	if cnt == 0 {
		return 0
	}
	return sum / float64(cnt)
}

func (e *Engine) deviation() float64 {
	var sum float64
	for _, n := range e.nodes {
		sum += n.Energy - n.Target
	}
	return sum
}

// ActivationMomentum is the mean change of activation over the last step, 0 before two steps.
func (e *Engine) ActivationMomentum() float64 {
	var sum float64
	var cnt int
	for _, n := range e.nodes {
		if d, ok := n.ActivationDelta(); ok {
			sum += d
			cnt++
		}
	}
	if cnt == 0 {
		return 0
	}
	return sum / float64(cnt)
}

// Predict runs the reservoir k steps ahead from the trailing window of series. The first
// step is driven by the z-scored window, later ones by internal dynamics only. The engine
// state advances as a side effect.
func (e *Engine) Predict(series []float64, k int) []float64 {
	if k <= 0 {
		return []float64{}
	}
	out := make([]float64, k)
	if len(series) < predictWindow {
		return out
	}

	inputs := e.encodeSeries(series[len(series)-predictWindow:])
	for step := 0; step < k; step++ {
		var acts []float64
		if step == 0 {
			acts = e.Step(inputs)
		} else {
			acts = e.Step(nil)
		}
		coh := e.ComputeCoherence()
		ant := e.ComputeAnticipation()
		out[step] = decode(acts, coh, ant)
	}
	return out
}

func (e *Engine) encodeSeries(window []float64) map[int]float64 {
	mean := stat.Mean(window, nil)
	std := stat.PopStdDev(window, nil)
	if !finite(mean) || !finite(std) {
		return map[int]float64{}
	}

	n := len(e.nodes)
	numInputs := min(n/4, len(window), maxInputNodes)
	inputs := make(map[int]float64, numInputs)
	if numInputs == 0 {
		return inputs
	}
	stride := n / numInputs
	for i := 0; i < numInputs; i++ {
		z := (window[i] - mean) / (std + eps)
		if !finite(z) {
			return map[int]float64{}
		}
		inputs[i*stride] = z
	}
	return inputs
}

func decode(acts []float64, coh, ant float64) float64 {
	var num, den float64
	for _, a := range acts {
		w := math.Abs(a) + 0.1
		num += w * a
		den += w
	}
	weighted := 0.0
	if den > 0 {
		weighted = num / den
	}
	return 0.6*weighted + 0.3*coh + 0.1*ant
}

func (e *Engine) activations() []float64 {
	acts := make([]float64, len(e.nodes))
	for i, n := range e.nodes {
		acts[i] = n.Activation
	}
	return acts
}

func (e *Engine) energies() []float64 {
	es := make([]float64, len(e.nodes))
	for i, n := range e.nodes {
		es[i] = n.Energy
	}
	return es
}

// State is a monitoring summary of the reservoir.
type State struct {
	NodeCount            int     `json:"num_nodes"`
	AverageEnergy        float64 `json:"average_energy"`
	EnergyVariance       float64 `json:"energy_variance"`
	AverageActivation    float64 `json:"average_activation"`
	EnhancedCoherence    float64 `json:"enhanced_coherence"`
	AnticipationCapacity float64 `json:"anticipation_capacity"`
	ConnectionDensity    float64 `json:"connection_density"`
}

func (e *Engine) State() State {
	es := e.energies()
	last, _ := e.anticipation.Last()
	return State{
		NodeCount:            len(e.nodes),
		AverageEnergy:        stat.Mean(es, nil),
		EnergyVariance:       stat.PopVariance(es, nil),
		AverageActivation:    stat.Mean(e.activations(), nil),
		EnhancedCoherence:    e.psi,
		AnticipationCapacity: last,
		ConnectionDensity:    Density(e.nodes),
	}
}

// PerformanceMetrics summarises how settled the coherence and anticipation traces are.
type PerformanceMetrics struct {
	CoherenceStability float64 `json:"coherence_stability"`
	AnticipationRange  float64 `json:"anticipation_range"`
}

func (e *Engine) Metrics() PerformanceMetrics {
	m := PerformanceMetrics{CoherenceStability: 1.0}
	if e.coherence.Len() >= frequencyWindow {
		m.CoherenceStability = stat.PopStdDev(e.coherence.Tail(frequencyWindow), nil)
	}
	if e.antSeen {
		m.AnticipationRange = e.antMax - e.antMin
	}
	return m
}

// CoherenceHistory returns up to n most recent psi values.
func (e *Engine) CoherenceHistory(n int) []float64 { return e.coherence.Tail(n) }

// AnticipationHistory returns up to n most recent anticipation values.
func (e *Engine) AnticipationHistory(n int) []float64 { return e.anticipation.Tail(n) }

func (e *Engine) String() string {
	return fmt.Sprintf("reservoir(nodes=%d dim=%d seed=%d psi=%.4f)",
		len(e.nodes), e.cfg.SpatialDimension, e.cfg.Seed, e.psi)
}
