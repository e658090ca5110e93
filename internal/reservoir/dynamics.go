package reservoir

// Dynamics holds the constants of the node update and the coherence evolution equation
//
//	dpsi/dt = -Gamma*P + Delta*F - Epsilon*M + Phi*sum(energy - target)
type Dynamics struct {
	Gamma   float64 // weight of symbolic acceptance P
	Delta   float64 // weight of symbolic frequency F
	Epsilon float64 // damping from mental activity M
	Phi     float64 // basal coupling
	Step    float64 // Euler step applied to dpsi/dt

	NeighborGain   float64 // lambda on the delayed neighbor sum
	ActivationGain float64 // activation contribution to energy
	Homeostasis    float64 // pull of energy towards its target

	WeightBound      float64
	LearnThreshold   float64 // normalizer below which learning is skipped
	HistorySize      int     // per-node history depth
	StableVariance   float64 // below: target drifts down
	VolatileVariance float64 // above: target drifts up
	TargetFloor      float64
	TargetCeiling    float64
	AdaptWindow      int
}

// DefaultDynamics returns the published constants with phi taken from coupling.
func DefaultDynamics(coupling float64) Dynamics {
	return Dynamics{
		Gamma:   0.1,
		Delta:   0.15,
		Epsilon: 0.05,
		Phi:     coupling,
		Step:    0.01,

		NeighborGain:   0.8,
		ActivationGain: 0.1,
		Homeostasis:    0.05,

		WeightBound:      2.0,
		LearnThreshold:   1e-6,
		HistorySize:      100,
		StableVariance:   0.01,
		VolatileVariance: 0.1,
		TargetFloor:      0.2,
		TargetCeiling:    0.8,
		AdaptWindow:      10,
	}
}

// Derivative evaluates dpsi/dt.
func (d Dynamics) Derivative(acceptance, frequency, activity, deviation float64) float64 {
	return -d.Gamma*acceptance + d.Delta*frequency - d.Epsilon*activity + d.Phi*deviation
}
