package coherence

import "math"

// Vector is the four-dimensional coherence score. Every component lies in [0,1].
type Vector struct {
	Psi float64 `json:"psi"` // internal consistency
	Rho float64 `json:"rho"` // accumulated wisdom / trend strength
	Q   float64 `json:"q"`   // emotional activation
	F   float64 `json:"f"`   // social frequency
}

// Neutral is returned whenever there is not enough data to score.
func Neutral() Vector {
	return Vector{Psi: 0.5, Rho: 0.5, Q: 0.5, F: 0.5}
}

// Clamped returns v with every component forced into [0,1].
func (v Vector) Clamped() Vector {
	return Vector{
		Psi: Clamp01(v.Psi),
		Rho: Clamp01(v.Rho),
		Q:   Clamp01(v.Q),
		F:   Clamp01(v.F),
	}
}

// Strength is the mean of the four components.
func (v Vector) Strength() float64 {
	return (v.Psi + v.Rho + v.Q + v.F) / 4
}

// Clamp01 maps NaN to 0.
func Clamp01(x float64) float64 {
	return Clamp(x, 0, 1)
}

func Clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
