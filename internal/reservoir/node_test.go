package reservoir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(energy, target float64, ids []int, weights []float64) *Node {
	n := newNode(0, []float64{0, 0}, energy, target, 100)
	n.In = Links{IDs: ids, Weights: weights}
	return n
}

func TestNodeUpdate(t *testing.T) {
	d := DefaultDynamics(0.05)
	n := testNode(0.5, 0.5, []int{1, 2}, []float64{0.5, -0.25})
	prev := []float64{0, 0.4, 0.2}

	// the node's own id is not an incoming link, so ext[0] is ignored
	act := n.Update(map[int]float64{0: 9, 1: 1.0}, prev, d, 0.95)

	want := math.Tanh(0.5 + 0.8*(0.5*0.4-0.25*0.2))
	assert.InDelta(t, want, act, 1e-12)
	assert.InDelta(t, 0.5*0.95+0.1*want, n.Energy, 1e-12)
	assert.Equal(t, []float64{want}, n.ActivationHistory())
	assert.Equal(t, []float64{n.Energy}, n.EnergyHistory())
}

func TestNodeUpdateClampsEnergy(t *testing.T) {
	d := DefaultDynamics(0.05)
	n := testNode(1.0, 0.2, []int{1}, []float64{2})

	for i := 0; i < 50; i++ {
		n.Update(map[int]float64{1: 1e9}, []float64{0, 1}, d, 1.0)
		require.LessOrEqual(t, n.Energy, 1.0)
	}

	n.Energy = 0
	for i := 0; i < 50; i++ {
		n.Update(map[int]float64{1: -1e9}, []float64{0, -1}, d, 0.1)
		require.GreaterOrEqual(t, n.Energy, 0.0)
	}
}

func TestNodeUpdateIgnoresNonFiniteInput(t *testing.T) {
	d := DefaultDynamics(0.05)
	n := testNode(0.5, 0.5, []int{1}, []float64{0.5})

	n.Update(map[int]float64{1: math.NaN()}, []float64{0, 0}, d, 0.95)
	assert.Zero(t, n.Activation)
	assert.False(t, math.IsNaN(n.Energy))

	n.Update(map[int]float64{1: math.Inf(1)}, []float64{0, 0}, d, 0.95)
	assert.Zero(t, n.Activation)
}

func TestClampMapsNaNToLow(t *testing.T) {
	assert.Equal(t, 0.0, clamp(math.NaN(), 0, 1))
	assert.Equal(t, -2.0, clamp(math.NaN(), -2, 2))
	assert.Equal(t, 1.0, clamp(math.Inf(1), 0, 1))
}

func TestNodeHistoryIsBounded(t *testing.T) {
	d := DefaultDynamics(0.05)
	n := testNode(0.5, 0.5, nil, nil)
	for i := 0; i < 250; i++ {
		n.Update(nil, []float64{0}, d, 0.95)
	}
	assert.Len(t, n.EnergyHistory(), 100)
	assert.Len(t, n.ActivationHistory(), 100)
}

func TestNodeLearn(t *testing.T) {
	d := DefaultDynamics(0.05)
	n := testNode(0.7, 0.5, []int{1, 2}, []float64{0.4, 0.3})
	prev := []float64{0, 0.5, 0.2}

	n.Learn(prev, 0.01, d)

	total := 0.5*0.4 + 0.2*0.3
	assert.InDelta(t, 0.4-0.01*0.2*0.5*0.4/total, n.In.Weights[0], 1e-12)
	assert.InDelta(t, 0.3-0.01*0.2*0.2*0.3/total, n.In.Weights[1], 1e-12)
}

func TestNodeLearnSkipsDegenerateNormalizer(t *testing.T) {
	d := DefaultDynamics(0.05)
	n := testNode(0.9, 0.1, []int{1, 2}, []float64{0.4, 0.3})

	n.Learn([]float64{0, 0, 0}, 0.5, d)
	assert.Equal(t, []float64{0.4, 0.3}, n.In.Weights)
}

func TestNodeLearnClampsWeights(t *testing.T) {
	d := DefaultDynamics(0.05)
	n := testNode(1.0, 0.0, []int{1, 2}, []float64{1.9, -1.9})

	// small normalizer above the threshold makes the step huge
	n.Learn([]float64{0, 1, 0.9999}, 1, d)
	assert.Equal(t, []float64{-2, 2}, n.In.Weights)
}

func TestNodeAdaptTarget(t *testing.T) {
	d := DefaultDynamics(0.05)

	t.Run("stable lowers target", func(t *testing.T) {
		n := testNode(0.5, 0.5, nil, nil)
		for i := 0; i < 10; i++ {
			n.energies.Push(0.5)
		}
		n.AdaptTarget(0.01, d)
		assert.InDelta(t, 0.49, n.Target, 1e-12)
	})

	t.Run("floor", func(t *testing.T) {
		n := testNode(0.5, 0.2, nil, nil)
		for i := 0; i < 10; i++ {
			n.energies.Push(0.5)
		}
		n.AdaptTarget(0.01, d)
		assert.Equal(t, 0.2, n.Target)
	})

	t.Run("volatile raises target", func(t *testing.T) {
		n := testNode(0.5, 0.79, nil, nil)
		for i := 0; i < 10; i++ {
			n.energies.Push(float64(i % 2))
		}
		n.AdaptTarget(0.05, d)
		assert.Equal(t, 0.8, n.Target)
	})

	t.Run("too few samples", func(t *testing.T) {
		n := testNode(0.5, 0.5, nil, nil)
		n.energies.Push(0.5)
		n.AdaptTarget(0.01, d)
		assert.Equal(t, 0.5, n.Target)
	})
}

func TestLinksWeight(t *testing.T) {
	l := Links{IDs: []int{2, 5, 9}, Weights: []float64{0.1, 0.2, 0.3}}

	w, ok := l.Weight(5)
	assert.True(t, ok)
	assert.Equal(t, 0.2, w)

	_, ok = l.Weight(4)
	assert.False(t, ok)
}
