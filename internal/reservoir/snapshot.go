package reservoir

import (
	"encoding/json"
	"fmt"
	"sort"
)

const snapshotHistory = 100

// CoherenceState mirrors the four coherence dimensions tracked by the engine. Only psi
// evolves; the others keep their neutral value.
type CoherenceState struct {
	Psi float64 `json:"psi"`
	Rho float64 `json:"rho"`
	Q   float64 `json:"q"`
	F   float64 `json:"f"`
}

type NodeState struct {
	NodeID            int             `json:"node_id"`
	Position          []float64       `json:"position"`
	Energy            float64         `json:"energy"`
	TargetEnergy      float64         `json:"target_energy"`
	Activation        float64         `json:"activation"`
	IncomingWeights   map[int]float64 `json:"incoming_weights"`
	OutgoingWeights   map[int]float64 `json:"outgoing_weights,omitempty"`
	EnergyHistory     []float64       `json:"energy_history,omitempty"`
	ActivationHistory []float64       `json:"activation_history,omitempty"`
}

type History struct {
	Coherence    []float64 `json:"coherence"`
	Anticipation []float64 `json:"anticipation"`
}

// Snapshot is the persisted form of an engine.
type Snapshot struct {
	Config         Config         `json:"config"`
	CoherenceState CoherenceState `json:"coherence_state"`
	NodeStates     []NodeState    `json:"node_states"`
	History        History        `json:"history"`
}

// Snapshot captures the engine with the last 100 coherence and anticipation values.
func (e *Engine) Snapshot() *Snapshot {
	s := &Snapshot{
		Config:         e.cfg,
		CoherenceState: CoherenceState{Psi: e.psi, Rho: 0.5, Q: 0.5, F: 0.5},
		NodeStates:     make([]NodeState, len(e.nodes)),
		History: History{
			Coherence:    e.coherence.Tail(snapshotHistory),
			Anticipation: e.anticipation.Tail(snapshotHistory),
		},
	}
	for i, n := range e.nodes {
		s.NodeStates[i] = NodeState{
			NodeID:            n.ID,
			Position:          append([]float64(nil), n.Position...),
			Energy:            n.Energy,
			TargetEnergy:      n.Target,
			Activation:        n.Activation,
			IncomingWeights:   linksToMap(n.In),
			OutgoingWeights:   linksToMap(n.Out),
			EnergyHistory:     n.EnergyHistory(),
			ActivationHistory: n.ActivationHistory(),
		}
	}
	return s
}

func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode reservoir snapshot: %w", err)
	}
	return &s, nil
}

// Restore rebuilds an engine from a snapshot. Adjacency is recomputed from the stored
// positions; weights, energies and histories are taken verbatim.
func Restore(s *Snapshot) (*Engine, error) {
	if err := s.Config.Validate(); err != nil {
		return nil, err
	}
	if len(s.NodeStates) != s.Config.NumNodes {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrNodeMismatch, len(s.NodeStates), s.Config.NumNodes)
	}

	e := newEngine(s.Config)
	positions := make([][]float64, len(s.NodeStates))
	for i, ns := range s.NodeStates {
		if ns.NodeID != i {
			return nil, fmt.Errorf("snapshot node %d out of order (id %d)", i, ns.NodeID)
		}
		if len(ns.Position) != s.Config.SpatialDimension {
			return nil, fmt.Errorf("snapshot node %d: position has %d dims, want %d", i, len(ns.Position), s.Config.SpatialDimension)
		}
		pos := append([]float64(nil), ns.Position...)
		positions[i] = pos

		n := newNode(i, pos, ns.Energy, ns.TargetEnergy, e.dyn.HistorySize)
		n.Activation = ns.Activation
		n.In = mapToLinks(ns.IncomingWeights)
		n.Out = mapToLinks(ns.OutgoingWeights)
		for _, v := range ns.EnergyHistory {
			n.energies.Push(v)
		}
		for _, v := range ns.ActivationHistory {
			n.activations.Push(v)
		}
		for _, src := range n.In.IDs {
			if src < 0 || src >= len(s.NodeStates) {
				return nil, fmt.Errorf("snapshot node %d links to unknown node %d", i, src)
			}
		}
		e.nodes[i] = n
	}
	e.topo = BuildTopology(positions, s.Config.ConnectionRadius)

	e.psi = clamp(s.CoherenceState.Psi, 0, 1)
	for _, v := range s.History.Coherence {
		e.coherence.Push(v)
	}
	for _, v := range s.History.Anticipation {
		e.anticipation.Push(v)
		if !e.antSeen || v < e.antMin {
			e.antMin = v
		}
		if !e.antSeen || v > e.antMax {
			e.antMax = v
		}
		e.antSeen = true
	}
	return e, nil
}

func linksToMap(l Links) map[int]float64 {
	m := make(map[int]float64, l.Len())
	for k, id := range l.IDs {
		m[id] = l.Weights[k]
	}
	return m
}

func mapToLinks(m map[int]float64) Links {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	l := Links{IDs: ids, Weights: make([]float64, len(ids))}
	for k, id := range ids {
		l.Weights[k] = m[id]
	}
	return l
}
