package model

import (
	"fmt"
	"strconv"

	"github.com/samcharles93/strata/internal/tensor"
)

// Mlp is the SiLU-gated feed-forward block, used both as a dense layer and as
// the per-expert computation inside MoE (experts use a narrower intermediate
// width than dense layers; the width is a property of the weights).
type Mlp struct {
	gate Projection
	up   Projection
	down Projection
}

// NewMlp wires a feed-forward block from its three projections.
func NewMlp(gate, up, down Projection) (*Mlp, error) {
	if gate == nil || up == nil || down == nil {
		return nil, fmt.Errorf("%w: mlp requires gate, up and down projections", ErrConfig)
	}
	return &Mlp{gate: gate, up: up, down: down}, nil
}

// Forward computes down(SiLU(gate(x)) ⊙ up(x)).
func (m *Mlp) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	g, err := m.gate.ForwardAutocast(x)
	if err != nil {
		return nil, fmt.Errorf("mlp gate: %w", err)
	}
	u, err := m.up.ForwardAutocast(x)
	if err != nil {
		return nil, fmt.Errorf("mlp up: %w", err)
	}
	gd, ud := g.Data(), u.Data()
	for i, v := range gd {
		gd[i] = tensor.Silu(v) * ud[i]
	}
	out, err := m.down.ForwardAutocast(g)
	if err != nil {
		return nil, fmt.Errorf("mlp down: %w", err)
	}
	return out, nil
}

// MoE dispatches each token to its routed experts and accumulates the
// weighted outputs, plus an always-on shared-expert term when present.
type MoE struct {
	gate    *Gate
	experts []*Mlp
	shared  *Mlp
	hidden  int
}

// NewMoE wires an expert bank. Expert identity is its position in experts and
// is stable for the lifetime of the model. shared may be nil.
func NewMoE(cfg *LayerConfig, gate *Gate, experts []*Mlp, shared *Mlp) (*MoE, error) {
	if gate == nil {
		return nil, fmt.Errorf("%w: moe requires a gate", ErrConfig)
	}
	if len(experts) != cfg.NumRoutedExperts {
		return nil, fmt.Errorf("%w: %d experts for n_routed_experts %d", ErrConfig, len(experts), cfg.NumRoutedExperts)
	}
	if cfg.NumSharedExperts > 0 && shared == nil {
		return nil, fmt.Errorf("%w: config declares %d shared experts but none supplied", ErrConfig, cfg.NumSharedExperts)
	}
	return &MoE{gate: gate, experts: experts, shared: shared, hidden: cfg.HiddenSize}, nil
}

// Forward routes hidden (batch, seq, hidden) through the expert bank. Every
// token contributes exactly top_k weighted expert terms to the output;
// experts with no assigned tokens are skipped.
func (m *MoE) Forward(hidden *tensor.Tensor) (*tensor.Tensor, error) {
	dec, err := m.gate.Forward(hidden)
	if err != nil {
		return nil, err
	}

	counts := tensor.Bincount(dec.Indices, len(m.experts))
	rowsByExpert := make([][]int, len(m.experts))
	weightsByExpert := make([][]float32, len(m.experts))
	for e, n := range counts {
		if n == 0 {
			continue
		}
		rowsByExpert[e] = make([]int, 0, n)
		weightsByExpert[e] = make([]float32, 0, n)
	}
	for r := 0; r < dec.Rows; r++ {
		for j := 0; j < dec.TopK; j++ {
			e, w := dec.Expert(r, j)
			rowsByExpert[e] = append(rowsByExpert[e], r)
			weightsByExpert[e] = append(weightsByExpert[e], w)
		}
	}

	h := m.hidden
	out := tensor.New(hidden.Shape()...)
	xd, od := hidden.Data(), out.Data()
	for e, rows := range rowsByExpert {
		if len(rows) == 0 {
			continue
		}
		gathered := tensor.New(len(rows), h)
		gd := gathered.Data()
		for i, r := range rows {
			copy(gd[i*h:(i+1)*h], xd[r*h:(r+1)*h])
		}
		y, err := m.experts[e].Forward(gathered)
		if err != nil {
			return nil, fmt.Errorf("expert %d: %w", e, err)
		}
		yd := y.Data()
		for i, r := range rows {
			w := weightsByExpert[e][i]
			dst := od[r*h : (r+1)*h]
			for j, v := range yd[i*h : (i+1)*h] {
				dst[j] += w * v
			}
		}
		expertTokensTotal.WithLabelValues(strconv.Itoa(e)).Add(float64(len(rows)))
	}

	if m.shared != nil {
		sy, err := m.shared.Forward(hidden)
		if err != nil {
			return nil, fmt.Errorf("shared expert: %w", err)
		}
		tensor.Add(out, sy)
	}
	return out, nil
}
