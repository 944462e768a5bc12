package model

import (
	"fmt"

	"github.com/samcharles93/strata/internal/tensor"
)

// RoutingDecision is the router output for one forward call: per token, TopK
// expert indices and their weights, flattened row-major over tokens.
type RoutingDecision struct {
	Rows    int
	TopK    int
	Indices []int
	Weights []float32
}

// Expert returns the j-th selected (expert, weight) pair for token row.
func (d *RoutingDecision) Expert(row, j int) (int, float32) {
	return d.Indices[row*d.TopK+j], d.Weights[row*d.TopK+j]
}

// Gate scores tokens against the expert centroids and selects top-k experts
// per token under the configured policy.
type Gate struct {
	cfg    *LayerConfig
	weight *tensor.Tensor // (experts, hidden) centroid matrix
	bias   []float32      // per-expert correction, noaux_tc only
}

// NewGate wires a router. bias is the noaux_tc correction term; it is
// required for that policy and ignored by the others.
func NewGate(cfg *LayerConfig, weight *tensor.Tensor, bias []float32) (*Gate, error) {
	if weight.Dims() != 2 || weight.Dim(0) != cfg.NumRoutedExperts || weight.Dim(1) != cfg.HiddenSize {
		return nil, fmt.Errorf("%w: gate weight %v, want (%d,%d)", ErrConfig, weight.Shape(), cfg.NumRoutedExperts, cfg.HiddenSize)
	}
	if cfg.TopKMethod == TopKNoAuxTC && bias == nil {
		return nil, fmt.Errorf("%w: noaux_tc routing requires a correction bias", ErrConfig)
	}
	if bias != nil && len(bias) != cfg.NumRoutedExperts {
		return nil, fmt.Errorf("%w: gate bias length %d for %d experts", ErrConfig, len(bias), cfg.NumRoutedExperts)
	}
	return &Gate{cfg: cfg, weight: weight, bias: bias}, nil
}

// Forward routes every token of hidden (..., hidden). Affinity logits are
// accumulated in float64 regardless of input precision; single-precision
// sums over wide hidden sizes can flip expert rankings.
func (g *Gate) Forward(hidden *tensor.Tensor) (*RoutingDecision, error) {
	h := g.cfg.HiddenSize
	if hidden.Dim(-1) != h {
		return nil, fmt.Errorf("gate: input width %d, want %d", hidden.Dim(-1), h)
	}
	rows := hidden.Len() / h
	experts := g.cfg.NumRoutedExperts
	topK := g.cfg.NumExpertsPerTok

	logits := make([]float32, rows*experts)
	tensor.GemmTransBF64(rows, experts, h, hidden.Data(), g.weight.Data(), logits)

	scores := logits
	switch g.cfg.ScoringFunc {
	case ScoreSoftmax:
		for r := 0; r < rows; r++ {
			tensor.Softmax(scores[r*experts : (r+1)*experts])
		}
	case ScoreSigmoid:
		for i, v := range scores {
			scores[i] = tensor.Sigmoid(v)
		}
	}

	d := &RoutingDecision{
		Rows:    rows,
		TopK:    topK,
		Indices: make([]int, rows*topK),
		Weights: make([]float32, rows*topK),
	}
	for r := 0; r < rows; r++ {
		row := scores[r*experts : (r+1)*experts]
		idx := d.Indices[r*topK : (r+1)*topK]
		switch g.cfg.TopKMethod {
		case TopKGreedy:
			tensor.TopK(row, topK, idx)
		case TopKNoAuxTC:
			g.selectNoAuxTC(row, idx)
		case TopKGroupLimitedGreedy:
			g.selectGroupLimited(row, idx)
		}
		w := d.Weights[r*topK : (r+1)*topK]
		for j, e := range idx {
			w[j] = row[e]
		}
		if topK > 1 && g.cfg.NormTopKProb {
			var sum float32
			for _, v := range w {
				sum += v
			}
			inv := 1 / (sum + 1e-20)
			for j := range w {
				w[j] *= inv
			}
		}
		scaleF := float32(g.cfg.RoutedScalingFactor)
		for j := range w {
			w[j] *= scaleF
		}
	}
	return d, nil
}

// selectNoAuxTC is the auxiliary-loss-free policy: a learned bias shifts the
// scores before ranking, groups are ranked by their top-2 corrected scores,
// and the final top-k runs over the surviving groups. The bias affects
// selection only; reported weights come from the uncorrected scores.
func (g *Gate) selectNoAuxTC(row []float32, idx []int) {
	corrected := make([]float32, len(row))
	for i, v := range row {
		corrected[i] = v + g.bias[i]
	}
	keep := g.groupMask(corrected, func(group []float32) float32 {
		var two [2]int
		tensor.TopK(group, 2, two[:])
		s := group[two[0]]
		if two[1] >= 0 {
			s += group[two[1]]
		}
		return s
	})
	for i := range corrected {
		if !keep[i] {
			corrected[i] = 0
		}
	}
	tensor.TopK(corrected, len(idx), idx)
}

// selectGroupLimited ranks groups by their single best uncorrected score.
// Unlike noaux_tc there is no bias and no top-2 sum; the policies diverge
// deliberately and are not unified here.
func (g *Gate) selectGroupLimited(row []float32, idx []int) {
	keep := g.groupMask(row, func(group []float32) float32 {
		best := group[0]
		for _, v := range group[1:] {
			if v > best {
				best = v
			}
		}
		return best
	})
	masked := make([]float32, len(row))
	for i, v := range row {
		if keep[i] {
			masked[i] = v
		}
	}
	tensor.TopK(masked, len(idx), idx)
}

// groupMask scores each equal-size expert group with rank, keeps the top
// topk_group groups, and returns a per-expert keep flag.
func (g *Gate) groupMask(scores []float32, rank func(group []float32) float32) []bool {
	nGroup := g.cfg.NGroup
	perGroup := len(scores) / nGroup
	groupScores := make([]float32, nGroup)
	for gi := 0; gi < nGroup; gi++ {
		groupScores[gi] = rank(scores[gi*perGroup : (gi+1)*perGroup])
	}
	topGroups := make([]int, g.cfg.TopKGroup)
	tensor.TopK(groupScores, g.cfg.TopKGroup, topGroups)

	keep := make([]bool, len(scores))
	for _, gi := range topGroups {
		for i := gi * perGroup; i < (gi+1)*perGroup; i++ {
			keep[i] = true
		}
	}
	return keep
}
