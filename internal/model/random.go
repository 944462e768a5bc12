package model

import (
	"github.com/samcharles93/strata/internal/cache"
	"github.com/samcharles93/strata/internal/tensor"
)

// seedSequence hands out deterministic per-tensor seeds so every synthetic
// weight differs while the whole model stays reproducible.
type seedSequence struct{ next int64 }

func (s *seedSequence) take() int64 {
	v := s.next
	s.next++
	return v
}

func (s *seedSequence) linear(out, in int) *Linear {
	w := tensor.New(out, in)
	tensor.FillRand(w, s.take())
	l, err := NewLinear(w, nil)
	if err != nil {
		panic(err)
	}
	return l
}

func (s *seedSequence) norm(n int, eps float64) *RMSNorm {
	w := make([]float32, n)
	for i := range w {
		w[i] = 1
	}
	nm, err := NewRMSNorm(w, eps)
	if err != nil {
		panic(err)
	}
	return nm
}

func (s *seedSequence) vector(n int) []float32 {
	t := tensor.New(n)
	tensor.FillRand(t, s.take())
	return t.Data()
}

// RandomAttentionWeights builds synthetic attention weights sized for cfg.
// Used by benchmarks and the serving smoke path; real checkpoints construct
// the same structures from loaded tensors.
func RandomAttentionWeights(cfg *LayerConfig, seed int64) AttentionWeights {
	s := &seedSequence{next: seed}
	return randomAttentionWeights(cfg, s)
}

func randomAttentionWeights(cfg *LayerConfig, s *seedSequence) AttentionWeights {
	heads := cfg.NumAttentionHeads
	w := AttentionWeights{
		KVJoint: s.linear(cfg.KVLoraRank+cfg.QKRopeHeadDim, cfg.HiddenSize),
		KVNorm:  s.norm(cfg.KVLoraRank, cfg.RMSNormEps),
		KVUp:    s.linear(heads*(cfg.QKNopeHeadDim+cfg.VHeadDim), cfg.KVLoraRank),
		Out:     s.linear(cfg.HiddenSize, heads*cfg.VHeadDim),
	}
	if cfg.QLoraRank > 0 {
		w.QueryDown = s.linear(cfg.QLoraRank, cfg.HiddenSize)
		w.QueryNorm = s.norm(cfg.QLoraRank, cfg.RMSNormEps)
		w.QueryUp = s.linear(heads*cfg.QHeadDim(), cfg.QLoraRank)
	} else {
		w.Query = s.linear(heads*cfg.QHeadDim(), cfg.HiddenSize)
	}
	return w
}

func randomMlp(hidden, intermediate int, s *seedSequence) *Mlp {
	m, err := NewMlp(
		s.linear(intermediate, hidden),
		s.linear(intermediate, hidden),
		s.linear(hidden, intermediate),
	)
	if err != nil {
		panic(err)
	}
	return m
}

// RandomDecoderLayer builds a layer with synthetic weights, choosing the MoE
// or dense block per cfg and layerIdx. paged selects the attention backend.
func RandomDecoderLayer(cfg *LayerConfig, layerIdx int, rope *RotaryEncoder, paged *PagedAttention, seed int64) (*DecoderLayer, error) {
	s := &seedSequence{next: seed}
	attn, err := NewAttention(cfg, randomAttentionWeights(cfg, s), rope, paged)
	if err != nil {
		return nil, err
	}

	var moe *MoE
	var dense *Mlp
	if cfg.IsMoELayer(layerIdx) {
		gw := tensor.New(cfg.NumRoutedExperts, cfg.HiddenSize)
		tensor.FillRand(gw, s.take())
		var bias []float32
		if cfg.TopKMethod == TopKNoAuxTC {
			bias = s.vector(cfg.NumRoutedExperts)
		}
		gate, err := NewGate(cfg, gw, bias)
		if err != nil {
			return nil, err
		}
		experts := make([]*Mlp, cfg.NumRoutedExperts)
		for i := range experts {
			experts[i] = randomMlp(cfg.HiddenSize, cfg.MoEIntermediateSize, s)
		}
		var shared *Mlp
		if cfg.NumSharedExperts > 0 {
			shared = randomMlp(cfg.HiddenSize, cfg.MoEIntermediateSize*cfg.NumSharedExperts, s)
		}
		moe, err = NewMoE(cfg, gate, experts, shared)
		if err != nil {
			return nil, err
		}
	} else {
		dense = randomMlp(cfg.HiddenSize, cfg.IntermediateSize, s)
	}

	return NewDecoderLayer(cfg, layerIdx,
		s.norm(cfg.HiddenSize, cfg.RMSNormEps),
		s.norm(cfg.HiddenSize, cfg.RMSNormEps),
		attn, moe, dense)
}

// RandomModel stacks numLayers synthetic layers over shared rotary tables
// with per-layer incremental caches, sized for batch sequences.
func RandomModel(cfg *LayerConfig, numLayers, batch int, seed int64) (*Model, error) {
	rope, err := NewRotaryEncoder(cfg)
	if err != nil {
		return nil, err
	}
	layers := make([]*DecoderLayer, numLayers)
	caches := make([]*cache.KV, numLayers)
	for i := range layers {
		layers[i], err = RandomDecoderLayer(cfg, i, rope, nil, seed+int64(i)*1000)
		if err != nil {
			return nil, err
		}
		caches[i] = cache.NewKV(batch, cfg.NumAttentionHeads, cfg.QHeadDim(), cfg.VHeadDim)
	}
	s := &seedSequence{next: seed + int64(numLayers)*1000}
	return NewModel(cfg, layers, caches, s.norm(cfg.HiddenSize, cfg.RMSNormEps))
}
