package model

import (
	"testing"

	"github.com/samcharles93/strata/internal/cache"
	"github.com/samcharles93/strata/internal/tensor"
)

func benchConfig() *LayerConfig {
	cfg := &LayerConfig{
		HiddenSize:            256,
		IntermediateSize:      512,
		MoEIntermediateSize:   128,
		NumAttentionHeads:     8,
		QKNopeHeadDim:         24,
		QKRopeHeadDim:         8,
		VHeadDim:              32,
		KVLoraRank:            64,
		NumRoutedExperts:      8,
		NumExpertsPerTok:      2,
		NormTopKProb:          true,
		MaxPositionEmbeddings: 4096,
	}
	cfg.ApplyDefaults()
	return cfg
}

func BenchmarkAttentionDecode(b *testing.B) {
	cfg := benchConfig()
	rope, err := NewRotaryEncoder(cfg)
	if err != nil {
		b.Fatalf("rope: %v", err)
	}
	attn, err := NewAttention(cfg, RandomAttentionWeights(cfg, 1), rope, nil)
	if err != nil {
		b.Fatalf("attention: %v", err)
	}

	kv := cache.NewKV(1, cfg.NumAttentionHeads, cfg.QHeadDim(), cfg.VHeadDim)
	prompt := tensor.New(1, 128, cfg.HiddenSize)
	tensor.FillRand(prompt, 2)
	if _, err := attn.Forward(prompt, CausalMask(128, 0), []int{0}, kv, nil); err != nil {
		b.Fatalf("prefill: %v", err)
	}

	step := tensor.New(1, 1, cfg.HiddenSize)
	tensor.FillRand(step, 3)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if kv.SeqLen() >= cfg.MaxPositionEmbeddings-1 {
			b.StopTimer()
			kv.Reset()
			if _, err := attn.Forward(prompt, CausalMask(128, 0), []int{0}, kv, nil); err != nil {
				b.Fatalf("refill: %v", err)
			}
			b.StartTimer()
		}
		if _, err := attn.Forward(step, nil, []int{kv.SeqLen()}, kv, nil); err != nil {
			b.Fatalf("decode: %v", err)
		}
	}
}

func BenchmarkMoEDispatch(b *testing.B) {
	cfg := benchConfig()
	s := &seedSequence{next: 5}
	gw := tensor.New(cfg.NumRoutedExperts, cfg.HiddenSize)
	tensor.FillRand(gw, s.take())
	gate, err := NewGate(cfg, gw, nil)
	if err != nil {
		b.Fatalf("gate: %v", err)
	}
	experts := make([]*Mlp, cfg.NumRoutedExperts)
	for i := range experts {
		experts[i] = randomMlp(cfg.HiddenSize, cfg.MoEIntermediateSize, s)
	}
	moe, err := NewMoE(cfg, gate, experts, nil)
	if err != nil {
		b.Fatalf("moe: %v", err)
	}

	hidden := tensor.New(1, 64, cfg.HiddenSize)
	tensor.FillRand(hidden, 6)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := moe.Forward(hidden); err != nil {
			b.Fatalf("forward: %v", err)
		}
	}
}
