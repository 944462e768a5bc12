package model

import (
	"fmt"
	"time"

	"github.com/samcharles93/strata/internal/cache"
	"github.com/samcharles93/strata/internal/tensor"
)

// DecoderLayer is one pre-norm transformer block: attention with a residual
// add, then either the expert bank or a dense feed-forward with a second
// residual add. The MoE-vs-dense choice is fixed at construction from the
// layer index and never re-evaluated.
type DecoderLayer struct {
	attnNorm *RMSNorm
	attn     *Attention
	ffnNorm  *RMSNorm
	moe      *MoE
	dense    *Mlp
}

// NewDecoderLayer wires a layer. Exactly one of moe and dense must be set,
// matching what cfg.IsMoELayer reports for layerIdx.
func NewDecoderLayer(cfg *LayerConfig, layerIdx int, attnNorm, ffnNorm *RMSNorm, attn *Attention, moe *MoE, dense *Mlp) (*DecoderLayer, error) {
	if attnNorm == nil || ffnNorm == nil || attn == nil {
		return nil, fmt.Errorf("%w: layer %d missing attention or norms", ErrConfig, layerIdx)
	}
	if (moe == nil) == (dense == nil) {
		return nil, fmt.Errorf("%w: layer %d needs exactly one feed-forward block", ErrConfig, layerIdx)
	}
	if cfg.IsMoELayer(layerIdx) != (moe != nil) {
		return nil, fmt.Errorf("%w: layer %d block does not match moe_layer_freq/first_k_dense_replace", ErrConfig, layerIdx)
	}
	return &DecoderLayer{attnNorm: attnNorm, attn: attn, ffnNorm: ffnNorm, moe: moe, dense: dense}, nil
}

// Forward runs the layer over hidden (batch, seq, hidden), threading the
// per-layer cache state through the attention block.
func (l *DecoderLayer) Forward(hidden, mask *tensor.Tensor, seqOffsets []int, kv *cache.KV, meta *cache.PagedMetadata) (*tensor.Tensor, error) {
	start := time.Now()

	x, err := l.attn.Forward(l.attnNorm.Forward(hidden), mask, seqOffsets, kv, meta)
	if err != nil {
		return nil, err
	}
	tensor.Add(x, hidden)

	var y *tensor.Tensor
	if l.moe != nil {
		y, err = l.moe.Forward(l.ffnNorm.Forward(x))
	} else {
		y, err = l.dense.Forward(l.ffnNorm.Forward(x))
	}
	if err != nil {
		return nil, err
	}
	tensor.Add(y, x)

	layerForwardSeconds.Observe(time.Since(start).Seconds())
	return y, nil
}

// Model stacks decoder layers behind a shared rotary encoder and applies a
// final normalization. It drives the cache-append backend and owns one
// incremental cache per layer; paged serving bypasses Model and drives layers
// directly with its own per-layer metadata.
type Model struct {
	cfg    *LayerConfig
	layers []*DecoderLayer
	caches []*cache.KV
	norm   *RMSNorm
}

// NewModel assembles a model from already-constructed layers. caches must
// hold exactly one entry per layer.
func NewModel(cfg *LayerConfig, layers []*DecoderLayer, caches []*cache.KV, norm *RMSNorm) (*Model, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: model needs at least one layer", ErrConfig)
	}
	if len(caches) != len(layers) {
		return nil, fmt.Errorf("%w: %d caches for %d layers", ErrConfig, len(caches), len(layers))
	}
	if norm == nil {
		return nil, fmt.Errorf("%w: model requires a final norm", ErrConfig)
	}
	return &Model{cfg: cfg, layers: layers, caches: caches, norm: norm}, nil
}

// Reset clears all per-layer caches.
func (m *Model) Reset() {
	for _, c := range m.caches {
		c.Reset()
	}
}

// Forward runs one step over hidden (batch, seq, hidden) using the
// incremental caches. The causal mask is derived from the cached length,
// which all sequences in a batch share under this backend.
func (m *Model) Forward(hidden *tensor.Tensor) (*tensor.Tensor, error) {
	past := m.caches[0].SeqLen()
	seq := hidden.Dim(1)
	mask := CausalMask(seq, past)
	offsets := make([]int, hidden.Dim(0))
	for i := range offsets {
		offsets[i] = past
	}

	x := hidden
	for i, l := range m.layers {
		var err error
		x, err = l.Forward(x, mask, offsets, m.caches[i], nil)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return m.norm.Forward(x), nil
}
