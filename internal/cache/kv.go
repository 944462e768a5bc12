// Package cache provides the per-layer key/value stores used by the attention
// backends: an incremental append-only cache and a paged block store.
//
// A cache instance is owned by the surrounding serving session and borrowed by
// one layer for the duration of a forward call. Concurrent forward calls
// against the same instance are not supported; callers serialize.
package cache

import (
	"fmt"

	"github.com/samcharles93/strata/internal/tensor"
)

// KV is the incremental per-layer key/value cache. Keys and values are stored
// per (batch, head) with the sequence axis growing on append; the cache owns
// its growth policy.
type KV struct {
	batch  int
	heads  int
	keyDim int
	valDim int
	seq    int
	keys   [][]float32 // batch*heads slices of seq*keyDim
	values [][]float32 // batch*heads slices of seq*valDim
}

// NewKV creates an empty cache for the given geometry. keyDim and valDim may
// differ; MLA stores full-width keys next to narrower values.
func NewKV(batch, heads, keyDim, valDim int) *KV {
	n := batch * heads
	return &KV{
		batch:  batch,
		heads:  heads,
		keyDim: keyDim,
		valDim: valDim,
		keys:   make([][]float32, n),
		values: make([][]float32, n),
	}
}

// SeqLen returns the number of cached positions.
func (c *KV) SeqLen() int { return c.seq }

// Reset discards all cached positions but keeps capacity.
func (c *KV) Reset() {
	c.seq = 0
	for i := range c.keys {
		c.keys[i] = c.keys[i][:0]
		c.values[i] = c.values[i][:0]
	}
}

// Append adds new keys (batch, heads, s, keyDim) and values (batch, heads, s,
// valDim) and returns the full accumulated keys and values in the same layout.
func (c *KV) Append(k, v *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := c.checkShape(k, c.keyDim); err != nil {
		return nil, nil, fmt.Errorf("cache: bad key shape: %w", err)
	}
	if err := c.checkShape(v, c.valDim); err != nil {
		return nil, nil, fmt.Errorf("cache: bad value shape: %w", err)
	}
	if k.Dim(2) != v.Dim(2) {
		return nil, nil, fmt.Errorf("cache: key/value step mismatch: %d vs %d", k.Dim(2), v.Dim(2))
	}

	s := k.Dim(2)
	kd, vd := k.Data(), v.Data()
	for b := 0; b < c.batch; b++ {
		for h := 0; h < c.heads; h++ {
			i := b*c.heads + h
			kOff := ((b*c.heads + h) * s) * c.keyDim
			vOff := ((b*c.heads + h) * s) * c.valDim
			c.keys[i] = append(c.keys[i], kd[kOff:kOff+s*c.keyDim]...)
			c.values[i] = append(c.values[i], vd[vOff:vOff+s*c.valDim]...)
		}
	}
	c.seq += s

	return c.materialize(c.keys, c.keyDim), c.materialize(c.values, c.valDim), nil
}

func (c *KV) checkShape(t *tensor.Tensor, dim int) error {
	if t.Dims() != 4 {
		return fmt.Errorf("want 4 axes, got %d", t.Dims())
	}
	if t.Dim(0) != c.batch || t.Dim(1) != c.heads || t.Dim(3) != dim {
		return fmt.Errorf("want (%d,%d,s,%d), got %v", c.batch, c.heads, dim, t.Shape())
	}
	return nil
}

func (c *KV) materialize(src [][]float32, dim int) *tensor.Tensor {
	out := tensor.New(c.batch, c.heads, c.seq, dim)
	data := out.Data()
	per := c.seq * dim
	for i, s := range src {
		copy(data[i*per:(i+1)*per], s)
	}
	return out
}
