package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/strata/internal/tensor"
)

// RotaryEncoder applies rotary position embeddings to the rope sub-slice of
// query and key vectors, using the half-split rotation convention. Tables are
// precomputed for every position up to the configured context length; when
// layers live on several devices, each device gets its own encoder instance
// built from the same config (they agree numerically).
type RotaryEncoder struct {
	dim int
	cos []float32 // maxPos × dim/2
	sin []float32
}

// NewRotaryEncoder builds the cos/sin tables for cfg, applying the yarn
// frequency stretch when configured. The matching mscale factor is folded
// into LayerConfig.SoftmaxScale, not applied here.
func NewRotaryEncoder(cfg *LayerConfig) (*RotaryEncoder, error) {
	dim := cfg.QKRopeHeadDim
	if dim <= 0 || dim%2 != 0 {
		return nil, fmt.Errorf("%w: rope dim %d", ErrConfig, dim)
	}
	half := dim / 2
	invFreq := make([]float64, half)
	for i := range invFreq {
		invFreq[i] = math.Pow(cfg.RopeTheta, -2.0*float64(i)/float64(dim))
	}
	if rs := cfg.RopeScaling; rs != nil && rs.Type == "yarn" {
		applyYarnScaling(invFreq, cfg.RopeTheta, rs)
	}

	maxPos := cfg.MaxPositionEmbeddings
	e := &RotaryEncoder{
		dim: dim,
		cos: make([]float32, maxPos*half),
		sin: make([]float32, maxPos*half),
	}
	for pos := 0; pos < maxPos; pos++ {
		for i, f := range invFreq {
			angle := float64(pos) * f
			e.cos[pos*half+i] = float32(math.Cos(angle))
			e.sin[pos*half+i] = float32(math.Sin(angle))
		}
	}
	return e, nil
}

// Forward rotates qPe (batch, heads, seq, dim) and kPe (batch, 1, seq, dim).
// offsets holds one already-generated length per batch element; position
// pos+offset selects the table row. The rotation is pure: vector norms are
// preserved.
func (e *RotaryEncoder) Forward(qPe, kPe *tensor.Tensor, offsets []int) (*tensor.Tensor, *tensor.Tensor, error) {
	if qPe.Dim(-1) != e.dim || kPe.Dim(-1) != e.dim {
		return nil, nil, fmt.Errorf("rope: dim mismatch: q=%d k=%d want %d", qPe.Dim(-1), kPe.Dim(-1), e.dim)
	}
	if len(offsets) != qPe.Dim(0) {
		return nil, nil, fmt.Errorf("rope: %d offsets for batch %d", len(offsets), qPe.Dim(0))
	}
	seq := qPe.Dim(2)
	half := e.dim / 2
	maxPos := len(e.cos) / half
	for _, off := range offsets {
		if off < 0 || off+seq > maxPos {
			return nil, nil, fmt.Errorf("rope: positions [%d,%d) exceed table of %d", off, off+seq, maxPos)
		}
	}

	qOut := qPe.Clone()
	kOut := kPe.Clone()
	e.rotate(qOut, offsets)
	e.rotate(kOut, offsets)
	return qOut, kOut, nil
}

func (e *RotaryEncoder) rotate(t *tensor.Tensor, offsets []int) {
	b, heads, seq := t.Dim(0), t.Dim(1), t.Dim(2)
	half := e.dim / 2
	data := t.Data()
	for bi := 0; bi < b; bi++ {
		for hi := 0; hi < heads; hi++ {
			for si := 0; si < seq; si++ {
				pos := offsets[bi] + si
				cosRow := e.cos[pos*half : (pos+1)*half]
				sinRow := e.sin[pos*half : (pos+1)*half]
				off := ((bi*heads+hi)*seq + si) * e.dim
				for i := 0; i < half; i++ {
					x0 := data[off+i]
					x1 := data[off+half+i]
					data[off+i] = x0*cosRow[i] - x1*sinRow[i]
					data[off+half+i] = x0*sinRow[i] + x1*cosRow[i]
				}
			}
		}
	}
}

// applyYarnScaling stretches the inverse frequencies with the yarn
// interpolation/extrapolation ramp between the correction dimensions.
func applyYarnScaling(invFreq []float64, base float64, rs *RopeScaling) {
	factor := rs.Factor
	if factor <= 0 || factor == 1 {
		return
	}
	origCtx := float64(rs.OrigMaxCtx)
	if origCtx <= 0 {
		return
	}
	betaFast := rs.BetaFast
	if betaFast <= 0 {
		betaFast = 32
	}
	betaSlow := rs.BetaSlow
	if betaSlow <= 0 {
		betaSlow = 1
	}

	dim := float64(len(invFreq) * 2)
	correctionDim := func(numRotations float64) float64 {
		return dim * math.Log(origCtx/(numRotations*2*math.Pi)) / (2 * math.Log(base))
	}
	low := math.Floor(correctionDim(betaFast))
	high := math.Ceil(correctionDim(betaSlow))
	if low < 0 {
		low = 0
	}
	if high > dim-1 {
		high = dim - 1
	}
	if low == high {
		high += 0.001
	}

	for i, f := range invFreq {
		ramp := (float64(i) - low) / (high - low)
		if ramp < 0 {
			ramp = 0
		}
		if ramp > 1 {
			ramp = 1
		}
		interp := f / factor
		invFreq[i] = interp*ramp + f*(1-ramp)
	}
}
