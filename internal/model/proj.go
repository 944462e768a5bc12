package model

import (
	"fmt"

	"github.com/samcharles93/strata/internal/tensor"
)

// DType identifies an element encoding used by projection implementations.
type DType int

const (
	DTypeF32 DType = iota
	DTypeF16
	DTypeBF16
)

// Projection is the capability interface for every linear map in the layer.
// Implementations may keep weights quantized internally; ForwardAutocast may
// run at a different internal precision than the input. All weight matrices
// in this package are consumed exclusively through this interface.
type Projection interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	ForwardAutocast(x *tensor.Tensor) (*tensor.Tensor, error)
	// QuantizedActType returns the activation dtype a quantized
	// implementation expects, if any.
	QuantizedActType() (DType, bool)
}

// Linear is the unquantized Projection. The weight is stored (out, in);
// inputs of shape (..., in) map to (..., out).
type Linear struct {
	weight *tensor.Tensor
	bias   []float32
}

// NewLinear wraps a (out, in) weight tensor and an optional bias of length out.
func NewLinear(weight *tensor.Tensor, bias []float32) (*Linear, error) {
	if weight.Dims() != 2 {
		return nil, fmt.Errorf("%w: linear weight must be 2-d, got %v", ErrConfig, weight.Shape())
	}
	if bias != nil && len(bias) != weight.Dim(0) {
		return nil, fmt.Errorf("%w: bias length %d for %d outputs", ErrConfig, len(bias), weight.Dim(0))
	}
	return &Linear{weight: weight, bias: bias}, nil
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	in := l.weight.Dim(1)
	out := l.weight.Dim(0)
	if x.Dim(-1) != in {
		return nil, fmt.Errorf("linear: input width %d, weight expects %d", x.Dim(-1), in)
	}
	rows := x.Len() / in
	shape := append([]int(nil), x.Shape()...)
	shape[len(shape)-1] = out
	y := tensor.New(shape...)
	tensor.GemmTransB(rows, out, in, x.Data(), l.weight.Data(), y.Data())
	if l.bias != nil {
		data := y.Data()
		for r := 0; r < rows; r++ {
			row := data[r*out : (r+1)*out]
			for i, b := range l.bias {
				row[i] += b
			}
		}
	}
	return y, nil
}

// ForwardAutocast is identical to Forward for the unquantized implementation.
func (l *Linear) ForwardAutocast(x *tensor.Tensor) (*tensor.Tensor, error) {
	return l.Forward(x)
}

func (l *Linear) QuantizedActType() (DType, bool) { return 0, false }

// RMSNorm is a root-mean-square normalization with learned per-element gain.
type RMSNorm struct {
	weight []float32
	eps    float32
}

// NewRMSNorm wraps a gain vector. size must match the normalized axis.
func NewRMSNorm(weight []float32, eps float64) (*RMSNorm, error) {
	if len(weight) == 0 {
		return nil, fmt.Errorf("%w: empty rmsnorm weight", ErrConfig)
	}
	return &RMSNorm{weight: weight, eps: float32(eps)}, nil
}

// Forward normalizes the last axis into a new tensor.
func (n *RMSNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()
	tensor.RMSNormLastDim(out, n.weight, n.eps)
	return out
}

// queryProj is the closed two-case query path: a plain projection, or the
// low-rank composition down → rmsnorm → up. Exactly one case is active,
// fixed at construction; it never switches at runtime.
type queryProj struct {
	plain Projection

	down Projection
	norm *RMSNorm
	up   Projection
}

func (q *queryProj) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if q.plain != nil {
		return q.plain.ForwardAutocast(x)
	}
	t, err := q.down.ForwardAutocast(x)
	if err != nil {
		return nil, err
	}
	return q.up.ForwardAutocast(q.norm.Forward(t))
}
