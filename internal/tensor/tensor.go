package tensor

import (
	"fmt"
	"math/rand"
)

// Tensor is a dense row-major float32 tensor with an explicit shape.
//
// Data is stored contiguously; the last axis varies fastest. Tensor does not
// perform any memory safety beyond the checks performed by Go's slice types;
// out-of-range indices will panic.
type Tensor struct {
	shape []int
	data  []float32
}

// New allocates a zero-initialised tensor with the given shape.
func New(shape ...int) *Tensor {
	n := checkShape(shape)
	return &Tensor{shape: append([]int(nil), shape...), data: make([]float32, n)}
}

// FromSlice wraps an existing slice as a tensor. The slice is not copied;
// its length must match the product of the shape.
func FromSlice(data []float32, shape ...int) *Tensor {
	n := checkShape(shape)
	if len(data) != n {
		panic(fmt.Sprintf("tensor: data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{shape: append([]int(nil), shape...), data: data}
}

func checkShape(shape []int) int {
	if len(shape) == 0 {
		panic("tensor: empty shape")
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in shape %v", shape))
		}
		n *= d
	}
	return n
}

// Shape returns the tensor's dimensions. The returned slice must not be
// modified.
func (t *Tensor) Shape() []int { return t.shape }

// Dim returns the size of axis i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// Dims returns the number of axes.
func (t *Tensor) Dims() int { return len(t.shape) }

// Len returns the total number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Data returns the backing slice. Modifications are visible to all views
// sharing the same storage.
func (t *Tensor) Data() []float32 { return t.data }

// Reshape returns a view with a new shape over the same storage. The element
// count must be preserved.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	n := checkShape(shape)
	if n != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape %v to %v", t.shape, shape))
	}
	return &Tensor{shape: append([]int(nil), shape...), data: t.data}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{shape: append([]int(nil), t.shape...), data: make([]float32, len(t.data))}
	copy(out.data, t.data)
	return out
}

// Row returns a view of row i for a 2-d tensor.
func (t *Tensor) Row(i int) []float32 {
	if len(t.shape) != 2 {
		panic("tensor: Row requires a 2-d tensor")
	}
	c := t.shape[1]
	return t.data[i*c : (i+1)*c]
}

// FillRand fills the tensor with reproducible pseudo-random values in a small
// range around zero. The same seed always produces the same values.
func FillRand(t *Tensor, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range t.data {
		t.data[i] = (rng.Float32() - 0.5) * 0.02
	}
}
