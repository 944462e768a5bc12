package tensor

import (
	"math"
)

// Add adds src to dst element-wise. The tensors must have the same length.
func Add(dst, src *Tensor) {
	if len(dst.data) != len(src.data) {
		panic("tensor: Add length mismatch")
	}
	for i, v := range src.data {
		dst.data[i] += v
	}
}

// Scale multiplies every element of t by s.
func Scale(t *Tensor, s float32) {
	for i := range t.data {
		t.data[i] *= s
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Softmax applies the softmax function to x in place. The exponential sum is
// accumulated in float64 to keep long rows stable.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// SoftmaxLastDim applies Softmax to every row along the last axis.
func SoftmaxLastDim(t *Tensor) {
	c := t.Dim(-1)
	for off := 0; off < len(t.data); off += c {
		Softmax(t.data[off : off+c])
	}
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// RMSNorm performs Root Mean Square Normalization of src into dst using the
// provided per-element weight.
func RMSNorm(dst, src, weight []float32, eps float32) {
	var sum float32
	for _, v := range src {
		sum += v * v
	}
	mean := sum / float32(len(src))
	scale := float32(1.0) / float32(math.Sqrt(float64(mean+eps)))
	for i := range src {
		dst[i] = src[i] * scale * weight[i]
	}
}

// RMSNormLastDim normalizes every row of t along the last axis in place.
func RMSNormLastDim(t *Tensor, weight []float32, eps float32) {
	c := t.Dim(-1)
	if len(weight) != c {
		panic("tensor: RMSNormLastDim weight length mismatch")
	}
	for off := 0; off < len(t.data); off += c {
		row := t.data[off : off+c]
		RMSNorm(row, row, weight, eps)
	}
}
