package tensor

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// gemmMinFlops is the work threshold below which the hand-rolled kernels are
// used instead of BLAS; call overhead dominates for the tiny shapes that show
// up in tests and single-token decode.
const gemmMinFlops = 8 * 1024

// Gemm computes c = a·b for row-major a (m×k), b (k×n), c (m×n).
func Gemm(m, n, k int, a, b, c []float32) {
	if m*n*k < gemmMinFlops {
		gemmSmall(m, n, k, a, b, c)
		return
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}

// GemmTransB computes c = a·bᵀ for row-major a (m×k), b (n×k), c (m×n).
// Weight matrices are stored (out,in), so this is the projection kernel.
func GemmTransB(m, n, k int, a, b, c []float32) {
	if m*n*k < gemmMinFlops {
		gemmTransBSmall(m, n, k, a, b, c)
		return
	}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: n, Cols: k, Stride: k, Data: b},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}

func gemmSmall(m, n, k int, a, b, c []float32) {
	for i := 0; i < m; i++ {
		ci := c[i*n : (i+1)*n]
		for j := range ci {
			ci[j] = 0
		}
		ai := a[i*k : (i+1)*k]
		for p, av := range ai {
			if av == 0 {
				continue
			}
			bp := b[p*n : (p+1)*n]
			for j, bv := range bp {
				ci[j] += av * bv
			}
		}
	}
}

func gemmTransBSmall(m, n, k int, a, b, c []float32) {
	for i := 0; i < m; i++ {
		ai := a[i*k : (i+1)*k]
		ci := c[i*n : (i+1)*n]
		for j := 0; j < n; j++ {
			ci[j] = dot(ai, b[j*k:(j+1)*k])
		}
	}
}

// GemmTransBF64 computes c = a·bᵀ with float64 accumulation. Routing scores
// are computed through this regardless of input precision; single-precision
// accumulation over wide hidden sizes is enough to flip expert rankings.
func GemmTransBF64(m, n, k int, a, b []float32, c []float32) {
	for i := 0; i < m; i++ {
		ai := a[i*k : (i+1)*k]
		ci := c[i*n : (i+1)*n]
		for j := 0; j < n; j++ {
			bj := b[j*k : (j+1)*k]
			var sum float64
			for p := range ai {
				sum += float64(ai[p]) * float64(bj[p])
			}
			ci[j] = float32(sum)
		}
	}
}
