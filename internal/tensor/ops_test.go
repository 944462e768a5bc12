package tensor

import (
	"math"
	"testing"
)

func gemmRef(m, n, k int, a, b, c []float32) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for p := 0; p < k; p++ {
				sum += a[i*k+p] * b[p*n+j]
			}
			c[i*n+j] = sum
		}
	}
}

func TestGemmMatchesReference(t *testing.T) {
	const m, n, k = 7, 5, 11
	a := make([]float32, m*k)
	b := make([]float32, k*n)
	fillTestData(a, 0.1)
	fillTestData(b, 0.07)

	got := make([]float32, m*n)
	want := make([]float32, m*n)
	Gemm(m, n, k, a, b, got)
	gemmRef(m, n, k, a, b, want)
	compareSlices(t, got, want, 1e-4)
}

func TestGemmTransBMatchesReference(t *testing.T) {
	const m, n, k = 6, 9, 8
	a := make([]float32, m*k)
	b := make([]float32, n*k)
	fillTestData(a, 0.05)
	fillTestData(b, 0.03)

	// Transpose b into row-major (k, n) and reuse the plain reference.
	bt := make([]float32, k*n)
	for j := 0; j < n; j++ {
		for p := 0; p < k; p++ {
			bt[p*n+j] = b[j*k+p]
		}
	}
	got := make([]float32, m*n)
	want := make([]float32, m*n)
	GemmTransB(m, n, k, a, b, got)
	gemmRef(m, n, k, a, bt, want)
	compareSlices(t, got, want, 1e-4)
}

func TestGemmTransBF64AgreesWithF32(t *testing.T) {
	const m, n, k = 3, 4, 16
	a := make([]float32, m*k)
	b := make([]float32, n*k)
	fillTestData(a, 0.02)
	fillTestData(b, 0.04)

	f32 := make([]float32, m*n)
	f64 := make([]float32, m*n)
	GemmTransB(m, n, k, a, b, f32)
	GemmTransBF64(m, n, k, a, b, f64)
	compareSlices(t, f64, f32, 1e-4)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	x := make([]float32, 17)
	fillTestData(x, 0.5)
	Softmax(x)
	var sum float32
	for _, v := range x {
		if v < 0 {
			t.Fatalf("negative probability %v", v)
		}
		sum += v
	}
	if math.Abs(float64(sum)-1) > 1e-5 {
		t.Fatalf("softmax sums to %v", sum)
	}
}

func TestSoftmaxIgnoresMaskedColumns(t *testing.T) {
	negInf := float32(math.Inf(-1))
	x := []float32{0.3, negInf, -0.2, negInf}
	Softmax(x)
	if x[1] != 0 || x[3] != 0 {
		t.Fatalf("masked columns got weight: %v", x)
	}
}

func TestRMSNormMatchesReference(t *testing.T) {
	const n = 12
	src := make([]float32, n)
	weight := make([]float32, n)
	fillTestData(src, 0.2)
	for i := range weight {
		weight[i] = 1 + 0.01*float32(i)
	}

	var sum float64
	for _, v := range src {
		sum += float64(v) * float64(v)
	}
	scale := 1 / math.Sqrt(sum/n+1e-6)
	want := make([]float32, n)
	for i := range want {
		want[i] = float32(float64(src[i]) * scale * float64(weight[i]))
	}

	got := make([]float32, n)
	RMSNorm(got, src, weight, 1e-6)
	compareSlices(t, got, want, 1e-5)
}

func BenchmarkGemmTransB(b *testing.B) {
	const m, n, k = 32, 512, 512
	a := make([]float32, m*k)
	w := make([]float32, n*k)
	c := make([]float32, m*n)
	fillTestData(a, 0.01)
	fillTestData(w, 0.02)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		GemmTransB(m, n, k, a, w, c)
	}
}
