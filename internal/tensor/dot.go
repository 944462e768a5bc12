package tensor

import "golang.org/x/sys/cpu"

// dot is selected once at init. The unrolled variant carries four independent
// accumulators, which only pays off when the hardware has wide FP units.
var dot = Dot

func init() {
	if cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD {
		dot = dotUnroll4
	}
}

func dotUnroll4(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(a) &^ 3
	for i := 0; i < n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	sum := s0 + s1 + s2 + s3
	for i := n; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}
