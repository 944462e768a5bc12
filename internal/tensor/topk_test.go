package tensor

import "testing"

func TestTopKDescendingOrder(t *testing.T) {
	scores := []float32{0.1, 0.9, 0.3, 0.7, 0.5}
	idx := make([]int, 3)
	TopK(scores, 3, idx)
	want := []int{1, 3, 4}
	for i, w := range want {
		if idx[i] != w {
			t.Fatalf("idx[%d]=%d want %d", i, idx[i], w)
		}
	}
}

func TestTopKTiesPreferLowerIndex(t *testing.T) {
	scores := []float32{0.5, 0.9, 0.5, 0.9}
	idx := make([]int, 2)
	TopK(scores, 2, idx)
	if idx[0] != 1 || idx[1] != 3 {
		t.Fatalf("got %v, want [1 3]", idx)
	}

	idx = make([]int, 3)
	TopK(scores, 3, idx)
	if idx[2] != 0 {
		t.Fatalf("tie at rank 3 resolved to %d, want 0", idx[2])
	}
}

func TestTopKDistinctIndices(t *testing.T) {
	scores := make([]float32, 16)
	fillTestData(scores, 0.1)
	idx := make([]int, 8)
	TopK(scores, 8, idx)
	seen := map[int]bool{}
	for _, i := range idx {
		if i < 0 || i >= len(scores) {
			t.Fatalf("index %d out of range", i)
		}
		if seen[i] {
			t.Fatalf("duplicate index %d", i)
		}
		seen[i] = true
	}
}

func TestTopKShortInput(t *testing.T) {
	idx := make([]int, 4)
	TopK([]float32{0.2, 0.1}, 4, idx)
	if idx[0] != 0 || idx[1] != 1 {
		t.Fatalf("got %v", idx[:2])
	}
	if idx[2] != -1 || idx[3] != -1 {
		t.Fatalf("unused slots not -1: %v", idx)
	}
}

func TestBincount(t *testing.T) {
	counts := Bincount([]int{0, 2, 2, 3, -1, 9}, 4)
	want := []int{1, 0, 2, 1}
	for i, w := range want {
		if counts[i] != w {
			t.Fatalf("counts[%d]=%d want %d", i, counts[i], w)
		}
	}
}
