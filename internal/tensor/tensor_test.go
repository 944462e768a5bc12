package tensor

import (
	"testing"
)

func fillTestData(x []float32, scale float32) {
	for i := range x {
		x[i] = scale * float32((i%29)-14)
	}
}

func compareSlices(t *testing.T, got, want []float32, tol float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range got {
		g := got[i]
		w := want[i]
		if g < w-tol || g > w+tol {
			t.Fatalf("mismatch at %d: got %v want %v±%v", i, g, w, tol)
		}
	}
}

func TestReshapeSharesStorage(t *testing.T) {
	a := New(2, 3)
	b := a.Reshape(3, 2)
	b.Data()[0] = 7
	if a.Data()[0] != 7 {
		t.Fatalf("reshape did not share storage")
	}
	c := a.Clone()
	c.Data()[0] = 9
	if a.Data()[0] != 7 {
		t.Fatalf("clone shares storage")
	}
}

func TestSplitLastRoundTrip(t *testing.T) {
	a := New(2, 2, 5)
	fillTestData(a.Data(), 0.1)
	parts := SplitLast(a, 2, 3)

	back := New(2, 2, 5)
	AssignLast(back, 0, parts[0])
	AssignLast(back, 2, parts[1])
	compareSlices(t, back.Data(), a.Data(), 0)
}

func TestPadNarrowLast(t *testing.T) {
	a := New(3, 4)
	fillTestData(a.Data(), 0.2)
	p := PadLast(a, 2)
	if p.Dim(-1) != 6 {
		t.Fatalf("padded last dim %d, want 6", p.Dim(-1))
	}
	for r := 0; r < 3; r++ {
		if p.Data()[r*6+4] != 0 || p.Data()[r*6+5] != 0 {
			t.Fatalf("row %d pad not zero", r)
		}
	}
	compareSlices(t, NarrowLast(p, 0, 4).Data(), a.Data(), 0)
}

func TestTransposeHeadsInvolution(t *testing.T) {
	a := New(2, 3, 4, 5)
	fillTestData(a.Data(), 0.05)
	b := TransposeHeads(TransposeHeads(a))
	compareSlices(t, b.Data(), a.Data(), 0)
}

func TestBroadcastHeads(t *testing.T) {
	a := New(1, 1, 2, 3)
	fillTestData(a.Data(), 0.3)
	b := BroadcastHeads(a, 4)
	for h := 0; h < 4; h++ {
		compareSlices(t, b.Data()[h*6:(h+1)*6], a.Data(), 0)
	}
}
