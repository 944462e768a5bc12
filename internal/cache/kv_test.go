package cache

import (
	"testing"

	"github.com/samcharles93/strata/internal/tensor"
)

func fillTestData(x []float32, scale float32) {
	for i := range x {
		x[i] = scale * float32((i%29)-14)
	}
}

func TestKVAppendAccumulates(t *testing.T) {
	c := NewKV(1, 2, 4, 3)

	k1 := tensor.New(1, 2, 2, 4)
	v1 := tensor.New(1, 2, 2, 3)
	fillTestData(k1.Data(), 0.1)
	fillTestData(v1.Data(), 0.2)
	allK, allV, err := c.Append(k1, v1)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if c.SeqLen() != 2 {
		t.Fatalf("seq len %d, want 2", c.SeqLen())
	}
	if got := allK.Shape(); got[2] != 2 || got[3] != 4 {
		t.Fatalf("keys shape %v", got)
	}

	k2 := tensor.New(1, 2, 1, 4)
	v2 := tensor.New(1, 2, 1, 3)
	fillTestData(k2.Data(), 0.3)
	allK, allV, err = c.Append(k2, v2)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if c.SeqLen() != 3 {
		t.Fatalf("seq len %d, want 3", c.SeqLen())
	}
	if allK.Dim(2) != 3 || allV.Dim(2) != 3 {
		t.Fatalf("accumulated shapes %v %v", allK.Shape(), allV.Shape())
	}

	// Earlier positions survive later appends.
	for h := 0; h < 2; h++ {
		src := k1.Data()[h*8 : h*8+8]
		dst := allK.Data()[h*12 : h*12+8]
		for i := range src {
			if dst[i] != src[i] {
				t.Fatalf("head %d key[%d] = %v, want %v", h, i, dst[i], src[i])
			}
		}
	}

	// The new step lands at the end; head 0 of k2 is its first row.
	got := allK.Data()[8:12]
	want := k2.Data()[0:4]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("appended key[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestKVAppendRejectsBadShapes(t *testing.T) {
	c := NewKV(1, 2, 4, 3)
	if _, _, err := c.Append(tensor.New(1, 2, 1, 5), tensor.New(1, 2, 1, 3)); err == nil {
		t.Fatalf("expected key dim error")
	}
	if _, _, err := c.Append(tensor.New(1, 2, 2, 4), tensor.New(1, 2, 1, 3)); err == nil {
		t.Fatalf("expected step mismatch error")
	}
}

func TestKVReset(t *testing.T) {
	c := NewKV(1, 1, 2, 2)
	if _, _, err := c.Append(tensor.New(1, 1, 3, 2), tensor.New(1, 1, 3, 2)); err != nil {
		t.Fatalf("append: %v", err)
	}
	c.Reset()
	if c.SeqLen() != 0 {
		t.Fatalf("seq len %d after reset", c.SeqLen())
	}
}

func TestPagedStoreRoundTrip(t *testing.T) {
	s := NewPagedStore(2, 4, 2, 3)

	k := make([]float32, 6)
	v := make([]float32, 6)
	fillTestData(k, 0.11)
	fillTestData(v, 0.07)
	s.WriteKeySlot(1, 3, k)
	s.WriteValueSlot(1, 3, v)

	dst := make([]float32, 3)
	for h := 0; h < 2; h++ {
		s.ReadKey(1, 3, h, dst)
		for i := range dst {
			want := k[h*3+i]
			if diff := dst[i] - want; diff > 1e-3 || diff < -1e-3 {
				t.Fatalf("key head %d elem %d: got %v want %v", h, i, dst[i], want)
			}
		}
		s.ReadValue(1, 3, h, dst)
		for i := range dst {
			want := v[h*3+i]
			if diff := dst[i] - want; diff > 1e-3 || diff < -1e-3 {
				t.Fatalf("value head %d elem %d: got %v want %v", h, i, dst[i], want)
			}
		}
	}
}

func TestPagedMetadataSlot(t *testing.T) {
	m := &PagedMetadata{}
	table := []int{5, 9}
	if b, s := m.Slot(table, 0, 4); b != 5 || s != 0 {
		t.Fatalf("got (%d,%d)", b, s)
	}
	if b, s := m.Slot(table, 6, 4); b != 9 || s != 2 {
		t.Fatalf("got (%d,%d)", b, s)
	}
}

func TestDummyMetadata(t *testing.T) {
	if !DummyMetadata().IsDummy() {
		t.Fatalf("dummy metadata not flagged")
	}
	if (&PagedMetadata{}).IsDummy() {
		t.Fatalf("real metadata flagged dummy")
	}
}
