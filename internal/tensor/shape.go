package tensor

import "fmt"

// SplitLast splits t along its last axis into consecutive pieces with the
// given sizes. The sizes must sum to the last dimension. The pieces are
// copies, not views.
func SplitLast(t *Tensor, sizes ...int) []*Tensor {
	c := t.Dim(-1)
	total := 0
	for _, s := range sizes {
		total += s
	}
	if total != c {
		panic(fmt.Sprintf("tensor: SplitLast sizes %v do not sum to last dim %d", sizes, c))
	}

	rows := len(t.data) / c
	out := make([]*Tensor, len(sizes))
	off := 0
	for i, s := range sizes {
		shape := append([]int(nil), t.shape...)
		shape[len(shape)-1] = s
		piece := New(shape...)
		for r := 0; r < rows; r++ {
			copy(piece.data[r*s:(r+1)*s], t.data[r*c+off:r*c+off+s])
		}
		out[i] = piece
		off += s
	}
	return out
}

// PadLast returns a copy of t with the last axis zero-padded by pad elements.
func PadLast(t *Tensor, pad int) *Tensor {
	if pad < 0 {
		panic("tensor: negative pad")
	}
	c := t.Dim(-1)
	rows := len(t.data) / c
	shape := append([]int(nil), t.shape...)
	shape[len(shape)-1] = c + pad
	out := New(shape...)
	for r := 0; r < rows; r++ {
		copy(out.data[r*(c+pad):r*(c+pad)+c], t.data[r*c:(r+1)*c])
	}
	return out
}

// NarrowLast returns a copy of t restricted to [start, start+n) on the last axis.
func NarrowLast(t *Tensor, start, n int) *Tensor {
	c := t.Dim(-1)
	if start < 0 || start+n > c {
		panic(fmt.Sprintf("tensor: NarrowLast [%d,%d) out of range for last dim %d", start, start+n, c))
	}
	rows := len(t.data) / c
	shape := append([]int(nil), t.shape...)
	shape[len(shape)-1] = n
	out := New(shape...)
	for r := 0; r < rows; r++ {
		copy(out.data[r*n:(r+1)*n], t.data[r*c+start:r*c+start+n])
	}
	return out
}

// AssignLast writes src into dst at offset off along the last axis. All axes
// except the last must match.
func AssignLast(dst *Tensor, off int, src *Tensor) {
	dc := dst.Dim(-1)
	sc := src.Dim(-1)
	if off < 0 || off+sc > dc {
		panic(fmt.Sprintf("tensor: AssignLast range [%d,%d) out of bounds for last dim %d", off, off+sc, dc))
	}
	rows := len(src.data) / sc
	if rows != len(dst.data)/dc {
		panic("tensor: AssignLast leading dimensions mismatch")
	}
	for r := 0; r < rows; r++ {
		copy(dst.data[r*dc+off:r*dc+off+sc], src.data[r*sc:(r+1)*sc])
	}
}

// TransposeHeads swaps axes 1 and 2 of a 4-d tensor, converting between
// (batch, seq, heads, dim) and (batch, heads, seq, dim) layouts.
func TransposeHeads(t *Tensor) *Tensor {
	if len(t.shape) != 4 {
		panic("tensor: TransposeHeads requires a 4-d tensor")
	}
	b, s, h, d := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	out := New(b, h, s, d)
	for bi := 0; bi < b; bi++ {
		for si := 0; si < s; si++ {
			for hi := 0; hi < h; hi++ {
				srcOff := ((bi*s+si)*h + hi) * d
				dstOff := ((bi*h+hi)*s + si) * d
				copy(out.data[dstOff:dstOff+d], t.data[srcOff:srcOff+d])
			}
		}
	}
	return out
}

// BroadcastHeads expands a (batch, 1, seq, dim) tensor to (batch, heads, seq, dim)
// by repeating the single head.
func BroadcastHeads(t *Tensor, heads int) *Tensor {
	if len(t.shape) != 4 || t.shape[1] != 1 {
		panic("tensor: BroadcastHeads requires shape (batch, 1, seq, dim)")
	}
	b, s, d := t.shape[0], t.shape[2], t.shape[3]
	out := New(b, heads, s, d)
	per := s * d
	for bi := 0; bi < b; bi++ {
		src := t.data[bi*per : (bi+1)*per]
		for hi := 0; hi < heads; hi++ {
			copy(out.data[(bi*heads+hi)*per:(bi*heads+hi+1)*per], src)
		}
	}
	return out
}
