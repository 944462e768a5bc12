package model

import (
	"math"

	"github.com/samcharles93/strata/internal/tensor"
)

// CausalMask builds the additive attention mask for a step of seq new
// positions following past already-cached positions. Row i of the (seq,
// past+seq) result is zero for every column the new position i may attend to
// and -inf beyond it. Returns nil for single-token steps, where causality is
// implied by the cache contents.
func CausalMask(seq, past int) *tensor.Tensor {
	if seq <= 1 {
		return nil
	}
	total := past + seq
	m := tensor.New(seq, total)
	negInf := float32(math.Inf(-1))
	data := m.Data()
	for i := 0; i < seq; i++ {
		row := data[i*total : (i+1)*total]
		for j := past + i + 1; j < total; j++ {
			row[j] = negInf
		}
	}
	return m
}
