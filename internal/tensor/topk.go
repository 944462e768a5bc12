package tensor

import "math"

// TopK selects the indices of the k largest entries of scores, in descending
// score order. Ties break toward the lower index so selection is
// deterministic. idxOut must have length >= k; the first k entries are
// written and unused slots are set to -1.
func TopK(scores []float32, k int, idxOut []int) {
	if k <= 0 {
		return
	}
	if k > len(idxOut) {
		panic("tensor: TopK index buffer too small")
	}
	best := make([]float32, k)
	for i := 0; i < k; i++ {
		idxOut[i] = -1
		best[i] = float32(math.Inf(-1))
	}
	for i, score := range scores {
		insert := -1
		for j := 0; j < k; j++ {
			if score > best[j] || (score == best[j] && (idxOut[j] == -1 || i < idxOut[j])) {
				insert = j
				break
			}
		}
		if insert == -1 {
			continue
		}
		for j := k - 1; j > insert; j-- {
			best[j] = best[j-1]
			idxOut[j] = idxOut[j-1]
		}
		best[insert] = score
		idxOut[insert] = i
	}
}

// Bincount counts occurrences of each id in [0, n). Ids outside the range are
// ignored.
func Bincount(ids []int, n int) []int {
	counts := make([]int, n)
	for _, id := range ids {
		if id >= 0 && id < n {
			counts[id]++
		}
	}
	return counts
}
