// internal/detect/batch.go
package detect

import (
	"math"
	"sort"

	"github.com/sua-org/digefx-monitor/internal/core"
)

// CandidateIndices monta o conjunto de índices de frame que merecem o
// modelo pesado: todo frame dentro de ±window segundos de algum hit de
// pose. O resultado vem ordenado e sem duplicatas, limitado a
// [0, totalFrames).
func CandidateIndices(hits []core.PoseHit, fps float64, totalFrames int, window float64) []int {
	if fps <= 0 || totalFrames <= 0 || len(hits) == 0 {
		return nil
	}
	radius := int(math.Round(window * fps))
	if radius < 0 {
		radius = 0
	}

	seen := make(map[int]bool)
	for _, hit := range hits {
		center := int(math.Round(hit.Timestamp * fps))
		lo := center - radius
		hi := center + radius
		if lo < 0 {
			lo = 0
		}
		if hi > totalFrames-1 {
			hi = totalFrames - 1
		}
		for i := lo; i <= hi; i++ {
			seen[i] = true
		}
	}

	indices := make([]int, 0, len(seen))
	for i := range seen {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

// SplitBatches reparte os índices (já ordenados) em até w lotes contíguos
// de tamanho quase igual. A união dos lotes é exatamente a entrada; nenhum
// índice se repete.
func SplitBatches(indices []int, w int) [][]int {
	n := len(indices)
	if n == 0 {
		return nil
	}
	if w < 1 {
		w = 1
	}
	if w > n {
		w = n
	}

	base := n / w
	rem := n % w

	batches := make([][]int, 0, w)
	start := 0
	for b := 0; b < w; b++ {
		size := base
		if b < rem {
			size++
		}
		batches = append(batches, indices[start:start+size])
		start += size
	}
	return batches
}
