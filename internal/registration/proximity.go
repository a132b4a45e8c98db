package registration

import "sort"

// ProximityIndex lists, for every tile, the other tiles close enough by
// nominal position to be worth matching, nearest first.
type ProximityIndex [][]int

// NewProximityIndex keeps every j != i with squared nominal distance strictly
// below thresh. Equal distances keep ascending index order.
func NewProximityIndex(nominal []Vec, thresh float64) ProximityIndex {
	idx := make(ProximityIndex, len(nominal))
	for i, p := range nominal {
		type cand struct {
			j  int
			d2 float64
		}
		var cands []cand
		for j, q := range nominal {
			if j == i {
				continue
			}
			if d2 := p.Dist2(q); d2 < thresh {
				cands = append(cands, cand{j: j, d2: d2})
			}
		}
		sort.SliceStable(cands, func(a, b int) bool { return cands[a].d2 < cands[b].d2 })
		row := make([]int, len(cands))
		for k, c := range cands {
			row[k] = c.j
		}
		idx[i] = row
	}
	return idx
}

// Neighbors returns the candidate list for tile i.
func (p ProximityIndex) Neighbors(i int) []int { return p[i] }

// Pairs counts ordered candidate pairs.
func (p ProximityIndex) Pairs() int {
	n := 0
	for _, row := range p {
		n += len(row)
	}
	return n
}
