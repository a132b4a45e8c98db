package features

import "math/bits"

// DefaultRatio is the nearest/second-nearest acceptance ratio.
const DefaultRatio = 0.9

// Match pairs a query descriptor with its accepted nearest train descriptor.
type Match struct {
	Query    int
	Train    int
	Distance int
}

// Hamming returns the bit distance between two descriptors. Descriptors of
// unequal width are compared over the shorter prefix.
func Hamming(a, b Descriptor) int {
	n := min(len(a), len(b))
	d := 0
	for i := 0; i < n; i++ {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

// MatchRatio finds, for every query descriptor, its two nearest train
// descriptors and keeps the match when best < ratio*second. A query with
// fewer than two candidates yields nothing, as does an empty set on
// either side.
func MatchRatio(query, train Set, ratio float64) []Match {
	if query.Len() == 0 || train.Len() < 2 {
		return nil
	}
	var out []Match
	for qi, qd := range query.Descriptors {
		best, second := -1, -1
		bestIdx := -1
		for ti, td := range train.Descriptors {
			d := Hamming(qd, td)
			switch {
			case best < 0 || d < best:
				second = best
				best, bestIdx = d, ti
			case second < 0 || d < second:
				second = d
			}
		}
		if float64(best) < ratio*float64(second) {
			out = append(out, Match{Query: qi, Train: bestIdx, Distance: best})
		}
	}
	return out
}

// Pool accumulates correspondences from several channel pairs into one
// source/destination point list.
type Pool struct {
	Src []Point
	Dst []Point
}

// Add matches query against train and appends the accepted keypoint pairs.
// It returns the number of correspondences added.
func (p *Pool) Add(query, train Set, ratio float64) int {
	matches := MatchRatio(query, train, ratio)
	for _, m := range matches {
		p.Src = append(p.Src, query.Keypoints[m.Query])
		p.Dst = append(p.Dst, train.Keypoints[m.Train])
	}
	return len(matches)
}

// Len reports the pooled correspondence count.
func (p *Pool) Len() int { return len(p.Src) }
