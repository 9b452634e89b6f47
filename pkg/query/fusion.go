package query

import "sort"

// scoredCandidate is one id's contribution to a fused ranking.
type scoredCandidate struct {
	RowID    int64
	VecScore float64
	HasVec   bool
	KwScore  float64
	HasKw    bool
	VecNorm  float64
	KwNorm   float64
	Fused    float64
}

// minMaxNormalize maps vals to [0,1]. A constant (zero-range) list
// normalizes every element to 1.0, per the fusion spec, rather than
// dividing by zero.
func minMaxNormalize(vals map[int64]float64) map[int64]float64 {
	out := make(map[int64]float64, len(vals))
	if len(vals) == 0 {
		return out
	}
	min, max := minMax(vals)
	if max == min {
		for id := range vals {
			out[id] = 1.0
		}
		return out
	}
	for id, v := range vals {
		out[id] = (v - min) / (max - min)
	}
	return out
}

func minMax(vals map[int64]float64) (min, max float64) {
	first := true
	for _, v := range vals {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// fuse combines vector and keyword hit lists with alpha-weighted score
// fusion after independent min-max normalization, returning the top-k
// fused candidates ordered by descending fused score, tie-broken by
// descending raw vector score then ascending row-id.
func fuse(vecHits map[int64]float64, kwHits map[int64]float64, alpha float64, topk int) []scoredCandidate {
	vecNorm := minMaxNormalize(vecHits)
	kwNorm := minMaxNormalize(kwHits)

	// At the degenerate weights only the participating modality's hits
	// may appear: a zero-weight modality's rows would otherwise crowd
	// into the top-k with a fused score of 0, rows pure vector_search or
	// keyword_search would never surface.
	ids := map[int64]struct{}{}
	switch alpha {
	case 1.0:
		for id := range vecHits {
			ids[id] = struct{}{}
		}
	case 0.0:
		for id := range kwHits {
			ids[id] = struct{}{}
		}
	default:
		for id := range vecHits {
			ids[id] = struct{}{}
		}
		for id := range kwHits {
			ids[id] = struct{}{}
		}
	}

	out := make([]scoredCandidate, 0, len(ids))
	for id := range ids {
		vs, hasVec := vecHits[id]
		ks, hasKw := kwHits[id]
		vn := vecNorm[id]
		kn := kwNorm[id]
		out = append(out, scoredCandidate{
			RowID: id, VecScore: vs, HasVec: hasVec, KwScore: ks, HasKw: hasKw,
			VecNorm: vn, KwNorm: kn,
			Fused: alpha*vn + (1-alpha)*kn,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Fused != out[j].Fused {
			return out[i].Fused > out[j].Fused
		}
		if out[i].VecScore != out[j].VecScore {
			return out[i].VecScore > out[j].VecScore
		}
		return out[i].RowID < out[j].RowID
	})
	if topk > 0 && len(out) > topk {
		out = out[:topk]
	}
	return out
}
