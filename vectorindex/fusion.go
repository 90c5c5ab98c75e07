package vectorindex

import "sort"

// rrfK dampens the contribution of lower ranks in reciprocal rank fusion.
const rrfK = 60

// rrfFuse merges ranked stage results into a single list of at most limit
// hits. Each stage contributes 1/(rank+rrfK) per candidate, rank counted from
// 1, so a candidate found by only one stage still qualifies. Ties are broken
// by the better best single-stage rank, then by key, keeping the order stable
// across runs.
func rrfFuse(stages [][]Hit, limit int) []Hit {
	type fused struct {
		hit      Hit
		score    float64
		bestRank int
	}
	byKey := make(map[string]*fused)

	for _, stage := range stages {
		for i, hit := range stage {
			rank := i + 1
			f, ok := byKey[hit.Key]
			if !ok {
				f = &fused{hit: hit, bestRank: rank}
				byKey[hit.Key] = f
			} else if rank < f.bestRank {
				f.bestRank = rank
			}
			f.score += 1.0 / float64(rank+rrfK)
		}
	}

	merged := make([]*fused, 0, len(byKey))
	for _, f := range byKey {
		merged = append(merged, f)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		if merged[i].bestRank != merged[j].bestRank {
			return merged[i].bestRank < merged[j].bestRank
		}
		return merged[i].hit.Key < merged[j].hit.Key
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	out := make([]Hit, len(merged))
	for i, f := range merged {
		out[i] = f.hit
		out[i].Score = f.score
	}
	return out
}
