package search

import "math"

// scored is a single-path candidate before fusion.
type scored struct {
	ID    string
	Score float64
}

// fused carries the combined score plus the per-path contributions
// for debugging and display.
type fused struct {
	ID    string
	Score float64
	Lex   float64
	Vec   float64
}

// normalize rescales raw path scores so the two paths become
// comparable before the weighted sum. Raw BM25 scores are unbounded
// while cosine similarity lives in [0,1], so fusing without this
// step lets one path drown the other.
func normalize(items []scored, scheme string) map[string]float64 {
	out := make(map[string]float64, len(items))
	if len(items) == 0 {
		return out
	}
	switch scheme {
	case NormZScore:
		var sum float64
		for _, it := range items {
			sum += it.Score
		}
		mean := sum / float64(len(items))
		var variance float64
		for _, it := range items {
			d := it.Score - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(len(items)))
		for _, it := range items {
			if std == 0 {
				out[it.ID] = 0
				continue
			}
			out[it.ID] = (it.Score - mean) / std
		}
	default: // minmax
		lo, hi := items[0].Score, items[0].Score
		for _, it := range items[1:] {
			if it.Score < lo {
				lo = it.Score
			}
			if it.Score > hi {
				hi = it.Score
			}
		}
		span := hi - lo
		for _, it := range items {
			if span == 0 {
				// A single candidate, or all scores equal.
				// Rank them at full strength rather than zero.
				out[it.ID] = 1
				continue
			}
			out[it.ID] = (it.Score - lo) / span
		}
	}
	return out
}

// fuseWeighted combines the two candidate pools with
// alpha*lexical + (1-alpha)*vector over normalized scores. A chunk
// found by only one path contributes zero from the other. At the
// extremes the off-path pool is dropped entirely: its exclusive
// candidates carry a fused score of zero, and keeping them would let
// tie-breaking inject non-matching chunks into a pure ranking.
func fuseWeighted(lex, vec []scored, alpha float64, scheme string) []fused {
	switch alpha {
	case 1:
		vec = nil
	case 0:
		lex = nil
	}

	lexNorm := normalize(lex, scheme)
	vecNorm := normalize(vec, scheme)

	merged := make(map[string]*fused, len(lex)+len(vec))
	for _, it := range lex {
		merged[it.ID] = &fused{ID: it.ID, Lex: it.Score}
	}
	for _, it := range vec {
		f, ok := merged[it.ID]
		if !ok {
			f = &fused{ID: it.ID}
			merged[it.ID] = f
		}
		f.Vec = it.Score
	}

	out := make([]fused, 0, len(merged))
	for id, f := range merged {
		f.Score = alpha*lexNorm[id] + (1-alpha)*vecNorm[id]
		out = append(out, *f)
	}
	return out
}

// fuseRRF combines the pools by reciprocal rank: each path
// contributes 1/(k+rank) for the chunks it returned. Rank fusion
// ignores score magnitudes entirely, which makes it robust when the
// two score distributions are hard to normalize.
func fuseRRF(lex, vec []scored, k int) []fused {
	merged := make(map[string]*fused, len(lex)+len(vec))
	for rank, it := range lex {
		merged[it.ID] = &fused{
			ID:    it.ID,
			Lex:   it.Score,
			Score: 1 / float64(k+rank+1),
		}
	}
	for rank, it := range vec {
		f, ok := merged[it.ID]
		if !ok {
			f = &fused{ID: it.ID}
			merged[it.ID] = f
		}
		f.Vec = it.Score
		f.Score += 1 / float64(k+rank+1)
	}

	out := make([]fused, 0, len(merged))
	for _, f := range merged {
		out = append(out, *f)
	}
	return out
}
