package search

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fusedByID(items []fused) map[string]fused {
	out := make(map[string]fused, len(items))
	for _, f := range items {
		out[f.ID] = f
	}
	return out
}

func TestNormalizeMinMax(t *testing.T) {
	// Given raw scores spanning a range
	items := []scored{{"a", 10}, {"b", 5}, {"c", 0}}

	// When normalizing minmax
	norm := normalize(items, NormMinMax)

	// Then scores map onto [0,1] with the extremes pinned
	assert.InDelta(t, 1.0, norm["a"], 1e-9)
	assert.InDelta(t, 0.5, norm["b"], 1e-9)
	assert.InDelta(t, 0.0, norm["c"], 1e-9)
}

func TestNormalizeMinMaxDegenerate(t *testing.T) {
	// Given all-equal scores
	norm := normalize([]scored{{"a", 3}, {"b", 3}}, NormMinMax)

	// Then candidates keep full strength instead of collapsing to zero
	assert.Equal(t, 1.0, norm["a"])
	assert.Equal(t, 1.0, norm["b"])
}

func TestNormalizeZScore(t *testing.T) {
	// Given scores with a known mean
	norm := normalize([]scored{{"a", 2}, {"b", 4}, {"c", 6}}, NormZScore)

	// Then the mean maps to zero and the extremes are symmetric
	assert.InDelta(t, 0.0, norm["b"], 1e-9)
	assert.InDelta(t, -norm["a"], norm["c"], 1e-9)
}

func TestFuseWeightedBlendsPaths(t *testing.T) {
	// Given a chunk strong lexically and another strong in vector space
	lex := []scored{{"lexy", 8}, {"both", 4}}
	vec := []scored{{"vecy", 0.9}, {"both", 0.6}}

	// When fusing with a lexical-leaning alpha
	out := fusedByID(fuseWeighted(lex, vec, 0.7, NormMinMax))

	// Then all three candidates survive with blended scores
	require.Len(t, out, 3)
	assert.InDelta(t, 0.7, out["lexy"].Score, 1e-9)
	assert.InDelta(t, 0.3, out["vecy"].Score, 1e-9)
	assert.Greater(t, out["lexy"].Score, out["vecy"].Score)
	// Raw path scores are preserved for display.
	assert.Equal(t, 8.0, out["lexy"].Lex)
	assert.Equal(t, 0.9, out["vecy"].Vec)
}

func TestFuseWeightedAlphaExtremes(t *testing.T) {
	lex := []scored{{"a", 5}, {"b", 3}}
	vec := []scored{{"b", 0.9}, {"a", 0.1}}

	// Alpha 1 ranks purely by the lexical path.
	out := fuseWeighted(lex, vec, 1, NormMinMax)
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	assert.Equal(t, "a", out[0].ID)

	// Alpha 0 ranks purely by the vector path.
	out = fuseWeighted(lex, vec, 0, NormMinMax)
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	assert.Equal(t, "b", out[0].ID)
}

func TestFuseWeightedAlphaExtremesDropOffPathCandidates(t *testing.T) {
	// Given a candidate each path found alone
	lex := []scored{{"lex-top", 5}, {"lex-low", 3}}
	vec := []scored{{"vec-only", 0.95}, {"lex-low", 0.4}}

	// When fusing at alpha 1
	out := fuseWeighted(lex, vec, 1, NormMinMax)

	// Then the vector-only candidate cannot enter the lexical ranking:
	// it would carry a zero fused score and tie with the lowest hit.
	ids := fusedByID(out)
	require.Len(t, out, 2)
	assert.Contains(t, ids, "lex-top")
	assert.Contains(t, ids, "lex-low")
	assert.NotContains(t, ids, "vec-only")
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	assert.Equal(t, "lex-top", out[0].ID)
	assert.Equal(t, "lex-low", out[1].ID)

	// Symmetrically at alpha 0 the lexical-only candidate is dropped.
	out = fuseWeighted(lex, vec, 0, NormMinMax)
	ids = fusedByID(out)
	require.Len(t, out, 2)
	assert.NotContains(t, ids, "lex-top")
	assert.Contains(t, ids, "vec-only")
}

func TestFuseRRFRewardsAgreement(t *testing.T) {
	// Given a chunk ranked well by both paths
	lex := []scored{{"solo-lex", 9}, {"both", 7}}
	vec := []scored{{"both", 0.8}, {"solo-vec", 0.7}}

	// When fusing by reciprocal rank with a small constant
	out := fusedByID(fuseRRF(lex, vec, 10))

	// Then the agreed-on chunk beats either single-path chunk
	require.Len(t, out, 3)
	assert.Greater(t, out["both"].Score, out["solo-lex"].Score)
	assert.Greater(t, out["both"].Score, out["solo-vec"].Score)
}
