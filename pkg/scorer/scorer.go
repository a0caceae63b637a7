// Package scorer combines MinHash Jaccard estimates, raw-text edit
// distance, and control-flow-graph similarity into the hybrid score used
// to rank and report snippet comparisons.
package scorer

import (
	"github.com/maci0/resembl/pkg/cfg"
	"github.com/maci0/resembl/pkg/minhash"
	"github.com/maci0/resembl/pkg/tokenizer"
	"github.com/maci0/resembl/pkg/types"
)

// DefaultJaccardWeight is the default mix between Jaccard and Levenshtein
// in the hybrid score.
const DefaultJaccardWeight = 0.4

// Jaccard estimates Jaccard similarity from two MinHash signatures.
func Jaccard(a, b minhash.Signature) float64 {
	return minhash.Jaccard(a, b)
}

// LevenshteinRatio returns 100*(1 - edit_distance(a,b)/max(len(a),len(b)))
// on raw code strings, operating on runes so multi-byte source text isn't
// miscounted. No pack repo imports a fuzzy-string-matching library — both
// reference hand-rolled Levenshtein implementations elsewhere use a
// plain DP matrix; this computes the same table keeping only two rows.
func LevenshteinRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 100
	}
	dist := editDistance(ra, rb)
	return 100 * (1 - float64(dist)/float64(maxLen))
}

func editDistance(a, b []rune) int {
	n, m := len(a), len(b)
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for j := 0; j <= m; j++ {
		prev[j] = j
	}
	for i := 1; i <= n; i++ {
		curr[0] = i
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1]
			} else {
				del := prev[j] + 1
				ins := curr[j-1] + 1
				sub := prev[j-1] + 1
				curr[j] = min3(del, ins, sub)
			}
		}
		prev, curr = curr, prev
	}
	return prev[m]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// Hybrid combines Jaccard and Levenshtein ratio:
// hybrid = 100*(jaccardWeight*J + (1-jaccardWeight)*L/100).
func Hybrid(jaccard, levenshteinRatio, jaccardWeight float64) float64 {
	return 100 * (jaccardWeight*jaccard + (1-jaccardWeight)*levenshteinRatio/100)
}

// SharedTokens counts the distinct normalized tokens present in both
// snippets' token streams.
func SharedTokens(tokensA, tokensB []string) int {
	setA := make(map[string]struct{}, len(tokensA))
	for _, tok := range tokensA {
		setA[tok] = struct{}{}
	}
	setB := make(map[string]struct{}, len(tokensB))
	for _, tok := range tokensB {
		setB[tok] = struct{}{}
	}
	shared := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			shared++
		}
	}
	return shared
}

// Compare computes the full comparison result between two snippets'
// stored code and MinHash signatures.
func Compare(checksumA, checksumB types.Checksum, codeA, codeB string, sigA, sigB minhash.Signature, jaccardWeight float64) types.CompareResult {
	tokensA := tokenizer.Tokenize(codeA, types.Generalize)
	tokensB := tokenizer.Tokenize(codeB, types.Generalize)

	jac := Jaccard(sigA, sigB)
	lev := LevenshteinRatio(codeA, codeB)
	hybrid := Hybrid(jac, lev, jaccardWeight)
	cfgSim := cfg.Similarity(cfg.Extract(codeA), cfg.Extract(codeB))

	return types.CompareResult{
		ChecksumA:     checksumA,
		ChecksumB:     checksumB,
		TokenCountA:   len(tokensA),
		TokenCountB:   len(tokensB),
		Jaccard:       jac,
		Levenshtein:   lev,
		Hybrid:        hybrid,
		CFGSimilarity: cfgSim,
		SharedTokens:  SharedTokens(tokensA, tokensB),
	}
}
