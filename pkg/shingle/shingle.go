// Package shingle turns a token stream into a weighted multiset of
// contiguous n-grams ("shingles"), the input alphabet MinHash fingerprints.
package shingle

import (
	"strings"

	"github.com/maci0/resembl/pkg/tokenizer"
)

// Separator joins tokens within a shingle. It cannot appear inside a
// token produced by pkg/tokenizer (tokens are either placeholders,
// uppercased words, or single punctuation characters), so shingles never
// collide across different token boundaries.
const Separator = " "

// DefaultSize is the default n-gram width.
const DefaultSize = 3

// Weighted is one shingle together with its MinHash insertion weight.
type Weighted struct {
	Text   string
	Weight int
}

// Shingle produces the contiguous n-gram multiset for tokens at width k.
// Token streams shorter than k collapse to a single shingle covering the
// whole sequence, with the default weight of 2.
func Shingle(tokens []string, k int) []Weighted {
	if k < 1 {
		k = DefaultSize
	}
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) < k {
		text := strings.Join(tokens, Separator)
		return []Weighted{{Text: text, Weight: 2}}
	}

	seen := make(map[string]struct{})
	var out []Weighted
	for i := 0; i+k <= len(tokens); i++ {
		text := strings.Join(tokens[i:i+k], Separator)
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, Weighted{Text: text, Weight: Weight(text)})
	}
	return out
}

// Weight returns the MinHash insertion weight for a shingle string: 3 if
// every token names a rare instruction, 1 if every token is a common
// instruction, 2 otherwise. The closed rare/common instruction sets are
// pinned in pkg/tokenizer so this function's behavior is stable and
// testable.
func Weight(shingleText string) int {
	toks := strings.Split(shingleText, Separator)
	if len(toks) == 0 {
		return 2
	}

	allRare := true
	allCommon := true
	for _, tok := range toks {
		if _, ok := tokenizer.RareInstructions[tok]; !ok {
			allRare = false
		}
		if _, ok := tokenizer.CommonInstructions[tok]; !ok {
			allCommon = false
		}
	}

	switch {
	case allRare:
		return 3
	case allCommon:
		return 1
	default:
		return 2
	}
}
