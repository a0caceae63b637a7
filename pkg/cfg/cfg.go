// Package cfg extracts a simplified control-flow graph from an assembly
// snippet's line structure and scores structural similarity between two
// graphs.
package cfg

import (
	"math"
	"strings"

	"github.com/maci0/resembl/pkg/tokenizer"
)

// Graph is a simplified control-flow graph: basic blocks and the directed
// edges between them.
type Graph struct {
	NumBlocks  int
	NumEdges   int
	BlockSizes []int
	Adj        [][]int
}

// Extract splits code into basic blocks at label definitions and branch
// instructions and resolves intra-snippet branch targets
// into adjacency edges.
func Extract(code string) Graph {
	var blocks [][]string
	var current []string
	labelToBlock := make(map[string]int)

	for _, raw := range strings.Split(code, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(stripComment(line))
		if line == "" {
			continue
		}

		if i := strings.Index(line, ":"); i >= 0 {
			label := strings.TrimSpace(line[:i])
			remainder := strings.TrimSpace(line[i+1:])
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			labelToBlock[label] = len(blocks)
			if remainder != "" {
				current = append(current, remainder)
				if closesBlock(remainder) {
					blocks = append(blocks, current)
					current = nil
				}
			}
			continue
		}

		current = append(current, line)
		if closesBlock(line) {
			blocks = append(blocks, current)
			current = nil
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}

	adj := make([][]int, len(blocks))
	for i, block := range blocks {
		if len(block) == 0 {
			if i+1 < len(blocks) {
				adj[i] = append(adj[i], i+1)
			}
			continue
		}

		last := block[len(block)-1]
		fields := strings.Fields(last)
		mnemonic := ""
		if len(fields) > 0 {
			mnemonic = strings.ToUpper(fields[0])
		}

		switch {
		case isMember(tokenizer.Returns, mnemonic):
			// function exit, no successor
		case isMember(tokenizer.UnconditionalBranches, mnemonic):
			if target, ok := resolveTarget(fields, labelToBlock); ok {
				adj[i] = append(adj[i], target)
			}
		case isMember(tokenizer.BranchInstructions, mnemonic):
			if i+1 < len(blocks) {
				adj[i] = append(adj[i], i+1)
			}
			if target, ok := resolveTarget(fields, labelToBlock); ok {
				adj[i] = append(adj[i], target)
			}
		default:
			if i+1 < len(blocks) {
				adj[i] = append(adj[i], i+1)
			}
		}
	}

	numEdges := 0
	sizes := make([]int, len(blocks))
	for i, b := range blocks {
		numEdges += len(adj[i])
		sizes[i] = len(b)
	}

	return Graph{
		NumBlocks:  len(blocks),
		NumEdges:   numEdges,
		BlockSizes: sizes,
		Adj:        adj,
	}
}

// stripComment removes trailing comment text from an assembly line, mirroring
// pkg/tokenizer's line scanner: ';' and '//' always start a comment, while a
// bare '#' only does when it isn't introducing an immediate like "#8".
func stripComment(line string) string {
	if i := strings.Index(line, ";"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	for i := 0; i < len(line); i++ {
		if line[i] != '#' {
			continue
		}
		if _, ok := scanHashImmediate(line, i); ok {
			continue
		}
		return line[:i]
	}
	return line
}

func scanHashImmediate(line string, i int) (int, bool) {
	n := len(line)
	j := i + 1
	if j < n && line[j] == '-' {
		j++
	}
	if j >= n || line[j] < '0' || line[j] > '9' {
		return 0, false
	}
	for j < n && (isDigitByte(line[j]) || isLetterByte(line[j])) {
		j++
	}
	return j, true
}

func isDigitByte(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetterByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func closesBlock(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	mnemonic := strings.ToUpper(fields[0])
	return isMember(tokenizer.BranchInstructions, mnemonic)
}

func isMember(set map[string]struct{}, mnemonic string) bool {
	_, ok := set[mnemonic]
	return ok
}

func resolveTarget(fields []string, labelToBlock map[string]int) (int, bool) {
	if len(fields) < 2 {
		return 0, false
	}
	target := strings.TrimSpace(fields[len(fields)-1])
	idx, ok := labelToBlock[target]
	return idx, ok
}

// histogramBuckets are the power-of-two block-size buckets used for the
// similarity histogram: [1,2) [2,4) [4,8) [8,16) [16,32) [32,inf).
var histogramBuckets = []int{1, 2, 4, 8, 16, 32}

func bucketOf(size int) int {
	for i := len(histogramBuckets) - 1; i >= 0; i-- {
		if size >= histogramBuckets[i] {
			return i
		}
	}
	return 0
}

func histogram(sizes []int) []float64 {
	h := make([]float64, len(histogramBuckets))
	for _, s := range sizes {
		h[bucketOf(s)]++
	}
	return h
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Similarity scores two control-flow graphs in [0,1]: 0.4 of block-count
// ratio, 0.3 of edge-count ratio, 0.3 of block-size-histogram cosine
// similarity. Two empty graphs score 1; if exactly one is empty the score
// is 0.
func Similarity(a, b Graph) float64 {
	if a.NumBlocks == 0 && b.NumBlocks == 0 {
		return 1.0
	}
	if a.NumBlocks == 0 || b.NumBlocks == 0 {
		return 0.0
	}

	sizeRatio := ratio(a.NumBlocks, b.NumBlocks)
	edgeRatio := 1.0
	if a.NumEdges != 0 || b.NumEdges != 0 {
		edgeRatio = ratio(a.NumEdges, b.NumEdges)
	}
	cos := cosineSimilarity(histogram(a.BlockSizes), histogram(b.BlockSizes))

	sim := 0.4*sizeRatio + 0.3*edgeRatio + 0.3*cos
	return clamp01(sim)
}

func ratio(a, b int) float64 {
	if a == 0 && b == 0 {
		return 1.0
	}
	if a == 0 || b == 0 {
		return 0.0
	}
	min, max := a, b
	if min > max {
		min, max = max, min
	}
	return float64(min) / float64(max)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
