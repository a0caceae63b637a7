package lsh_test

import (
	"testing"

	"github.com/maci0/resembl/pkg/lsh"
	"github.com/maci0/resembl/pkg/minhash"
	"github.com/maci0/resembl/pkg/types"
	"github.com/stretchr/testify/assert"
)

func checksumOf(b byte) types.Checksum {
	var c types.Checksum
	c[0] = b
	return c
}

func sigOf(values ...uint64) minhash.Signature {
	return minhash.Signature(values)
}

func TestBands_FactorsCleanly(t *testing.T) {
	b, r := lsh.Bands(128, 0.5)
	assert.Equal(t, uint32(128), b*r)
}

func TestBands_TargetsHalfProbabilityAtThreshold(t *testing.T) {
	b, r := lsh.Bands(128, 0.5)
	assert.Greater(t, b, uint32(0))
	assert.Greater(t, r, uint32(0))
	// 32 bands of 4 rows give 1-(1-0.5^4)^32 ~= 0.87 at s=0.5, the closest
	// to 0.5 of every factorization of 128 (16x8 gives ~0.06).
	assert.Equal(t, uint32(32), b)
	assert.Equal(t, uint32(4), r)
}

func TestIndex_InsertAndQueryFindsExactSignature(t *testing.T) {
	params := types.IndexParams{NumPermutations: 16, NgramSize: 3, Generalize: true}
	idx := lsh.New(params, 0.5)

	sig := sigOf(rep16(1)...)
	cs := checksumOf(0xAA)
	idx.Insert(cs, sig)

	candidates := idx.Query(sig)
	assert.Contains(t, candidates, cs)
}

func TestIndex_RemoveDropsFromBuckets(t *testing.T) {
	params := types.IndexParams{NumPermutations: 16, NgramSize: 3, Generalize: true}
	idx := lsh.New(params, 0.5)

	sig := sigOf(rep16(7)...)
	cs := checksumOf(0xBB)
	idx.Insert(cs, sig)
	idx.Remove(cs)

	candidates := idx.Query(sig)
	assert.NotContains(t, candidates, cs)
	assert.Equal(t, 0, idx.Len())
}

func TestIndex_QueryUnionsAcrossBands(t *testing.T) {
	params := types.IndexParams{NumPermutations: 4, NgramSize: 3, Generalize: true}
	idx := lsh.New(params, 0.5)

	a := sigOf(1, 2, 3, 4)
	b := sigOf(1, 2, 99, 99) // Bands(4, 0.5) is 2 bands of 2 rows: b shares band 0 with a
	idx.Insert(checksumOf(1), a)
	idx.Insert(checksumOf(2), b)

	candidates := idx.Query(a)
	assert.Contains(t, candidates, checksumOf(1))
	assert.Contains(t, candidates, checksumOf(2))
}

func TestIndex_ChecksumsSortedLexicographically(t *testing.T) {
	params := types.IndexParams{NumPermutations: 8, NgramSize: 3, Generalize: true}
	idx := lsh.New(params, 0.5)
	idx.Insert(checksumOf(0xFF), sigOf(rep16(1)[:8]...))
	idx.Insert(checksumOf(0x01), sigOf(rep16(2)[:8]...))

	cs := idx.Checksums()
	assert.Len(t, cs, 2)
	assert.True(t, cs[0].String() < cs[1].String())
}

func rep16(v uint64) []uint64 {
	out := make([]uint64, 16)
	for i := range out {
		out[i] = v
	}
	return out
}
