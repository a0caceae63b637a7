package types_test

import (
	"crypto/sha256"
	"testing"

	"github.com/maci0/resembl/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestChecksum_StringRoundTrip(t *testing.T) {
	sum := sha256.Sum256([]byte("mov eax, ebx"))
	c := types.Checksum(sum)

	parsed, err := types.ParseChecksum(c.String())
	assert.NoError(t, err)
	assert.Equal(t, c, parsed)
}

func TestParseChecksum_InvalidLength(t *testing.T) {
	_, err := types.ParseChecksum("abcd")
	assert.Error(t, err)
}

func TestParseChecksum_InvalidHex(t *testing.T) {
	_, err := types.ParseChecksum("zz" + string(make([]byte, 62)))
	assert.Error(t, err)
}

func TestChecksum_IsZero(t *testing.T) {
	var c types.Checksum
	assert.True(t, c.IsZero())

	c[0] = 1
	assert.False(t, c.IsZero())
}

func TestIndexParams_Compatible(t *testing.T) {
	a := types.IndexParams{NumPermutations: 128, Bands: 32, RowsPerBand: 4, NgramSize: 3, Generalize: true}
	b := types.IndexParams{NumPermutations: 128, Bands: 16, RowsPerBand: 8, NgramSize: 3, Generalize: true}
	c := types.IndexParams{NumPermutations: 64, Bands: 16, RowsPerBand: 4, NgramSize: 3, Generalize: true}

	assert.True(t, a.Compatible(b), "band/row factorization must not affect compatibility")
	assert.False(t, a.Compatible(c), "permutation count mismatch must break compatibility")
}

func TestSnippet_HasNameHasTag(t *testing.T) {
	s := types.Snippet{
		Names: []string{"f1", "f2"},
		Tags:  map[string]struct{}{"crypto": {}},
	}

	assert.True(t, s.HasName("f1"))
	assert.False(t, s.HasName("f3"))
	assert.True(t, s.HasTag("crypto"))
	assert.False(t, s.HasTag("network"))
}

func TestUpsertOutcome_String(t *testing.T) {
	assert.Equal(t, "created", types.Created.String())
	assert.Equal(t, "aliased", types.Aliased.String())
}
