package rerr_test

import (
	"errors"
	"testing"

	"github.com/maci0/resembl/pkg/rerr"
	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesWrappedKind(t *testing.T) {
	err := rerr.New(rerr.NotFound, "checksum abc123 not found")
	assert.True(t, rerr.Is(err, rerr.NotFound))
	assert.False(t, rerr.Is(err, rerr.Ambiguous))
}

func TestIs_MatchesThroughJoinedError(t *testing.T) {
	base := rerr.New(rerr.EmptyAliasSet, "cannot remove last name")
	wrapped := errors.New("context: " + base.Error())
	assert.False(t, rerr.Is(wrapped, rerr.EmptyAliasSet), "plain string wrap loses type information by design")

	joined := errors.Join(base)
	assert.True(t, rerr.Is(joined, rerr.EmptyAliasSet))
}

func TestWrap_UnwrapsToCause(t *testing.T) {
	cause := errors.New("disk full")
	err := rerr.Wrap(rerr.TransientStorageError, cause, "writing snippet")
	assert.ErrorIs(t, err, cause)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "not_found", rerr.NotFound.String())
	assert.Equal(t, "ambiguous", rerr.Ambiguous.String())
	assert.Equal(t, "unknown", rerr.Unknown.String())
}
