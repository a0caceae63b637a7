package storage

import (
	"log/slog"

	"github.com/dgraph-io/ristretto"
	"github.com/maci0/resembl/pkg/types"
)

// snippetCost is a rough per-entry cost estimate for ristretto's cost
// accounting; snippet code is typically small, so a flat estimate keeps
// the cache simple without measuring every value's exact byte size.
const snippetCost = 1

// newSnippetCache builds a ristretto cache of decoded snippet rows, keyed
// by checksum, so repeated reads during a find/compare pass skip the
// kvstore round-trip and lzma decompression. Evictions are logged at
// debug level rather than silently dropped.
func newSnippetCache(log *slog.Logger) (*ristretto.Cache, error) {
	return ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item) {
			if cached, ok := item.Value.(cachedSnippet); ok {
				log.Debug("snippet cache eviction", "checksum", cached.checksum.String())
			}
		},
	})
}

type cachedSnippet struct {
	checksum types.Checksum
	snippet  types.Snippet
}

func cacheKey(checksum types.Checksum) uint64 {
	// ristretto hashes interface{} keys internally via its own hasher when
	// given a string/[]byte/int; a fixed-width numeric key derived from the
	// checksum avoids relying on that internal hashing for a type it
	// doesn't specialize.
	var k uint64
	for i := 0; i < 8; i++ {
		k = k<<8 | uint64(checksum[i])
	}
	return k
}
