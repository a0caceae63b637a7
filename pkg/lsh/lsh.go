// Package lsh implements banded Locality-Sensitive Hashing over MinHash
// signatures for sub-linear candidate retrieval, plus a binary on-disk
// cache of the built index.
package lsh

import (
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/maci0/resembl/pkg/minhash"
	"github.com/maci0/resembl/pkg/types"
)

// DefaultThreshold is the similarity threshold the default banding is
// tuned against.
const DefaultThreshold = 0.5

// Bands chooses (b, r) with b*r == p, minimizing the distance between the
// S-curve probability 1-(1-s^r)^b evaluated at s=threshold and 0.5. When p
// has no divisor pair beyond the trivial (1, p) and (p, 1), those are the
// only candidates considered.
func Bands(p uint32, threshold float64) (bands, rows uint32) {
	if p == 0 {
		return 1, 0
	}
	bestDiff := math.MaxFloat64
	var bestB, bestR uint32
	for b := uint32(1); b <= p; b++ {
		if p%b != 0 {
			continue
		}
		r := p / b
		prob := sCurve(threshold, b, r)
		diff := math.Abs(prob - 0.5)
		if diff < bestDiff {
			bestDiff = diff
			bestB, bestR = b, r
		}
	}
	return bestB, bestR
}

func sCurve(s float64, b, r uint32) float64 {
	return 1 - math.Pow(1-math.Pow(s, float64(r)), float64(b))
}

// bandBucket is a 64-bit digest of one contiguous band slice of a
// signature, used as the bucket key within that band.
func bandBucket(sig minhash.Signature, band, rows uint32) uint64 {
	start := band * rows
	end := start + rows
	var h xxhash.Digest
	h.Reset()
	buf := make([]byte, 8)
	for i := start; i < end; i++ {
		putUint64(buf, sig[i])
		_, _ = h.Write(buf)
	}
	return h.Sum64()
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

type bucketKey struct {
	band uint32
	key  uint64
}

// Index is a banded LSH index over a fixed-parameter family of MinHash
// signatures. It retains the full signature of every inserted checksum so
// that removal never requires a rebuild.
type Index struct {
	Params types.IndexParams

	bands uint32
	rows  uint32

	buckets    map[bucketKey]map[types.Checksum]struct{}
	signatures map[types.Checksum]minhash.Signature
}

// New builds an empty index for the given parameters, tuning (bands, rows)
// against threshold.
func New(params types.IndexParams, threshold float64) *Index {
	b, r := Bands(params.NumPermutations, threshold)
	return newWithBands(params, b, r)
}

func newWithBands(params types.IndexParams, b, r uint32) *Index {
	return &Index{
		Params:     params,
		bands:      b,
		rows:       r,
		buckets:    make(map[bucketKey]map[types.Checksum]struct{}),
		signatures: make(map[types.Checksum]minhash.Signature),
	}
}

// Bands and Rows report the tuned banding, primarily for cache
// serialization and diagnostics.
func (idx *Index) Bands() uint32 { return idx.bands }
func (idx *Index) Rows() uint32  { return idx.rows }

// Len reports the number of distinct checksums currently indexed.
func (idx *Index) Len() int { return len(idx.signatures) }

// Insert adds a checksum's signature to the index in O(bands).
func (idx *Index) Insert(checksum types.Checksum, sig minhash.Signature) {
	idx.signatures[checksum] = sig
	for band := uint32(0); band < idx.bands; band++ {
		key := bucketKey{band: band, key: bandBucket(sig, band, idx.rows)}
		set, ok := idx.buckets[key]
		if !ok {
			set = make(map[types.Checksum]struct{})
			idx.buckets[key] = set
		}
		set[checksum] = struct{}{}
	}
}

// Remove deletes a checksum from the index in O(bands); a no-op if the
// checksum was never inserted.
func (idx *Index) Remove(checksum types.Checksum) {
	sig, ok := idx.signatures[checksum]
	if !ok {
		return
	}
	for band := uint32(0); band < idx.bands; band++ {
		key := bucketKey{band: band, key: bandBucket(sig, band, idx.rows)}
		set := idx.buckets[key]
		delete(set, checksum)
		if len(set) == 0 {
			delete(idx.buckets, key)
		}
	}
	delete(idx.signatures, checksum)
}

// Query returns the union of bucket members across all bands for sig, with
// no pre-ranking filtering. The query's own checksum need not be present
// in the index.
func (idx *Index) Query(sig minhash.Signature) []types.Checksum {
	seen := make(map[types.Checksum]struct{})
	for band := uint32(0); band < idx.bands; band++ {
		key := bucketKey{band: band, key: bandBucket(sig, band, idx.rows)}
		for c := range idx.buckets[key] {
			seen[c] = struct{}{}
		}
	}
	out := make([]types.Checksum, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Signature returns the retained signature for checksum, if indexed.
func (idx *Index) Signature(checksum types.Checksum) (minhash.Signature, bool) {
	sig, ok := idx.signatures[checksum]
	return sig, ok
}

// Checksums returns every indexed checksum in lexicographic order.
func (idx *Index) Checksums() []types.Checksum {
	out := make([]types.Checksum, 0, len(idx.signatures))
	for c := range idx.signatures {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
