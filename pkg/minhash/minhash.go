// Package minhash computes fixed-width MinHash signatures over weighted
// shingle sets using min-wise independent permutations, and estimates
// Jaccard similarity from the resulting signatures.
package minhash

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"math/rand"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/maci0/resembl/pkg/shingle"
)

// DefaultNumPermutations is the default signature width.
const DefaultNumPermutations = 128

// mersennePrime61 is the large prime modulus for the permutation family.
// a_i*H(x) can exceed 64 bits, so New forms the product at full 128-bit
// width and reduces it modulo this prime.
const mersennePrime61 = (1 << 61) - 1

// permutationSeed is the fixed seed parameterizing every (a_i, b_i) pair.
// Two runs with the same (tokens, k, P, seed) must produce bit-identical
// signatures, so this constant is never randomized at runtime.
const permutationSeed = 0x5245534d424c00 // "RESMBL\x00" as an int

// Signature is a fixed-length MinHash fingerprint: signature[i] is the
// minimum permuted hash seen for permutation i across every element
// inserted into the signature.
type Signature []uint64

// permutations caches the deterministic (a, b) pairs for a given P so
// repeated signature builds don't re-seed the PRNG each time.
type permutations struct {
	a, b []uint64
}

var (
	permCacheMu sync.RWMutex
	permCache   = map[uint32]*permutations{}
)

// getPermutations is called concurrently from every worker in the bulk
// import pool, so the cache is guarded by an RWMutex: the common case (warm
// cache) only takes a read lock.
func getPermutations(p uint32) *permutations {
	permCacheMu.RLock()
	cached, ok := permCache[p]
	permCacheMu.RUnlock()
	if ok {
		return cached
	}

	permCacheMu.Lock()
	defer permCacheMu.Unlock()
	if cached, ok := permCache[p]; ok {
		return cached
	}

	r := rand.New(rand.NewSource(permutationSeed))
	a := make([]uint64, p)
	b := make([]uint64, p)
	for i := uint32(0); i < p; i++ {
		// a must be non-zero modulo the prime to remain a valid
		// multiplicative permutation coefficient.
		av := uint64(r.Int63n(mersennePrime61-1)) + 1
		bv := uint64(r.Int63n(mersennePrime61))
		a[i] = av
		b[i] = bv
	}
	perm := &permutations{a: a, b: b}
	permCache[p] = perm
	return perm
}

// hash64 returns a stable 64-bit hash of x, used as H(x) in the
// permutation formula h_i(x) = (a_i*H(x) + b_i) mod M.
func hash64(x string) uint64 {
	return xxhash.Sum64String(x)
}

// New builds a signature of width numPerm from a set of weighted shingles.
// Weighted insertion is realized by inserting numeric variants of each
// shingle (one per unit of weight) rather than literally repeating it,
// since MinHash's min operator is idempotent on exact duplicates; this
// still amplifies rare shingles' influence on the signature, matching
// the weighted-insertion guarantee.
func New(shingles []shingle.Weighted, numPerm uint32) Signature {
	if numPerm == 0 {
		numPerm = DefaultNumPermutations
	}
	sig := make(Signature, numPerm)
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	if len(shingles) == 0 {
		return sig
	}

	perm := getPermutations(numPerm)
	for _, sh := range shingles {
		for variant := 0; variant < sh.Weight; variant++ {
			element := sh.Text
			if variant > 0 {
				element = fmt.Sprintf("%s\x00%d", sh.Text, variant)
			}
			hx := hash64(element)
			for i := uint32(0); i < numPerm; i++ {
				hi, lo := bits.Mul64(perm.a[i], hx)
				lo, carry := bits.Add64(lo, perm.b[i], 0)
				h := bits.Rem64(hi+carry, lo, mersennePrime61)
				if h < sig[i] {
					sig[i] = h
				}
			}
		}
	}
	return sig
}

// FromTokens is a convenience wrapper: shingle the token stream at ngramSize
// and build the signature in one call.
func FromTokens(tokens []string, ngramSize int, numPerm uint32) Signature {
	return New(shingle.Shingle(tokens, ngramSize), numPerm)
}

// Jaccard estimates the Jaccard similarity of the two (variant-expanded)
// shingle multisets that produced a and b: the fraction of signature slots
// that agree. Signatures of differing length are treated as dissimilar
// (0), since they were not built under the same parameters.
func Jaccard(a, b Signature) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	matches := 0
	for i := range a {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

const (
	magic         = "MHSG"
	headerSize    = 8 // 4-byte magic + 4-byte P
	slotByteWidth = 8
)

// Serialize encodes the signature as little-endian packed P*8 bytes,
// preceded by a 4-byte magic and a 4-byte permutation count.
func Serialize(sig Signature) []byte {
	out := make([]byte, headerSize+len(sig)*slotByteWidth)
	copy(out[0:4], magic)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(sig)))
	for i, slot := range sig {
		off := headerSize + i*slotByteWidth
		binary.LittleEndian.PutUint64(out[off:off+slotByteWidth], slot)
	}
	return out
}

// Parse decodes a signature produced by Serialize. A permutation count
// that doesn't match the byte length on disk, or a bad magic, is a hard
// read error.
func Parse(data []byte) (Signature, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("resembl: minhash signature truncated: %d bytes", len(data))
	}
	if string(data[0:4]) != magic {
		return nil, fmt.Errorf("resembl: minhash signature has bad magic %q", data[0:4])
	}
	p := binary.LittleEndian.Uint32(data[4:8])
	want := headerSize + int(p)*slotByteWidth
	if len(data) != want {
		return nil, fmt.Errorf("resembl: minhash signature length mismatch: P=%d implies %d bytes, got %d", p, want, len(data))
	}
	sig := make(Signature, p)
	for i := range sig {
		off := headerSize + i*slotByteWidth
		sig[i] = binary.LittleEndian.Uint64(data[off : off+slotByteWidth])
	}
	return sig, nil
}
