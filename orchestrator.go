package resembl

import (
	"fmt"
	"math/rand"
	"os"
	"sort"

	"github.com/maci0/resembl/pkg/lsh"
	"github.com/maci0/resembl/pkg/minhash"
	"github.com/maci0/resembl/pkg/rerr"
	"github.com/maci0/resembl/pkg/scorer"
	"github.com/maci0/resembl/pkg/tokenizer"
	"github.com/maci0/resembl/pkg/types"
)

// statsSampleSize bounds the random sample used for the mean-pairwise-
// Jaccard statistic.
const statsSampleSize = 256

// statsSampleSeed is fixed so Stats is reproducible across runs against
// the same corpus.
const statsSampleSeed = 0x5245534d424c00

// ensureIndex loads the LSH cache if its fingerprint and parameters match
// the current storage state, else rebuilds it by iterating every snippet.
func (e *Engine) ensureIndex() error {
	store, err := e.storageHandle()
	if err != nil {
		return err
	}

	params := e.indexParams()
	fp, err := store.Fingerprint()
	if err != nil {
		return err
	}

	idx, err := lsh.Load(e.cachePath, params, lsh.Fingerprint(fp))
	if err == nil {
		e.indexMu.Lock()
		e.index = idx
		e.indexMu.Unlock()
		return nil
	}
	if err != lsh.ErrCacheMissing {
		e.log.Warn("lsh cache load failed, rebuilding", "error", err)
	}

	return e.rebuildIndex(params, fp)
}

func (e *Engine) rebuildIndex(params types.IndexParams, fp uint64) error {
	store, err := e.storageHandle()
	if err != nil {
		return err
	}

	idx := lsh.New(params, e.cfg.LSHThreshold)
	var iterErr error
	err = store.IterAll(func(snippet types.Snippet) bool {
		sig, parseErr := minhash.Parse(snippet.MinHash)
		if parseErr != nil {
			iterErr = rerr.Wrap(rerr.StaleIndex, parseErr, "snippet has no valid minhash; run reindex")
			return false
		}
		idx.Insert(snippet.Checksum, sig)
		return true
	})
	if err != nil {
		return rerr.Wrap(rerr.TransientStorageError, err, "iterating snippets to rebuild index")
	}
	if iterErr != nil {
		return iterErr
	}

	e.indexMu.Lock()
	e.index = idx
	e.indexMu.Unlock()

	if err := lsh.Save(e.cachePath, idx, lsh.Fingerprint(fp)); err != nil {
		e.log.Warn("persisting rebuilt lsh cache failed", "error", err)
	}
	return nil
}

func (e *Engine) currentIndex() (*lsh.Index, error) {
	e.indexMu.RLock()
	defer e.indexMu.RUnlock()
	if e.index == nil {
		return nil, ErrNotStarted
	}
	return e.index, nil
}

// Add inserts code under name, returning the resolved checksum and
// whether a new row was created.
func (e *Engine) Add(name, code string) (types.Checksum, types.UpsertOutcome, error) {
	store, err := e.storageHandle()
	if err != nil {
		return types.Checksum{}, 0, err
	}

	checksum := tokenizer.StringChecksum(code)
	tokens := tokenizer.Tokenize(code, types.Generalize)
	sig := minhash.FromTokens(tokens, int(e.cfg.NgramSize), e.cfg.NumPermutations)
	sigBytes := minhash.Serialize(sig)

	priorChecksum, hadPrior, err := store.PriorBinding(name)
	if err != nil {
		return types.Checksum{}, 0, err
	}

	outcome, err := store.UpsertSnippet(checksum, code, sigBytes, name)
	if err != nil {
		return types.Checksum{}, 0, err
	}

	if hadPrior && priorChecksum != checksum {
		if err := store.AppendVersion(types.SnippetVersion{
			Name:      name,
			Checksum:  checksum,
			Code:      code,
			MinHash:   sigBytes,
			CreatedAt: nowUnixNano(),
		}); err != nil {
			e.log.Warn("appending version log entry failed", "name", name, "error", err)
		}
	}

	if outcome == types.Created {
		idx, err := e.currentIndex()
		if err != nil {
			return checksum, outcome, err
		}
		e.indexMu.Lock()
		idx.Insert(checksum, sig)
		e.indexMu.Unlock()
		if fp, err := store.Fingerprint(); err == nil {
			if err := lsh.Save(e.cachePath, idx, lsh.Fingerprint(fp)); err != nil {
				e.log.Warn("persisting lsh cache after add failed", "error", err)
			}
		}
	}

	return checksum, outcome, nil
}

// Lookup resolves ref as a checksum prefix first, falling back to an exact
// name match, for the CLI's `get` command.
func (e *Engine) Lookup(ref string) (types.Snippet, error) {
	store, err := e.storageHandle()
	if err != nil {
		return types.Snippet{}, err
	}
	snippet, err := store.GetByChecksumPrefix(ref)
	if err == nil {
		return snippet, nil
	}
	if !rerr.Is(err, rerr.NotFound) && !rerr.Is(err, rerr.BadInput) {
		return types.Snippet{}, err
	}
	return store.GetByName(ref)
}

// Find queries the index for snippets similar to query code, returning the
// top_n matches above threshold, ranked hybrid desc, levenshtein desc,
// checksum asc.
func (e *Engine) Find(query string, topN int, threshold float64) ([]types.Match, error) {
	store, err := e.storageHandle()
	if err != nil {
		return nil, err
	}
	idx, err := e.currentIndex()
	if err != nil {
		return nil, err
	}

	tokens := tokenizer.Tokenize(query, types.Generalize)
	querySig := minhash.FromTokens(tokens, int(e.cfg.NgramSize), e.cfg.NumPermutations)

	e.indexMu.RLock()
	candidates := idx.Query(querySig)
	e.indexMu.RUnlock()

	matches := make([]types.Match, 0, len(candidates))
	for _, checksum := range candidates {
		snippet, err := store.GetByChecksumPrefix(checksum.String())
		if err != nil {
			continue
		}
		sig, err := minhash.Parse(snippet.MinHash)
		if err != nil {
			continue
		}
		jaccard := minhash.Jaccard(querySig, sig)
		if jaccard < threshold {
			continue
		}
		levenshtein := scorer.LevenshteinRatio(query, snippet.Code)
		hybrid := scorer.Hybrid(jaccard, levenshtein, e.cfg.JaccardWeight)
		matches = append(matches, types.Match{
			Checksum:    checksum,
			Hybrid:      hybrid,
			Jaccard:     jaccard,
			Levenshtein: levenshtein,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Hybrid != matches[j].Hybrid {
			return matches[i].Hybrid > matches[j].Hybrid
		}
		if matches[i].Levenshtein != matches[j].Levenshtein {
			return matches[i].Levenshtein > matches[j].Levenshtein
		}
		return matches[i].Checksum.String() < matches[j].Checksum.String()
	})

	if topN > 0 && len(matches) > topN {
		matches = matches[:topN]
	}
	return matches, nil
}

// Compare scores two stored snippets pairwise, including CFG structural
// similarity.
func (e *Engine) Compare(checksumA, checksumB string) (types.CompareResult, error) {
	store, err := e.storageHandle()
	if err != nil {
		return types.CompareResult{}, err
	}

	a, err := store.GetByChecksumPrefix(checksumA)
	if err != nil {
		return types.CompareResult{}, err
	}
	b, err := store.GetByChecksumPrefix(checksumB)
	if err != nil {
		return types.CompareResult{}, err
	}

	sigA, err := minhash.Parse(a.MinHash)
	if err != nil {
		return types.CompareResult{}, rerr.Wrap(rerr.StaleIndex, err, "snippet A has no valid minhash")
	}
	sigB, err := minhash.Parse(b.MinHash)
	if err != nil {
		return types.CompareResult{}, rerr.Wrap(rerr.StaleIndex, err, "snippet B has no valid minhash")
	}

	return scorer.Compare(a.Checksum, b.Checksum, a.Code, b.Code, sigA, sigB, e.cfg.JaccardWeight), nil
}

// Reindex recomputes every stored MinHash under the current parameters
// and rebuilds the LSH cache from scratch.
func (e *Engine) Reindex() error {
	store, err := e.storageHandle()
	if err != nil {
		return err
	}

	params := e.indexParams()
	idx := lsh.New(params, e.cfg.LSHThreshold)

	var iterErr error
	err = store.IterAll(func(snippet types.Snippet) bool {
		tokens := tokenizer.Tokenize(snippet.Code, types.Generalize)
		sig := minhash.FromTokens(tokens, int(e.cfg.NgramSize), e.cfg.NumPermutations)
		if writeErr := store.SetMinHash(snippet.Checksum, minhash.Serialize(sig)); writeErr != nil {
			iterErr = writeErr
			return false
		}
		idx.Insert(snippet.Checksum, sig)
		return true
	})
	if err != nil {
		return rerr.Wrap(rerr.TransientStorageError, err, "iterating snippets to reindex")
	}
	if iterErr != nil {
		return iterErr
	}

	fp, err := store.Fingerprint()
	if err != nil {
		return err
	}

	e.indexMu.Lock()
	e.index = idx
	e.indexMu.Unlock()

	return lsh.Save(e.cachePath, idx, lsh.Fingerprint(fp))
}

// Clean vacuums storage and deletes the on-disk LSH cache file.
func (e *Engine) Clean() error {
	store, err := e.storageHandle()
	if err != nil {
		return err
	}
	if err := store.Clean(); err != nil {
		return err
	}
	if err := removeCacheFile(e.cachePath); err != nil {
		return err
	}
	return nil
}

func removeCacheFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("resembl: removing cache file: %w", err)
	}
	return nil
}

// Merge absorbs every snippet from other's storage into e, union-ing
// names/tags on checksum collision, then rebuilds the index.
func (e *Engine) Merge(other *Engine) error {
	store, err := e.storageHandle()
	if err != nil {
		return err
	}
	otherStore, err := other.storageHandle()
	if err != nil {
		return err
	}
	if err := store.Merge(otherStore); err != nil {
		return err
	}
	params := e.indexParams()
	fp, err := store.Fingerprint()
	if err != nil {
		return err
	}
	return e.rebuildIndex(params, fp)
}

// Stats summarizes the corpus: snippet count, mean token count, distinct
// vocabulary size, and mean pairwise Jaccard over a bounded deterministic
// sample.
func (e *Engine) Stats() (types.Stats, error) {
	store, err := e.storageHandle()
	if err != nil {
		return types.Stats{}, err
	}

	vocab := make(map[string]struct{})
	var checksums []types.Checksum
	var sigs []minhash.Signature
	totalTokens := 0
	count := 0

	err = store.IterAll(func(snippet types.Snippet) bool {
		count++
		tokens := tokenizer.Tokenize(snippet.Code, types.Generalize)
		totalTokens += len(tokens)
		for _, tok := range tokens {
			vocab[tok] = struct{}{}
		}
		if sig, parseErr := minhash.Parse(snippet.MinHash); parseErr == nil {
			checksums = append(checksums, snippet.Checksum)
			sigs = append(sigs, sig)
		}
		return true
	})
	if err != nil {
		return types.Stats{}, rerr.Wrap(rerr.TransientStorageError, err, "iterating snippets for stats")
	}

	stats := types.Stats{
		NumSnippets:    count,
		VocabularySize: len(vocab),
	}
	if count > 0 {
		stats.MeanTokenCount = float64(totalTokens) / float64(count)
	}
	stats.MeanPairwiseJaccard = sampledMeanPairwiseJaccard(sigs, statsSampleSize)
	return stats, nil
}

func sampledMeanPairwiseJaccard(sigs []minhash.Signature, sampleSize int) float64 {
	n := len(sigs)
	if n < 2 {
		return 0
	}
	rng := rand.New(rand.NewSource(statsSampleSeed))
	sum := 0.0
	drawn := 0
	for drawn < sampleSize {
		i := rng.Intn(n)
		j := rng.Intn(n)
		if i == j {
			continue
		}
		sum += minhash.Jaccard(sigs[i], sigs[j])
		drawn++
	}
	return sum / float64(drawn)
}

// importResult is the tuple bulk-import worker pool tasks return: raw code
// in, (checksum, signature, error) out. Workers never touch storage or
// index state directly.
type importResult struct {
	name     string
	code     string
	checksum types.Checksum
	sig      minhash.Signature
	err      error
}

// Import fans raw-code hashing out across the worker pool, then funnels
// every result back through the single-writer Add path sequentially.
func (e *Engine) Import(items map[string]string) ([]types.Checksum, error) {
	if _, err := e.storageHandle(); err != nil {
		return nil, err
	}
	if e.pool == nil {
		return nil, fmt.Errorf("resembl: worker pool not started")
	}

	room := e.pool.CreateRoom(len(items))
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		name := name
		code := items[name]
		room.NewTaskWaitForFreeSlot(func() importResult {
			tokens := tokenizer.Tokenize(code, types.Generalize)
			sig := minhash.FromTokens(tokens, int(e.cfg.NgramSize), e.cfg.NumPermutations)
			return importResult{
				name:     name,
				code:     code,
				checksum: tokenizer.StringChecksum(code),
				sig:      sig,
			}
		})
	}

	results := room.Collect()

	byName := make(map[string]importResult, len(results))
	for _, r := range results {
		byName[r.name] = r
	}

	checksums := make([]types.Checksum, 0, len(names))
	for _, name := range names {
		r := byName[name]
		if r.err != nil {
			return checksums, r.err
		}
		checksum, _, err := e.addPrecomputed(r.name, r.code, r.sig)
		if err != nil {
			return checksums, err
		}
		checksums = append(checksums, checksum)
	}
	return checksums, nil
}

// addPrecomputed runs the single-writer tail of Add for a signature the
// worker pool already computed, avoiding a redundant tokenize/MinHash pass.
func (e *Engine) addPrecomputed(name, code string, sig minhash.Signature) (types.Checksum, types.UpsertOutcome, error) {
	store, err := e.storageHandle()
	if err != nil {
		return types.Checksum{}, 0, err
	}

	checksum := tokenizer.StringChecksum(code)
	sigBytes := minhash.Serialize(sig)

	priorChecksum, hadPrior, err := store.PriorBinding(name)
	if err != nil {
		return types.Checksum{}, 0, err
	}

	outcome, err := store.UpsertSnippet(checksum, code, sigBytes, name)
	if err != nil {
		return types.Checksum{}, 0, err
	}

	if hadPrior && priorChecksum != checksum {
		if err := store.AppendVersion(types.SnippetVersion{
			Name:      name,
			Checksum:  checksum,
			Code:      code,
			MinHash:   sigBytes,
			CreatedAt: nowUnixNano(),
		}); err != nil {
			e.log.Warn("appending version log entry failed", "name", name, "error", err)
		}
	}

	if outcome == types.Created {
		idx, err := e.currentIndex()
		if err != nil {
			return checksum, outcome, err
		}
		e.indexMu.Lock()
		idx.Insert(checksum, sig)
		e.indexMu.Unlock()
	}

	return checksum, outcome, nil
}
