// Package storage implements resembl's storage contract on top of
// internal/kvstore: content-addressed snippet rows plus alias, tag,
// collection, and version-log side tables.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto"
	"github.com/maci0/resembl/internal/kvstore"
	"github.com/maci0/resembl/pkg/rerr"
	"github.com/maci0/resembl/pkg/types"
)

var (
	snippetPrefix    = []byte("s:")
	nameIndexPrefix  = []byte("n:")
	collectionPrefix = []byte("c:")
	versionPrefix    = []byte("v:")
	dbStateKey       = []byte("meta:state")
	versionSeqKey    = []byte("meta:versionseq")
)

// Storage is resembl's local storage backend.
type Storage struct {
	kv    *kvstore.Store
	cache *ristretto.Cache
	log   *slog.Logger
}

// New wraps kv with resembl's snippet/alias/tag/collection/version schema
// and an in-memory read cache.
func New(kv *kvstore.Store, log *slog.Logger) (*Storage, error) {
	cache, err := newSnippetCache(log)
	if err != nil {
		return nil, fmt.Errorf("resembl: building snippet cache: %w", err)
	}
	return &Storage{kv: kv, cache: cache, log: log}, nil
}

// Close releases the read cache. The underlying kvstore is owned by the
// caller and closed separately.
func (s *Storage) Close() {
	s.cache.Close()
}

func snippetKey(checksum types.Checksum) []byte {
	return append(append([]byte{}, snippetPrefix...), checksum.Bytes()...)
}

func nameKey(name string) []byte {
	return append(append([]byte{}, nameIndexPrefix...), []byte(name)...)
}

func collectionKey(name string) []byte {
	return append(append([]byte{}, collectionPrefix...), []byte(name)...)
}

func versionKey(seq uint64) []byte {
	buf := make([]byte, len(versionPrefix)+8)
	copy(buf, versionPrefix)
	binary.BigEndian.PutUint64(buf[len(versionPrefix):], seq)
	return buf
}

func (s *Storage) readSnippetLocked(checksum types.Checksum) (types.Snippet, error) {
	if cached, ok := s.cache.Get(cacheKey(checksum)); ok {
		return cached.(cachedSnippet).snippet, nil
	}
	data, err := s.kv.Read(snippetKey(checksum))
	if err != nil {
		return types.Snippet{}, rerr.Wrap(rerr.NotFound, err, "snippet not found")
	}
	snippet, err := decodeSnippet(checksum, data)
	if err != nil {
		return types.Snippet{}, rerr.Wrap(rerr.PermanentStorageError, err, "decoding stored snippet")
	}
	s.cache.Set(cacheKey(checksum), cachedSnippet{checksum: checksum, snippet: snippet}, snippetCost)
	return snippet, nil
}

func (s *Storage) writeSnippet(snippet types.Snippet) error {
	data, err := encodeSnippet(snippet)
	if err != nil {
		return rerr.Wrap(rerr.PermanentStorageError, err, "encoding snippet")
	}
	if err := s.kv.Write(snippetKey(snippet.Checksum), data); err != nil {
		return rerr.Wrap(rerr.TransientStorageError, err, "writing snippet")
	}
	s.cache.Set(cacheKey(snippet.Checksum), cachedSnippet{checksum: snippet.Checksum, snippet: snippet}, snippetCost)
	return s.bumpDBState(snippet.Checksum)
}

// UpsertSnippet inserts a new snippet or, if checksum already exists, adds
// initialName to its alias set idempotently.
func (s *Storage) UpsertSnippet(checksum types.Checksum, code string, minhash []byte, initialName string) (types.UpsertOutcome, error) {
	existing, err := s.readSnippetLocked(checksum)
	if err != nil && !rerr.Is(err, rerr.NotFound) {
		return 0, err
	}

	if err == nil {
		if !existing.HasName(initialName) {
			existing.Names = append(existing.Names, initialName)
			if err := s.writeSnippet(existing); err != nil {
				return 0, err
			}
		}
		if err := s.bindName(initialName, checksum); err != nil {
			return 0, err
		}
		return types.Aliased, nil
	}

	snippet := types.Snippet{
		Checksum:  checksum,
		Code:      code,
		Names:     []string{initialName},
		Tags:      make(map[string]struct{}),
		MinHash:   minhash,
		CreatedAt: time.Now().UnixNano(),
	}
	if err := s.writeSnippet(snippet); err != nil {
		return 0, err
	}
	if err := s.bindName(initialName, checksum); err != nil {
		return 0, err
	}
	return types.Created, nil
}

// bindName records checksum as the current owner of name in the name index,
// overwriting any earlier binding. Callers that need the earlier binding
// read it with PriorBinding first.
func (s *Storage) bindName(name string, checksum types.Checksum) error {
	return s.kv.Write(nameKey(name), checksum.Bytes())
}

// PriorBinding returns the checksum currently bound to name, if any.
func (s *Storage) PriorBinding(name string) (types.Checksum, bool, error) {
	data, err := s.kv.Read(nameKey(name))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return types.Checksum{}, false, nil
		}
		return types.Checksum{}, false, rerr.Wrap(rerr.TransientStorageError, err, "reading name index")
	}
	checksum, err := types.ChecksumFromBytes(data)
	if err != nil {
		return types.Checksum{}, false, rerr.Wrap(rerr.PermanentStorageError, err, "decoding name index entry")
	}
	return checksum, true, nil
}

// GetByChecksumPrefix resolves an unambiguous checksum prefix to a
// snippet.
func (s *Storage) GetByChecksumPrefix(prefix string) (types.Snippet, error) {
	prefixBytes, err := hexPrefixToBytes(prefix)
	if err != nil {
		return types.Snippet{}, rerr.Wrap(rerr.BadInput, err, "invalid checksum prefix")
	}

	var matches []types.Checksum
	searchPrefix := append(append([]byte{}, snippetPrefix...), prefixBytes...)
	err = s.kv.IterPrefix(searchPrefix, func(key, _ []byte) bool {
		checksum, convErr := types.ChecksumFromBytes(key[len(snippetPrefix):])
		if convErr == nil {
			matches = append(matches, checksum)
		}
		return true
	})
	if err != nil {
		return types.Snippet{}, rerr.Wrap(rerr.TransientStorageError, err, "scanning checksum prefix")
	}

	switch len(matches) {
	case 0:
		return types.Snippet{}, rerr.New(rerr.NotFound, fmt.Sprintf("no snippet matches prefix %q", prefix))
	case 1:
		return s.readSnippetLocked(matches[0])
	default:
		return types.Snippet{}, rerr.New(rerr.Ambiguous, fmt.Sprintf("prefix %q matches %d snippets", prefix, len(matches)))
	}
}

func hexPrefixToBytes(prefix string) ([]byte, error) {
	if len(prefix)%2 != 0 {
		prefix = prefix[:len(prefix)-1]
	}
	out := make([]byte, len(prefix)/2)
	for i := 0; i < len(out); i++ {
		var b byte
		if _, err := fmt.Sscanf(prefix[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, fmt.Errorf("invalid hex prefix: %w", err)
		}
		out[i] = b
	}
	return out, nil
}

// GetByName resolves a snippet by one of its bound names.
func (s *Storage) GetByName(name string) (types.Snippet, error) {
	checksum, ok, err := s.PriorBinding(name)
	if err != nil {
		return types.Snippet{}, err
	}
	if !ok {
		return types.Snippet{}, rerr.New(rerr.NotFound, fmt.Sprintf("no snippet named %q", name))
	}
	return s.readSnippetLocked(checksum)
}

// AddName adds name to checksum's alias set, idempotent if already
// present.
func (s *Storage) AddName(checksum types.Checksum, name string) error {
	snippet, err := s.readSnippetLocked(checksum)
	if err != nil {
		return err
	}
	if snippet.HasName(name) {
		return nil
	}
	snippet.Names = append(snippet.Names, name)
	if err := s.writeSnippet(snippet); err != nil {
		return err
	}
	return s.bindName(name, checksum)
}

// RemoveName removes name from checksum's alias set. Removing the last
// name fails with rerr.EmptyAliasSet and leaves the row unchanged.
func (s *Storage) RemoveName(checksum types.Checksum, name string) error {
	snippet, err := s.readSnippetLocked(checksum)
	if err != nil {
		return err
	}
	if !snippet.HasName(name) {
		return rerr.New(rerr.NotFound, fmt.Sprintf("name %q not bound to this snippet", name))
	}
	if len(snippet.Names) <= 1 {
		return rerr.New(rerr.EmptyAliasSet, "removing the last name is not allowed")
	}

	remaining := make([]string, 0, len(snippet.Names)-1)
	for _, n := range snippet.Names {
		if n != name {
			remaining = append(remaining, n)
		}
	}
	snippet.Names = remaining
	if err := s.writeSnippet(snippet); err != nil {
		return err
	}
	return s.kv.Delete(nameKey(name))
}

// AddTag adds tag to checksum's tag set, idempotent if already present.
func (s *Storage) AddTag(checksum types.Checksum, tag string) error {
	snippet, err := s.readSnippetLocked(checksum)
	if err != nil {
		return err
	}
	if snippet.Tags == nil {
		snippet.Tags = make(map[string]struct{})
	}
	snippet.Tags[tag] = struct{}{}
	return s.writeSnippet(snippet)
}

// RemoveTag removes tag from checksum's tag set, idempotent if absent.
func (s *Storage) RemoveTag(checksum types.Checksum, tag string) error {
	snippet, err := s.readSnippetLocked(checksum)
	if err != nil {
		return err
	}
	delete(snippet.Tags, tag)
	return s.writeSnippet(snippet)
}

// SetCollection assigns checksum to a named collection ("" clears it).
func (s *Storage) SetCollection(checksum types.Checksum, collection string) error {
	snippet, err := s.readSnippetLocked(checksum)
	if err != nil {
		return err
	}
	snippet.Collection = collection
	return s.writeSnippet(snippet)
}

// CreateCollection inserts a new collection record, failing with
// rerr.AlreadyExists if the name is already used by a different row.
func (s *Storage) CreateCollection(col types.Collection) error {
	existing, err := s.kv.Exists(collectionKey(col.Name))
	if err != nil {
		return rerr.Wrap(rerr.TransientStorageError, err, "checking collection existence")
	}
	if existing {
		return rerr.New(rerr.AlreadyExists, fmt.Sprintf("collection %q already exists", col.Name))
	}
	data, err := encodeCollection(col)
	if err != nil {
		return rerr.Wrap(rerr.PermanentStorageError, err, "encoding collection")
	}
	return s.kv.Write(collectionKey(col.Name), data)
}

// DeleteCollection removes a collection record and clears the Collection
// field on every snippet still assigned to it; the snippets themselves are
// not touched otherwise.
func (s *Storage) DeleteCollection(name string) error {
	var members []types.Checksum
	err := s.IterAll(func(snippet types.Snippet) bool {
		if snippet.Collection == name {
			members = append(members, snippet.Checksum)
		}
		return true
	})
	if err != nil {
		return rerr.Wrap(rerr.TransientStorageError, err, "scanning collection members")
	}
	for _, checksum := range members {
		if err := s.SetCollection(checksum, ""); err != nil {
			return err
		}
	}
	return s.kv.Delete(collectionKey(name))
}

// GetCollection looks up a collection by name.
func (s *Storage) GetCollection(name string) (types.Collection, error) {
	data, err := s.kv.Read(collectionKey(name))
	if err != nil {
		return types.Collection{}, rerr.New(rerr.NotFound, fmt.Sprintf("collection %q not found", name))
	}
	return decodeCollection(data)
}

// ListCollections returns every collection, ordered by name.
func (s *Storage) ListCollections() ([]types.Collection, error) {
	var out []types.Collection
	err := s.kv.IterPrefix(collectionPrefix, func(_, value []byte) bool {
		col, decodeErr := decodeCollection(value)
		if decodeErr == nil {
			out = append(out, col)
		}
		return true
	})
	if err != nil {
		return nil, rerr.Wrap(rerr.TransientStorageError, err, "listing collections")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AppendVersion appends a SnippetVersion row, assigning the next
// monotonic ID.
func (s *Storage) AppendVersion(v types.SnippetVersion) error {
	seq, err := s.nextVersionSeq()
	if err != nil {
		return err
	}
	v.ID = seq
	data, err := encodeVersion(v)
	if err != nil {
		return rerr.Wrap(rerr.PermanentStorageError, err, "encoding version")
	}
	return s.kv.Write(versionKey(seq), data)
}

func (s *Storage) nextVersionSeq() (uint64, error) {
	data, err := s.kv.Read(versionSeqKey)
	var seq uint64
	if err == nil {
		seq = binary.BigEndian.Uint64(data)
	}
	seq++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	if writeErr := s.kv.Write(versionSeqKey, buf); writeErr != nil {
		return 0, rerr.Wrap(rerr.TransientStorageError, writeErr, "bumping version sequence")
	}
	return seq, nil
}

// ListVersions returns every SnippetVersion row for name, oldest first.
func (s *Storage) ListVersions(name string) ([]types.SnippetVersion, error) {
	var out []types.SnippetVersion
	err := s.kv.IterPrefix(versionPrefix, func(_, value []byte) bool {
		v, decodeErr := decodeVersion(value)
		if decodeErr == nil && v.Name == name {
			out = append(out, v)
		}
		return true
	})
	if err != nil {
		return nil, rerr.Wrap(rerr.TransientStorageError, err, "listing versions")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetMinHash overwrites checksum's stored MinHash signature, used by
// Reindex after recomputing it under new parameters.
func (s *Storage) SetMinHash(checksum types.Checksum, minhash []byte) error {
	snippet, err := s.readSnippetLocked(checksum)
	if err != nil {
		return err
	}
	snippet.MinHash = minhash
	return s.writeSnippet(snippet)
}

// Clean vacuums the underlying kvstore.
func (s *Storage) Clean() error {
	return s.kv.Clean()
}

// Delete removes a snippet row and its name-index entries entirely.
func (s *Storage) Delete(checksum types.Checksum) error {
	snippet, err := s.readSnippetLocked(checksum)
	if err != nil {
		return err
	}
	for _, name := range snippet.Names {
		if delErr := s.kv.Delete(nameKey(name)); delErr != nil {
			return rerr.Wrap(rerr.TransientStorageError, delErr, "deleting name index entry")
		}
	}
	if err := s.kv.Delete(snippetKey(checksum)); err != nil {
		return rerr.Wrap(rerr.TransientStorageError, err, "deleting snippet")
	}
	s.cache.Del(cacheKey(checksum))
	return s.bumpDBState(checksum)
}

// IterAll visits every snippet ordered by checksum lexicographically,
// lazily: fn controls whether iteration continues.
func (s *Storage) IterAll(fn func(types.Snippet) bool) error {
	return s.kv.IterPrefix(snippetPrefix, func(key, value []byte) bool {
		checksum, err := types.ChecksumFromBytes(key[len(snippetPrefix):])
		if err != nil {
			return true
		}
		snippet, err := decodeSnippet(checksum, value)
		if err != nil {
			return true
		}
		return fn(snippet)
	})
}

// SafeExportName sanitizes name into a filesystem-safe primary export name
// for an external exporter: each ".." is replaced by "_" and the result is
// reduced to its base component, so a caller joining it onto an export
// directory can't escape that directory via a crafted name. A name that
// sanitizes away to nothing falls back to the first 12 hex characters of
// checksum.
func SafeExportName(name string, checksum types.Checksum) string {
	safe := filepath.Base(strings.ReplaceAll(name, "..", "_"))
	if safe == "" || safe == "." || safe == string(filepath.Separator) {
		return checksum.String()[:12]
	}
	return safe
}

// Count returns the total number of stored snippets.
func (s *Storage) Count() (int, error) {
	n := 0
	err := s.IterAll(func(types.Snippet) bool {
		n++
		return true
	})
	return n, err
}

// Merge upserts every snippet from other into s; on checksum collision,
// names and tags union. A name rebound to a different checksum than the one
// it already owns in s is logged to SnippetVersion, mirroring Engine.Add's
// check-then-log sequence.
func (s *Storage) Merge(other *Storage) error {
	return other.IterAll(func(snippet types.Snippet) bool {
		for _, name := range snippet.Names {
			priorChecksum, hadPrior, err := s.PriorBinding(name)
			if err != nil {
				s.log.Warn("merge: reading prior binding failed", "name", name, "error", err)
				continue
			}

			if _, err := s.UpsertSnippet(snippet.Checksum, snippet.Code, snippet.MinHash, name); err != nil {
				s.log.Warn("merge: upsert failed", "checksum", snippet.Checksum.String(), "name", name, "error", err)
				continue
			}

			if hadPrior && priorChecksum != snippet.Checksum {
				if err := s.AppendVersion(types.SnippetVersion{
					Name:      name,
					Checksum:  snippet.Checksum,
					Code:      snippet.Code,
					MinHash:   snippet.MinHash,
					CreatedAt: time.Now().UnixNano(),
				}); err != nil {
					s.log.Warn("merge: appending version log entry failed", "name", name, "error", err)
				}
			}
		}
		for tag := range snippet.Tags {
			if err := s.AddTag(snippet.Checksum, tag); err != nil {
				s.log.Warn("merge: add tag failed", "checksum", snippet.Checksum.String(), "tag", tag, "error", err)
			}
		}
		return true
	})
}

// bumpDBState advances the cheap storage fingerprint used to validate the
// LSH cache: a write-sequence counter plus the last-touched checksum,
// bumped on every snippet write or delete.
func (s *Storage) bumpDBState(lastTouched types.Checksum) error {
	count, err := s.kv.Read(dbStateKey)
	var seq uint64
	if err == nil && len(count) >= 8 {
		seq = binary.BigEndian.Uint64(count[:8])
	}
	seq++
	buf := make([]byte, 8+32)
	binary.BigEndian.PutUint64(buf[:8], seq)
	copy(buf[8:], lastTouched.Bytes())
	return s.kv.Write(dbStateKey, buf)
}

// Fingerprint returns the current cheap DB-state digest: a sequence
// counter plus the last-touched checksum, collapsed into a 64-bit value
// for the LSH cache header.
func (s *Storage) Fingerprint() (uint64, error) {
	data, err := s.kv.Read(dbStateKey)
	if err != nil {
		return 0, nil // no writes yet: empty DB has a stable zero fingerprint
	}
	return fnvHash(data), nil
}

func fnvHash(data []byte) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for _, b := range data {
		h ^= uint64(b)
		h *= prime
	}
	return h
}
