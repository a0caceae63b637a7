package storage_test

import (
	"crypto/sha256"
	"testing"

	"github.com/maci0/resembl/internal/kvstore"
	"github.com/maci0/resembl/pkg/logging"
	"github.com/maci0/resembl/pkg/rerr"
	"github.com/maci0/resembl/pkg/storage"
	"github.com/maci0/resembl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	dir := t.TempDir()
	kv, err := kvstore.Open(kvstore.StoreConfig{Paths: []string{dir}})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	s, err := storage.New(kv, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func checksumOf(seed string) types.Checksum {
	return types.Checksum(sha256.Sum256([]byte(seed)))
}

func TestUpsertSnippet_FirstInsertIsCreated(t *testing.T) {
	s := openTestStorage(t)

	outcome, err := s.UpsertSnippet(checksumOf("a"), "mov eax, ebx", []byte{1, 2, 3}, "func_a")
	require.NoError(t, err)
	assert.Equal(t, types.Created, outcome)

	got, err := s.GetByName("func_a")
	require.NoError(t, err)
	assert.Equal(t, "mov eax, ebx", got.Code)
	assert.True(t, got.HasName("func_a"))
}

func TestUpsertSnippet_SameChecksumNewNameIsAliased(t *testing.T) {
	s := openTestStorage(t)
	checksum := checksumOf("a")

	_, err := s.UpsertSnippet(checksum, "mov eax, ebx", nil, "func_a")
	require.NoError(t, err)

	outcome, err := s.UpsertSnippet(checksum, "mov eax, ebx", nil, "func_b")
	require.NoError(t, err)
	assert.Equal(t, types.Aliased, outcome)

	got, err := s.GetByChecksumPrefix(checksum.String())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"func_a", "func_b"}, got.Names)
}

func TestUpsertSnippet_SameNameTwiceIsIdempotent(t *testing.T) {
	s := openTestStorage(t)
	checksum := checksumOf("a")

	_, err := s.UpsertSnippet(checksum, "mov eax, ebx", nil, "func_a")
	require.NoError(t, err)
	_, err = s.UpsertSnippet(checksum, "mov eax, ebx", nil, "func_a")
	require.NoError(t, err)

	got, err := s.GetByName("func_a")
	require.NoError(t, err)
	assert.Equal(t, []string{"func_a"}, got.Names)
}

func TestGetByChecksumPrefix_Unambiguous(t *testing.T) {
	s := openTestStorage(t)
	checksum := checksumOf("a")
	_, err := s.UpsertSnippet(checksum, "nop", nil, "func_a")
	require.NoError(t, err)

	got, err := s.GetByChecksumPrefix(checksum.String()[:8])
	require.NoError(t, err)
	assert.Equal(t, checksum, got.Checksum)
}

func TestGetByChecksumPrefix_NoMatchIsNotFound(t *testing.T) {
	s := openTestStorage(t)

	_, err := s.GetByChecksumPrefix("deadbeef")
	assert.True(t, rerr.Is(err, rerr.NotFound))
}

func TestGetByName_MissingIsNotFound(t *testing.T) {
	s := openTestStorage(t)

	_, err := s.GetByName("ghost")
	assert.True(t, rerr.Is(err, rerr.NotFound))
}

func TestRemoveName_LastNameIsRejected(t *testing.T) {
	s := openTestStorage(t)
	checksum := checksumOf("a")
	_, err := s.UpsertSnippet(checksum, "nop", nil, "only_name")
	require.NoError(t, err)

	err = s.RemoveName(checksum, "only_name")
	assert.True(t, rerr.Is(err, rerr.EmptyAliasSet))

	got, err := s.GetByName("only_name")
	require.NoError(t, err)
	assert.Equal(t, []string{"only_name"}, got.Names)
}

func TestRemoveName_WithMultipleNamesSucceeds(t *testing.T) {
	s := openTestStorage(t)
	checksum := checksumOf("a")
	_, err := s.UpsertSnippet(checksum, "nop", nil, "a")
	require.NoError(t, err)
	require.NoError(t, s.AddName(checksum, "b"))

	require.NoError(t, s.RemoveName(checksum, "a"))

	_, err = s.GetByName("a")
	assert.True(t, rerr.Is(err, rerr.NotFound))

	got, err := s.GetByName("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got.Names)
}

func TestAddTagRemoveTag_Idempotent(t *testing.T) {
	s := openTestStorage(t)
	checksum := checksumOf("a")
	_, err := s.UpsertSnippet(checksum, "nop", nil, "a")
	require.NoError(t, err)

	require.NoError(t, s.AddTag(checksum, "crypto"))
	require.NoError(t, s.AddTag(checksum, "crypto"))

	got, err := s.GetByChecksumPrefix(checksum.String())
	require.NoError(t, err)
	assert.True(t, got.HasTag("crypto"))

	require.NoError(t, s.RemoveTag(checksum, "crypto"))
	require.NoError(t, s.RemoveTag(checksum, "crypto"))

	got, err = s.GetByChecksumPrefix(checksum.String())
	require.NoError(t, err)
	assert.False(t, got.HasTag("crypto"))
}

func TestCollections_CreateDuplicateRejected(t *testing.T) {
	s := openTestStorage(t)

	require.NoError(t, s.CreateCollection(types.Collection{Name: "botnets"}))
	err := s.CreateCollection(types.Collection{Name: "botnets"})
	assert.True(t, rerr.Is(err, rerr.AlreadyExists))
}

func TestCollections_ListOrderedByName(t *testing.T) {
	s := openTestStorage(t)
	require.NoError(t, s.CreateCollection(types.Collection{Name: "zeta"}))
	require.NoError(t, s.CreateCollection(types.Collection{Name: "alpha"}))

	cols, err := s.ListCollections()
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "alpha", cols[0].Name)
	assert.Equal(t, "zeta", cols[1].Name)
}

func TestSetCollection_AssignsSnippet(t *testing.T) {
	s := openTestStorage(t)
	checksum := checksumOf("a")
	_, err := s.UpsertSnippet(checksum, "nop", nil, "a")
	require.NoError(t, err)

	require.NoError(t, s.SetCollection(checksum, "botnets"))

	got, err := s.GetByChecksumPrefix(checksum.String())
	require.NoError(t, err)
	assert.Equal(t, "botnets", got.Collection)
}

func TestDeleteCollection_ClearsMembersCollectionField(t *testing.T) {
	s := openTestStorage(t)
	require.NoError(t, s.CreateCollection(types.Collection{Name: "botnets"}))

	checksum := checksumOf("a")
	_, err := s.UpsertSnippet(checksum, "nop", nil, "func_a")
	require.NoError(t, err)
	require.NoError(t, s.SetCollection(checksum, "botnets"))

	require.NoError(t, s.DeleteCollection("botnets"))

	got, err := s.GetByChecksumPrefix(checksum.String())
	require.NoError(t, err)
	assert.Empty(t, got.Collection)

	_, err = s.GetCollection("botnets")
	assert.True(t, rerr.Is(err, rerr.NotFound))
}

func TestAppendVersionListVersions_OrderedBySequence(t *testing.T) {
	s := openTestStorage(t)
	checksum := checksumOf("a")

	require.NoError(t, s.AppendVersion(types.SnippetVersion{Name: "func_a", Checksum: checksum}))
	require.NoError(t, s.AppendVersion(types.SnippetVersion{Name: "func_a", Checksum: checksumOf("b")}))
	require.NoError(t, s.AppendVersion(types.SnippetVersion{Name: "func_other", Checksum: checksumOf("c")}))

	versions, err := s.ListVersions("func_a")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Less(t, versions[0].ID, versions[1].ID)
}

func TestDelete_RemovesSnippetAndNames(t *testing.T) {
	s := openTestStorage(t)
	checksum := checksumOf("a")
	_, err := s.UpsertSnippet(checksum, "nop", nil, "func_a")
	require.NoError(t, err)

	require.NoError(t, s.Delete(checksum))

	_, err = s.GetByName("func_a")
	assert.True(t, rerr.Is(err, rerr.NotFound))
	_, err = s.GetByChecksumPrefix(checksum.String())
	assert.True(t, rerr.Is(err, rerr.NotFound))
}

func TestIterAll_VisitsEveryInsertedSnippet(t *testing.T) {
	s := openTestStorage(t)
	for _, seed := range []string{"a", "b", "c"} {
		_, err := s.UpsertSnippet(checksumOf(seed), "nop", nil, "func_"+seed)
		require.NoError(t, err)
	}

	seen := map[types.Checksum]bool{}
	err := s.IterAll(func(snippet types.Snippet) bool {
		seen[snippet.Checksum] = true
		return true
	})
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}

func TestIterAll_StopsEarlyWhenFnReturnsFalse(t *testing.T) {
	s := openTestStorage(t)
	for _, seed := range []string{"a", "b", "c"} {
		_, err := s.UpsertSnippet(checksumOf(seed), "nop", nil, "func_"+seed)
		require.NoError(t, err)
	}

	visited := 0
	err := s.IterAll(func(types.Snippet) bool {
		visited++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, visited)
}

func TestMerge_UnionsNamesAndTags(t *testing.T) {
	a := openTestStorage(t)
	b := openTestStorage(t)
	checksum := checksumOf("shared")

	_, err := a.UpsertSnippet(checksum, "nop", nil, "name_in_a")
	require.NoError(t, err)
	require.NoError(t, a.AddTag(checksum, "tag_a"))

	_, err = b.UpsertSnippet(checksum, "nop", nil, "name_in_b")
	require.NoError(t, err)
	require.NoError(t, b.AddTag(checksum, "tag_b"))

	require.NoError(t, a.Merge(b))

	got, err := a.GetByChecksumPrefix(checksum.String())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"name_in_a", "name_in_b"}, got.Names)
	assert.True(t, got.HasTag("tag_a"))
	assert.True(t, got.HasTag("tag_b"))
}

func TestMerge_RebindingNameLogsVersion(t *testing.T) {
	a := openTestStorage(t)
	b := openTestStorage(t)

	first := checksumOf("first")
	second := checksumOf("second")

	_, err := a.UpsertSnippet(first, "nop", nil, "shared_name")
	require.NoError(t, err)

	_, err = b.UpsertSnippet(second, "mov eax, ebx", nil, "shared_name")
	require.NoError(t, err)

	require.NoError(t, a.Merge(b))

	got, err := a.GetByName("shared_name")
	require.NoError(t, err)
	assert.Equal(t, second, got.Checksum)

	versions, err := a.ListVersions("shared_name")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, second, versions[0].Checksum)
}

func TestSafeExportName_SanitizesTraversalAndFallsBackToChecksum(t *testing.T) {
	checksum := checksumOf("a")

	assert.Equal(t, "func_a", storage.SafeExportName("func_a", checksum))
	assert.Equal(t, "passwd", storage.SafeExportName("../../etc/passwd", checksum))
	assert.Equal(t, checksum.String()[:12], storage.SafeExportName("", checksum))
}

func TestFingerprint_ChangesOnWrite(t *testing.T) {
	s := openTestStorage(t)

	before, err := s.Fingerprint()
	require.NoError(t, err)

	_, err = s.UpsertSnippet(checksumOf("a"), "nop", nil, "func_a")
	require.NoError(t, err)

	after, err := s.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestPriorBinding_ReportsRebinding(t *testing.T) {
	s := openTestStorage(t)
	first := checksumOf("a")
	second := checksumOf("b")

	_, err := s.UpsertSnippet(first, "nop", nil, "func_a")
	require.NoError(t, err)

	prior, ok, err := s.PriorBinding("func_a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, prior)

	_, err = s.UpsertSnippet(second, "mov eax, ebx", nil, "func_a")
	require.NoError(t, err)

	prior, ok, err = s.PriorBinding("func_a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, second, prior)
}
