package resembl_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/maci0/resembl"
	"github.com/maci0/resembl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *resembl.Engine {
	t.Helper()
	dir := t.TempDir()
	engine, err := resembl.New(resembl.Config{
		Paths:     []string{dir},
		ConfigDir: filepath.Join(dir, "config"),
		CacheDir:  filepath.Join(dir, "cache"),
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { engine.CloseWithoutContext() })
	return engine
}

func TestAdd_ExactDuplicateViaFormattingIsAliased(t *testing.T) {
	engine := newTestEngine(t)

	checksumA, outcomeA, err := engine.Add("f1", "mov eax, ebx ; hi\n ret")
	require.NoError(t, err)
	assert.Equal(t, types.Created, outcomeA)

	checksumB, outcomeB, err := engine.Add("f2", "MOV EAX, EBX\nRET")
	require.NoError(t, err)
	assert.Equal(t, types.Aliased, outcomeB)
	assert.Equal(t, checksumA, checksumB)

	snippet, err := engine.Lookup(checksumA.String())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"f1", "f2"}, snippet.Names)
}

func TestFind_ResultsUnchangedAfterCleanRemovesCache(t *testing.T) {
	engine := newTestEngine(t)
	_, _, err := engine.Add("f1", "mov eax, ebx\nret")
	require.NoError(t, err)
	_, _, err = engine.Add("f2", "mov ecx, edx\nret")
	require.NoError(t, err)

	before, err := engine.Find("mov eax, ebx\nret", 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	require.NoError(t, engine.Clean())

	after, err := engine.Find("mov eax, ebx\nret", 5, 0)
	require.NoError(t, err)

	assert.Equal(t, checksumsOf(before), checksumsOf(after))
}

func checksumsOf(matches []types.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Checksum.String()
	}
	return out
}

func TestLookup_UnknownPrefixIsNotFound(t *testing.T) {
	engine := newTestEngine(t)

	_, _, err := engine.Add("f1", "mov eax, ebx\nret")
	require.NoError(t, err)
	_, _, err = engine.Add("f2", "push ebp\nmov ebp, esp\nret")
	require.NoError(t, err)

	_, err = engine.Lookup("deadbeefcafebabedeadbeefcafebabedeadbeefcafebabedeadbeefcafebabe")
	assert.True(t, resembl.IsKind(err, resembl.NotFound))
}

func TestReindex_PreservesFindability(t *testing.T) {
	engine := newTestEngine(t)
	checksum, _, err := engine.Add("f1", "mov eax, ebx\nret")
	require.NoError(t, err)

	require.NoError(t, engine.Reindex())

	matches, err := engine.Find("mov eax, ebx\nret", 5, 0)
	require.NoError(t, err)

	var found bool
	for _, m := range matches {
		if m.Checksum == checksum {
			found = true
		}
	}
	assert.True(t, found)
}

func TestMerge_IsIdempotent(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)

	_, _, err := a.Add("f1", "mov eax, ebx\nret")
	require.NoError(t, err)
	_, _, err = b.Add("f2", "push ebp\nmov ebp, esp\nret")
	require.NoError(t, err)

	require.NoError(t, a.Merge(b))
	statsOnce, err := a.Stats()
	require.NoError(t, err)

	require.NoError(t, a.Merge(b))
	statsTwice, err := a.Stats()
	require.NoError(t, err)

	assert.Equal(t, statsOnce.NumSnippets, statsTwice.NumSnippets)
}

func TestStats_ReportsSnippetCount(t *testing.T) {
	engine := newTestEngine(t)
	_, _, err := engine.Add("f1", "mov eax, ebx\nret")
	require.NoError(t, err)
	_, _, err = engine.Add("f2", "push ebp\nmov ebp, esp\nret")
	require.NoError(t, err)

	stats, err := engine.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NumSnippets)
	assert.Greater(t, stats.VocabularySize, 0)
}

func TestImport_InsertsAllSnippets(t *testing.T) {
	engine := newTestEngine(t)
	checksums, err := engine.Import(map[string]string{
		"f1": "mov eax, ebx\nret",
		"f2": "push ebp\nmov ebp, esp\nret",
		"f3": "xor eax, eax\nret",
	})
	require.NoError(t, err)
	assert.Len(t, checksums, 3)

	stats, err := engine.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.NumSnippets)
}

func TestCompare_DistinctSnippetsJaccardInUnitRange(t *testing.T) {
	engine := newTestEngine(t)
	checksumA, _, err := engine.Add("f1", "mov eax, ebx\nadd eax, 1\nret")
	require.NoError(t, err)
	checksumB, _, err := engine.Add("f2", "push ebp\nmov ebp, esp\npop ebp\nret")
	require.NoError(t, err)

	result, err := engine.Compare(checksumA.String(), checksumB.String())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Jaccard, 0.0)
	assert.LessOrEqual(t, result.Jaccard, 1.0)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	engine, err := resembl.New(resembl.Config{Paths: []string{dir}, ConfigDir: filepath.Join(dir, "config")})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	require.NoError(t, engine.CloseWithoutContext())
	require.NoError(t, engine.CloseWithoutContext())
}
