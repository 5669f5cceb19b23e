package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/envelope"
	"github.com/WildMix/Scribe/internal/scriberr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "scribe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEnvelope(t *testing.T, parent digest.Digest, n int) *envelope.Envelope {
	t.Helper()
	e := &envelope.Envelope{Timestamp: int64(1_700_000_000 + n)}
	e.SetAuthor("user:alice", "data_engineer")
	e.SetProcess("etl.py", "v1", "")
	e.SetMessage("commit")
	e.SetParent(parent)
	after := digest.HashBytes([]byte{byte(n)})
	require.NoError(t, e.AddChange("orders", envelope.OpInsert, `{"id":1}`, digest.Zero, after))
	require.NoError(t, e.Finalize())
	return e
}

func TestOpenSeedsHeadAndSchemaVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	head, err := s.GetRef(ctx, "HEAD")
	require.NoError(t, err)
	assert.True(t, head.IsZero(), "HEAD starts at the unborn sentinel")

	version, err := s.GetConfigValue(ctx, "schema_version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	head, err := s2.GetRef(context.Background(), "HEAD")
	require.NoError(t, err)
	assert.True(t, head.IsZero())
}

func TestOpenRejectsUnknownSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetConfigValue(context.Background(), "schema_version", "99"))
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Equal(t, scriberr.KindRepoCorrupt, scriberr.KindOf(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "scribe.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestStoreAndLoadCommitRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := &envelope.Envelope{Timestamp: 1_700_000_000}
	e.SetAuthor("user:alice", "data_engineer")
	e.SetAuthorEmail("alice@example.com")
	e.SetProcess("etl.py", "v1", "--dry-run")
	e.SetProcessSource("repo://etl")
	e.SetMessage("seed")
	require.NoError(t, e.AddChange("orders", envelope.OpInsert, `{"id":1}`,
		digest.Zero, digest.HashBytes([]byte(`{"a":1}`))))
	require.NoError(t, e.Finalize())

	require.NoError(t, s.StoreCommit(ctx, e))

	loaded, err := s.LoadCommit(ctx, e.CommitID)
	require.NoError(t, err)
	assert.Equal(t, e, loaded)
	assert.NoError(t, loaded.Verify(), "a stored commit must verify after reload")
}

func TestLoadCommitNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LoadCommit(context.Background(), digest.HashBytes([]byte("missing")))
	require.Error(t, err)
	assert.True(t, scriberr.IsNotFound(err))
}

func TestCommitExists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEnvelope(t, digest.Zero, 1)
	exists, err := s.CommitExists(ctx, e.CommitID)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.StoreCommit(ctx, e))

	exists, err = s.CommitExists(ctx, e.CommitID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDuplicateStoreFails(t *testing.T) {
	// commit_id is the primary key: the second insert of the same
	// commit is a hard failure, never a silent overwrite.
	s := openTestStore(t)
	ctx := context.Background()

	e := testEnvelope(t, digest.Zero, 1)
	require.NoError(t, s.StoreCommit(ctx, e))

	err := s.StoreCommit(ctx, e)
	require.Error(t, err)
	assert.Equal(t, scriberr.KindDB, scriberr.KindOf(err))

	count, err := s.CommitCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStoreUnfinalizedCommitRejected(t *testing.T) {
	s := openTestStore(t)

	e := &envelope.Envelope{Timestamp: 1}
	e.SetAuthor("user:alice", "dev")
	e.SetProcess("etl", "", "")

	err := s.StoreCommit(context.Background(), e)
	require.Error(t, err)
	assert.Equal(t, scriberr.KindInvalidArg, scriberr.KindOf(err))
}

func TestZeroParentStoredAsNull(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEnvelope(t, digest.Zero, 1)
	require.NoError(t, s.StoreCommit(ctx, e))

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commits WHERE parent_id IS NULL`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "root commit stores a NULL parent, not the zero hex")
}

func TestGetHistoryWalksParentChain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const k = 5
	parent := digest.Zero
	var ids []digest.Digest
	for i := 0; i < k; i++ {
		e := testEnvelope(t, parent, i)
		require.NoError(t, s.StoreCommit(ctx, e))
		require.NoError(t, s.SetRef(ctx, "HEAD", e.CommitID))
		ids = append(ids, e.CommitID)
		parent = e.CommitID
	}

	// Reverse creation order, exactly k entries.
	history, err := s.GetHistory(ctx, digest.Zero, k)
	require.NoError(t, err)
	require.Len(t, history, k)
	for i := 0; i < k; i++ {
		assert.Equal(t, ids[k-1-i], history[i])
	}

	// Asking for more stops at the zero parent.
	history, err = s.GetHistory(ctx, digest.Zero, k+1)
	require.NoError(t, err)
	assert.Len(t, history, k)

	// Starting mid-chain.
	history, err = s.GetHistory(ctx, ids[2], 0)
	require.NoError(t, err)
	assert.Equal(t, []digest.Digest{ids[2], ids[1], ids[0]}, history)

	// Limit bounds the walk.
	history, err = s.GetHistory(ctx, digest.Zero, 2)
	require.NoError(t, err)
	assert.Equal(t, []digest.Digest{ids[4], ids[3]}, history)
}

func TestGetHistoryEmptyRepository(t *testing.T) {
	s := openTestStore(t)

	history, err := s.GetHistory(context.Background(), digest.Zero, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestFindByAuthorAndProcess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e1 := &envelope.Envelope{Timestamp: 100}
	e1.SetAuthor("user:alice", "dev")
	e1.SetProcess("etl.py", "v1", "")
	require.NoError(t, e1.Finalize())
	require.NoError(t, s.StoreCommit(ctx, e1))

	e2 := &envelope.Envelope{Timestamp: 200}
	e2.SetAuthor("user:bob", "dev")
	e2.SetProcess("etl.py", "v1", "")
	e2.SetParent(e1.CommitID)
	require.NoError(t, e2.Finalize())
	require.NoError(t, s.StoreCommit(ctx, e2))

	e3 := &envelope.Envelope{Timestamp: 300}
	e3.SetAuthor("user:alice", "dev")
	e3.SetProcess("loader", "", "")
	e3.SetParent(e2.CommitID)
	require.NoError(t, e3.Finalize())
	require.NoError(t, s.StoreCommit(ctx, e3))

	byAlice, err := s.FindByAuthor(ctx, "user:alice")
	require.NoError(t, err)
	assert.Equal(t, []digest.Digest{e3.CommitID, e1.CommitID}, byAlice, "timestamp descending")

	byETL, err := s.FindByProcess(ctx, "etl.py")
	require.NoError(t, err)
	assert.Equal(t, []digest.Digest{e2.CommitID, e1.CommitID}, byETL)

	none, err := s.FindByAuthor(ctx, "user:nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEnvelope(t, digest.Zero, 1)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.StoreCommit(ctx, e))
	require.NoError(t, tx.SetRef(ctx, "HEAD", e.CommitID))
	require.NoError(t, tx.Rollback())

	exists, err := s.CommitExists(ctx, e.CommitID)
	require.NoError(t, err)
	assert.False(t, exists)

	head, err := s.GetRef(ctx, "HEAD")
	require.NoError(t, err)
	assert.True(t, head.IsZero())
}

func TestTransactionCommitPersistsAtomically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEnvelope(t, digest.Zero, 1)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.StoreCommit(ctx, e))
	require.NoError(t, tx.SetRef(ctx, "HEAD", e.CommitID))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "rollback after commit is a no-op")

	head, err := s.GetRef(ctx, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, e.CommitID, head)
}

func TestRefs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetRef(ctx, "refs/tags/v1")
	assert.True(t, scriberr.IsNotFound(err))

	d := digest.HashBytes([]byte("tip"))
	require.NoError(t, s.SetRef(ctx, "refs/tags/v1", d))

	got, err := s.GetRef(ctx, "refs/tags/v1")
	require.NoError(t, err)
	assert.Equal(t, d, got)

	// Upsert replaces.
	d2 := digest.HashBytes([]byte("tip2"))
	require.NoError(t, s.SetRef(ctx, "refs/tags/v1", d2))
	got, err = s.GetRef(ctx, "refs/tags/v1")
	require.NoError(t, err)
	assert.Equal(t, d2, got)
}

func TestConfigValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetConfigValue(ctx, "missing")
	assert.True(t, scriberr.IsNotFound(err))

	require.NoError(t, s.SetConfigValue(ctx, "origin", "pg://prod"))
	v, err := s.GetConfigValue(ctx, "origin")
	require.NoError(t, err)
	assert.Equal(t, "pg://prod", v)
}

func TestObjectsTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	obj := &envelope.Object{Type: envelope.ObjBlob, Content: []byte(`{"row":1}`)}
	hash, err := s.StoreObject(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, obj.Hash(), hash)

	// Duplicate store is a no-op success.
	again, err := s.StoreObject(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	loaded, err := s.LoadObject(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, obj, loaded)

	exists, err := s.ObjectExists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = s.LoadObject(ctx, digest.HashBytes([]byte("missing")))
	assert.Equal(t, scriberr.KindObjectMissing, scriberr.KindOf(err))
}

func TestChangeOrderPreservedAcrossReload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := &envelope.Envelope{Timestamp: 1_700_000_000}
	e.SetAuthor("user:alice", "dev")
	e.SetProcess("etl", "", "")
	for i := 0; i < 6; i++ {
		require.NoError(t, e.AddChange("orders", envelope.OpInsert,
			`{"id":`+string(rune('0'+i))+`}`, digest.Zero, digest.HashBytes([]byte{byte(i)})))
	}
	require.NoError(t, e.Finalize())
	require.NoError(t, s.StoreCommit(ctx, e))

	loaded, err := s.LoadCommit(ctx, e.CommitID)
	require.NoError(t, err)
	require.Len(t, loaded.Changes, 6)
	for i, c := range loaded.Changes {
		assert.Equal(t, e.Changes[i], c, "change %d out of order", i)
	}
}
