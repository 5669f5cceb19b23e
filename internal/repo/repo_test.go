package repo

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/envelope"
	"github.com/WildMix/Scribe/internal/scriberr"
)

func initTestRepo(t *testing.T) (*Repository, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := Init(dir)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, dir
}

func newTestEnvelope(message string, parent digest.Digest) *envelope.Envelope {
	e := &envelope.Envelope{Timestamp: 1_700_000_000}
	e.SetAuthor("user:alice", "data_engineer")
	e.SetProcess("etl.py", "v1", "--dry-run")
	e.SetMessage(message)
	e.SetParent(parent)
	return e
}

func TestInitCreatesLayout(t *testing.T) {
	r, dir := initTestRepo(t)

	for _, path := range []string{
		filepath.Join(dir, ".scribe"),
		filepath.Join(dir, ".scribe", "scribe.db"),
		filepath.Join(dir, ".scribe", "objects"),
		filepath.Join(dir, ".scribe", "config.json"),
	} {
		_, err := os.Stat(path)
		assert.NoError(t, err, "%s must exist after init", path)
	}

	head, err := r.Head(context.Background())
	require.NoError(t, err)
	assert.True(t, head.IsZero(), "HEAD resolves to the zero sentinel")

	cfg, err := r.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "user:anonymous", cfg.AuthorID)
	assert.Equal(t, "developer", cfg.AuthorRole)
}

func TestInitInsideExistingRepoFails(t *testing.T) {
	_, dir := initTestRepo(t)

	_, err := Init(dir)
	require.Error(t, err)
	assert.Equal(t, scriberr.KindRepoExists, scriberr.KindOf(err))

	// Also from a nested directory.
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	_, err = Init(nested)
	assert.Equal(t, scriberr.KindRepoExists, scriberr.KindOf(err))
}

func TestOpenDiscoversUpward(t *testing.T) {
	r, dir := initTestRepo(t)
	require.NoError(t, r.Close())

	nested := filepath.Join(dir, "data", "pipelines")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	opened, err := Open(nested)
	require.NoError(t, err)
	defer opened.Close()

	assert.Equal(t, filepath.Join(dir, ".scribe"), opened.Root())
}

func TestOpenOutsideRepoFails(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, scriberr.KindNotARepo, scriberr.KindOf(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	r, _ := initTestRepo(t)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestStoreCommitAdvancesHead(t *testing.T) {
	r, _ := initTestRepo(t)
	ctx := context.Background()

	e := newTestEnvelope("seed", digest.Zero)
	require.NoError(t, e.AddChange("orders", envelope.OpInsert, `{"id":1}`,
		digest.Zero, digest.HashBytes([]byte(`{"a":1}`))))
	require.NoError(t, r.StoreCommit(ctx, e))

	require.False(t, e.CommitID.IsZero())

	head, err := r.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.CommitID, head)

	loaded, err := r.LoadCommit(ctx, e.CommitID)
	require.NoError(t, err)
	assert.NoError(t, loaded.Verify())
}

func TestCommitChainAndHistory(t *testing.T) {
	r, _ := initTestRepo(t)
	ctx := context.Background()

	c1 := newTestEnvelope("seed", digest.Zero)
	require.NoError(t, c1.AddChange("orders", envelope.OpInsert, `{"id":1}`,
		digest.Zero, digest.HashBytes([]byte(`{"a":1}`))))
	require.NoError(t, r.StoreCommit(ctx, c1))

	head, err := r.Head(ctx)
	require.NoError(t, err)

	c2 := newTestEnvelope("update", head)
	require.NoError(t, c2.AddChange("orders", envelope.OpUpdate, `{"id":1}`,
		digest.HashBytes([]byte(`{"a":1}`)), digest.HashBytes([]byte(`{"a":2}`))))
	require.NoError(t, r.StoreCommit(ctx, c2))

	head, err = r.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, c2.CommitID, head)

	history, err := r.GetHistory(ctx, digest.Zero, 10)
	require.NoError(t, err)
	assert.Equal(t, []digest.Digest{c2.CommitID, c1.CommitID}, history)
}

func TestStoreCommitDuplicateRollsBackHead(t *testing.T) {
	r, _ := initTestRepo(t)
	ctx := context.Background()

	c1 := newTestEnvelope("seed", digest.Zero)
	require.NoError(t, r.StoreCommit(ctx, c1))

	c2 := newTestEnvelope("next", c1.CommitID)
	require.NoError(t, r.StoreCommit(ctx, c2))

	// Re-storing c1 fails on the primary key and must not move HEAD
	// back to c1.
	dup := newTestEnvelope("seed", digest.Zero)
	err := r.StoreCommit(ctx, dup)
	require.Error(t, err)

	head, err := r.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, c2.CommitID, head)

	count, err := r.Store().CommitCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStoreCommitRejectsIncompleteEnvelope(t *testing.T) {
	r, _ := initTestRepo(t)

	e := &envelope.Envelope{Timestamp: 1} // no author, no process
	err := r.StoreCommit(context.Background(), e)
	require.Error(t, err)
	assert.Equal(t, scriberr.KindInvalidArg, scriberr.KindOf(err))
}

func TestVerifyDetectsDirectTampering(t *testing.T) {
	r, dir := initTestRepo(t)
	ctx := context.Background()

	c1 := newTestEnvelope("seed", digest.Zero)
	require.NoError(t, r.StoreCommit(ctx, c1))
	c2 := newTestEnvelope("victim", c1.CommitID)
	require.NoError(t, r.StoreCommit(ctx, c2))
	require.NoError(t, r.Close())

	// Tamper with the stored message behind the store's back.
	db, err := sql.Open("sqlite3", filepath.Join(dir, ".scribe", "scribe.db"))
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE commits SET message = 'altered' WHERE commit_id = ?`, c2.CommitID.Hex())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	tampered, err := reopened.LoadCommit(ctx, c2.CommitID)
	require.NoError(t, err)
	assert.True(t, scriberr.IsHashMismatch(tampered.Verify()), "tampered commit must fail verification")

	intact, err := reopened.LoadCommit(ctx, c1.CommitID)
	require.NoError(t, err)
	assert.NoError(t, intact.Verify())
}

func TestConfigRoundTrip(t *testing.T) {
	r, _ := initTestRepo(t)

	cfg := &Config{
		AuthorID:           "user:carol",
		AuthorRole:         "analyst",
		PGConnectionString: "postgres://localhost/app",
		WatchedTables:      []string{"orders", "customers"},
	}
	require.NoError(t, r.SaveConfig(cfg))

	loaded, err := r.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfigIgnoresUnknownKeys(t *testing.T) {
	r, _ := initTestRepo(t)

	raw := []byte(`{"author_id":"user:dave","author_role":"dev","future_knob":42}`)
	require.NoError(t, os.WriteFile(r.ConfigPath(), raw, 0o644))

	cfg, err := r.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "user:dave", cfg.AuthorID)
}

func TestPutBlobStoresInBothStores(t *testing.T) {
	r, _ := initTestRepo(t)
	ctx := context.Background()

	content := []byte(`{"payload":true}`)
	hash, err := r.PutBlob(ctx, content)
	require.NoError(t, err)

	obj := &envelope.Object{Type: envelope.ObjBlob, Content: content}
	assert.Equal(t, obj.Hash(), hash)

	fromFS, err := r.Objects().Read(hash)
	require.NoError(t, err)
	assert.Equal(t, content, fromFS)

	fromDB, err := r.Store().LoadObject(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, content, fromDB.Content)
}
