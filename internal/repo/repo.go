// Package repo owns the on-disk repository layout (.scribe/ with its
// database, config file, and objects directory) and composes the
// commit store, reference protocol, and object store behind a single
// workspace handle. It is the sole writer: StoreCommit finalizes,
// persists, and advances HEAD in one transaction.
package repo

import (
	"context"
	"os"
	"path/filepath"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/envelope"
	"github.com/WildMix/Scribe/internal/objectstore"
	"github.com/WildMix/Scribe/internal/scriberr"
	"github.com/WildMix/Scribe/internal/store"
)

const (
	// DirName is the repository directory discovered by Open.
	DirName = ".scribe"

	dbFileName     = "scribe.db"
	configFileName = "config.json"
	objectsDirName = "objects"
)

// Repository is an open workspace. Not safe for concurrent use
// without external serialization; there is one writer per repository.
type Repository struct {
	root    string // path to the .scribe directory
	store   *store.Store
	objects *objectstore.Store
}

// Find walks upward from start (or the working directory when empty)
// looking for a .scribe directory. Returns its path or NOT_A_REPO.
func Find(start string) (string, error) {
	dir := start
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", scriberr.Wrap(scriberr.KindIO, err, "get working directory")
		}
		dir = cwd
	}

	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", scriberr.Wrap(scriberr.KindIO, err, "resolve %s", dir)
	}

	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", scriberr.New(scriberr.KindNotARepo, "not a scribe repository (or any parent): %s", start)
		}
		dir = parent
	}
}

// Open discovers and opens the repository containing path (or the
// working directory when path is empty).
func Open(path string) (*Repository, error) {
	root, err := Find(path)
	if err != nil {
		return nil, err
	}
	return openAt(root)
}

func openAt(root string) (*Repository, error) {
	db, err := store.Open(filepath.Join(root, dbFileName))
	if err != nil {
		return nil, err
	}

	return &Repository{
		root:    root,
		store:   db,
		objects: objectstore.New(filepath.Join(root, objectsDirName)),
	}, nil
}

// Init creates a new repository under path (or the working directory
// when empty): the .scribe directory, the objects directory, the
// schema-initialized database, and a default config. Initializing
// inside an existing repository is REPO_EXISTS.
func Init(path string) (*Repository, error) {
	base := path
	if base == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, scriberr.Wrap(scriberr.KindIO, err, "get working directory")
		}
		base = cwd
	}

	if existing, err := Find(base); err == nil {
		return nil, scriberr.New(scriberr.KindRepoExists, "repository already exists at %s", existing)
	}

	root := filepath.Join(base, DirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, scriberr.Wrap(scriberr.KindIO, err, "create %s", root)
	}
	if err := os.MkdirAll(filepath.Join(root, objectsDirName), 0o755); err != nil {
		return nil, scriberr.Wrap(scriberr.KindIO, err, "create objects directory")
	}

	r, err := openAt(root)
	if err != nil {
		return nil, err
	}

	if err := r.SaveConfig(DefaultConfig()); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the underlying store. Idempotent.
func (r *Repository) Close() error {
	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}

// Root returns the .scribe directory path.
func (r *Repository) Root() string {
	return r.root
}

// DBPath returns the commit-store file path.
func (r *Repository) DBPath() string {
	return filepath.Join(r.root, dbFileName)
}

// ConfigPath returns the config.json path.
func (r *Repository) ConfigPath() string {
	return filepath.Join(r.root, configFileName)
}

// Store exposes the commit store for read paths that need it directly.
func (r *Repository) Store() *store.Store {
	return r.store
}

// Objects exposes the filesystem object store.
func (r *Repository) Objects() *objectstore.Store {
	return r.objects
}

// Head resolves the HEAD ref. Zero means no commits yet.
func (r *Repository) Head(ctx context.Context) (digest.Digest, error) {
	return r.store.GetRef(ctx, "HEAD")
}

// SetHead moves the HEAD ref.
func (r *Repository) SetHead(ctx context.Context, d digest.Digest) error {
	return r.store.SetRef(ctx, "HEAD", d)
}

// StoreCommit is the atomic writer pipeline: finalize the envelope,
// then insert the commit and advance HEAD inside one transaction.
// Any failure rolls back and is surfaced; HEAD never moves without
// the commit row landing.
func (r *Repository) StoreCommit(ctx context.Context, env *envelope.Envelope) error {
	if env == nil {
		return scriberr.New(scriberr.KindInvalidArg, "nil envelope")
	}

	if err := env.Finalize(); err != nil {
		return err
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.StoreCommit(ctx, env); err != nil {
		return err
	}
	if err := tx.SetRef(ctx, "HEAD", env.CommitID); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadCommit returns the envelope stored under id.
func (r *Repository) LoadCommit(ctx context.Context, id digest.Digest) (*envelope.Envelope, error) {
	return r.store.LoadCommit(ctx, id)
}

// GetHistory walks the parent chain (see store.GetHistory).
func (r *Repository) GetHistory(ctx context.Context, from digest.Digest, limit int) ([]digest.Digest, error) {
	return r.store.GetHistory(ctx, from, limit)
}

// PutBlob content-addresses a payload as a blob object and stores it
// in both the objects table and the filesystem object store.
func (r *Repository) PutBlob(ctx context.Context, content []byte) (digest.Digest, error) {
	obj := &envelope.Object{Type: envelope.ObjBlob, Content: content}

	hash, err := r.store.StoreObject(ctx, obj)
	if err != nil {
		return digest.Zero, err
	}
	if err := r.objects.Write(hash, content); err != nil {
		return digest.Zero, err
	}
	return hash, nil
}

// Exists reports whether path is inside a scribe repository.
func Exists(path string) bool {
	_, err := Find(path)
	return err == nil
}
