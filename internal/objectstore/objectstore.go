// Package objectstore is the filesystem-backed content-addressed blob
// store. An object with hex digest h lives at <root>/<h[:2]>/<h[2:]>;
// writes go through a temp file and an atomic rename.
package objectstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/scriberr"
)

// Store roots a content-addressed object directory.
type Store struct {
	root string
}

// New creates a store over the given objects directory. The directory
// is created lazily on first write.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the objects directory path.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) objectPath(d digest.Digest) string {
	hex := d.Hex()
	return filepath.Join(s.root, hex[:2], hex[2:])
}

// Write stores content under its digest. Writing a digest that is
// already present is a no-op success. The content lands via a
// process-scoped temp file and rename so readers never observe a
// partial object; the temp file is removed on failure.
func (s *Store) Write(d digest.Digest, content []byte) error {
	if d.IsZero() {
		return scriberr.New(scriberr.KindInvalidArg, "cannot store the zero digest")
	}

	final := s.objectPath(d)
	if _, err := os.Stat(final); err == nil {
		return nil // already stored
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return scriberr.Wrap(scriberr.KindIO, err, "create object directory")
	}

	tmp := fmt.Sprintf("%s.tmp.%d", final, os.Getpid())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return scriberr.Wrap(scriberr.KindIO, err, "open %s", tmp)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return scriberr.Wrap(scriberr.KindIO, err, "write object %s", d.Short())
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return scriberr.Wrap(scriberr.KindIO, err, "sync object %s", d.Short())
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return scriberr.Wrap(scriberr.KindIO, err, "close object %s", d.Short())
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return scriberr.Wrap(scriberr.KindIO, err, "rename object %s into place", d.Short())
	}
	return nil
}

// Read returns the full content stored under d, or OBJECT_MISSING.
func (s *Store) Read(d digest.Digest) ([]byte, error) {
	content, err := os.ReadFile(s.objectPath(d))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, scriberr.New(scriberr.KindObjectMissing, "object %s not in store", d.Short())
	}
	if err != nil {
		return nil, scriberr.Wrap(scriberr.KindIO, err, "read object %s", d.Short())
	}
	return content, nil
}

// Exists reports whether an object is stored under d.
func (s *Store) Exists(d digest.Digest) bool {
	_, err := os.Stat(s.objectPath(d))
	return err == nil
}

// Remove deletes the object stored under d.
func (s *Store) Remove(d digest.Digest) error {
	err := os.Remove(s.objectPath(d))
	if errors.Is(err, fs.ErrNotExist) {
		return scriberr.New(scriberr.KindObjectMissing, "object %s not in store", d.Short())
	}
	if err != nil {
		return scriberr.Wrap(scriberr.KindIO, err, "remove object %s", d.Short())
	}
	return nil
}
