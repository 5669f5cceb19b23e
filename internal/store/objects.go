package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/envelope"
	"github.com/WildMix/Scribe/internal/scriberr"
)

// StoreObject inserts an ancillary object row keyed by its content
// address. Re-storing the same hash is a no-op.
func (s *Store) StoreObject(ctx context.Context, obj *envelope.Object) (digest.Digest, error) {
	if obj == nil {
		return digest.Zero, scriberr.New(scriberr.KindInvalidArg, "nil object")
	}

	hash := obj.Hash()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO objects (hash, type, content, size)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, hash.Hex(), obj.Type.String(), obj.Content, obj.Size())
	if err != nil {
		return digest.Zero, scriberr.Wrap(scriberr.KindDB, err, "store object %s", hash.Short())
	}
	return hash, nil
}

// LoadObject returns the object stored under hash, or OBJECT_MISSING.
func (s *Store) LoadObject(ctx context.Context, hash digest.Digest) (*envelope.Object, error) {
	var (
		typeStr string
		content []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT type, content FROM objects WHERE hash = ?`, hash.Hex()).Scan(&typeStr, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scriberr.New(scriberr.KindObjectMissing, "object %s not found", hash.Short())
	}
	if err != nil {
		return nil, scriberr.Wrap(scriberr.KindDB, err, "load object %s", hash.Short())
	}

	typ, err := envelope.ParseObjectType(typeStr)
	if err != nil {
		return nil, err
	}
	return &envelope.Object{Type: typ, Content: content}, nil
}

// ObjectExists reports whether an object row with the given hash exists.
func (s *Store) ObjectExists(ctx context.Context, hash digest.Digest) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM objects WHERE hash = ? LIMIT 1`, hash.Hex()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, scriberr.Wrap(scriberr.KindDB, err, "check object %s", hash.Short())
	}
	return true, nil
}
