package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/scriberr"
)

// GetRef resolves a named ref. The empty-string sentinel stored at
// init time resolves to the zero digest ("unborn"); an absent name is
// NOT_FOUND.
func (s *Store) GetRef(ctx context.Context, name string) (digest.Digest, error) {
	return getRef(ctx, s.db, name)
}

func getRef(ctx context.Context, q querier, name string) (digest.Digest, error) {
	if name == "" {
		return digest.Zero, scriberr.New(scriberr.KindInvalidArg, "ref name is required")
	}

	var hex string
	err := q.QueryRowContext(ctx, `SELECT hash FROM refs WHERE name = ?`, name).Scan(&hex)
	if errors.Is(err, sql.ErrNoRows) {
		return digest.Zero, scriberr.New(scriberr.KindNotFound, "ref %q not found", name)
	}
	if err != nil {
		return digest.Zero, scriberr.Wrap(scriberr.KindDB, err, "read ref %q", name)
	}

	if hex == "" {
		return digest.Zero, nil
	}
	return digest.FromHex(hex)
}

// SetRef upserts a named ref.
func (s *Store) SetRef(ctx context.Context, name string, d digest.Digest) error {
	return setRef(ctx, s.db, name, d)
}

// SetRef is the transactional variant; the repository uses it to
// advance HEAD atomically with the commit insert.
func (t *Tx) SetRef(ctx context.Context, name string, d digest.Digest) error {
	return setRef(ctx, t.tx, name, d)
}

func setRef(ctx context.Context, q querier, name string, d digest.Digest) error {
	if name == "" {
		return scriberr.New(scriberr.KindInvalidArg, "ref name is required")
	}

	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO refs (name, hash, updated_at)
		VALUES (?, ?, datetime('now'))
	`, name, d.Hex())
	if err != nil {
		return scriberr.Wrap(scriberr.KindDB, err, "set ref %q", name)
	}
	return nil
}
