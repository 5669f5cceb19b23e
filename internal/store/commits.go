package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/envelope"
	"github.com/WildMix/Scribe/internal/scriberr"
)

// nullable maps the empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableDigest maps the zero digest to SQL NULL, else lowercase hex.
func nullableDigest(d digest.Digest) any {
	if d.IsZero() {
		return nil
	}
	return d.Hex()
}

// StoreCommit inserts the commit row and one row per change. The
// commit must be finalized; inserting an id that already exists is an
// error (commit_id is the primary key), so a duplicate store can never
// succeed and advance HEAD a second time.
func (s *Store) StoreCommit(ctx context.Context, env *envelope.Envelope) error {
	return storeCommit(ctx, s.db, env)
}

// StoreCommit is the transactional variant.
func (t *Tx) StoreCommit(ctx context.Context, env *envelope.Envelope) error {
	return storeCommit(ctx, t.tx, env)
}

func storeCommit(ctx context.Context, q querier, env *envelope.Envelope) error {
	if env == nil {
		return scriberr.New(scriberr.KindInvalidArg, "nil envelope")
	}
	if env.CommitID.IsZero() {
		return scriberr.New(scriberr.KindInvalidArg, "envelope is not finalized")
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO commits
		(commit_id, parent_id, tree_hash, author_id, author_role, author_email,
		 process_name, process_version, process_params, process_source, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		env.CommitID.Hex(),
		nullableDigest(env.ParentID),
		env.TreeHash.Hex(),
		env.Author.ID,
		nullable(env.Author.Role),
		nullable(env.Author.Email),
		env.Process.Name,
		nullable(env.Process.Version),
		nullable(env.Process.Params),
		nullable(env.Process.Source),
		nullable(env.Message),
		env.Timestamp,
	)
	if err != nil {
		return scriberr.Wrap(scriberr.KindDB, err, "insert commit %s", env.CommitID.Short())
	}

	for _, c := range env.Changes {
		_, err := q.ExecContext(ctx, `
			INSERT INTO changes
			(commit_id, table_name, operation, primary_key, before_hash, after_hash)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			env.CommitID.Hex(),
			c.Table,
			c.Op.String(),
			c.PrimaryKey,
			nullableDigest(c.Before),
			nullableDigest(c.After),
		)
		if err != nil {
			return scriberr.Wrap(scriberr.KindDB, err, "insert change for commit %s", env.CommitID.Short())
		}
	}

	return nil
}

// LoadCommit returns the complete envelope for id, including its
// changes in insertion order, or NOT_FOUND.
func (s *Store) LoadCommit(ctx context.Context, id digest.Digest) (*envelope.Envelope, error) {
	return loadCommit(ctx, s.db, id)
}

func loadCommit(ctx context.Context, q querier, id digest.Digest) (*envelope.Envelope, error) {
	if id.IsZero() {
		return nil, scriberr.New(scriberr.KindInvalidArg, "zero commit id")
	}

	row := q.QueryRowContext(ctx, `
		SELECT commit_id, parent_id, tree_hash, author_id, author_role, author_email,
		       process_name, process_version, process_params, process_source, message, timestamp
		FROM commits
		WHERE commit_id = ?
	`, id.Hex())

	var (
		commitHex  string
		parentHex  sql.NullString
		treeHex    string
		authorRole sql.NullString
		authorMail sql.NullString
		procVer    sql.NullString
		procParams sql.NullString
		procSource sql.NullString
		message    sql.NullString
		env        envelope.Envelope
	)

	err := row.Scan(&commitHex, &parentHex, &treeHex,
		&env.Author.ID, &authorRole, &authorMail,
		&env.Process.Name, &procVer, &procParams, &procSource,
		&message, &env.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scriberr.New(scriberr.KindNotFound, "commit %s not found", id.Short())
	}
	if err != nil {
		return nil, scriberr.Wrap(scriberr.KindDB, err, "load commit %s", id.Short())
	}

	if env.CommitID, err = digest.FromHex(commitHex); err != nil {
		return nil, err
	}
	if parentHex.Valid {
		if env.ParentID, err = digest.FromHex(parentHex.String); err != nil {
			return nil, err
		}
	}
	if env.TreeHash, err = digest.FromHex(treeHex); err != nil {
		return nil, err
	}
	env.Author.Role = authorRole.String
	env.Author.Email = authorMail.String
	env.Process.Version = procVer.String
	env.Process.Params = procParams.String
	env.Process.Source = procSource.String
	env.Message = message.String

	if err := loadChanges(ctx, q, &env); err != nil {
		return nil, err
	}

	return &env, nil
}

func loadChanges(ctx context.Context, q querier, env *envelope.Envelope) error {
	rows, err := q.QueryContext(ctx, `
		SELECT table_name, operation, primary_key, before_hash, after_hash
		FROM changes
		WHERE commit_id = ?
		ORDER BY id ASC
	`, env.CommitID.Hex())
	if err != nil {
		return scriberr.Wrap(scriberr.KindDB, err, "load changes for %s", env.CommitID.Short())
	}
	defer rows.Close()

	for rows.Next() {
		var (
			table, opStr, pk    string
			beforeHex, afterHex sql.NullString
			before, after       digest.Digest
		)
		if err := rows.Scan(&table, &opStr, &pk, &beforeHex, &afterHex); err != nil {
			return scriberr.Wrap(scriberr.KindDB, err, "scan change row")
		}

		op, err := envelope.ParseOperation(opStr)
		if err != nil {
			return err
		}
		if beforeHex.Valid {
			if before, err = digest.FromHex(beforeHex.String); err != nil {
				return err
			}
		}
		if afterHex.Valid {
			if after, err = digest.FromHex(afterHex.String); err != nil {
				return err
			}
		}

		env.Changes = append(env.Changes, envelope.Change{
			Table:      table,
			Op:         op,
			PrimaryKey: pk,
			Before:     before,
			After:      after,
		})
	}
	if err := rows.Err(); err != nil {
		return scriberr.Wrap(scriberr.KindDB, err, "iterate change rows")
	}
	return nil
}

// CommitExists reports whether a commit with the given id is stored.
func (s *Store) CommitExists(ctx context.Context, id digest.Digest) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM commits WHERE commit_id = ? LIMIT 1`, id.Hex()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, scriberr.Wrap(scriberr.KindDB, err, "check commit %s", id.Short())
	}
	return true, nil
}

// GetHistory walks the parent chain starting at from (or HEAD when
// from is zero), newest first, stopping at a zero or missing parent.
// limit 0 means the default of 100.
func (s *Store) GetHistory(ctx context.Context, from digest.Digest, limit int) ([]digest.Digest, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	current := from
	if current.IsZero() {
		head, err := s.GetRef(ctx, "HEAD")
		if err != nil {
			return nil, err
		}
		current = head
	}

	var history []digest.Digest
	for len(history) < limit && !current.IsZero() {
		history = append(history, current)

		var parentHex sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT parent_id FROM commits WHERE commit_id = ?`, current.Hex()).Scan(&parentHex)
		if errors.Is(err, sql.ErrNoRows) {
			break // missing parent ends the walk
		}
		if err != nil {
			return nil, scriberr.Wrap(scriberr.KindDB, err, "walk parent of %s", current.Short())
		}

		if !parentHex.Valid {
			break
		}
		parent, err := digest.FromHex(parentHex.String)
		if err != nil {
			return nil, err
		}
		current = parent
	}

	return history, nil
}

// FindByAuthor returns commit ids authored by authorID, newest first.
func (s *Store) FindByAuthor(ctx context.Context, authorID string) ([]digest.Digest, error) {
	return queryCommitIDs(ctx, s.db,
		`SELECT commit_id FROM commits WHERE author_id = ? ORDER BY timestamp DESC`, authorID)
}

// FindByProcess returns commit ids produced by processName, newest first.
func (s *Store) FindByProcess(ctx context.Context, processName string) ([]digest.Digest, error) {
	return queryCommitIDs(ctx, s.db,
		`SELECT commit_id FROM commits WHERE process_name = ? ORDER BY timestamp DESC`, processName)
}

// AllCommitIDs returns every stored commit id, newest first. Used by
// full-store verification.
func (s *Store) AllCommitIDs(ctx context.Context) ([]digest.Digest, error) {
	return queryCommitIDs(ctx, s.db,
		`SELECT commit_id FROM commits ORDER BY timestamp DESC, commit_id ASC`)
}

func queryCommitIDs(ctx context.Context, q querier, query string, args ...any) ([]digest.Digest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, scriberr.Wrap(scriberr.KindDB, err, "query commit ids")
	}
	defer rows.Close()

	var ids []digest.Digest
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, scriberr.Wrap(scriberr.KindDB, err, "scan commit id")
		}
		id, err := digest.FromHex(hex)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, scriberr.Wrap(scriberr.KindDB, err, "iterate commit ids")
	}
	return ids, nil
}

// CommitCount returns the number of stored commits.
func (s *Store) CommitCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits`).Scan(&count); err != nil {
		return 0, scriberr.Wrap(scriberr.KindDB, err, "count commits")
	}
	return count, nil
}
