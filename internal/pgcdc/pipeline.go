package pgcdc

import (
	"context"
	"fmt"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/envelope"
	"github.com/WildMix/Scribe/internal/repo"
)

// Default identity for commits recorded without a configured author.
const (
	defaultAuthorID   = "service:scribe-watch"
	defaultAuthorRole = "automated"
)

// processVersion tags CDC-produced commits.
const processVersion = "postgresql-cdc"

// CommitEvent turns one row event into a lineage commit: the row
// images hash into the change digests, the envelope parents to the
// current HEAD, and the repository persists it atomically. Returns
// the new commit id.
func CommitEvent(ctx context.Context, r *repo.Repository, cfg *repo.Config, ev RowEvent) (digest.Digest, error) {
	op, err := envelope.ParseOperation(ev.Operation)
	if err != nil {
		return digest.Zero, err
	}

	var before, after digest.Digest
	switch op {
	case envelope.OpInsert:
		after = digest.HashBytes([]byte(ev.AfterJSON))
	case envelope.OpDelete:
		before = digest.HashBytes([]byte(ev.BeforeJSON))
	case envelope.OpUpdate:
		before = digest.HashBytes([]byte(ev.BeforeJSON))
		after = digest.HashBytes([]byte(ev.AfterJSON))
	}

	env := envelope.New()

	authorID, authorRole := defaultAuthorID, defaultAuthorRole
	if cfg != nil && cfg.AuthorID != "" {
		authorID = cfg.AuthorID
	}
	if cfg != nil && cfg.AuthorRole != "" {
		authorRole = cfg.AuthorRole
	}
	env.SetAuthor(authorID, authorRole)

	env.SetProcess(fmt.Sprintf("pg_txid:%d", ev.TxID), processVersion, "")
	if ev.LSN != "" {
		env.SetProcessSource("lsn:" + ev.LSN)
	}
	env.SetMessage(fmt.Sprintf("%s on %s", ev.Operation, ev.Table))

	head, err := r.Head(ctx)
	if err != nil {
		return digest.Zero, err
	}
	if !head.IsZero() {
		env.SetParent(head)
	}

	if err := env.AddChange(ev.Table, op, ev.PrimaryKeyJSON, before, after); err != nil {
		return digest.Zero, err
	}

	if err := r.StoreCommit(ctx, env); err != nil {
		return digest.Zero, err
	}
	return env.CommitID, nil
}
