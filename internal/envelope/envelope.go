// Package envelope defines the commit envelope: the immutable record
// of one observed mutation set, carrying who made it, which process
// executed it, the parent link, and a Merkle root over the per-row
// change digests. Finalization derives commit_id from the canonical
// serialization with the id itself excluded from its own preimage.
package envelope

import (
	"time"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/merkle"
	"github.com/WildMix/Scribe/internal/scriberr"
)

// Author identifies the human or automated actor a commit is
// attributed to. Authorship is asserted, not cryptographically proven.
type Author struct {
	ID    string
	Role  string
	Email string
}

// Process identifies the program that executed the change.
type Process struct {
	Name    string
	Version string
	Params  string
	Source  string
}

// Change is a single row-level mutation. Before is zero for INSERT,
// After is zero for DELETE, and neither is zero for UPDATE.
type Change struct {
	Table      string
	Op         Operation
	PrimaryKey string
	Before     digest.Digest
	After      digest.Digest
}

// Envelope is a commit. After Finalize it must be treated as
// immutable; the store persists it as-is and Verify recomputes
// CommitID to detect tampering.
type Envelope struct {
	CommitID  digest.Digest
	ParentID  digest.Digest
	TreeHash  digest.Digest
	Author    Author
	Process   Process
	Timestamp int64
	Message   string
	Changes   []Change
}

// New creates an envelope stamped with the current time.
func New() *Envelope {
	return &Envelope{Timestamp: time.Now().Unix()}
}

// Clone deep-copies the envelope.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.Changes = make([]Change, len(e.Changes))
	copy(clone.Changes, e.Changes)
	return &clone
}

// SetParent records the parent commit. The zero digest marks a root
// commit.
func (e *Envelope) SetParent(parent digest.Digest) {
	e.ParentID = parent
}

// SetAuthor replaces the author identity. Email is preserved only via
// SetAuthorEmail.
func (e *Envelope) SetAuthor(id, role string) {
	e.Author.ID = id
	e.Author.Role = role
}

// SetAuthorEmail replaces the author email.
func (e *Envelope) SetAuthorEmail(email string) {
	e.Author.Email = email
}

// SetProcess replaces the process identity. Source is preserved only
// via SetProcessSource.
func (e *Envelope) SetProcess(name, version, params string) {
	e.Process.Name = name
	e.Process.Version = version
	e.Process.Params = params
}

// SetProcessSource replaces the process source reference.
func (e *Envelope) SetProcessSource(source string) {
	e.Process.Source = source
}

// SetMessage replaces the commit message.
func (e *Envelope) SetMessage(message string) {
	e.Message = message
}

// SetTreeHash overrides the Merkle root. Finalize computes it from the
// changes only when it is still zero.
func (e *Envelope) SetTreeHash(root digest.Digest) {
	e.TreeHash = root
}

// AddChange appends a change, enforcing the per-operation digest
// invariants: INSERT has no before-image, DELETE has no after-image,
// UPDATE has both.
func (e *Envelope) AddChange(table string, op Operation, primaryKey string, before, after digest.Digest) error {
	if table == "" {
		return scriberr.New(scriberr.KindInvalidArg, "change table name is required")
	}
	switch op {
	case OpInsert:
		if !before.IsZero() {
			return scriberr.New(scriberr.KindInvalidArg, "INSERT change must have a zero before digest")
		}
		if after.IsZero() {
			return scriberr.New(scriberr.KindInvalidArg, "INSERT change must have an after digest")
		}
	case OpUpdate:
		if before.IsZero() || after.IsZero() {
			return scriberr.New(scriberr.KindInvalidArg, "UPDATE change must have both before and after digests")
		}
	case OpDelete:
		if !after.IsZero() {
			return scriberr.New(scriberr.KindInvalidArg, "DELETE change must have a zero after digest")
		}
		if before.IsZero() {
			return scriberr.New(scriberr.KindInvalidArg, "DELETE change must have a before digest")
		}
	default:
		return scriberr.New(scriberr.KindInvalidArg, "unknown operation %d", op)
	}

	e.Changes = append(e.Changes, Change{
		Table:      table,
		Op:         op,
		PrimaryKey: primaryKey,
		Before:     before,
		After:      after,
	})
	return nil
}

// Finalize computes TreeHash (when unset) from the non-zero change
// digests in insertion order, then derives CommitID from the canonical
// serialization with CommitID zeroed. The id is therefore never part
// of its own preimage.
func (e *Envelope) Finalize() error {
	if e.Author.ID == "" {
		return scriberr.New(scriberr.KindInvalidArg, "author id is required to finalize")
	}
	if e.Process.Name == "" {
		return scriberr.New(scriberr.KindInvalidArg, "process name is required to finalize")
	}

	if e.TreeHash.IsZero() && len(e.Changes) > 0 {
		tree := merkle.New()
		for _, c := range e.Changes {
			if !c.Before.IsZero() {
				if err := tree.AddDigest("before", c.Before); err != nil {
					return err
				}
			}
			if !c.After.IsZero() {
				if err := tree.AddDigest("after", c.After); err != nil {
					return err
				}
			}
		}
		if err := tree.Build(); err != nil {
			return err
		}
		e.TreeHash = tree.Root()
	}

	e.CommitID = digest.Zero
	data, err := e.CanonicalJSON()
	if err != nil {
		return err
	}
	e.CommitID = digest.HashBytes(data)
	return nil
}

// Verify recomputes the commit id from a clone with CommitID zeroed
// and reports HASH_MISMATCH when it differs from the stored id.
func (e *Envelope) Verify() error {
	clone := e.Clone()
	clone.CommitID = digest.Zero

	data, err := clone.CanonicalJSON()
	if err != nil {
		return err
	}

	if computed := digest.HashBytes(data); !computed.Equal(e.CommitID) {
		return scriberr.New(scriberr.KindHashMismatch,
			"commit %s does not match its content (computed %s)", e.CommitID.Short(), computed.Short())
	}
	return nil
}
