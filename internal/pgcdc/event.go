// Package pgcdc ingests row mutations from PostgreSQL — via
// trigger-based audit tables or a logical-replication slot — and turns
// each one into a lineage commit. Both sources normalize to the same
// RowEvent shape; the monitor loop drives whichever one is configured.
package pgcdc

import (
	"context"

	"github.com/WildMix/Scribe/internal/scriberr"
)

// RowEvent is one observed row mutation, normalized across sources.
// BeforeJSON and AfterJSON carry the row images as JSON text and may
// be empty when the upstream does not expose them.
type RowEvent struct {
	Table          string
	Operation      string // INSERT | UPDATE | DELETE
	PrimaryKeyJSON string
	BeforeJSON     string
	AfterJSON      string
	TxID           int64
	LSN            string
}

// Source is one CDC upstream. Implementations own their connection;
// Reset drops it so the next call reconnects. Close is idempotent.
type Source interface {
	// Setup provisions the upstream capture infrastructure
	// (audit table and triggers, or slot and publication).
	Setup(ctx context.Context) error

	// Poll returns at most limit pending events and consumes them
	// upstream in the same logical step.
	Poll(ctx context.Context, limit int) ([]RowEvent, error)

	// Cleanup tears down what Setup provisioned.
	Cleanup(ctx context.Context) error

	// Reset drops the connection after an error.
	Reset(ctx context.Context)

	// Close releases the connection.
	Close(ctx context.Context) error
}

// Mode selects the CDC strategy.
type Mode int

const (
	ModeTrigger Mode = iota
	ModeLogical
)

// String returns the CLI form.
func (m Mode) String() string {
	switch m {
	case ModeTrigger:
		return "trigger"
	case ModeLogical:
		return "logical"
	default:
		return "unknown"
	}
}

// ParseMode decodes the CLI form.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "trigger":
		return ModeTrigger, nil
	case "logical":
		return ModeLogical, nil
	default:
		return 0, scriberr.New(scriberr.KindInvalidArg, "unknown mode %q (use trigger or logical)", s)
	}
}
