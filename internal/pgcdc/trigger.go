package pgcdc

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/WildMix/Scribe/internal/scriberr"
)

// Audit infrastructure DDL. The audit table is append-only; the
// monitor consumes rows by flipping their processed flag.
const createAuditTableSQL = `
CREATE TABLE IF NOT EXISTS scribe_audit (
    id BIGSERIAL PRIMARY KEY,
    table_name TEXT NOT NULL,
    operation TEXT NOT NULL,
    row_pk JSONB NOT NULL,
    old_data JSONB,
    new_data JSONB,
    changed_at TIMESTAMPTZ DEFAULT now(),
    transaction_id BIGINT DEFAULT txid_current(),
    processed BOOLEAN DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_scribe_audit_unprocessed
ON scribe_audit(processed) WHERE NOT processed;
`

const createTriggerFunctionSQL = `
CREATE OR REPLACE FUNCTION scribe_audit_trigger()
RETURNS TRIGGER AS $$
DECLARE
    pk_values JSONB;
BEGIN
    IF TG_OP = 'DELETE' THEN
        pk_values := to_jsonb(OLD);
    ELSE
        pk_values := to_jsonb(NEW);
    END IF;

    INSERT INTO scribe_audit (table_name, operation, row_pk, old_data, new_data)
    VALUES (
        TG_TABLE_NAME,
        TG_OP,
        pk_values,
        CASE WHEN TG_OP IN ('UPDATE', 'DELETE') THEN to_jsonb(OLD) END,
        CASE WHEN TG_OP IN ('INSERT', 'UPDATE') THEN to_jsonb(NEW) END
    );

    RETURN COALESCE(NEW, OLD);
END;
$$ LANGUAGE plpgsql;
`

// TriggerSource captures changes through AFTER ROW triggers feeding an
// audit table, polled in bounded batches.
type TriggerSource struct {
	connString string
	tables     []string
	conn       *pgx.Conn
}

// NewTriggerSource creates a trigger-based source for the given
// watched tables.
func NewTriggerSource(connString string, tables []string) *TriggerSource {
	return &TriggerSource{connString: connString, tables: tables}
}

func (s *TriggerSource) ensure(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	conn, err := pgx.Connect(ctx, s.connString)
	if err != nil {
		return scriberr.Wrap(scriberr.KindPGConnect, err, "connect to postgres")
	}
	s.conn = conn
	return nil
}

// Reset drops the connection; the next call reconnects.
func (s *TriggerSource) Reset(ctx context.Context) {
	if s.conn != nil {
		_ = s.conn.Close(ctx)
		s.conn = nil
	}
}

// Close releases the connection. Idempotent.
func (s *TriggerSource) Close(ctx context.Context) error {
	s.Reset(ctx)
	return nil
}

// Setup creates the audit table, the trigger function, and one
// trigger per watched table.
func (s *TriggerSource) Setup(ctx context.Context) error {
	if len(s.tables) == 0 {
		return scriberr.New(scriberr.KindInvalidArg, "trigger mode requires watched tables")
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}

	if _, err := s.conn.Exec(ctx, createAuditTableSQL); err != nil {
		return scriberr.Wrap(scriberr.KindPGQuery, err, "create audit table")
	}
	if _, err := s.conn.Exec(ctx, createTriggerFunctionSQL); err != nil {
		return scriberr.Wrap(scriberr.KindPGQuery, err, "create trigger function")
	}

	for _, table := range s.tables {
		ident := pgx.Identifier{table}.Sanitize()
		trigger := pgx.Identifier{"scribe_audit_" + table}.Sanitize()
		sql := fmt.Sprintf(`
			DROP TRIGGER IF EXISTS %s ON %s;
			CREATE TRIGGER %s
			AFTER INSERT OR UPDATE OR DELETE ON %s
			FOR EACH ROW EXECUTE FUNCTION scribe_audit_trigger();
		`, trigger, ident, trigger, ident)
		if _, err := s.conn.Exec(ctx, sql); err != nil {
			return scriberr.Wrap(scriberr.KindPGQuery, err, "create trigger for %s", table)
		}
	}

	return nil
}

// Poll selects up to limit unprocessed audit rows and marks exactly
// those ids processed within the same transaction.
func (s *TriggerSource) Poll(ctx context.Context, limit int) ([]RowEvent, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, scriberr.Wrap(scriberr.KindPGQuery, err, "begin audit poll")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, table_name, operation, row_pk::text,
		       old_data::text, new_data::text, transaction_id
		FROM scribe_audit
		WHERE NOT processed
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, scriberr.Wrap(scriberr.KindPGQuery, err, "poll audit table")
	}

	var (
		events []RowEvent
		ids    []int64
	)
	for rows.Next() {
		var (
			id               int64
			table, operation string
			pk               string
			oldData, newData *string
			txid             int64
		)
		if err := rows.Scan(&id, &table, &operation, &pk, &oldData, &newData, &txid); err != nil {
			rows.Close()
			return nil, scriberr.Wrap(scriberr.KindPGQuery, err, "scan audit row")
		}

		ev := RowEvent{
			Table:          table,
			Operation:      operation,
			PrimaryKeyJSON: pk,
			TxID:           txid,
		}
		if oldData != nil {
			ev.BeforeJSON = *oldData
		}
		if newData != nil {
			ev.AfterJSON = *newData
		}

		events = append(events, ev)
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, scriberr.Wrap(scriberr.KindPGQuery, err, "iterate audit rows")
	}

	if len(ids) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE scribe_audit SET processed = TRUE WHERE id = ANY($1)`, ids); err != nil {
			return nil, scriberr.Wrap(scriberr.KindPGQuery, err, "mark audit rows processed")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, scriberr.Wrap(scriberr.KindPGQuery, err, "commit audit poll")
	}

	return events, nil
}

// Cleanup drops the per-table triggers. The audit table is left in
// place so unprocessed history survives a teardown.
func (s *TriggerSource) Cleanup(ctx context.Context) error {
	if err := s.ensure(ctx); err != nil {
		return err
	}

	for _, table := range s.tables {
		ident := pgx.Identifier{table}.Sanitize()
		trigger := pgx.Identifier{"scribe_audit_" + table}.Sanitize()
		sql := fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, trigger, ident)
		if _, err := s.conn.Exec(ctx, sql); err != nil {
			return scriberr.Wrap(scriberr.KindPGQuery, err, "drop trigger for %s", table)
		}
	}
	return nil
}
