package pgcdc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/WildMix/Scribe/internal/scriberr"
)

// LogicalSource captures changes through a logical-replication slot
// with the wal2json output plugin, consumed in bounded batches over
// the SQL slot interface. Watched tables get REPLICA IDENTITY FULL so
// UPDATE and DELETE expose their before-images.
type LogicalSource struct {
	connString  string
	tables      []string
	slotName    string
	publication string
	conn        *pgx.Conn
}

// NewLogicalSource creates a logical-replication source.
func NewLogicalSource(connString string, tables []string, slotName, publication string) *LogicalSource {
	if slotName == "" {
		slotName = "scribe_slot"
	}
	if publication == "" {
		publication = "scribe_pub"
	}
	return &LogicalSource{
		connString:  connString,
		tables:      tables,
		slotName:    slotName,
		publication: publication,
	}
}

func (s *LogicalSource) ensure(ctx context.Context) error {
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
func (s *LogicalSource) Reset(ctx context.Context) {
	if s.conn != nil {
		_ = s.conn.Close(ctx)
		s.conn = nil
	}
}

// Close releases the connection. Idempotent.
func (s *LogicalSource) Close(ctx context.Context) error {
	s.Reset(ctx)
	return nil
}

func (s *LogicalSource) available(ctx context.Context) error {
	var walLevel string
	if err := s.conn.QueryRow(ctx, `SHOW wal_level`).Scan(&walLevel); err != nil {
		return scriberr.Wrap(scriberr.KindPGQuery, err, "read wal_level")
	}
	if walLevel != "logical" {
		return scriberr.New(scriberr.KindPGReplication,
			"logical replication not available: wal_level is %q (set wal_level = logical)", walLevel)
	}
	return nil
}

// Setup verifies wal_level, ensures the slot and publication exist,
// and sets REPLICA IDENTITY FULL on the watched tables.
func (s *LogicalSource) Setup(ctx context.Context) error {
	if err := s.ensure(ctx); err != nil {
		return err
	}
	if err := s.available(ctx); err != nil {
		return err
	}

	// Slot, unless it already exists.
	var one int
	err := s.conn.QueryRow(ctx,
		`SELECT 1 FROM pg_replication_slots WHERE slot_name = $1`, s.slotName).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := s.conn.Exec(ctx,
			`SELECT pg_create_logical_replication_slot($1, 'wal2json')`, s.slotName); err != nil {
			return scriberr.Wrap(scriberr.KindPGReplication, err, "create replication slot %s", s.slotName)
		}
	} else if err != nil {
		return scriberr.Wrap(scriberr.KindPGQuery, err, "check replication slot %s", s.slotName)
	}

	// Publication: recreated to match the current table list.
	pub := pgx.Identifier{s.publication}.Sanitize()
	if _, err := s.conn.Exec(ctx, fmt.Sprintf(`DROP PUBLICATION IF EXISTS %s`, pub)); err != nil {
		return scriberr.Wrap(scriberr.KindPGQuery, err, "drop publication %s", s.publication)
	}

	var createPub string
	if len(s.tables) > 0 {
		idents := make([]string, len(s.tables))
		for i, table := range s.tables {
			idents[i] = pgx.Identifier{table}.Sanitize()
		}
		createPub = fmt.Sprintf(`CREATE PUBLICATION %s FOR TABLE %s`, pub, strings.Join(idents, ", "))
	} else {
		createPub = fmt.Sprintf(`CREATE PUBLICATION %s FOR ALL TABLES`, pub)
	}
	if _, err := s.conn.Exec(ctx, createPub); err != nil {
		return scriberr.Wrap(scriberr.KindPGReplication, err, "create publication %s", s.publication)
	}

	// Full replica identity reveals before-images on UPDATE/DELETE.
	for _, table := range s.tables {
		ident := pgx.Identifier{table}.Sanitize()
		if _, err := s.conn.Exec(ctx,
			fmt.Sprintf(`ALTER TABLE %s REPLICA IDENTITY FULL`, ident)); err != nil {
			return scriberr.Wrap(scriberr.KindPGQuery, err, "set replica identity on %s", table)
		}
	}

	return nil
}

// Poll consumes up to limit decoded changes from the slot. Consuming
// (rather than peeking) advances the slot, so a delivered batch is
// never replayed.
func (s *LogicalSource) Poll(ctx context.Context, limit int) ([]RowEvent, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT lsn::text, xid, data
		FROM pg_logical_slot_get_changes($1, NULL, $2, 'format-version', '2')
	`, s.slotName, limit)
	if err != nil {
		return nil, scriberr.Wrap(scriberr.KindPGReplication, err, "consume slot %s", s.slotName)
	}
	defer rows.Close()

	var events []RowEvent
	for rows.Next() {
		var (
			lsn  string
			xid  int64
			data string
		)
		if err := rows.Scan(&lsn, &xid, &data); err != nil {
			return nil, scriberr.Wrap(scriberr.KindPGQuery, err, "scan slot change")
		}

		ev, ok, err := decodeWALChange(data)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // transaction boundary records carry no row
		}

		ev.TxID = xid
		ev.LSN = lsn
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, scriberr.Wrap(scriberr.KindPGReplication, err, "iterate slot changes")
	}

	return events, nil
}

// Cleanup drops the slot and publication.
func (s *LogicalSource) Cleanup(ctx context.Context) error {
	if err := s.ensure(ctx); err != nil {
		return err
	}

	if _, err := s.conn.Exec(ctx,
		`SELECT pg_drop_replication_slot($1)`, s.slotName); err != nil {
		return scriberr.Wrap(scriberr.KindPGReplication, err, "drop slot %s", s.slotName)
	}

	pub := pgx.Identifier{s.publication}.Sanitize()
	if _, err := s.conn.Exec(ctx, fmt.Sprintf(`DROP PUBLICATION IF EXISTS %s`, pub)); err != nil {
		return scriberr.Wrap(scriberr.KindPGQuery, err, "drop publication %s", s.publication)
	}
	return nil
}

// wal2json format-version 2 record shapes.
type walColumn struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type walRecord struct {
	Action   string      `json:"action"` // B, C, I, U, D, T, M
	Table    string      `json:"table"`
	Columns  []walColumn `json:"columns"`
	Identity []walColumn `json:"identity"`
}

// decodeWALChange normalizes one wal2json v2 record. Records that do
// not describe a row mutation (begin/commit/truncate/message) return
// ok=false.
func decodeWALChange(data string) (RowEvent, bool, error) {
	var rec walRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return RowEvent{}, false, scriberr.Wrap(scriberr.KindJSONParse, err, "parse wal2json record")
	}

	var op string
	switch rec.Action {
	case "I":
		op = "INSERT"
	case "U":
		op = "UPDATE"
	case "D":
		op = "DELETE"
	default:
		return RowEvent{}, false, nil
	}

	after, err := columnsJSON(rec.Columns)
	if err != nil {
		return RowEvent{}, false, err
	}
	before, err := columnsJSON(rec.Identity)
	if err != nil {
		return RowEvent{}, false, err
	}

	// With REPLICA IDENTITY FULL the identity carries the whole old
	// row; the new row is in columns. The row image closest to the
	// mutation doubles as the primary-key payload, matching what the
	// trigger path records.
	pk := after
	if op == "DELETE" {
		pk = before
	}

	ev := RowEvent{
		Table:          rec.Table,
		Operation:      op,
		PrimaryKeyJSON: pk,
	}
	if op != "INSERT" {
		ev.BeforeJSON = before
	}
	if op != "DELETE" {
		ev.AfterJSON = after
	}
	return ev, true, nil
}

func columnsJSON(cols []walColumn) (string, error) {
	if len(cols) == 0 {
		return "", nil
	}
	m := make(map[string]any, len(cols))
	for _, c := range cols {
		m[c.Name] = c.Value
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", scriberr.Wrap(scriberr.KindJSONParse, err, "encode row image")
	}
	return string(data), nil
}
