package store

import (
	"database/sql"

	"github.com/transrapport/engine/internal/engineerr"
)

func tableFor(level Level) string {
	switch level {
	case LevelATO:
		return "events_atomic"
	case LevelSEM:
		return "events_semantic"
	case LevelCLU:
		return "events_cluster"
	case LevelMEMA:
		return "events_meta"
	default:
		return ""
	}
}

// AppendEvents writes batch to the table for level inside a single
// transaction, so a mid-batch failure leaves no partial rows visible
// (spec §4.1: "per-level transaction boundaries as a minimum rollback
// granularity").
func (s *Store) AppendEvents(level Level, conv string, batch []Event) error {
	if len(batch) == 0 {
		return nil
	}
	table := tableFor(level)
	if table == "" {
		return &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "append_events", Err: engineerr.ErrCorrupt}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return wrapIOErr("append_events begin", err)
	}
	defer tx.Rollback()

	stmt, err := s.prepareInsert(tx, level, table)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range batch {
		if err := s.execInsert(stmt, level, conv, ev); err != nil {
			return wrapIOErr("append_events exec", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapIOErr("append_events commit", err)
	}
	return nil
}

func (s *Store) prepareInsert(tx *sql.Tx, level Level, table string) (*sql.Stmt, error) {
	var query string
	switch level {
	case LevelATO:
		query = `INSERT INTO ` + table + ` (conv, ts, idx, marker_id, text) VALUES (?, ?, ?, ?, ?)`
	case LevelSEM:
		query = `INSERT INTO ` + table + ` (conv, ts, idx, marker_id, atos_json) VALUES (?, ?, ?, ?, ?)`
	case LevelCLU:
		query = `INSERT INTO ` + table + ` (conv, ts, idx, marker_id, score, window_json) VALUES (?, ?, ?, ?, ?, ?)`
	case LevelMEMA:
		query = `INSERT INTO ` + table + ` (conv, ts, idx, marker_id, rationale) VALUES (?, ?, ?, ?, ?)`
	}
	stmt, err := tx.Prepare(query)
	if err != nil {
		return nil, wrapIOErr("append_events prepare", err)
	}
	return stmt, nil
}

func (s *Store) execInsert(stmt *sql.Stmt, level Level, conv string, ev Event) error {
	ts := formatTS(ev.TS)
	switch level {
	case LevelATO:
		_, err := stmt.Exec(conv, ts, ev.Idx, ev.MarkerID, ev.Text)
		return err
	case LevelSEM:
		_, err := stmt.Exec(conv, ts, ev.Idx, ev.MarkerID, ev.AtosJSON)
		return err
	case LevelCLU:
		_, err := stmt.Exec(conv, ts, ev.Idx, ev.MarkerID, ev.Score, ev.WindowJSON)
		return err
	case LevelMEMA:
		_, err := stmt.Exec(conv, ts, ev.Idx, ev.MarkerID, ev.Rationale)
		return err
	}
	return nil
}

// QueryEvents returns up to limit events for conv at level, ordered by
// (idx ASC, marker_id ASC) to match the engine's totally-ordered
// emission (spec §4.1, §8 invariant on tie-break ordering). limit<=0
// means unbounded.
func (s *Store) QueryEvents(level Level, conv string, limit int) ([]Event, error) {
	table := tableFor(level)
	if table == "" {
		return nil, &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "query_events", Err: engineerr.ErrCorrupt}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cols := columnsFor(level)
	query := `SELECT ` + cols + ` FROM ` + table + ` WHERE conv = ? ORDER BY idx ASC, marker_id ASC`
	args := []any{conv}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapIOErr("query_events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, ts, err := scanRow(rows, level)
		if err != nil {
			return nil, wrapIOErr("query_events scan", err)
		}
		ev.Conv = conv
		ev.TS = mustParseTS(ts)
		out = append(out, ev)
	}
	return out, wrapIOErr("query_events rows", rows.Err())
}

func columnsFor(level Level) string {
	switch level {
	case LevelATO:
		return "ts, idx, marker_id, text"
	case LevelSEM:
		return "ts, idx, marker_id, atos_json"
	case LevelCLU:
		return "ts, idx, marker_id, score, window_json"
	case LevelMEMA:
		return "ts, idx, marker_id, rationale"
	default:
		return ""
	}
}

func scanRow(rows *sql.Rows, level Level) (Event, string, error) {
	var ev Event
	var ts string
	var err error
	switch level {
	case LevelATO:
		err = rows.Scan(&ts, &ev.Idx, &ev.MarkerID, &ev.Text)
	case LevelSEM:
		err = rows.Scan(&ts, &ev.Idx, &ev.MarkerID, &ev.AtosJSON)
	case LevelCLU:
		err = rows.Scan(&ts, &ev.Idx, &ev.MarkerID, &ev.Score, &ev.WindowJSON)
	case LevelMEMA:
		err = rows.Scan(&ts, &ev.Idx, &ev.MarkerID, &ev.Rationale)
	}
	return ev, ts, err
}

// ClearRuntime deletes every event row for conv across all four level
// tables in one transaction, so a rerun never observes a partially
// cleared conv (spec §4.1: "clear_runtime(conv) wipes all 4 event
// tables for a conv in one transaction before a rerun writes fresh
// events").
func (s *Store) ClearRuntime(conv string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return wrapIOErr("clear_runtime begin", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"events_atomic", "events_semantic", "events_cluster", "events_meta"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE conv = ?`, conv); err != nil {
			return wrapIOErr("clear_runtime delete "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapIOErr("clear_runtime commit", err)
	}
	return nil
}
