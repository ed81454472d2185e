package store

import (
	"database/sql"
	"errors"

	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/internal/markerdef"
)

// RegisterMarker upserts marker metadata, unique on id, as the loader
// hands it each successfully validated definition (spec §4.1, §4.2).
func (s *Store) RegisterMarker(meta markerdef.Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO markers (id, class, source_path, checksum, schema_version, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			class = excluded.class,
			source_path = excluded.source_path,
			checksum = excluded.checksum,
			schema_version = excluded.schema_version,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, meta.ID, string(meta.Class), meta.SourcePath, meta.Checksum, meta.SchemaVersion, boolToInt(meta.Enabled), formatTS(meta.UpdatedAt))
	return wrapIOErr("register_marker", err)
}

// ListMarkers returns metadata for all markers in class, optionally
// filtered to enabled=1. An empty class lists every class.
func (s *Store) ListMarkers(class markerdef.Class, enabledOnly bool) ([]markerdef.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, class, source_path, checksum, schema_version, enabled, updated_at FROM markers WHERE 1=1`
	var args []any
	if class != "" {
		query += ` AND class = ?`
		args = append(args, string(class))
	}
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapIOErr("list_markers", err)
	}
	defer rows.Close()

	var out []markerdef.Meta
	for rows.Next() {
		var m markerdef.Meta
		var class string
		var enabled int
		var updatedAt string
		if err := rows.Scan(&m.ID, &class, &m.SourcePath, &m.Checksum, &m.SchemaVersion, &enabled, &updatedAt); err != nil {
			return nil, wrapIOErr("list_markers scan", err)
		}
		m.Class = markerdef.Class(class)
		m.Enabled = enabled != 0
		m.UpdatedAt = mustParseTS(updatedAt)
		out = append(out, m)
	}
	return out, wrapIOErr("list_markers rows", rows.Err())
}

// GetMarker looks up a single marker's metadata by id.
func (s *Store) GetMarker(id string) (markerdef.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m markerdef.Meta
	var class string
	var enabled int
	var updatedAt string
	err := s.db.QueryRow(`SELECT id, class, source_path, checksum, schema_version, enabled, updated_at FROM markers WHERE id = ?`, id).
		Scan(&m.ID, &class, &m.SourcePath, &m.Checksum, &m.SchemaVersion, &enabled, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return markerdef.Meta{}, &engineerr.StorageError{Kind: engineerr.StorageNotFound, Op: "get_marker", Err: engineerr.ErrNotFound}
	}
	if err != nil {
		return markerdef.Meta{}, wrapIOErr("get_marker", err)
	}
	m.Class = markerdef.Class(class)
	m.Enabled = enabled != 0
	m.UpdatedAt = mustParseTS(updatedAt)
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
