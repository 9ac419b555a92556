package store

import (
	"database/sql"
	"errors"
	"log/slog"
	"strconv"

	"github.com/pavelanni/qticsv/internal/model"
)

const (
	keySchemaVersion = "schema_version"
	keyColumnLayout  = "column_layout_version"
)

// SetMetadata upserts a key-value pair in the store_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO store_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key, or "" if it is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM store_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// ColumnLayout returns the table layout version the recorded runs were
// written with, 0 if none was recorded.
func (s *Store) ColumnLayout() (int, error) {
	v, err := s.GetMetadata(keyColumnLayout)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.Atoi(v)
}

// recordVersions stamps the schema and column layout versions. Runs recorded
// under an older layout keep their counters but their CSV outputs no longer
// import positionally, hence the warning.
func (s *Store) recordVersions() error {
	prev, err := s.ColumnLayout()
	if err != nil {
		return err
	}
	if prev != 0 && prev != model.ColumnLayoutVersion {
		slog.Warn("history was recorded with a different column layout",
			"recorded", prev, "current", model.ColumnLayoutVersion)
	}
	if err := s.SetMetadata(keySchemaVersion, strconv.Itoa(schemaVersion)); err != nil {
		return err
	}
	return s.SetMetadata(keyColumnLayout, strconv.Itoa(model.ColumnLayoutVersion))
}
