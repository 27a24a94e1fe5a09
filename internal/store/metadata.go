package store

import (
	"database/sql"
)

const bankVersionKey = "bank_version"

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// RecordBankVersion stores the question bank version the database is being
// served with and returns the previously recorded one ("" on first run).
// Stored answers are index-aligned with the bank, so a change means review
// mode may show answers against different questions.
func (s *Store) RecordBankVersion(version string) (string, error) {
	prev, err := s.GetMetadata(bankVersionKey)
	if err != nil {
		return "", err
	}
	if prev == version {
		return prev, nil
	}
	if err := s.SetMetadata(bankVersionKey, version); err != nil {
		return "", err
	}
	return prev, nil
}
