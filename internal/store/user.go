package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pavelanni/kotoba/internal/model"
)

// Credential is the password entry behind a derived identifier.
type Credential struct {
	Identifier   string
	UserID       string
	PasswordHash string
}

// CreateUser inserts a new user record together with its credential in one
// transaction. It returns ErrDuplicate when the identifier is taken.
func (s *Store) CreateUser(ctx context.Context, u model.UserRecord, cred Credential) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM credentials WHERE identifier = ?`, cred.Identifier,
	).Scan(&exists)
	if err == nil {
		return ErrDuplicate
	}
	if err != sql.ErrNoRows {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, doc, version, created_at) VALUES (?, ?, ?, 0, ?)`,
		u.ID, u.Username, string(doc), u.CreatedAt,
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO credentials (identifier, user_id, password_hash) VALUES (?, ?, ?)`,
		cred.Identifier, u.ID, cred.PasswordHash,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	slog.Info("created user", "id", u.ID, "username", u.Username, "role", u.Role)
	return nil
}

// GetCredential returns the credential for an identifier, or nil if none.
func (s *Store) GetCredential(ctx context.Context, identifier string) (*Credential, error) {
	var c Credential
	err := s.db.QueryRowContext(ctx,
		`SELECT identifier, user_id, password_hash FROM credentials WHERE identifier = ?`, identifier,
	).Scan(&c.Identifier, &c.UserID, &c.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetUserByID returns a user by ID, or nil if none.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.UserRecord, error) {
	u, _, err := s.getUser(ctx, s.db, `SELECT doc, version FROM users WHERE id = ?`, id)
	return u, err
}

// GetUserByUsername returns the first user whose username matches exactly,
// or nil if none.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.UserRecord, error) {
	u, _, err := s.getUser(ctx, s.db,
		`SELECT doc, version FROM users WHERE username = ? ORDER BY created_at LIMIT 1`, username)
	return u, err
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getUser(ctx context.Context, q queryRower, query string, arg any) (*model.UserRecord, int64, error) {
	var doc string
	var version int64
	err := q.QueryRowContext(ctx, query, arg).Scan(&doc, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var u model.UserRecord
	if err := json.Unmarshal([]byte(doc), &u); err != nil {
		return nil, 0, fmt.Errorf("decode user document: %w", err)
	}
	return &u, version, nil
}

// ListUsers returns all users in creation order.
func (s *Store) ListUsers(ctx context.Context) ([]model.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.UserRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var u model.UserRecord
		if err := json.Unmarshal([]byte(doc), &u); err != nil {
			return nil, fmt.Errorf("decode user document: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
