package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const maxProgressAttempts = 5

var errVersionMismatch = errors.New("version mismatch")

// UpdateUserProgress records a quiz completion on the user's document as a
// read-modify-write guarded by the row version. A concurrent writer that
// bumps the version first forces a re-read; after maxProgressAttempts lost
// races ErrConflict is returned. With the SQLite DSN's _txlock=immediate
// writers are already serialized, so the version check never misses here;
// the retry only matters for a backend without that locking.
func (s *Store) UpdateUserProgress(ctx context.Context, userID string, score int, quizID string, answers []string, at time.Time) error {
	for attempt := 1; attempt <= maxProgressAttempts; attempt++ {
		err := s.tryUpdateProgress(ctx, userID, score, quizID, answers, at)
		if !errors.Is(err, errVersionMismatch) {
			return err
		}
		slog.Debug("progress update lost race, retrying", "user_id", userID, "quiz_id", quizID, "attempt", attempt)
	}
	return ErrConflict
}

func (s *Store) tryUpdateProgress(ctx context.Context, userID string, score int, quizID string, answers []string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	u, version, err := s.getUser(ctx, tx, `SELECT doc, version FROM users WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	u.ApplyProgress(score, quizID, answers, at)

	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET doc = ?, version = version + 1 WHERE id = ? AND version = ?`,
		string(doc), userID, version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errVersionMismatch
	}
	return tx.Commit()
}
