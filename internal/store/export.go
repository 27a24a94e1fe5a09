package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/kotoba/internal/model"
)

// ExportUsers builds the export document with every user record.
func (s *Store) ExportUsers(ctx context.Context) (model.UsersExport, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return model.UsersExport{}, fmt.Errorf("list users: %w", err)
	}
	version, err := s.GetMetadata(bankVersionKey)
	if err != nil {
		return model.UsersExport{}, fmt.Errorf("read bank version: %w", err)
	}
	if users == nil {
		users = []model.UserRecord{}
	}
	return model.UsersExport{
		ExportedAt:  time.Now().UTC(),
		BankVersion: version,
		NumUsers:    len(users),
		Users:       users,
	}, nil
}
