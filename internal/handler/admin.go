package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/kotoba/internal/model"
)

type adminUserRow struct {
	ID               string         `json:"id"`
	Username         string         `json:"username"`
	FullName         string         `json:"fullName"`
	Role             model.UserRole `json:"role"`
	Score            int            `json:"score"`
	CompletedQuizzes int            `json:"completedQuizzes"`
	History          []string       `json:"history"`
}

func (h *Handler) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	role := model.UserRole(strings.TrimSpace(r.URL.Query().Get("role")))
	rows := make([]adminUserRow, 0, len(users))
	for _, u := range users {
		if role != "" && u.Role != role {
			continue
		}
		rows = append(rows, adminUserRow{
			ID:               u.ID,
			Username:         u.Username,
			FullName:         u.FullName,
			Role:             u.Role,
			Score:            u.Score,
			CompletedQuizzes: u.CompletedQuizzes,
			History:          u.History,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	exp, err := h.store.ExportUsers(r.Context())
	if err != nil {
		slog.Error("failed to export users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="kotoba-users.json"`)
	writeJSON(w, http.StatusOK, exp)
}
