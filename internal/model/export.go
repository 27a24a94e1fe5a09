package model

import "time"

// UsersExport is the top-level JSON structure for the user record export.
type UsersExport struct {
	ExportedAt  time.Time    `json:"exported_at"`
	BankVersion string       `json:"bank_version"`
	NumUsers    int          `json:"num_users"`
	Users       []UserRecord `json:"users"`
}
