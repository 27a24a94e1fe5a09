package model

import "errors"

// Gateway failures the auth gate distinguishes when surfacing messages.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameInUse      = errors.New("username already in use")
	ErrUserDataMissing    = errors.New("user data not found")
)
