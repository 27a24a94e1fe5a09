package auth

import "strings"

// IdentifierDomain is appended to usernames to address the credential
// backend. Existing accounts were created with it; do not change it.
const IdentifierDomain = "dkotoba.app"

// IdentifierFunc maps a username to the identifier the credential backend
// stores passwords under.
type IdentifierFunc func(username string) string

// DeriveIdentifier builds the email-shaped credential identifier for a
// username: the lowercased username at IdentifierDomain.
func DeriveIdentifier(username string) string {
	return strings.ToLower(username) + "@" + IdentifierDomain
}
