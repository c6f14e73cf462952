// Package identity abstracts authentication down to the one question the
// sync engine asks: "which stable user id am I syncing for, if any?"
package identity

import "github.com/habitsync/habitsync/internal/record"

// Provider reports the effective user id. Returns record.GuestUserID when
// no stable identity exists; the engine treats that as "skip, not error".
type Provider interface {
	CurrentUserID() string
}

// IsGuest reports whether id is the guest sentinel or empty.
func IsGuest(id string) bool {
	return id == "" || id == record.GuestUserID
}

// Static is a fixed-identity Provider for the CLI and tests.
type Static struct {
	UserID string
}

func (s Static) CurrentUserID() string {
	if s.UserID == "" {
		return record.GuestUserID
	}
	return s.UserID
}

// Guest is a Provider that never has a stable identity.
var Guest = Static{UserID: record.GuestUserID}
