// Package authn authenticates service callers. Tokens are opaque bearer
// credentials of the form "<token id>.<secret>"; only a bcrypt hash of the
// secret is stored.
package authn

import "time"

// ServiceToken is an issued API credential bound to one principal.
type ServiceToken struct {
	ID          string
	PrincipalID int64
	Label       string
	SecretHash  string
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
	CreatedAt   time.Time
}

// Usable reports whether the token may still authenticate at the given time.
func (t ServiceToken) Usable(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return false
	}
	return true
}
