// Package token holds the session token pair and the refresh machinery
// shared by every backend. The Store is the SDK's single piece of shared
// mutable state; the Refresher guarantees that concurrent refresh attempts
// collapse onto one upstream exchange.
package token

import "errors"

var (
	// ErrRefreshInvalid means the backend rejected the refresh token as
	// revoked or expired. It is terminal: the store is cleared and the
	// session cannot be recovered without re-authenticating.
	ErrRefreshInvalid = errors.New("refresh token invalid")

	// ErrNoSession means no refresh token is stored.
	ErrNoSession = errors.New("no active session")
)

// Pair is an access/refresh token pair. Both tokens travel together; the SDK
// never stores one without the other. Token contents are opaque to the
// client, expiry is learned reactively from rejected requests.
type Pair struct {
	Access  string `json:"accessToken"`
	Refresh string `json:"refreshToken"`
}

// Zero reports whether the pair carries no tokens.
func (p Pair) Zero() bool {
	return p.Access == "" && p.Refresh == ""
}
