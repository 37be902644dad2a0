package token

import "errors"

var (
	// ErrBadToken covers every verification failure: unknown issuer,
	// bad signature, expiry, malformed payload.
	ErrBadToken = errors.New("bad token")
)
