package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpired reports whether the stored token's exp claim has already
// passed. We never verify the signature here (the server holds the
// secret); this only spares us a restore call that is guaranteed to
// come back 401. Tokens that do not parse or carry no exp claim are
// treated as usable and left for the server to judge.
func tokenExpired(tokenString string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(now)
}
