// ABOUTME: Reads the expiry of service-issued bearer tokens without verifying them
// ABOUTME: The signing key belongs to the service; only the exp claim matters here

package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryLeeway treats tokens about to expire as already expired.
const expiryLeeway = 30 * time.Second

// TokenExpiry returns the exp claim of a JWT bearer token. ok is false when
// the token is not a JWT or carries no exp claim; such tokens never expire
// as far as the relay can tell.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	numeric, err := claims.GetExpirationTime()
	if err != nil || numeric == nil {
		return time.Time{}, false
	}
	return numeric.Time, true
}

// Expired reports whether token has a known expiry at or before now plus the leeway.
func Expired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	if !ok {
		return false
	}
	return !exp.After(now.Add(expiryLeeway))
}
