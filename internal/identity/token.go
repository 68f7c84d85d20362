// ABOUTME: Device-token claim inspection for deciding token reuse.
// ABOUTME: Parses JWT claims without verification; the gateway is the verifier.

package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrMalformedToken = errors.New("malformed device token")
	ErrTokenExpired   = errors.New("device token expired")
)

// tokenReuseMargin rejects tokens that expire too soon to be worth sending.
const tokenReuseMargin = 30 * time.Second

// CheckDeviceToken inspects the claims of a gateway-issued device token and
// reports whether it is still fresh enough to reuse on the next connect.
// The signature is not verified here; only the gateway can do that, and it
// will re-challenge on a forged or stale token anyway.
func CheckDeviceToken(tokenString string) error {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return ErrMalformedToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrMalformedToken
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return ErrMalformedToken
	}
	if exp == nil {
		// No expiry claim: treat as reusable.
		return nil
	}
	if time.Until(exp.Time) < tokenReuseMargin {
		return ErrTokenExpired
	}
	return nil
}
