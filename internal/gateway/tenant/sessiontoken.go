package tenant

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionTokenClaims is the subset of claims the gateway reads from an
// optional envelope sessionToken. Authenticating the client is out of
// scope (see spec Non-goals); this only resolves a principal for
// convenience when tenantId/userId aren't given explicitly.
type sessionTokenClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid"`
}

// DecodePrincipal extracts (tenantId, userId) from an unverified JWT
// sessionToken, grounded on JWTValidator.validateJWT's
// new(jwt.Parser).ParseUnverified step but deliberately skipping signature
// and JWKS verification entirely: an invalid, expired, or unparseable
// token is treated as "token absent" — never as a hard authentication
// failure, since this router never authenticates the client itself.
func DecodePrincipal(tokenString string) (tenantID, userID string, ok bool) {
	if tokenString == "" {
		return "", "", false
	}

	var claims sessionTokenClaims
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims)
	if err != nil {
		return "", "", false
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
		return "", "", false
	}
	if claims.TenantID == "" || claims.Subject == "" {
		return "", "", false
	}
	return claims.TenantID, claims.Subject, true
}
