package jwt

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims defines the JWT payload. The subject carries the user ID.
type Claims struct {
	Email string `json:"email"`
	jwtlib.RegisteredClaims
}

// Options configure token issuance and validation.
type Options struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// GenerateToken issues a signed HS256 JWT for the user and returns the token
// together with its expiry.
func GenerateToken(userID, email string, opts Options) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(opts.TTL)
	claims := Claims{
		Email: email,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			Issuer:    opts.Issuer,
			Audience:  jwtlib.ClaimStrings{opts.Audience},
			ID:        uuid.NewString(),
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(opts.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse validates a token signature, issuer and audience, and extracts claims.
func Parse(token string, opts Options) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(opts.Secret), nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithIssuer(opts.Issuer),
		jwtlib.WithAudience(opts.Audience),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
