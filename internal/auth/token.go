// Package auth verifies handshake tokens issued by the platform's account
// service. Only verification lives here; issuance belongs to that service
// (GenerateToken exists for tests and local tooling).
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"livekitchen/internal/domain"
)

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses the token and returns the identity it carries. The role
// value is not range-checked here; the hub rejects roles it does not know.
func (v *Verifier) Verify(tokenString string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return domain.Identity{}, fmt.Errorf("%w: invalid token", domain.ErrValidation)
	}
	if claims.UserID == "" {
		return domain.Identity{}, fmt.Errorf("%w: token has no user id", domain.ErrValidation)
	}
	return domain.Identity{UserID: claims.UserID, Role: domain.Role(claims.Role)}, nil
}

// GenerateToken signs a token for userID with the given role.
func GenerateToken(secret, userID string, role domain.Role, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "livekitchen",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
