package auth

import (
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type used for context keys to avoid collisions.
type contextKey string

// SubjectKey carries the authenticated token subject in request contexts.
const SubjectKey contextKey = "subject"

// AdminClaims are the claims carried by admin API tokens.
type AdminClaims struct {
	jwt.RegisteredClaims
}

// NewAccessToken generates a signed admin token for the given subject.
func NewAccessToken(subject, jwtSecret string, expiration time.Duration) (string, error) {
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "tgassist-backend",
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		log.Printf("Error signing JWT token for subject %s: %v", subject, err)
		return "", err
	}
	return signed, nil
}
