package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"geoipd/internal/support"
)

const (
	secretEnv = "GEOIPD_JWT_SECRET"

	RoleAdmin = "admin"
)

var (
	ErrNoSecret     = errors.New("auth: GEOIPD_JWT_SECRET is not set")
	ErrInvalidToken = errors.New("auth: invalid token")
)

func jwtSecret() ([]byte, error) {
	secret := strings.TrimSpace(support.GetEnv(secretEnv, ""))
	if secret == "" {
		return nil, ErrNoSecret
	}
	return []byte(secret), nil
}

// GenerateJWT signs an HS256 token for subject carrying role.
func GenerateJWT(subject, role string, ttl time.Duration) (string, error) {
	secret, err := jwtSecret()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ValidateJWT checks the signature and expiry of an HS256 token and returns
// its claims.
func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	secret, err := jwtSecret()
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
