package utils

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IssueToken signs a caller token for account. The account id travels in
// the user_id claim.
func IssueToken(secret []byte, account, role string, ttl time.Duration) (string, error) {
	if account == "" {
		return "", errors.New("account required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": account,
		"role":    role,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates tokenStr and returns its account and role.
func ParseToken(secret []byte, tokenStr string) (string, string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", errors.New("invalid token claims")
	}
	id, _ := claims["user_id"].(string)
	if id == "" {
		return "", "", errors.New("invalid token claims")
	}
	role, _ := claims["role"].(string)
	return id, role, nil
}

// BearerToken pulls the token out of an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenStr == "" {
		return "", errors.New("malformed authorization header")
	}
	return tokenStr, nil
}
