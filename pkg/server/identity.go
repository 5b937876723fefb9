package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

const userIDHeader = "X-User-ID"

var errInvalidToken = errors.New("invalid bearer token")

// identity resolves the caller. A bearer token is only honoured when a
// secret is configured; otherwise the X-User-ID header is used. An empty
// result means anonymous.
func (s *Server) identity(r *http.Request) (string, error) {
	if len(s.jwtSecret) > 0 {
		if token, ok := bearerToken(r); ok {
			sub, err := s.verifySubject(token)
			if err != nil {
				return "", fmt.Errorf("%w: %v", errInvalidToken, err)
			}
			return sub, nil
		}
	}
	return strings.TrimSpace(r.Header.Get(userIDHeader)), nil
}

func (s *Server) verifySubject(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

type identityKey struct{}

func withIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// Identity returns the caller identity resolved for the request.
func Identity(ctx context.Context) string {
	id, _ := ctx.Value(identityKey{}).(string)
	return id
}
