// Package auth checks the shared token that guards the admin surface.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned for a missing or wrong admin token; the admin
// server maps it to 401.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator decides whether a token presented to the admin API may read
// bridge status or subscribe to the sample stream.
type Validator interface {
	Validate(token string) error
}

// StaticToken is the admin.token setting. The bridge only builds one when the
// setting is non-empty, so an empty Token rejects every caller.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" || subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator lets tests and embedders plug their own check into the admin
// guard.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// RequestToken extracts the caller's token from an "Authorization: Bearer"
// header, falling back to the token query parameter for WebSocket clients
// that cannot set headers.
func RequestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
