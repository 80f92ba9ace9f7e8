// Package httpapi implements the HTTP surface of spec §6.1/§4.11,
// grounded on the teacher's HttpIngester: the authHandler interface and
// per-path handler-map ServeHTTP dispatch (HttpIngester/handlers.go,
// auth.go) generalized from the teacher's none/basic/jwt/cookie set to
// the spec's None/Basic/Bearer/Header/Composite authenticators.
package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vobbilis/mytsdb-sub000/errs"
)

// Authenticator mirrors the teacher's authHandler contract, reduced
// to the single operation the remote write/read/label surface needs.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// None always authenticates (spec: auth optional by config).
type None struct{}

func (None) Authenticate(*http.Request) error { return nil }

// Basic validates HTTP Basic credentials against a fixed user/pass,
// grounded on the teacher's basicAuthHandler.AuthRequest.
type Basic struct {
	User string
	Pass string
}

func (b Basic) Authenticate(r *http.Request) error {
	u, p, ok := r.BasicAuth()
	if !ok {
		return errs.New(errs.Unauthenticated, "missing basic auth")
	}
	if subtle.ConstantTimeCompare([]byte(u), []byte(b.User)) != 1 ||
		subtle.ConstantTimeCompare([]byte(p), []byte(b.Pass)) != 1 {
		return errs.New(errs.Unauthenticated, "invalid credentials")
	}
	return nil
}

// Bearer validates a JWT bearer token signed with a shared secret,
// grounded on the teacher's jwtAuthHandler but using golang-jwt/jwt/v5
// instead of the teacher's unmaintained dgrijalva/jwt-go.
type Bearer struct {
	Secret []byte
}

func (b Bearer) Authenticate(r *http.Request) error {
	hdr := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(hdr, prefix) {
		return errs.New(errs.Unauthenticated, "missing bearer token")
	}
	tokenStr := strings.TrimPrefix(hdr, prefix)
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.New(errs.Unauthenticated, "unexpected signing method")
		}
		return b.Secret, nil
	})
	if err != nil || !token.Valid {
		return errs.New(errs.Unauthenticated, "invalid bearer token")
	}
	return nil
}

// Header validates a fixed shared-secret header value, for simple
// reverse-proxy deployments. An empty Name means X-Scope-OrgID.
type Header struct {
	Name  string
	Value string
}

func (h Header) Authenticate(r *http.Request) error {
	name := h.Name
	if name == "" {
		name = tenantHeader
	}
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(name)), []byte(h.Value)) != 1 {
		return errs.New(errs.Unauthenticated, "invalid or missing header %q", name)
	}
	return nil
}

// CompositeMode selects how Composite combines its member authenticators
// (spec §6.3: ANY or ALL).
type CompositeMode int

const (
	// Any succeeds as soon as one member succeeds (logical OR).
	Any CompositeMode = iota
	// All requires every member to succeed (logical AND).
	All
)

// Composite combines several authenticators under Mode, mirroring the
// teacher's ability to register multiple authHandlers (HttpIngester/
// main.go registers basic and jwt handlers side by side). The zero value
// of Mode is Any, matching the teacher's first-match-wins registration.
type Composite struct {
	Authenticators []Authenticator
	Mode           CompositeMode
}

func (c Composite) Authenticate(r *http.Request) error {
	if len(c.Authenticators) == 0 {
		return nil
	}
	if c.Mode == All {
		for _, a := range c.Authenticators {
			if err := a.Authenticate(r); err != nil {
				return err
			}
		}
		return nil
	}
	var lastErr error
	for _, a := range c.Authenticators {
		if err := a.Authenticate(r); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}
