// package auth verifies caller identity for the governance API. Tokens are
// HMAC-signed JWTs issued by the platform's session service; a debug token
// escape hatch exists for local development only.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxKeyPrincipal ctxKey = "governance.principal"

// Principal is the verified caller identity.
type Principal struct {
	// Subject is the sub claim: a reviewer user ID or an agent identity.
	Subject string

	// Roles from the roles claim, e.g. "agent", "reviewer", "scheduler".
	Roles []string
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// FromContext returns the Principal stored by the middleware, or nil.
func FromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(ctxKeyPrincipal).(*Principal); ok {
		return p
	}
	return nil
}

// Verifier validates bearer tokens.
type Verifier struct {
	secret     []byte
	debugToken string
}

// NewVerifier builds a verifier. debugToken may be empty; when set, a
// matching X-Debug-Token header bypasses JWT validation (dev only — config
// refuses to enable it in production).
func NewVerifier(secret []byte, debugToken string) (*Verifier, error) {
	if len(secret) == 0 && debugToken == "" {
		return nil, errors.New("auth: signing secret or debug token required")
	}
	return &Verifier{secret: secret, debugToken: debugToken}, nil
}

// VerifyRequest authenticates r and returns the caller principal.
func (v *Verifier) VerifyRequest(r *http.Request) (*Principal, error) {
	if v.debugToken != "" {
		if token := r.Header.Get("X-Debug-Token"); token != "" && token == v.debugToken {
			return &Principal{Subject: "debug", Roles: []string{"agent", "reviewer", "scheduler", "admin"}}, nil
		}
	}

	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return nil, errors.New("bearer token required")
	}
	return v.verifyToken(strings.TrimSpace(authz[7:]))
}

func (v *Verifier) verifyToken(tokenStr string) (*Principal, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("no signing secret configured")
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parse error: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("missing sub claim")
	}

	p := &Principal{Subject: sub}
	if rawRoles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range rawRoles {
			if s, ok := r.(string); ok {
				p.Roles = append(p.Roles, s)
			}
		}
	}
	return p, nil
}

// Middleware authenticates every request and stores the principal in the
// request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := v.VerifyRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
