// Package auth provides bearer token authentication for the REST interface.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Errors
var (
	ErrNoTokens     = errors.New("at least one API token is required")
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// QueryParam carries the token for clients that cannot set headers, such
// as browser EventSource streams.
const QueryParam = "access_token"

// TokenSet holds accepted API tokens as SHA-256 digests.
type TokenSet struct {
	digests [][sha256.Size]byte
}

// NewTokenSet creates a TokenSet. Empty tokens are ignored.
func NewTokenSet(tokens []string) (*TokenSet, error) {
	s := &TokenSet{}
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		s.digests = append(s.digests, sha256.Sum256([]byte(tok)))
	}
	if len(s.digests) == 0 {
		return nil, ErrNoTokens
	}
	return s, nil
}

// Valid reports whether token is accepted. Every stored digest is
// compared so timing does not reveal which one matched.
func (s *TokenSet) Valid(token string) bool {
	if token == "" {
		return false
	}
	d := sha256.Sum256([]byte(token))

	match := 0
	for i := range s.digests {
		match |= subtle.ConstantTimeCompare(d[:], s.digests[i][:])
	}
	return match == 1
}

// Authenticate checks the request's bearer token.
func (s *TokenSet) Authenticate(r *http.Request) error {
	token, ok := BearerToken(r)
	if !ok {
		return ErrMissingToken
	}
	if !s.Valid(token) {
		return ErrInvalidToken
	}
	return nil
}

// BearerToken extracts the token from the Authorization header, falling
// back to the access_token query parameter.
func BearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}
	if token := r.URL.Query().Get(QueryParam); token != "" {
		return token, true
	}
	return "", false
}

// Middleware rejects requests without a valid token with 401.
func (s *TokenSet) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := s.Authenticate(r); err != nil {
				logger.Debug("rejected request", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
				w.Header().Set("WWW-Authenticate", `Bearer realm="dashboard"`)
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
