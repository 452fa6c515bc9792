package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenSet(t *testing.T) {
	_, err := NewTokenSet(nil)
	assert.ErrorIs(t, err, ErrNoTokens)

	_, err = NewTokenSet([]string{"", ""})
	assert.ErrorIs(t, err, ErrNoTokens)

	s, err := NewTokenSet([]string{"alpha", "beta"})
	require.NoError(t, err)
	assert.True(t, s.Valid("alpha"))
	assert.True(t, s.Valid("beta"))
	assert.False(t, s.Valid("gamma"))
	assert.False(t, s.Valid(""))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
		wantOK bool
	}{
		{"bearer", "Bearer abc", "", "abc", true},
		{"lowercase scheme", "bearer abc", "", "abc", true},
		{"basic scheme", "Basic abc", "", "", false},
		{"empty token", "Bearer ", "", "", false},
		{"query fallback", "", "abc", "abc", true},
		{"header wins", "Bearer h", "q", "h", true},
		{"none", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/api/states"
			if tt.query != "" {
				url += "?access_token=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			got, ok := BearerToken(r)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMiddleware(t *testing.T) {
	s, err := NewTokenSet([]string{"secret"})
	require.NoError(t, err)

	handler := s.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/states", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	r = httptest.NewRequest(http.MethodGet, "/api/states", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/states", nil)
	r.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
