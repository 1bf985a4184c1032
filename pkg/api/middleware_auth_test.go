package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"blackhole/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthAPIKey(t *testing.T) {
	f := newFixture(t, config.APIConfig{APIKey: "secret"})

	tests := []struct {
		name   string
		path   string
		header string
		value  string
		want   int
	}{
		{"missing key", "/api/rules", "", "", http.StatusUnauthorized},
		{"wrong key", "/api/rules", "X-API-Key", "nope", http.StatusUnauthorized},
		{"header key", "/api/rules", "X-API-Key", "secret", http.StatusOK},
		{"bearer token", "/api/rules", "Authorization", "Bearer secret", http.StatusOK},
		{"healthz bypasses", "/healthz", "", "", http.StatusOK},
		{"health bypasses", "/api/health", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			f.server.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthBasicWithHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	f := newFixture(t, config.APIConfig{Username: "admin", PasswordHash: string(hash)})

	req := httptest.NewRequest(http.MethodGet, "/api/rules", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.SetBasicAuth("root", "hunter2")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.SetBasicAuth("admin", "hunter2")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthPreflightSkipsAuth(t *testing.T) {
	f := newFixture(t, config.APIConfig{APIKey: "secret"})
	rec := f.do(t, http.MethodOptions, "/api/rules/10.0.0.1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, extractAPIKey(req, "X-API-Key"))

	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", extractAPIKey(req, "X-API-Key"))

	req.Header.Set("X-API-Key", "def")
	assert.Equal(t, "def", extractAPIKey(req, "X-API-Key"))

	req.Header.Set("X-API-Key", "too many parts")
	assert.Empty(t, extractAPIKey(req, "X-API-Key"))
}
