package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var authBypassPaths = map[string]struct{}{
	"/healthz":    {},
	"/api/health": {},
}

func (s *Server) authEnabled() bool {
	return s.apiKey != "" || (s.basicUser != "" && s.passwordHash != "")
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if !s.authEnabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.isAuthRequired(r) || s.authorizeRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		if s.basicUser != "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="blackhole", charset="UTF-8"`)
		}
		s.writeError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

func (s *Server) isAuthRequired(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return false
	}
	_, bypass := authBypassPaths[r.URL.Path]
	return !bypass
}

func (s *Server) authorizeRequest(r *http.Request) bool {
	if s.apiKey != "" {
		if token := extractAPIKey(r, s.authHeader); token != "" {
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) == 1 {
				return true
			}
		}
	}

	if s.basicUser != "" && s.passwordHash != "" {
		user, pass, ok := r.BasicAuth()
		if !ok {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(user), []byte(s.basicUser)) != 1 {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(pass)) == nil
	}

	return false
}

// extractAPIKey reads the key from header, falling back to a Bearer token
// in Authorization.
func extractAPIKey(r *http.Request, header string) string {
	value := strings.TrimSpace(r.Header.Get(header))
	if value == "" && !strings.EqualFold(header, "Authorization") {
		value = strings.TrimSpace(r.Header.Get("Authorization"))
	}
	if value == "" {
		return ""
	}

	parts := strings.Fields(value)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return ""
}
