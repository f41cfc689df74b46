package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// guard protects a JSON API handler with the static bearer token. Consent
// pages stay open so the approval link works in a plain browser. With no
// token configured the guard is a pass-through.
func (s *Server) guard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
			s.log.Warn("access denied",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
			)
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, r)
	})
}
