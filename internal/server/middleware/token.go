package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// TokenAuth проверяет заголовок "Authorization: Bearer <token>" на API управления.
// Пустой token отключает проверку (API слушает только loopback).
// Пути из public доступны без токена.
func TokenAuth(logger *slog.Logger, token string, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}

	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "missing token")
				return
			}

			scheme, presented, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				logger.Warn("Invalid Authorization header format", "remote_addr", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "invalid token format")
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Warn("Invalid control token", "remote_addr", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
