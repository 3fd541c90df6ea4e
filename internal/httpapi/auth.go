package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/sourav-m/portfolio-api/internal/log"
)

type contextKey string

const subjectKey contextKey = "jwt-subject"

// RequireAdmin gates next behind an HS256 bearer token. The verified token
// subject is stored on the request context so the admin limiter can key on
// the acting user rather than the IP. An empty secret disables the routes
// entirely: verifying against an empty key would accept any self-signed
// token.
func RequireAdmin(secret string, next http.Handler) http.Handler {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			log.Logger().Warn("admin request refused: no jwt secret configured")
			writeError(w, http.StatusUnauthorized, "admin access disabled")
			return
		}

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := jwt.Parse(raw, keyFunc,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			log.Logger().Info("rejected admin token", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		subject, _ := token.Claims.GetSubject()
		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminKey keys the admin limiter by token subject, falling back to the
// client IP for requests carrying no subject claim.
func AdminKey(r *http.Request) string {
	if subject, ok := r.Context().Value(subjectKey).(string); ok && subject != "" {
		return subject
	}
	return ClientIP(r)
}
