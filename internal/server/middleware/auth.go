package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/collabsync/pkg/api"
)

type contextKey string

// userIDKey ключ контекста для идентификатора участника
const userIDKey contextKey = "userID"

// TokenValidator проверяет токен доступа и возвращает идентификатор участника.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// UserIDFromContext извлекает идентификатор участника из контекста запроса.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}

// AuthMiddleware создает middleware аутентификации.
// Токен принимается из заголовка Authorization (Bearer) либо из
// query-параметра token: браузерный websocket не умеет выставлять
// произвольные заголовки при подключении.
func AuthMiddleware(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				writeAuthError(w, "missing_token", "Authorization token is required")
				return
			}

			userID, err := validator.Validate(token)
			if err != nil {
				logger.Warn("Token validation failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err)
				writeAuthError(w, "invalid_token", "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken достает токен из заголовка или query-параметра.
func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func writeAuthError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:   code,
		Message: message,
	})
}
