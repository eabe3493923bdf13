package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// AdminTokenHeader — заголовок с токеном оператора.
const AdminTokenHeader = "X-Admin-Token"

// AdminAuthMiddleware пропускает только запросы с верным токеном оператора.
// Пустой токен в конфиге закрывает все защищённые маршруты.
func AdminAuthMiddleware(token string) func(http.Handler) http.Handler {
	expected := sha256.Sum256([]byte(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(AdminTokenHeader)
			if token == "" || provided == "" {
				WriteError(w, http.StatusUnauthorized, "admin token required")
				return
			}
			got := sha256.Sum256([]byte(provided))
			if !hmac.Equal(got[:], expected[:]) {
				WriteError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// WriteJSON отправляет ответ в JSON.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{"error": msg})
}
