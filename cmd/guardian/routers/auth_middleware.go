package routers

import (
	"net/http"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/auth"
	"go.uber.org/zap"
)

// AuthMiddleware resolves the jwt cookie into a user id on the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(auth.CookieName)
		if err != nil {
			http.Error(w, "пользователь не аутентифицирован", http.StatusUnauthorized)
			return
		}
		id, err := h.Auth.ParseJWT(cookie.Value)
		if err != nil {
			http.Error(w, "пользователь не аутентифицирован", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), id)))
	})
}

// AdminMiddleware lets only ADMIN accounts through. It must run after AuthMiddleware.
func (h *Handler) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := userID(r)
		ok, err := h.Accounts.IsAdmin(r.Context(), id)
		if err != nil {
			h.Logger.Error("Ошибка проверки роли", zap.String("user_id", id), zap.Error(err))
			http.Error(w, "хранилище временно недоступно", http.StatusBadGateway)
			return
		}
		if !ok {
			http.Error(w, "недостаточно прав", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
