package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"compliance-backend/internal/db"
	"compliance-backend/internal/kv"
)

func LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// JWT stateless => сервер ничего не “разлогинивает”.
		// Фронт просто удаляет токен.
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
		})
	}
}

// DeleteAccountHandler removes every collection of the user, then the rows
// cleanup deletes (analytics events) together with the user row.
func DeleteAccountHandler(users *Users, store kv.Store, log *zap.Logger, cleanup ...func(context.Context, *db.Tx, int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if err := store.DeleteOwner(r.Context(), uid); err != nil {
			log.Error("delete collections failed", zap.Int("user_id", uid), zap.Error(err))
			http.Error(w, "delete collections failed", http.StatusInternalServerError)
			return
		}

		err := users.Delete(r.Context(), uid, cleanup...)
		if errors.Is(err, ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("delete account failed", zap.Int("user_id", uid), zap.Error(err))
			http.Error(w, "delete user failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
		})
	}
}
