package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func writeToken(w http.ResponseWriter, status int, secret []byte, id int) {
	token, err := GenerateToken(secret, id)
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user_id": id,
		"token":   token,
	})
}

func RegisterHandler(users *Users, secret []byte, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(body.Email) == "" || body.Password == "" {
			http.Error(w, "email & password required", http.StatusBadRequest)
			return
		}
		if !strings.Contains(body.Email, "@") {
			http.Error(w, "invalid email", http.StatusBadRequest)
			return
		}

		id, err := users.Create(r.Context(), body.Email, body.Password)
		if errors.Is(err, ErrEmailTaken) {
			http.Error(w, "email already exists", http.StatusConflict)
			return
		}
		if err != nil {
			log.Error("register failed", zap.Error(err))
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}

		writeToken(w, http.StatusCreated, secret, id)
	}
}

func LoginHandler(users *Users, secret []byte, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		id, err := users.Authenticate(r.Context(), body.Email, body.Password)
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, "invalid login", http.StatusUnauthorized)
			return
		}
		if err != nil {
			log.Error("login failed", zap.Error(err))
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}

		writeToken(w, http.StatusOK, secret, id)
	}
}

func MeHandler(users *Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		email, err := users.Email(r.Context(), uid)
		if errors.Is(err, ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id": uid,
			"email":   email,
		})
	}
}
